package server

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinPulse/internal/domain/models"
	mid "FinPulse/internal/middleware"
	"FinPulse/internal/realtime"
	"FinPulse/internal/usecase"
	"FinPulse/pkg/cache"
	pkgch "FinPulse/pkg/clickhouse"
	"FinPulse/pkg/config"
	xhttp "FinPulse/pkg/http"
	pkgkafka "FinPulse/pkg/kafka"
	applogger "FinPulse/pkg/logger"
)

// Components groups everything App starts and stops. Optional parts are nil
// when disabled in config.
type Components struct {
	Scheduler    *usecase.BroadcastScheduler
	Housekeeping *usecase.Housekeeping
	Registry     *realtime.Registry
	Pipeline     *mid.UpdatePipeline
	Processor    *usecase.UpdateProcessor
	HTTP         *xhttp.Server

	Consumer    *pkgkafka.Consumer
	BarsHandler *usecase.KafkaBarsHandler
	Producer    *pkgkafka.Producer
	ClickHouse  *pkgch.Client
	Redis       *cache.RedisCache
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	c   Components
}

func New(cfg *config.Config, log *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, log: log, c: c}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done or the
// HTTP server fails, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.c.Pipeline != nil {
		// stopped explicitly in shutdown so the buffer is flushed
		a.c.Pipeline.Start(context.Background())
		a.log.Info("update pipeline started", applogger.String("backend", a.c.Processor.Backend()))
	}

	if err := a.c.Housekeeping.Start(); err != nil {
		return err
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = a.c.Scheduler.Run(runCtx)
	}()

	if a.c.Consumer != nil && a.c.BarsHandler != nil {
		if err := a.c.Consumer.RegisterHandler(a.c.BarsHandler); err != nil {
			return err
		}
		go func() {
			if err := a.c.Consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.c.BarsHandler.Topic()))
	}

	errCh := a.c.HTTP.Start()
	a.log.Info("finpulse started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("env", a.cfg.Environment))

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.log.Error("http server error", applogger.Error(err))
			runErr = err
		}
	}

	cancel()
	<-schedDone
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops components in reverse start order. Subscribers get a
// system notice before their connections close.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if b, err := json.Marshal(models.SystemPush{Type: models.PushSystem, Message: "server shutting down"}); err == nil {
		noticeCtx, done := context.WithTimeout(ctx, time.Second)
		a.c.Registry.BroadcastAll(noticeCtx, b)
		done()
	}
	a.c.Registry.CloseAll()

	var firstErr error
	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		firstErr = err
	}

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.c.Housekeeping.Stop()

	if a.c.Pipeline != nil {
		if err := a.c.Pipeline.Stop(ctx); err != nil {
			a.log.Warn("update pipeline stop error", applogger.Error(err))
		}
	}
	if a.c.Processor != nil {
		a.c.Processor.Close()
	}

	// flush aggregated logs while the producer is still open
	a.log.RemoveCollector()
	if a.c.Producer != nil {
		if err := a.c.Producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.c.Redis != nil {
		if err := a.c.Redis.Close(); err != nil {
			a.log.Warn("redis close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return firstErr
}
