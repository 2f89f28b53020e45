package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/domain/repository"
	"FinPulse/internal/handler/api"
	"FinPulse/internal/handler/ws"
	mid "FinPulse/internal/middleware"
	"FinPulse/internal/realtime"
	internalrepo "FinPulse/internal/repository"
	"FinPulse/internal/service/finnhub"
	"FinPulse/internal/service/ratelimit"
	"FinPulse/internal/service/sources"
	"FinPulse/internal/usecase"
	"FinPulse/pkg/cache"
	pkgch "FinPulse/pkg/clickhouse"
	"FinPulse/pkg/config"
	xhttp "FinPulse/pkg/http"
	pkgkafka "FinPulse/pkg/kafka"
	"FinPulse/pkg/logger"
	"FinPulse/pkg/metrics"
	"FinPulse/pkg/server"
)

// ProviderSet lists every constructor InitializeApp needs.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideCatalog,
	ProvideSource,
	ProvideRedis,
	ProvideQuoteStore,
	ProvideAggregator,
	ProvideRegistry,
	ProvideDeltaTracker,
	ProvideKafkaProducer,
	ProvideClickHouseClient,
	ProvidePublisher,
	ProvideStorage,
	ProvideMirror,
	ProvideUpdateProcessor,
	ProvideUpdatePipeline,
	ProvideScheduler,
	ProvideHousekeeping,
	ProvideKafkaConsumer,
	ProvideKafkaBarsHandler,
	ProvideHTTPServer,
	ProvideApp,
)

// ProvideLogger builds the process logger. With logging.collect enabled,
// repeated warnings and errors are aggregated and shipped to Kafka.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCatalog merges configured instruments over the built-in catalog.
func ProvideCatalog(cfg *config.Config) *models.Catalog {
	instruments := append([]models.Instrument(nil), models.DefaultInstruments...)
	for _, in := range cfg.Sources.Instruments {
		instruments = append(instruments, models.Instrument{
			Symbol:     in.Symbol,
			Name:       in.Name,
			Type:       models.InstrumentType(in.Type),
			ProviderID: in.ProviderID,
		})
	}
	return models.NewCatalog(instruments)
}

// ProvideSource builds the adapter chain: one rate gate and one circuit
// breaker per upstream, routed by instrument type.
func ProvideSource(cfg *config.Config, log *logger.Logger) repository.SourceAdapter {
	sc := cfg.Sources
	bc := sources.BreakerConfig{
		ConsecutiveFailures: sc.Breaker.ConsecutiveFailures,
		OpenTimeout:         sc.Breaker.OpenTimeout,
		Interval:            sc.Breaker.Interval,
	}
	gates := ratelimit.New()

	yahoo := sources.NewBreaker(sources.NewYahoo(sources.YahooConfig{
		BaseURL:  sc.Yahoo.BaseURL,
		Range:    sc.Yahoo.Range,
		Interval: sc.Yahoo.Interval,
	}, xhttp.NewClient(xhttp.WithTimeout(sc.Yahoo.Timeout)), gates.Gate("yahoo", sc.Yahoo.MinInterval, 1)), bc, log)

	coingecko := sources.NewBreaker(sources.NewCoinGecko(sources.CoinGeckoConfig{
		BaseURL: sc.CoinGecko.BaseURL,
		APIKey:  sc.CoinGecko.APIKey,
	}, xhttp.NewClient(xhttp.WithTimeout(sc.CoinGecko.Timeout)), gates.Gate("coingecko", sc.CoinGecko.MinInterval, 1)), bc, log)

	router := sources.NewRouter().
		Route(yahoo, models.Equity, models.Commodity, models.Forex).
		Route(coingecko, models.Crypto)

	if sc.EquityProvider == "finnhub" {
		fh := sources.NewBreaker(finnhub.New(sc.Finnhub.BaseURL, sc.Finnhub.APIKey,
			xhttp.NewClient(xhttp.WithTimeout(sc.Finnhub.Timeout)), gates.Gate("finnhub", sc.Finnhub.MinInterval, 1)), bc, log)
		router.Route(fh, models.Equity)
	}

	log.Info("sources configured", logger.Strings("routes", router.Sources()))
	return router
}

// ProvideRedis connects to Redis when enabled and returns nil otherwise.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideQuoteStore returns the in-memory cache, layered over Redis when
// redis.l2_cache is on.
func ProvideQuoteStore(cfg *config.Config, rc *cache.RedisCache) cache.Store[*models.AssetData] {
	mem := cache.NewMemoryStore[*models.AssetData](
		cache.WithMemoryMaxSize(cfg.Cache.MaxEntries),
		cache.WithDefaultTTL(cfg.Cache.TTL),
		cache.WithStaleGrace(cfg.Cache.StaleGrace),
	)
	if rc == nil || !cfg.Redis.L2Cache {
		return mem
	}
	return cache.NewLayeredStore(mem, rc,
		cache.WithL2Timeout(cfg.Redis.Timeout),
		cache.WithL2KeyPrefix("asset:"),
	)
}

func ProvideAggregator(
	cfg *config.Config,
	catalog *models.Catalog,
	src repository.SourceAdapter,
	store cache.Store[*models.AssetData],
	m repository.Metrics,
	log *logger.Logger,
) *usecase.Aggregator {
	return usecase.NewAggregator(usecase.AggregatorConfig{
		TTL:             cfg.Cache.TTL,
		ClosedMarketTTL: cfg.Cache.ClosedMarketTTL,
		FetchTimeout:    cfg.Aggregator.FetchTimeout,
		HistoryCapacity: cfg.Aggregator.HistoryCapacity,
		UpstreamLimit:   int64(cfg.Aggregator.UpstreamLimit),
		Warmup:          cfg.Aggregator.Warmup,
	}, catalog, src, store, m, log.With(logger.String("component", "aggregator")))
}

func ProvideRegistry(cfg *config.Config, m repository.Metrics, log *logger.Logger) *realtime.Registry {
	return realtime.NewRegistry(realtime.RegistryConfig{
		MaxClients:  cfg.Realtime.MaxClients,
		MaxSymbols:  cfg.Realtime.MaxSymbolsPerClient,
		SendTimeout: cfg.Realtime.SendTimeout,
	}, m, log.With(logger.String("component", "registry")))
}

func ProvideDeltaTracker() *realtime.DeltaTracker {
	return realtime.NewDeltaTracker()
}

// ProvideKafkaProducer returns nil unless the Kafka backend or the log
// collector needs it.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != usecase.BackendKafka && !cfg.Logging.Collect.Enabled {
		return nil, nil
	}
	kc := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(kc.Brokers),
		pkgkafka.WithCompression(kc.Compression),
		pkgkafka.WithRequiredAcks(kc.RequiredAcks),
		pkgkafka.WithBatching(kc.Producer.BatchSize, kc.Producer.BatchBytes, kc.Producer.Linger),
		pkgkafka.WithTimeouts(kc.Producer.WriteTimeout, kc.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(kc.Producer.MaxAttempts),
		pkgkafka.WithAsync(kc.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Logging.Collect.Enabled {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collect.Interval,
			CountThreshold: cfg.Logging.Collect.CountThreshold,
			Topic:          cfg.Logging.Collect.Topic,
			Publisher:      producer,
		})
	}
	return producer, nil
}

// ProvideClickHouseClient returns nil unless the ClickHouse backend or the
// archiving consumer needs it.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != usecase.BackendClickHouse && !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	cc := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(cc.Host),
		pkgch.WithPort(cc.Port),
		pkgch.WithDatabase(cc.Database),
		pkgch.WithCredentials(cc.User, cc.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cc.UseHTTP),
		pkgch.WithAsyncInsert(cc.AsyncInsert, cc.WaitForAsync),
		pkgch.WithTimeouts(cc.DialTimeout, cc.ReadTimeout),
		pkgch.WithMaxExecutionTime(cc.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideStorage creates the bar archive and its table.
func ProvideStorage(client *pkgch.Client, cfg *config.Config) (repository.Storage, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseStorage(client, cfg.ClickHouse.Table)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

func ProvideMirror(rc *cache.RedisCache, cfg *config.Config) repository.SnapshotMirror {
	if rc == nil || !cfg.Redis.Mirror {
		return nil
	}
	return internalrepo.NewRedisSnapshotMirror(rc, cfg.Redis.MirrorChannel)
}

func ProvideUpdateProcessor(
	pub repository.Publisher,
	store repository.Storage,
	mirror repository.SnapshotMirror,
	m repository.Metrics,
	cfg *config.Config,
) (*usecase.UpdateProcessor, error) {
	return usecase.NewUpdateProcessor(pub, store, mirror, cfg.Cache.StaleGrace, m, cfg.Backend.Type)
}

// ProvideUpdatePipeline returns nil when there is nowhere to send updates.
func ProvideUpdatePipeline(
	proc *usecase.UpdateProcessor,
	mirror repository.SnapshotMirror,
	m repository.Metrics,
	log *logger.Logger,
	cfg *config.Config,
) *mid.UpdatePipeline {
	if proc.Backend() == usecase.BackendNone && mirror == nil {
		return nil
	}
	return mid.NewUpdatePipeline(proc, m, log.With(logger.String("component", "pipeline")),
		mid.WithMaxRPS(cfg.Backend.MaxRPS),
		mid.WithBufferSize(cfg.Backend.BufferSize),
		mid.WithBatching(cfg.Backend.BatchSize, cfg.Backend.BatchTimeout),
		mid.WithRetry(cfg.Backend.MaxRetries, cfg.Backend.RetryBackoffMin, cfg.Backend.RetryBackoffMax),
	)
}

func ProvideScheduler(
	cfg *config.Config,
	agg *usecase.Aggregator,
	reg *realtime.Registry,
	delta *realtime.DeltaTracker,
	pipe *mid.UpdatePipeline,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.BroadcastScheduler {
	var sink usecase.UpdateSink
	if pipe != nil {
		sink = pipe
	}
	return usecase.NewBroadcastScheduler(usecase.SchedulerConfig{
		Interval:           cfg.Scheduler.Interval,
		Concurrency:        cfg.Scheduler.Concurrency,
		BroadcastUnchanged: cfg.Scheduler.BroadcastUnchanged,
		Watchlist:          cfg.Scheduler.Watchlist,
	}, agg, reg, delta, sink, m, log.With(logger.String("component", "scheduler")))
}

func ProvideHousekeeping(cfg *config.Config, agg *usecase.Aggregator, reg *realtime.Registry, m repository.Metrics, log *logger.Logger) *usecase.Housekeeping {
	return usecase.NewHousekeeping(usecase.HousekeepingConfig{
		SweepInterval: cfg.Cache.SweepInterval,
	}, agg, reg, m, log.With(logger.String("component", "housekeeping")))
}

// ProvideKafkaConsumer returns nil unless kafka.consumer.enabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	kc := cfg.Kafka
	if !kc.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(kc.Brokers),
		pkgkafka.WithConsumerGroupID(kc.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(kc.Consumer.Workers, kc.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(kc.Consumer.RetryMax, kc.Consumer.BackoffMin, kc.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(kc.Consumer.MinBytes, kc.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideKafkaBarsHandler(store repository.Storage, m repository.Metrics, cfg *config.Config) *usecase.KafkaBarsHandler {
	if store == nil || !cfg.Kafka.Consumer.Enabled {
		return nil
	}
	return usecase.NewKafkaBarsHandler(cfg.Kafka.Topic, store, m)
}

func ProvideHTTPServer(
	cfg *config.Config,
	agg *usecase.Aggregator,
	catalog *models.Catalog,
	reg *realtime.Registry,
	sched *usecase.BroadcastScheduler,
	proc *usecase.UpdateProcessor,
	pipe *mid.UpdatePipeline,
	log *logger.Logger,
) *xhttp.Server {
	assets := api.NewAssetsEchoHandler(log.With(logger.String("component", "api")), agg, catalog, reg, sched,
		cfg.Scheduler.Watchlist, cfg.Scheduler.Concurrency).
		WithPipelineStats(func() *api.PipelineStats {
			st := &api.PipelineStats{Backend: proc.Backend()}
			if pipe != nil {
				st.Depth = pipe.Depth()
			}
			return st
		})
	wsh := ws.NewHandler(ws.Config{
		PingInterval:    cfg.Realtime.PingInterval,
		PongWait:        cfg.Realtime.PongWait,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		SnapshotTimeout: cfg.Aggregator.FetchTimeout,
	}, reg, agg, log)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{assets, wsh},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(cfg.Server.SlowRequest),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(log),
	)
}

func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	sched *usecase.BroadcastScheduler,
	hk *usecase.Housekeeping,
	reg *realtime.Registry,
	pipe *mid.UpdatePipeline,
	proc *usecase.UpdateProcessor,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	bars *usecase.KafkaBarsHandler,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	return server.New(cfg, log, server.Components{
		Scheduler:    sched,
		Housekeeping: hk,
		Registry:     reg,
		Pipeline:     pipe,
		Processor:    proc,
		HTTP:         httpServer,
		Consumer:     consumer,
		BarsHandler:  bars,
		Producer:     producer,
		ClickHouse:   chClient,
		Redis:        rc,
	})
}
