package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/realtime"
	"FinPulse/internal/usecase"
	"FinPulse/pkg/cache"
	xhttp "FinPulse/pkg/http"
	xlogger "FinPulse/pkg/logger"
)

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Cache      cache.Stats             `json:"cache"`
	Aggregator usecase.AggregatorStats `json:"aggregator"`
	Registry   realtime.RegistryStats  `json:"registry"`
	Scheduler  usecase.SchedulerStats  `json:"scheduler"`
	Pipeline   *PipelineStats          `json:"pipeline,omitempty"`
}

type PipelineStats struct {
	Backend string `json:"backend"`
	Depth   int    `json:"depth"`
}

// AssetsEchoHandler serves quotes, history, the instrument catalog and
// runtime stats.
type AssetsEchoHandler struct {
	logger    *xlogger.Logger
	agg       *usecase.Aggregator
	catalog   *models.Catalog
	reg       *realtime.Registry
	sched     *usecase.BroadcastScheduler
	watchlist []string
	fanout    int
	pipeline  func() *PipelineStats
	started   time.Time
}

func NewAssetsEchoHandler(
	logger *xlogger.Logger,
	agg *usecase.Aggregator,
	catalog *models.Catalog,
	reg *realtime.Registry,
	sched *usecase.BroadcastScheduler,
	watchlist []string,
	fanout int,
) *AssetsEchoHandler {
	if fanout <= 0 {
		fanout = 5
	}
	return &AssetsEchoHandler{
		logger:    logger,
		agg:       agg,
		catalog:   catalog,
		reg:       reg,
		sched:     sched,
		watchlist: watchlist,
		fanout:    fanout,
		started:   time.Now(),
	}
}

// WithPipelineStats adds pipeline depth to /api/stats.
func (h *AssetsEchoHandler) WithPipelineStats(fn func() *PipelineStats) *AssetsEchoHandler {
	h.pipeline = fn
	return h
}

func (h *AssetsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/assets", h.Assets)
	g.GET("/assets/:symbol", h.Asset)
	g.GET("/assets/:symbol/history", h.History)
	g.GET("/instruments", h.Instruments)
	g.GET("/stats", h.Stats)
}

func (h *AssetsEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":      "ok",
		"uptime_s":    int64(time.Since(h.started).Seconds()),
		"connections": h.reg.Count(),
	})
}

// toAppError maps classified domain errors to their HTTP status.
func toAppError(symbol string, err error) *xhttp.AppError {
	switch {
	case models.IsNotFound(err):
		return xhttp.NotFoundErrorf("symbol %s not found", symbol).WithParam("symbol", symbol).WithError(err)
	case models.IsUnavailable(err):
		return xhttp.UnavailableErrorf("data for %s is temporarily unavailable", symbol).WithParam("symbol", symbol).WithError(err)
	default:
		return xhttp.InternalError("failed to load asset").WithError(err)
	}
}

func (h *AssetsEchoHandler) Asset(c echo.Context) error {
	req := &models.AssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	data, err := h.agg.GetAssetData(c.Request().Context(), req.Symbol)
	if err != nil {
		h.logger.Warn("asset lookup failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(req.Symbol, err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, data)
}

// Assets looks up several symbols at once. Per-symbol failures are
// reported alongside the successes rather than failing the request.
func (h *AssetsEchoHandler) Assets(c echo.Context) error {
	req := &models.AssetsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols := xhttp.SplitQueryList(req.Symbols)
	if len(symbols) == 0 {
		symbols = h.watchlist
	}

	res := lookupAll(c.Request().Context(), h.agg, symbols, h.fanout)
	return xhttp.SuccessResponse(c, res)
}

func lookupAll(ctx context.Context, agg *usecase.Aggregator, symbols []string, fanout int) *models.AssetsResponse {
	assets := make([]*models.AssetData, len(symbols))
	var (
		mu   sync.Mutex
		errs []models.SymbolError
		g    errgroup.Group
	)
	g.SetLimit(fanout)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			data, err := agg.GetAssetData(ctx, sym)
			if err != nil {
				ae := toAppError(sym, err)
				mu.Lock()
				errs = append(errs, models.SymbolError{Symbol: sym, Code: ae.Code, Message: ae.Message})
				mu.Unlock()
				return nil
			}
			assets[i] = data
			return nil
		})
	}
	_ = g.Wait()

	out := &models.AssetsResponse{Assets: make([]*models.AssetData, 0, len(symbols)), Errors: errs}
	for _, a := range assets {
		if a != nil {
			out.Assets = append(out.Assets, a)
		}
	}
	return out
}

// History returns the in-memory bars for a symbol, fetching it first if it
// has never been seen.
func (h *AssetsEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	since := xhttp.ParseTimeDefault(req.Since, time.Time{})

	bars, ok := h.agg.History(req.Symbol, since, req.Limit)
	if !ok {
		if _, err := h.agg.GetAssetData(c.Request().Context(), req.Symbol); err != nil {
			return xhttp.AppErrorResponse(c, toAppError(req.Symbol, err))
		}
		bars, _ = h.agg.History(req.Symbol, since, req.Limit)
	}
	return xhttp.SuccessResponse(c, &models.HistoryResponse{
		Symbol: h.catalog.Canonical(req.Symbol),
		Bars:   bars,
	})
}

func (h *AssetsEchoHandler) Instruments(c echo.Context) error {
	all := h.catalog.All()
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=3600")
	return xhttp.ListResponse(c, all, int64(len(all)))
}

func (h *AssetsEchoHandler) Stats(c echo.Context) error {
	res := StatsResponse{
		Cache:      h.agg.CacheStats(),
		Aggregator: h.agg.Stats(),
		Registry:   h.reg.Stats(),
		Scheduler:  h.sched.Stats(),
	}
	if h.pipeline != nil {
		res.Pipeline = h.pipeline()
	}
	return xhttp.DataResponse(c, http.StatusOK, res)
}
