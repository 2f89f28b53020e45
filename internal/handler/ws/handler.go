// Package ws serves the subscriber websocket endpoint.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/realtime"
	xhttp "FinPulse/pkg/http"
	xlogger "FinPulse/pkg/logger"
)

// AssetLookup is what the handler needs from the aggregator.
type AssetLookup interface {
	Resolve(symbol string) models.Instrument
	GetAssetData(ctx context.Context, symbol string) (*models.AssetData, error)
}

type Config struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	// SnapshotTimeout bounds the lookup that answers a new subscription.
	SnapshotTimeout time.Duration
}

// Handler upgrades /ws and runs one read loop per connection. All writes
// go through the registry so they share its per-send timeout.
type Handler struct {
	cfg      Config
	reg      *realtime.Registry
	assets   AssetLookup
	log      *xlogger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(cfg Config, reg *realtime.Registry, assets AssetLookup, log *xlogger.Logger) *Handler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 4096
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 15 * time.Second
	}
	return &Handler{
		cfg:    cfg,
		reg:    reg,
		assets: assets,
		log:    log.With(xlogger.String("component", "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

func (h *Handler) Serve(c echo.Context) error {
	wsConn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	conn := realtime.NewConn(wsConn)

	sub, err := h.reg.Add(conn)
	if err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if b, merr := json.Marshal(models.NewErrorPush(models.CodeTooMany, err.Error(), "")); merr == nil {
			_ = conn.Send(ctx, b)
		}
		_ = conn.Close()
		return nil
	}

	log := h.log.With(xlogger.String("subscriber", sub.ID))
	log.Debug("subscriber connected", xlogger.String("remote", c.RealIP()))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.reg.Remove(sub.ID)
		log.Debug("subscriber disconnected")
	}()

	go h.pingLoop(ctx, conn)
	h.readLoop(ctx, wsConn, sub.ID, log)
	return nil
}

func (h *Handler) pingLoop(ctx context.Context, conn *realtime.Conn) {
	t := time.NewTicker(h.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-t.C:
			if err := conn.Ping(h.cfg.PongWait - h.cfg.PingInterval); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, id string, log *xlogger.Logger) {
	ws.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", xlogger.Error(err))
			}
			return
		}
		// any client frame counts as liveness
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.handle(ctx, id, raw)
	}
}

func (h *Handler) handle(ctx context.Context, id string, raw []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(ctx, id, models.CodeBadRequest, "message must be a JSON object", "")
		return
	}
	if verr := xhttp.ValidateStruct(ctx, &msg); verr != nil {
		h.sendError(ctx, id, models.CodeBadRequest, xhttp.FirstMessage(verr), "")
		return
	}

	switch msg.Action {
	case models.ActionPing:
		h.send(ctx, id, models.PongPush{Type: models.PushPong})

	case models.ActionSubscribe:
		symbols := h.canonical(msg.Symbols)
		if len(symbols) == 0 {
			h.sendError(ctx, id, models.CodeBadRequest, "symbols is required", "")
			return
		}
		if _, err := h.reg.Subscribe(id, symbols); err != nil {
			code := models.CodeBadRequest
			if errors.Is(err, realtime.ErrTooManySymbols) {
				code = models.CodeTooMany
			}
			h.sendError(ctx, id, code, err.Error(), "")
			return
		}
		h.send(ctx, id, models.AckPush{Type: models.PushSubscribed, Symbols: symbols})
		for _, sym := range symbols {
			go h.snapshot(ctx, id, sym)
		}

	case models.ActionUnsubscribe:
		symbols := h.canonical(msg.Symbols)
		if _, err := h.reg.Unsubscribe(id, symbols); err != nil {
			h.sendError(ctx, id, models.CodeBadRequest, err.Error(), "")
			return
		}
		h.send(ctx, id, models.AckPush{Type: models.PushUnsubscribed, Symbols: symbols})
	}
}

// snapshot sends the current payload for sym right after subscribing, so
// the client does not wait for the next tick. Unknown symbols are dropped
// from the subscription.
func (h *Handler) snapshot(ctx context.Context, id, sym string) {
	lctx, cancel := context.WithTimeout(ctx, h.cfg.SnapshotTimeout)
	defer cancel()

	data, err := h.assets.GetAssetData(lctx, sym)
	switch {
	case err == nil:
		payload, merr := models.EncodeUpdate(data)
		if merr == nil {
			_ = h.reg.SendTo(ctx, id, payload)
		}
	case models.IsNotFound(err):
		_, _ = h.reg.Unsubscribe(id, []string{sym})
		h.sendError(ctx, id, models.CodeNotFound, "symbol not found", sym)
	case ctx.Err() != nil:
		// connection closed while looking up
	default:
		h.sendError(ctx, id, models.CodeUnavailable, "data temporarily unavailable", sym)
	}
}

func (h *Handler) canonical(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		c := h.assets.Resolve(s).Symbol
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (h *Handler) send(ctx context.Context, id string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = h.reg.SendTo(ctx, id, b)
}

func (h *Handler) sendError(ctx context.Context, id, code, message, symbol string) {
	h.send(ctx, id, models.NewErrorPush(code, message, symbol))
}
