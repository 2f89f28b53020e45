package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/realtime"
	"FinPulse/pkg/logger"
	"FinPulse/pkg/metrics"
)

type stubAssets struct {
	catalog *models.Catalog
	prices  map[string]float64
	down    map[string]bool
}

func (s *stubAssets) Resolve(symbol string) models.Instrument { return s.catalog.Resolve(symbol) }

func (s *stubAssets) GetAssetData(_ context.Context, symbol string) (*models.AssetData, error) {
	if s.down[symbol] {
		return nil, models.Unavailable("stub", symbol, errors.New("down"))
	}
	p, ok := s.prices[symbol]
	if !ok {
		return nil, models.NotFound("stub", symbol, errors.New("unknown"))
	}
	return &models.AssetData{
		Symbol:     symbol,
		Bar:        models.Bar{Symbol: symbol, Price: p, Timestamp: time.Now().UTC()},
		ComputedAt: time.Now().UTC(),
	}, nil
}

type fixture struct {
	reg *realtime.Registry
	url string
}

func newFixture(t *testing.T, assets *stubAssets, rc realtime.RegistryConfig) *fixture {
	t.Helper()
	if assets.catalog == nil {
		assets.catalog = models.NewCatalog(models.DefaultInstruments)
	}
	reg := realtime.NewRegistry(rc, metrics.NewWithRegistry(prometheus.NewRegistry()), logger.Nop())
	h := NewHandler(Config{PongWait: 5 * time.Second}, reg, assets, logger.Nop())

	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		reg.CloseAll()
		srv.Close()
	})
	return &fixture{reg: reg, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func write(t *testing.T, c *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, c.WriteJSON(v))
}

func read(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]interface{}
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func TestSubscribeAckThenSnapshot(t *testing.T) {
	f := newFixture(t, &stubAssets{prices: map[string]float64{"BITCOIN": 65000}}, realtime.RegistryConfig{})
	c := dial(t, f.url)

	write(t, c, models.ClientMessage{Action: models.ActionSubscribe, Symbols: []string{"btc"}})

	ack := read(t, c)
	assert.Equal(t, models.PushSubscribed, ack["type"])
	assert.Equal(t, []interface{}{"BITCOIN"}, ack["symbols"])

	upd := read(t, c)
	assert.Equal(t, models.PushUpdate, upd["type"])
	assert.Equal(t, "BITCOIN", upd["symbol"])
	payload := upd["payload"].(map[string]interface{})
	assert.Equal(t, 65000.0, payload["price"])

	assert.Eventually(t, func() bool {
		return len(f.reg.Symbols()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"BITCOIN"}, f.reg.Symbols())
}

func TestSubscribeUnknownSymbolIsDropped(t *testing.T) {
	f := newFixture(t, &stubAssets{prices: map[string]float64{}}, realtime.RegistryConfig{})
	c := dial(t, f.url)

	write(t, c, models.ClientMessage{Action: models.ActionSubscribe, Symbols: []string{"NOPE"}})
	assert.Equal(t, models.PushSubscribed, read(t, c)["type"])

	msg := read(t, c)
	assert.Equal(t, models.PushError, msg["type"])
	assert.Equal(t, models.CodeNotFound, msg["code"])
	assert.Equal(t, "NOPE", msg["symbol"])
	assert.Empty(t, f.reg.Symbols())
}

func TestSubscribeUnavailableKeepsSubscription(t *testing.T) {
	f := newFixture(t, &stubAssets{prices: map[string]float64{}, down: map[string]bool{"AAPL": true}}, realtime.RegistryConfig{})
	c := dial(t, f.url)

	write(t, c, models.ClientMessage{Action: models.ActionSubscribe, Symbols: []string{"AAPL"}})
	assert.Equal(t, models.PushSubscribed, read(t, c)["type"])

	msg := read(t, c)
	assert.Equal(t, models.CodeUnavailable, msg["code"])
	assert.Equal(t, []string{"AAPL"}, f.reg.Symbols())
}

func TestTooManySymbols(t *testing.T) {
	f := newFixture(t, &stubAssets{prices: map[string]float64{"AAPL": 1, "MSFT": 1}}, realtime.RegistryConfig{MaxSymbols: 1})
	c := dial(t, f.url)

	write(t, c, models.ClientMessage{Action: models.ActionSubscribe, Symbols: []string{"AAPL", "MSFT"}})
	msg := read(t, c)
	assert.Equal(t, models.PushError, msg["type"])
	assert.Equal(t, models.CodeTooMany, msg["code"])
	assert.Empty(t, f.reg.Symbols())
}

func TestUnsubscribeAndPing(t *testing.T) {
	f := newFixture(t, &stubAssets{prices: map[string]float64{"AAPL": 1}}, realtime.RegistryConfig{})
	c := dial(t, f.url)

	write(t, c, models.ClientMessage{Action: models.ActionSubscribe, Symbols: []string{"AAPL"}})
	read(t, c) // ack
	read(t, c) // snapshot

	write(t, c, models.ClientMessage{Action: models.ActionUnsubscribe, Symbols: []string{"aapl"}})
	ack := read(t, c)
	assert.Equal(t, models.PushUnsubscribed, ack["type"])
	assert.Empty(t, f.reg.Symbols())

	write(t, c, models.ClientMessage{Action: models.ActionPing})
	assert.Equal(t, models.PushPong, read(t, c)["type"])
}

func TestMalformedMessages(t *testing.T) {
	f := newFixture(t, &stubAssets{}, realtime.RegistryConfig{})
	c := dial(t, f.url)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := read(t, c)
	assert.Equal(t, models.CodeBadRequest, msg["code"])

	write(t, c, map[string]interface{}{"action": "dance"})
	msg = read(t, c)
	assert.Equal(t, models.CodeBadRequest, msg["code"])

	write(t, c, models.ClientMessage{Action: models.ActionSubscribe})
	msg = read(t, c)
	assert.Equal(t, models.CodeBadRequest, msg["code"])

	// the connection survives bad input
	write(t, c, models.ClientMessage{Action: models.ActionPing})
	assert.Equal(t, models.PushPong, read(t, c)["type"])
}

func TestMaxClients(t *testing.T) {
	f := newFixture(t, &stubAssets{}, realtime.RegistryConfig{MaxClients: 1})
	dial(t, f.url)
	require.Eventually(t, func() bool { return f.reg.Count() == 1 }, time.Second, 10*time.Millisecond)

	second := dial(t, f.url)
	msg := read(t, second)
	assert.Equal(t, models.CodeTooMany, msg["code"])

	_, _, err := second.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 1, f.reg.Count())
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	f := newFixture(t, &stubAssets{prices: map[string]float64{"AAPL": 1}}, realtime.RegistryConfig{})
	c := dial(t, f.url)
	write(t, c, models.ClientMessage{Action: models.ActionSubscribe, Symbols: []string{"AAPL"}})
	read(t, c)
	require.Equal(t, 1, f.reg.Count())

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = c.Close()

	assert.Eventually(t, func() bool { return f.reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.reg.Symbols())
}

func TestUpdatePushDecodes(t *testing.T) {
	b, err := models.EncodeUpdate(&models.AssetData{Symbol: "AAPL", Bar: models.Bar{Price: 2}})
	require.NoError(t, err)
	var push models.UpdatePush
	require.NoError(t, json.Unmarshal(b, &push))
	assert.Equal(t, models.PushUpdate, push.Type)
	assert.NotNil(t, push.Indicators)
}
