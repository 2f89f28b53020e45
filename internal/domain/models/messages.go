package models

import (
	"encoding/json"
	"time"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Server push types.
const (
	PushUpdate       = "update"
	PushError        = "error"
	PushSubscribed   = "subscribed"
	PushUnsubscribed = "unsubscribed"
	PushPong         = "pong"
	PushSystem       = "system"
)

// Error codes carried by ErrorPush.
const (
	CodeBadRequest  = "ERR_BAD_REQUEST"
	CodeNotFound    = "ERR_NOT_FOUND"
	CodeUnavailable = "ERR_UNAVAILABLE"
	CodeTooMany     = "ERR_TOO_MANY_SYMBOLS"
)

// ClientMessage is the only inbound message shape.
type ClientMessage struct {
	Action  string   `json:"action" validate:"required,oneof=subscribe unsubscribe ping"`
	Symbols []string `json:"symbols" validate:"max=50,dive,required,max=32"`
}

// QuotePayload is the price portion of an update push.
type QuotePayload struct {
	Price     float64   `json:"price"`
	OHLC      *OHLC     `json:"ohlc,omitempty"`
	Volume    *float64  `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdatePush carries one symbol's latest data to subscribers.
type UpdatePush struct {
	Type       string              `json:"type"`
	Symbol     string              `json:"symbol"`
	Payload    QuotePayload        `json:"payload"`
	Indicators map[string]*float64 `json:"indicators"`
	ComputedAt time.Time           `json:"computed_at"`
	Stale      bool                `json:"stale"`
}

// ErrorPush reports a per-request failure to one subscriber.
type ErrorPush struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Symbol  string `json:"symbol,omitempty"`
}

// AckPush confirms a subscription change.
type AckPush struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// PongPush answers a client ping.
type PongPush struct {
	Type string `json:"type"`
}

// SystemPush is a server notice such as shutdown.
type SystemPush struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewUpdatePush converts a payload into its wire form.
func NewUpdatePush(a *AssetData) UpdatePush {
	ind := a.Indicators.Values
	if ind == nil {
		ind = map[string]*float64{}
	}
	return UpdatePush{
		Type:   PushUpdate,
		Symbol: a.Symbol,
		Payload: QuotePayload{
			Price:     a.Bar.Price,
			OHLC:      a.Bar.OHLC,
			Volume:    a.Bar.Volume,
			Timestamp: a.Bar.Timestamp,
		},
		Indicators: ind,
		ComputedAt: a.ComputedAt,
		Stale:      a.Stale,
	}
}

// NewErrorPush builds an error push.
func NewErrorPush(code, message, symbol string) ErrorPush {
	return ErrorPush{Type: PushError, Code: code, Message: message, Symbol: symbol}
}

// EncodeUpdate marshals the update push for a payload.
func EncodeUpdate(a *AssetData) ([]byte, error) {
	return json.Marshal(NewUpdatePush(a))
}
