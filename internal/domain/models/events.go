package models

import (
	"errors"
	"time"
)

// QuoteEvent is the broker and mirror representation of one update.
// Timestamps are unix milliseconds.
type QuoteEvent struct {
	Symbol     string              `json:"symbol"`
	Type       InstrumentType      `json:"type"`
	Price      float64             `json:"price"`
	OHLC       *OHLC               `json:"ohlc,omitempty"`
	Volume     *float64            `json:"volume,omitempty"`
	ChangePct  *float64            `json:"change_percent,omitempty"`
	Source     string              `json:"source,omitempty"`
	TS         int64               `json:"ts"`
	ComputedAt int64               `json:"computed_at"`
	Stale      bool                `json:"stale"`
	Indicators map[string]*float64 `json:"indicators,omitempty"`
}

func NewQuoteEvent(a *AssetData) QuoteEvent {
	return QuoteEvent{
		Symbol:     a.Symbol,
		Type:       a.Type,
		Price:      a.Bar.Price,
		OHLC:       a.Bar.OHLC,
		Volume:     a.Bar.Volume,
		ChangePct:  a.Bar.ChangePct,
		Source:     a.Bar.Source,
		TS:         a.Bar.Timestamp.UnixMilli(),
		ComputedAt: a.ComputedAt.UnixMilli(),
		Stale:      a.Stale,
		Indicators: a.Indicators.Values,
	}
}

// Validate rejects events that cannot be archived.
func (e QuoteEvent) Validate() error {
	switch {
	case e.Symbol == "":
		return errors.New("symbol empty")
	case e.TS <= 0:
		return errors.New("timestamp invalid")
	case e.Price <= 0:
		return errors.New("price must be positive")
	case e.Volume != nil && *e.Volume < 0:
		return errors.New("negative volume")
	}
	return nil
}

// Bar converts the event back to the bar it was built from.
func (e QuoteEvent) Bar() Bar {
	return Bar{
		Symbol:    e.Symbol,
		Type:      e.Type,
		Price:     e.Price,
		OHLC:      e.OHLC,
		Volume:    e.Volume,
		ChangePct: e.ChangePct,
		Source:    e.Source,
		Timestamp: time.UnixMilli(e.TS).UTC(),
	}
}
