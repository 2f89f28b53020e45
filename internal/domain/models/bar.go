package models

import "time"

// InstrumentType is the asset class of a symbol. It selects the upstream provider.
type InstrumentType string

const (
	Equity    InstrumentType = "equity"
	Commodity InstrumentType = "commodity"
	Forex     InstrumentType = "forex"
	Crypto    InstrumentType = "crypto"
)

// OHLC is the open/high/low/close of the sampling period.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Bar is one sampled observation of an instrument.
type Bar struct {
	Symbol    string         `json:"symbol"`
	Type      InstrumentType `json:"type"`
	Price     float64        `json:"price"`
	OHLC      *OHLC          `json:"ohlc,omitempty"`
	Volume    *float64       `json:"volume,omitempty"`
	ChangePct *float64       `json:"change_percent,omitempty"`
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Close returns the close used by indicators: OHLC close when present, price otherwise.
func (b Bar) Close() float64 {
	if b.OHLC != nil && b.OHLC.Close > 0 {
		return b.OHLC.Close
	}
	return b.Price
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }
