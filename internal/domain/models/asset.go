package models

import "time"

// IndicatorSet maps indicator name to value. A nil value marks insufficient data.
type IndicatorSet struct {
	Symbol     string              `json:"symbol"`
	ComputedAt time.Time           `json:"computed_at"`
	Values     map[string]*float64 `json:"values"`
}

// Value returns the named indicator and whether it was computed.
func (s IndicatorSet) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// AssetData is the cached and broadcast payload for one symbol.
// It is immutable once published; copy before mutating.
type AssetData struct {
	Symbol     string         `json:"symbol"`
	Name       string         `json:"name,omitempty"`
	Type       InstrumentType `json:"type"`
	Bar        Bar            `json:"bar"`
	Indicators IndicatorSet   `json:"indicators"`
	History    int            `json:"history_len"`
	ComputedAt time.Time      `json:"computed_at"`
	Stale      bool           `json:"stale"`
}

// AsStale returns a copy flagged as stale.
func (a *AssetData) AsStale() *AssetData {
	cp := *a
	cp.Stale = true
	return &cp
}
