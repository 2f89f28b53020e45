// Package indicators derives technical indicators from a bounded window of
// bars. Everything here is pure; the caller owns the window.
package indicators

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"FinPulse/internal/domain/models"
)

// Indicator names as they appear in payloads.
const (
	RSI14         = "rsi_14"
	SMA20         = "sma_20"
	EMA12         = "ema_12"
	MACDLine      = "macd"
	MACDSignal    = "macd_signal"
	MACDHistogram = "macd_histogram"
	BBUpper       = "bb_upper"
	BBMiddle      = "bb_middle"
	BBLower       = "bb_lower"
	Volatility20  = "volatility_20"
)

// MinWindow is the number of bars each indicator needs before it has a value.
var MinWindow = map[string]int{
	RSI14:         14,
	SMA20:         20,
	EMA12:         12,
	MACDLine:      26,
	MACDSignal:    34,
	MACDHistogram: 34,
	BBUpper:       20,
	BBMiddle:      20,
	BBLower:       20,
	Volatility20:  21,
}

// Names lists every indicator in a stable order.
func Names() []string {
	return []string{RSI14, SMA20, EMA12, MACDLine, MACDSignal, MACDHistogram, BBUpper, BBMiddle, BBLower, Volatility20}
}

const (
	precision      = 4
	bollingerWidth = 2
)

// Compute evaluates every indicator over window (oldest first). Indicators
// without enough bars are present with a nil value.
func Compute(symbol string, window []models.Bar, now time.Time) models.IndicatorSet {
	closes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close()
	}

	values := make(map[string]*float64, len(MinWindow))
	for _, name := range Names() {
		values[name] = nil
	}
	set := func(name string, v float64, ok bool) {
		if ok {
			values[name] = round(v)
		}
	}

	if v, ok := RSI(closes, 14); ok {
		set(RSI14, v, ok)
	}
	if v, ok := SMA(closes, 20); ok {
		set(SMA20, v, ok)
	}
	if v, ok := EMA(closes, 12); ok {
		set(EMA12, v, ok)
	}

	line, signal, hist, okLine, okSignal := MACD(closes)
	set(MACDLine, line, okLine)
	set(MACDSignal, signal, okSignal)
	set(MACDHistogram, hist, okSignal)

	if mid, ok := SMA(closes, 20); ok {
		sd, _ := StdDev(closes, 20)
		set(BBMiddle, mid, true)
		set(BBUpper, mid+bollingerWidth*sd, true)
		set(BBLower, mid-bollingerWidth*sd, true)
	}

	// percent standard deviation of the last 20 log returns
	if sd, ok := StdDev(LogReturns(closes), 20); ok {
		set(Volatility20, sd*100, true)
	}

	return models.IndicatorSet{Symbol: symbol, ComputedAt: now, Values: values}
}

// round keeps 4 decimal places. NaN and Inf become nil.
func round(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	f, _ := decimal.NewFromFloat(v).Round(precision).Float64()
	return &f
}
