package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPulse/internal/domain/models"
)

func barsOf(closes ...float64) []models.Bar {
	t0 := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Symbol: "TEST", Price: c, Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute)}
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func zigzag(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + math.Sin(float64(i)/2)*5
	}
	return out
}

func TestRSIInsufficientOnShortWindow(t *testing.T) {
	set := Compute("TEST", barsOf(ramp(8, 100, 1)...), time.Now())
	v, ok := set.Values[RSI14]
	assert.True(t, ok, "key present")
	assert.Nil(t, v)
}

func TestRSIWithinBounds(t *testing.T) {
	for _, n := range []int{14, 15, 40, 200} {
		set := Compute("TEST", barsOf(zigzag(n)...), time.Now())
		v, ok := set.Value(RSI14)
		require.True(t, ok, "n=%d", n)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestRSIExtremes(t *testing.T) {
	v, ok := RSI(ramp(20, 100, 1), 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	v, ok = RSI(ramp(20, 100, -1), 14)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = RSI(ramp(20, 100, 0), 14)
	require.True(t, ok)
	assert.Equal(t, 50.0, v)
}

func TestMinWindows(t *testing.T) {
	for _, name := range Names() {
		need := MinWindow[name]
		short := Compute("TEST", barsOf(zigzag(need-1)...), time.Now())
		assert.Nil(t, short.Values[name], "%s with %d bars", name, need-1)

		enough := Compute("TEST", barsOf(zigzag(need)...), time.Now())
		assert.NotNil(t, enough.Values[name], "%s with %d bars", name, need)
	}
}

func TestComputeIsIndependentPerIndicator(t *testing.T) {
	set := Compute("TEST", barsOf(zigzag(20)...), time.Now())
	assert.NotNil(t, set.Values[SMA20])
	assert.NotNil(t, set.Values[BBUpper])
	assert.Nil(t, set.Values[MACDLine])
	assert.Nil(t, set.Values[Volatility20])
	assert.Len(t, set.Values, len(Names()))
}

func TestComputeMatchesSeriesFunctions(t *testing.T) {
	closes := zigzag(30)
	set := Compute("TEST", barsOf(closes...), time.Now())

	for name, fn := range map[string]func([]float64) (float64, bool){
		RSI14: func(v []float64) (float64, bool) { return RSI(v, 14) },
		SMA20: func(v []float64) (float64, bool) { return SMA(v, 20) },
		EMA12: func(v []float64) (float64, bool) { return EMA(v, 12) },
	} {
		want, ok := fn(closes)
		require.True(t, ok, name)
		got, ok := set.Value(name)
		require.True(t, ok, name)
		assert.InDelta(t, want, got, 1e-4, name)
	}
}

func TestSMAAndBollinger(t *testing.T) {
	closes := ramp(20, 1, 1) // 1..20
	set := Compute("TEST", barsOf(closes...), time.Now())

	mid, _ := set.Value(BBMiddle)
	sma, _ := set.Value(SMA20)
	assert.Equal(t, 10.5, sma)
	assert.Equal(t, sma, mid)

	sd, ok := StdDev(closes, 20)
	require.True(t, ok)
	up, _ := set.Value(BBUpper)
	lo, _ := set.Value(BBLower)
	assert.InDelta(t, 10.5+2*sd, up, 1e-4)
	assert.InDelta(t, 10.5-2*sd, lo, 1e-4)
}

func TestEMAConstantSeries(t *testing.T) {
	v, ok := EMA(ramp(30, 42, 0), 12)
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	line, signal, hist, okLine, okSignal := MACD(ramp(40, 42, 0))
	assert.True(t, okLine)
	assert.True(t, okSignal)
	assert.Zero(t, line)
	assert.Zero(t, signal)
	assert.Zero(t, hist)
}

func TestMACDTrendSign(t *testing.T) {
	line, _, _, ok, _ := MACD(ramp(40, 100, 1))
	require.True(t, ok)
	assert.Greater(t, line, 0.0, "fast EMA leads in an uptrend")
}

func TestValuesRoundedToFourPlaces(t *testing.T) {
	set := Compute("TEST", barsOf(zigzag(60)...), time.Now())
	for name, v := range set.Values {
		require.NotNil(t, v, name)
		scaled := *v * 1e4
		assert.InDelta(t, math.Round(scaled), scaled, 1e-6, name)
	}
}

func TestCloseUsesOHLCWhenPresent(t *testing.T) {
	bars := barsOf(ramp(20, 100, 0)...)
	bars[19].OHLC = &models.OHLC{Open: 100, High: 130, Low: 99, Close: 120}
	set := Compute("TEST", bars, time.Now())
	sma, _ := set.Value(SMA20)
	assert.Equal(t, 101.0, sma)
}

func TestLogReturnsAndVolatility(t *testing.T) {
	assert.Nil(t, LogReturns([]float64{1}))
	r := LogReturns([]float64{100, 110, 0, 121})
	require.Len(t, r, 3)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Zero(t, r[1])
	assert.Zero(t, r[2])

	set := Compute("TEST", barsOf(ramp(21, 100, 0)...), time.Now())
	v, ok := set.Value(Volatility20)
	require.True(t, ok)
	assert.Zero(t, v)
}
