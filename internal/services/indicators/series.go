package indicators

import "math"

// LogReturns computes r_t = ln(C_t / C_{t-1}). Non-positive closes yield a
// zero return. The result has len(closes)-1 elements, or nil.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// StdDev is the sample standard deviation of the last window values.
func StdDev(values []float64, window int) (float64, bool) {
	if window <= 1 || len(values) < window {
		return 0, false
	}
	sum, sum2 := 0.0, 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
		sum2 += v * v
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance), true
}

// SMA is the mean of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMASeries returns the exponential moving average at every point, seeded
// with the first value and smoothed with alpha = 2/(period+1).
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	alpha := 2 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// EMA is the last point of EMASeries, once period values are available.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	s := EMASeries(values, period)
	return s[len(s)-1], true
}

// RSI uses simple averages of gains and losses over the last period
// changes. With exactly period values only period-1 changes exist and all
// of them are used. A window without losses is 100; a flat window is 50.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 1 || len(values) < period {
		return 0, false
	}
	start := len(values) - period - 1
	if start < 0 {
		start = 0
	}
	gain, loss := 0.0, 0.0
	for i := start + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	switch {
	case gain == 0 && loss == 0:
		return 50, true
	case loss == 0:
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// MACD returns the line (EMA12 - EMA26), its 9-period EMA signal and the
// histogram. okLine needs 26 values; okSignal needs 34.
func MACD(values []float64) (line, signal, hist float64, okLine, okSignal bool) {
	const fast, slow, sig = 12, 26, 9
	if len(values) < slow {
		return 0, 0, 0, false, false
	}
	f := EMASeries(values, fast)
	s := EMASeries(values, slow)
	macd := make([]float64, 0, len(values)-slow+1)
	for i := slow - 1; i < len(values); i++ {
		macd = append(macd, f[i]-s[i])
	}
	line = macd[len(macd)-1]
	if len(macd) < sig {
		return line, 0, 0, true, false
	}
	sigSeries := EMASeries(macd, sig)
	signal = sigSeries[len(sigSeries)-1]
	return line, signal, line - signal, true, true
}
