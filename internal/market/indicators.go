// Technical indicators used by the deterministic signal and the order planner.
//
//   - SMA(c, n) – simple moving average of Close
//   - EMA(c, n) – exponential moving average of Close, SMA-seeded
//   - RSI(c, n) – relative strength index (Wilder's smoothing)
//   - ATR(c, n) – average true range (Wilder's smoothing)
//
// Outputs are aligned to input length; indices before the first full lookback
// hold NaN. Keep these allocation-light; they run every evaluation cycle.
package market

import "math"

// SMA returns the n-period simple moving average of Close, aligned to c.
func SMA(c []Candle, n int) []float64 {
	out := nanSlice(len(c))
	if n <= 0 || len(c) < n {
		return out
	}
	var sum float64
	for i := range c {
		sum += c[i].Close
		if i >= n {
			sum -= c[i-n].Close
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA returns the n-period exponential moving average of Close, seeded with
// the SMA of the first n closes.
func EMA(c []Candle, n int) []float64 {
	out := nanSlice(len(c))
	if n <= 0 || len(c) < n {
		return out
	}
	var seed float64
	for i := 0; i < n; i++ {
		seed += c[i].Close
	}
	seed /= float64(n)
	out[n-1] = seed

	k := 2.0 / float64(n+1)
	prev := seed
	for i := n; i < len(c); i++ {
		prev = c[i].Close*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// RSI returns the n-period relative strength index using Wilder's smoothing.
func RSI(c []Candle, n int) []float64 {
	out := nanSlice(len(c))
	if n <= 0 || len(c) <= n {
		return out
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := c[i].Close - c[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	out[n] = rsiValue(avgGain, avgLoss)

	for i := n + 1; i < len(c); i++ {
		d := c[i].Close - c[i-1].Close
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

// ATR returns the n-period average true range using Wilder's smoothing.
func ATR(c []Candle, n int) []float64 {
	out := nanSlice(len(c))
	if n <= 0 || len(c) <= n {
		return out
	}
	tr := make([]float64, len(c))
	tr[0] = c[0].High - c[0].Low
	for i := 1; i < len(c); i++ {
		hl := c[i].High - c[i].Low
		hc := math.Abs(c[i].High - c[i-1].Close)
		lc := math.Abs(c[i].Low - c[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	var sum float64
	for i := 1; i <= n; i++ {
		sum += tr[i]
	}
	prev := sum / float64(n)
	out[n] = prev
	for i := n + 1; i < len(c); i++ {
		prev = (prev*float64(n-1) + tr[i]) / float64(n)
		out[i] = prev
	}
	return out
}

// LastATR is the most recent ATR value, or 0 when the window is too short.
func LastATR(c []Candle, n int) float64 {
	a := ATR(c, n)
	if len(a) == 0 {
		return 0
	}
	v := a[len(a)-1]
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
