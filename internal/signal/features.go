package signal

import (
	"math"

	"github.com/smartstocktrader/ultrabot/internal/market"
)

// Features builds the model's input vector from candle history: the last 24
// close-to-close returns, then RSI, fast/slow trend ratio, normalized ATR,
// volume ratio, 10-bar momentum, and position within the recent range. Order
// matters; it must match what the model was trained on. Returns nil when the
// history is too short, which the predictor treats as "no opinion".
func Features(candles []market.Candle, cfg CrossoverConfig) []float32 {
	const returnCount = FeatureCount - 6

	if len(candles) < minBars || len(candles) < returnCount+1 {
		return nil
	}

	out := make([]float32, 0, FeatureCount)
	last := len(candles) - 1

	for i := last - returnCount + 1; i <= last; i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, float32((candles[i].Close-prev)/prev))
	}

	rsi := market.RSI(candles, cfg.RSIPeriod)
	out = append(out, float32(nanZero(rsi[last])/100))

	fast := market.EMA(candles, cfg.FastPeriod)
	slow := market.SMA(candles, cfg.SlowPeriod)
	ratio := 0.0
	if s := nanZero(slow[last]); s != 0 {
		ratio = nanZero(fast[last])/s - 1
	}
	out = append(out, float32(ratio))

	atr := market.LastATR(candles, cfg.RSIPeriod)
	normATR := 0.0
	if candles[last].Close != 0 {
		normATR = atr / candles[last].Close
	}
	out = append(out, float32(normATR))

	out = append(out, float32(volumeRatio(candles)))
	out = append(out, float32(momentum(candles, 10)))
	out = append(out, float32(rangePosition(candles, 20)))

	return out
}

func nanZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// volumeRatio is the last bar's volume against the 20-bar average.
func volumeRatio(c []market.Candle) float64 {
	const n = 20
	if len(c) < n {
		return 1
	}
	var sum float64
	for i := len(c) - n; i < len(c); i++ {
		sum += c[i].Volume
	}
	avg := sum / n
	if avg == 0 {
		return 1
	}
	return c[len(c)-1].Volume / avg
}

// momentum is the fractional close change over n bars.
func momentum(c []market.Candle, n int) float64 {
	last := len(c) - 1
	if last < n || c[last-n].Close == 0 {
		return 0
	}
	return (c[last].Close - c[last-n].Close) / c[last-n].Close
}

// rangePosition places the last close inside the n-bar high/low range: 0 at
// the low, 1 at the high, 0.5 when the range is degenerate.
func rangePosition(c []market.Candle, n int) float64 {
	if len(c) < n {
		return 0.5
	}
	hi, lo := math.Inf(-1), math.Inf(1)
	for i := len(c) - n; i < len(c); i++ {
		hi = math.Max(hi, c[i].High)
		lo = math.Min(lo, c[i].Low)
	}
	if hi == lo {
		return 0.5
	}
	return (c[len(c)-1].Close - lo) / (hi - lo)
}
