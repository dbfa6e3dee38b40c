package signal

import (
	"math"

	"github.com/smartstocktrader/ultrabot/internal/market"
)

// CrossoverConfig parameterizes the deterministic technical signal.
type CrossoverConfig struct {
	FastPeriod int // EMA period
	SlowPeriod int // SMA period
	RSIPeriod  int
}

// minBars is the minimum history needed before the crossover can fire.
const minBars = 50

// Crossover computes the deterministic signal: an EMA/SMA crossover gated by
// RSI. Buy on a fresh cross up with RSI in (50, 70); sell on a fresh cross
// down with RSI in (30, 50). Pure function; fewer than 50 bars is "no
// signal", never an error.
func Crossover(candles []market.Candle, cfg CrossoverConfig) Direction {
	if len(candles) < minBars || len(candles) < cfg.SlowPeriod+1 {
		return None
	}

	fast := market.EMA(candles, cfg.FastPeriod)
	slow := market.SMA(candles, cfg.SlowPeriod)
	rsi := market.RSI(candles, cfg.RSIPeriod)

	last := len(candles) - 1
	prev := last - 1
	if !valid(fast[last], fast[prev], slow[last], slow[prev], rsi[last]) {
		return None
	}

	crossedUp := fast[last] > slow[last] && fast[prev] <= slow[prev]
	crossedDown := fast[last] < slow[last] && fast[prev] >= slow[prev]

	switch {
	case crossedUp && rsi[last] > 50 && rsi[last] < 70:
		return Buy
	case crossedDown && rsi[last] > 30 && rsi[last] < 50:
		return Sell
	default:
		return None
	}
}

func valid(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}
