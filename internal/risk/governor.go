package risk

import (
	"math"
	"sync"
	"time"

	"github.com/smartstocktrader/ultrabot/internal/observ"
)

// Config holds the governor's thresholds. See internal/config for defaults.
type Config struct {
	RiskPerTrade      float64 // fraction of equity risked per trade
	MaxDailyLoss      float64 // fraction of baseline equity
	HighConfThreshold float64
	LowConfThreshold  float64
	HighConfTPMult    float64
	LowConfSLMult     float64
}

// DailyRiskState is the circuit breaker's view of the current trading day.
type DailyRiskState struct {
	Date           string  `json:"date"` // YYYY-MM-DD UTC
	BaselineEquity float64 `json:"baseline_equity"`
	PnLFraction    float64 `json:"pnl_fraction"`
	Halted         bool    `json:"halted"`
}

// Constraints are the venue-reported sizing bounds for one symbol.
type Constraints struct {
	MinLot          float64 `json:"min_lot"`
	MaxLot          float64 `json:"max_lot"`
	LotStep         float64 `json:"lot_step"`
	TickValuePerLot float64 `json:"tick_value_per_lot"` // account-currency value of one price unit per lot
}

// Governor owns the daily-loss circuit breaker and position sizing. One
// instance is shared by the trading loop and the bridge; all mutation of the
// daily state goes through its mutex.
type Governor struct {
	mu    sync.Mutex
	cfg   Config
	state DailyRiskState
}

func NewGovernor(cfg Config) *Governor {
	return &Governor{cfg: cfg}
}

// CheckDailyHalt records an equity observation and reports whether new
// entries are allowed. The first observation of a UTC day becomes the
// baseline; once the loss fraction breaches MaxDailyLoss the day stays
// halted until rollover. Existing positions are never touched.
func (g *Governor) CheckDailyHalt(equity float64, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := now.UTC().Format("2006-01-02")
	if g.state.Date != day {
		g.state = DailyRiskState{Date: day, BaselineEquity: equity}
		observ.Log("daily_baseline_set", map[string]any{"date": day, "equity": equity})
	}
	if g.state.BaselineEquity <= 0 {
		g.state.BaselineEquity = equity
	}

	if g.state.BaselineEquity > 0 {
		g.state.PnLFraction = (equity - g.state.BaselineEquity) / g.state.BaselineEquity
	}
	observ.EquityUSD.Set(equity)
	observ.DailyPnLFraction.Set(g.state.PnLFraction)

	if !g.state.Halted && g.state.PnLFraction < -g.cfg.MaxDailyLoss {
		g.state.Halted = true
		observ.DailyHalted.Set(1)
		observ.Warn("daily_loss_halt", map[string]any{
			"date":         g.state.Date,
			"baseline":     g.state.BaselineEquity,
			"pnl_fraction": g.state.PnLFraction,
			"max_loss":     g.cfg.MaxDailyLoss,
		})
	}
	if !g.state.Halted {
		observ.DailyHalted.Set(0)
	}
	return !g.state.Halted
}

// Halted reports the current circuit-breaker state without recording a new
// equity observation.
func (g *Governor) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Halted
}

// State returns a copy of the daily risk state.
func (g *Governor) State() DailyRiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SizePosition converts a stop distance into a lot size: risk amount divided
// by the per-lot loss at the stop, rounded to the venue's lot step and
// clamped to [MinLot, MaxLot]. A result of 0 means "no viable size" and the
// caller must skip the trade.
func (g *Governor) SizePosition(equity, stopDistance float64, c Constraints) float64 {
	if equity <= 0 || stopDistance <= 0 || c.TickValuePerLot <= 0 {
		return 0
	}

	riskAmount := equity * g.cfg.RiskPerTrade
	lot := riskAmount / (stopDistance * c.TickValuePerLot)

	if c.LotStep > 0 {
		lot = math.Round(lot/c.LotStep) * c.LotStep
	}
	if lot <= 0 {
		return 0
	}
	if c.MinLot > 0 && lot < c.MinLot {
		lot = c.MinLot
	}
	if c.MaxLot > 0 && lot > c.MaxLot {
		lot = c.MaxLot
	}
	return lot
}

// AdjustForConfidence shifts the stop/take-profit distances by signal
// quality: high confidence widens the take-profit, low confidence tightens
// the stop, anything between leaves both untouched. Pure and idempotent for
// identical inputs.
func (g *Governor) AdjustForConfidence(stopDistance, tpDistance, confidence float64) (float64, float64) {
	switch {
	case confidence >= g.cfg.HighConfThreshold:
		return stopDistance, tpDistance * g.cfg.HighConfTPMult
	case confidence < g.cfg.LowConfThreshold:
		return stopDistance * g.cfg.LowConfSLMult, tpDistance
	default:
		return stopDistance, tpDistance
	}
}
