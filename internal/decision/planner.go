// Package decision turns a fused signal plus current volatility into a
// concrete, risk-bounded order plan. Planning is a pure transform; placing
// the order is the trading loop's job.
package decision

import (
	"github.com/smartstocktrader/ultrabot/internal/risk"
	"github.com/smartstocktrader/ultrabot/internal/signal"
)

// Config holds the volatility multipliers for stop and take-profit
// distances. The defaults (1.5x / 6.0x ATR) give a 4:1 reward:risk plan.
type Config struct {
	ATRStopMult float64
	ATRTPMult   float64
}

// RiskPlan is the bounded order derived from one fused signal. Immutable
// once built.
type RiskPlan struct {
	Symbol               string           `json:"symbol"`
	Direction            signal.Direction `json:"direction"`
	StopDistance         float64          `json:"stop_distance"`
	TakeProfitDistance   float64          `json:"take_profit_distance"`
	LotSize              float64          `json:"lot_size"`
	Confidence           float64          `json:"confidence"`
	AdjustedByConfidence bool             `json:"adjusted_by_confidence"`
}

// Planner applies the governor's adjustments and sizing to raw
// volatility-derived distances.
type Planner struct {
	cfg Config
	gov *risk.Governor
}

func NewPlanner(cfg Config, gov *risk.Governor) *Planner {
	return &Planner{cfg: cfg, gov: gov}
}

// Plan returns the order plan for sig, or false when no order should be
// placed: inactionable signal, daily halt, unusable volatility, or a lot
// size that rounds to zero. None of these are errors.
func (p *Planner) Plan(sig signal.FusedSignal, atr float64, constraints risk.Constraints, equity float64) (RiskPlan, bool) {
	if !sig.Actionable() || atr <= 0 {
		return RiskPlan{}, false
	}
	if p.gov.Halted() {
		return RiskPlan{}, false
	}

	stop := atr * p.cfg.ATRStopMult
	tp := atr * p.cfg.ATRTPMult

	adjStop, adjTP := p.gov.AdjustForConfidence(stop, tp, sig.Confidence)
	adjusted := adjStop != stop || adjTP != tp

	lot := p.gov.SizePosition(equity, adjStop, constraints)
	if lot <= 0 {
		return RiskPlan{}, false
	}

	return RiskPlan{
		Symbol:               sig.Symbol,
		Direction:            sig.Direction,
		StopDistance:         adjStop,
		TakeProfitDistance:   adjTP,
		LotSize:              lot,
		Confidence:           sig.Confidence,
		AdjustedByConfidence: adjusted,
	}, true
}
