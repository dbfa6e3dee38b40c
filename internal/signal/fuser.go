package signal

import (
	"time"

	"github.com/smartstocktrader/ultrabot/internal/observ"
)

// FuseConfig holds the fusion thresholds. Zero values are not defaulted here;
// callers pass a fully populated config (see internal/config).
type FuseConfig struct {
	MLConfidenceThreshold float64 // minimum predictor confidence to consider the model
	AgreementBonus        float64 // multiplier when model and crossover agree
	OverrideThreshold     float64 // predictor confidence that overrides a disagreeing crossover
	FallbackConfidence    float64 // confidence assigned to crossover-only signals
}

// Fuse combines the predictor's opinion with the deterministic crossover
// signal. Rules are evaluated in order, first match wins:
//
//  1. Predictor actionable at or above the base threshold:
//     crossover agrees -> predictor direction, confidence boosted by the
//     agreement bonus (capped at 1); crossover disagrees or is silent ->
//     predictor direction only on strong conviction (>= override threshold).
//  2. Crossover actionable -> crossover direction at the fallback confidence.
//  3. Neither -> None.
//
// A disagreeing predictor below the override threshold falls through to the
// crossover path even when it cleared the base threshold; that asymmetry is
// deliberate and covered by tests.
func Fuse(symbol string, pred Prediction, det Direction, cfg FuseConfig) FusedSignal {
	conf := clampConfidence(symbol, pred.Confidence)

	if pred.Direction.Actionable() && conf >= cfg.MLConfidenceThreshold {
		if det.Agrees(pred.Direction) {
			boosted := conf * cfg.AgreementBonus
			if boosted > 1 {
				boosted = 1
			}
			return newSignal(symbol, pred.Direction, boosted)
		}
		if conf >= cfg.OverrideThreshold {
			return newSignal(symbol, pred.Direction, conf)
		}
	}

	if det.Actionable() {
		return newSignal(symbol, det, cfg.FallbackConfidence)
	}

	return newSignal(symbol, None, 0)
}

func newSignal(symbol string, dir Direction, conf float64) FusedSignal {
	if dir == None {
		conf = 0
	}
	return FusedSignal{
		Symbol:     symbol,
		Direction:  dir,
		Confidence: conf,
		IssuedAt:   time.Now().UTC(),
	}
}

// clampConfidence enforces the [0,1] predictor contract without aborting.
func clampConfidence(symbol string, conf float64) float64 {
	if conf >= 0 && conf <= 1 {
		return conf
	}
	clamped := conf
	if clamped < 0 {
		clamped = 0
	} else if clamped > 1 {
		clamped = 1
	}
	observ.Warn("predictor_confidence_out_of_range", map[string]any{
		"symbol": symbol, "confidence": conf, "clamped": clamped,
	})
	return clamped
}
