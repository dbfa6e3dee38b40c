package signal

import "context"

// Predictor is the trained classifier consumed by the fuser. Implementations
// must tolerate being asked about any symbol and return (None, 0) as "no
// opinion" rather than an error for expected conditions (missing model,
// short features).
type Predictor interface {
	Predict(ctx context.Context, symbol string, features []float32) (Prediction, error)
}

// StaticPredictor serves fixed predictions, for fixtures and tests. The zero
// value answers "no opinion" for every symbol.
type StaticPredictor struct {
	BySymbol map[string]Prediction
}

func (p *StaticPredictor) Predict(_ context.Context, symbol string, _ []float32) (Prediction, error) {
	if pred, ok := p.BySymbol[symbol]; ok {
		return pred, nil
	}
	return Prediction{Direction: None, Confidence: 0}, nil
}
