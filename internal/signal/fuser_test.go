package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testFuseCfg = FuseConfig{
	MLConfidenceThreshold: 0.65,
	AgreementBonus:        1.2,
	OverrideThreshold:     0.75,
	FallbackConfidence:    0.6,
}

func TestFuse(t *testing.T) {
	cases := []struct {
		name     string
		pred     Prediction
		det      Direction
		wantDir  Direction
		wantConf float64
	}{
		{
			name:     "agreement boosts confidence",
			pred:     Prediction{Direction: Buy, Confidence: 0.80},
			det:      Buy,
			wantDir:  Buy,
			wantConf: 0.96,
		},
		{
			name:     "agreement boost is capped at one",
			pred:     Prediction{Direction: Sell, Confidence: 0.90},
			det:      Sell,
			wantDir:  Sell,
			wantConf: 1.0,
		},
		{
			name:     "strong model overrides disagreeing crossover",
			pred:     Prediction{Direction: Buy, Confidence: 0.80},
			det:      Sell,
			wantDir:  Buy,
			wantConf: 0.80,
		},
		{
			name:     "weak disagreement falls through to crossover",
			pred:     Prediction{Direction: Buy, Confidence: 0.70},
			det:      Sell,
			wantDir:  Sell,
			wantConf: 0.6,
		},
		{
			name:     "model alone above override trades without crossover",
			pred:     Prediction{Direction: Sell, Confidence: 0.78},
			det:      None,
			wantDir:  Sell,
			wantConf: 0.78,
		},
		{
			name:     "model alone below override stands down",
			pred:     Prediction{Direction: Sell, Confidence: 0.70},
			det:      None,
			wantDir:  None,
			wantConf: 0,
		},
		{
			name:     "below base threshold yields crossover fallback",
			pred:     Prediction{Direction: Buy, Confidence: 0.50},
			det:      Buy,
			wantDir:  Buy,
			wantConf: 0.6,
		},
		{
			name:     "crossover only",
			pred:     Prediction{Direction: None, Confidence: 0},
			det:      Sell,
			wantDir:  Sell,
			wantConf: 0.6,
		},
		{
			name:     "neither source",
			pred:     Prediction{Direction: None, Confidence: 0},
			det:      None,
			wantDir:  None,
			wantConf: 0,
		},
		{
			name:     "confidence above one is clamped before the rules",
			pred:     Prediction{Direction: Buy, Confidence: 1.7},
			det:      None,
			wantDir:  Buy,
			wantConf: 1.0,
		},
		{
			name:     "negative confidence is clamped to zero",
			pred:     Prediction{Direction: Buy, Confidence: -0.3},
			det:      Sell,
			wantDir:  Sell,
			wantConf: 0.6,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Fuse("AAPL", tc.pred, tc.det, testFuseCfg)
			assert.Equal(t, tc.wantDir, got.Direction)
			assert.InDelta(t, tc.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, "AAPL", got.Symbol)
			assert.False(t, got.IssuedAt.IsZero())
		})
	}
}

func TestDirection(t *testing.T) {
	assert.True(t, Buy.Actionable())
	assert.True(t, Sell.Actionable())
	assert.False(t, None.Actionable())

	assert.True(t, Buy.Agrees(Buy))
	assert.False(t, Buy.Agrees(Sell))
	assert.False(t, None.Agrees(None))
}
