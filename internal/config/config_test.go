package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}, cfg.Symbols)
	assert.Equal(t, 60, cfg.EvalIntervalSecs)
	assert.Equal(t, 100, cfg.HistoryBars)

	assert.InDelta(t, 0.01, cfg.Risk.RiskPerTrade, 1e-9)
	assert.InDelta(t, 0.05, cfg.Risk.MaxDailyLoss, 1e-9)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)

	assert.InDelta(t, 0.65, cfg.Signal.MLConfidenceThreshold, 1e-9)
	assert.InDelta(t, 1.2, cfg.Signal.AgreementBonus, 1e-9)
	assert.InDelta(t, 0.75, cfg.Signal.OverrideThreshold, 1e-9)
	assert.InDelta(t, 0.6, cfg.Signal.FallbackConfidence, 1e-9)

	assert.Equal(t, 14, cfg.Plan.ATRPeriod)
	assert.InDelta(t, 1.5, cfg.Plan.ATRStopMult, 1e-9)
	assert.InDelta(t, 6.0, cfg.Plan.ATRTPMult, 1e-9)

	assert.InDelta(t, 2.0, cfg.Scaling.PartialCloseRR, 1e-9)
	assert.InDelta(t, 0.25, cfg.Scaling.PartialClosePercent, 1e-9)

	assert.Equal(t, "sim", cfg.Venue.Mode)
	assert.Equal(t, "127.0.0.1:8765", cfg.Bridge.ListenAddr)
	assert.Equal(t, 5, cfg.Bridge.BroadcastIntervalSec)
	assert.Equal(t, 60, cfg.Bridge.HeartbeatTimeoutSec)
	assert.Equal(t, 90, cfg.Journal.DedupeWindowSecs)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
symbols: [EURUSD]
eval_interval_seconds: 30
risk:
  risk_per_trade: 0.02
  max_positions: 3
signal:
  fast_period: 12
venue:
  mode: gateway
  base_url: https://gw.example.com
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"EURUSD"}, cfg.Symbols)
	assert.Equal(t, 30, cfg.EvalIntervalSecs)
	assert.InDelta(t, 0.02, cfg.Risk.RiskPerTrade, 1e-9)
	assert.Equal(t, 3, cfg.Risk.MaxPositions)
	assert.Equal(t, 12, cfg.Signal.FastPeriod)
	assert.Equal(t, "gateway", cfg.Venue.Mode)
	assert.Equal(t, "https://gw.example.com", cfg.Venue.BaseURL)

	// untouched sections still take defaults
	assert.Equal(t, 50, cfg.Signal.SlowPeriod)
	assert.InDelta(t, 0.05, cfg.Risk.MaxDailyLoss, 1e-9)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ULTRABOT_VENUE_MODE", "gateway")
	t.Setenv("ULTRABOT_BRIDGE_ADDR", "0.0.0.0:9765")

	cfg, err := Load(writeConfig(t, "venue:\n  mode: sim\n"))
	require.NoError(t, err)
	assert.Equal(t, "gateway", cfg.Venue.Mode)
	assert.Equal(t, "0.0.0.0:9765", cfg.Bridge.ListenAddr)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"risk per trade too large", "risk:\n  risk_per_trade: 0.5\n"},
		{"partial close percent at one", "scaling:\n  partial_close_percent: 1.0\n"},
		{"unknown venue mode", "venue:\n  mode: paper\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "symbols: [unclosed"))
	assert.Error(t, err)
}
