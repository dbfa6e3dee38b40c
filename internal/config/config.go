package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type RiskConfig struct {
	RiskPerTrade      float64 `yaml:"risk_per_trade"`      // fraction of equity risked per trade
	MaxDailyLoss      float64 `yaml:"max_daily_loss"`      // fraction of baseline equity
	MaxPositions      int     `yaml:"max_positions"`       // per symbol
	MaxTotalPositions int     `yaml:"max_total_positions"` // across all symbols
	HighConfThreshold float64 `yaml:"high_conf_threshold"`
	LowConfThreshold  float64 `yaml:"low_conf_threshold"`
	HighConfTPMult    float64 `yaml:"high_conf_tp_mult"`
	LowConfSLMult     float64 `yaml:"low_conf_sl_mult"`
}

type SignalConfig struct {
	MLConfidenceThreshold float64 `yaml:"ml_confidence_threshold"`
	AgreementBonus        float64 `yaml:"agreement_bonus"`
	OverrideThreshold     float64 `yaml:"override_threshold"`
	FallbackConfidence    float64 `yaml:"fallback_confidence"`
	FastPeriod            int     `yaml:"fast_period"`
	SlowPeriod            int     `yaml:"slow_period"`
	RSIPeriod             int     `yaml:"rsi_period"`
}

type PlanConfig struct {
	ATRPeriod   int     `yaml:"atr_period"`
	ATRStopMult float64 `yaml:"atr_sl_multiplier"`
	ATRTPMult   float64 `yaml:"atr_tp_multiplier"`
}

type ScalingConfig struct {
	Enabled             bool    `yaml:"enabled"`
	PartialCloseRR      float64 `yaml:"partial_close_rr"`
	PartialClosePercent float64 `yaml:"partial_close_percent"`
}

type PredictorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelPath string `yaml:"model_path"`
	Runtime   string `yaml:"runtime"` // onnx | static
}

type VenueConfig struct {
	Mode           string `yaml:"mode"` // sim | gateway
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	APISecretEnv   string `yaml:"api_secret_env"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	RatePerSecond  int    `yaml:"rate_per_second"`
	ReadMaxRetries int    `yaml:"read_max_retries"`
	BackoffBaseMs  int    `yaml:"backoff_base_ms"`
	BackoffMaxMs   int    `yaml:"backoff_max_ms"`
}

type BridgeConfig struct {
	ListenAddr           string `yaml:"listen_addr"`
	BroadcastIntervalSec int    `yaml:"broadcast_interval_seconds"`
	WriteTimeoutMs       int    `yaml:"write_timeout_ms"`
	HeartbeatTimeoutSec  int    `yaml:"heartbeat_timeout_seconds"`
	SendQueueSize        int    `yaml:"send_queue_size"`
}

type JournalConfig struct {
	Path             string `yaml:"path"`
	DedupeWindowSecs int    `yaml:"dedupe_window_seconds"`
}

type Root struct {
	Symbols          []string        `yaml:"symbols"`
	EvalIntervalSecs int             `yaml:"eval_interval_seconds"`
	HistoryBars      int             `yaml:"history_bars"`
	StatePath        string          `yaml:"state_path"`
	MetricsAddr      string          `yaml:"metrics_addr"`
	Risk             RiskConfig      `yaml:"risk"`
	Signal           SignalConfig    `yaml:"signal"`
	Plan             PlanConfig      `yaml:"plan"`
	Scaling          ScalingConfig   `yaml:"scaling"`
	Predictor        PredictorConfig `yaml:"predictor"`
	Venue            VenueConfig     `yaml:"venue"`
	Bridge           BridgeConfig    `yaml:"bridge"`
	Journal          JournalConfig   `yaml:"journal"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if len(c.Symbols) == 0 {
		c.Symbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}
	}
	if c.EvalIntervalSecs == 0 {
		c.EvalIntervalSecs = 60
	}
	if c.HistoryBars == 0 {
		c.HistoryBars = 100
	}
	if c.StatePath == "" {
		c.StatePath = "data/positions.json"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:8090"
	}

	if c.Risk.RiskPerTrade == 0 {
		c.Risk.RiskPerTrade = 0.01
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 0.05
	}
	if c.Risk.MaxPositions == 0 {
		c.Risk.MaxPositions = 5
	}
	if c.Risk.MaxTotalPositions == 0 {
		c.Risk.MaxTotalPositions = 20
	}
	if c.Risk.HighConfThreshold == 0 {
		c.Risk.HighConfThreshold = 0.75
	}
	if c.Risk.LowConfThreshold == 0 {
		c.Risk.LowConfThreshold = 0.60
	}
	if c.Risk.HighConfTPMult == 0 {
		c.Risk.HighConfTPMult = 1.2
	}
	if c.Risk.LowConfSLMult == 0 {
		c.Risk.LowConfSLMult = 0.8
	}

	if c.Signal.MLConfidenceThreshold == 0 {
		c.Signal.MLConfidenceThreshold = 0.65
	}
	if c.Signal.AgreementBonus == 0 {
		c.Signal.AgreementBonus = 1.2
	}
	if c.Signal.OverrideThreshold == 0 {
		c.Signal.OverrideThreshold = 0.75
	}
	if c.Signal.FallbackConfidence == 0 {
		c.Signal.FallbackConfidence = 0.6
	}
	if c.Signal.FastPeriod == 0 {
		c.Signal.FastPeriod = 10
	}
	if c.Signal.SlowPeriod == 0 {
		c.Signal.SlowPeriod = 50
	}
	if c.Signal.RSIPeriod == 0 {
		c.Signal.RSIPeriod = 14
	}

	if c.Plan.ATRPeriod == 0 {
		c.Plan.ATRPeriod = 14
	}
	if c.Plan.ATRStopMult == 0 {
		c.Plan.ATRStopMult = 1.5
	}
	if c.Plan.ATRTPMult == 0 {
		c.Plan.ATRTPMult = 6.0 // 4:1 reward:risk against the 1.5x stop
	}

	if c.Scaling.PartialCloseRR == 0 {
		c.Scaling.PartialCloseRR = 2.0
	}
	if c.Scaling.PartialClosePercent == 0 {
		c.Scaling.PartialClosePercent = 0.25
	}

	if c.Predictor.Runtime == "" {
		c.Predictor.Runtime = "onnx"
	}
	if c.Predictor.ModelPath == "" {
		c.Predictor.ModelPath = "models/ultrabot.onnx"
	}

	if c.Venue.Mode == "" {
		c.Venue.Mode = "sim"
	}
	if c.Venue.BaseURL == "" {
		c.Venue.BaseURL = "http://127.0.0.1:8787"
	}
	if c.Venue.TimeoutMs == 0 {
		c.Venue.TimeoutMs = 5000
	}
	if c.Venue.RatePerSecond == 0 {
		c.Venue.RatePerSecond = 10
	}
	if c.Venue.ReadMaxRetries == 0 {
		c.Venue.ReadMaxRetries = 3
	}
	if c.Venue.BackoffBaseMs == 0 {
		c.Venue.BackoffBaseMs = 100
	}
	if c.Venue.BackoffMaxMs == 0 {
		c.Venue.BackoffMaxMs = 5000
	}

	if c.Bridge.ListenAddr == "" {
		c.Bridge.ListenAddr = "127.0.0.1:8765"
	}
	if c.Bridge.BroadcastIntervalSec == 0 {
		c.Bridge.BroadcastIntervalSec = 5
	}
	if c.Bridge.WriteTimeoutMs == 0 {
		c.Bridge.WriteTimeoutMs = 10000
	}
	if c.Bridge.HeartbeatTimeoutSec == 0 {
		c.Bridge.HeartbeatTimeoutSec = 60
	}
	if c.Bridge.SendQueueSize == 0 {
		c.Bridge.SendQueueSize = 64
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.jsonl"
	}
	if c.Journal.DedupeWindowSecs == 0 {
		c.Journal.DedupeWindowSecs = 90
	}

	// Deploy-time env overrides; secrets stay out of the file entirely
	// (venue api_key_env / api_secret_env name the variables to read).
	if v := os.Getenv("ULTRABOT_VENUE_MODE"); v != "" {
		c.Venue.Mode = v
	}
	if v := os.Getenv("ULTRABOT_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("ULTRABOT_BRIDGE_ADDR"); v != "" {
		c.Bridge.ListenAddr = v
	}

	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Root) validate() error {
	if c.Risk.RiskPerTrade < 0 || c.Risk.RiskPerTrade > 0.1 {
		return fmt.Errorf("risk_per_trade %.4f outside (0, 0.1]", c.Risk.RiskPerTrade)
	}
	if c.Risk.MaxDailyLoss < 0 || c.Risk.MaxDailyLoss > 1 {
		return fmt.Errorf("max_daily_loss %.4f outside (0, 1]", c.Risk.MaxDailyLoss)
	}
	if c.Scaling.PartialClosePercent <= 0 || c.Scaling.PartialClosePercent >= 1 {
		return fmt.Errorf("partial_close_percent %.4f outside (0, 1)", c.Scaling.PartialClosePercent)
	}
	switch c.Venue.Mode {
	case "sim", "gateway":
	default:
		return fmt.Errorf("venue mode %q (want sim or gateway)", c.Venue.Mode)
	}
	return nil
}
