package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartstocktrader/ultrabot/internal/bridge"
	"github.com/smartstocktrader/ultrabot/internal/config"
	"github.com/smartstocktrader/ultrabot/internal/decision"
	"github.com/smartstocktrader/ultrabot/internal/observ"
	"github.com/smartstocktrader/ultrabot/internal/outbox"
	"github.com/smartstocktrader/ultrabot/internal/position"
	"github.com/smartstocktrader/ultrabot/internal/risk"
	sig "github.com/smartstocktrader/ultrabot/internal/signal"
	"github.com/smartstocktrader/ultrabot/internal/trader"
	"github.com/smartstocktrader/ultrabot/internal/venue"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", configPath, err)
	}
	observ.Log("config_loaded", map[string]any{
		"path": configPath, "symbols": cfg.Symbols, "venue_mode": cfg.Venue.Mode,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := buildVenue(cfg)
	if err != nil {
		log.Fatalf("venue: %v", err)
	}

	pred, closePred, err := buildPredictor(cfg)
	if err != nil {
		log.Fatalf("predictor: %v", err)
	}
	if closePred != nil {
		defer closePred()
	}

	gov := risk.NewGovernor(risk.Config{
		RiskPerTrade:      cfg.Risk.RiskPerTrade,
		MaxDailyLoss:      cfg.Risk.MaxDailyLoss,
		HighConfThreshold: cfg.Risk.HighConfThreshold,
		LowConfThreshold:  cfg.Risk.LowConfThreshold,
		HighConfTPMult:    cfg.Risk.HighConfTPMult,
		LowConfSLMult:     cfg.Risk.LowConfSLMult,
	})
	planner := decision.NewPlanner(decision.Config{
		ATRStopMult: cfg.Plan.ATRStopMult,
		ATRTPMult:   cfg.Plan.ATRTPMult,
	}, gov)

	pm := position.NewManager(cfg.StatePath)
	if err := pm.Load(); err != nil {
		log.Fatalf("load position state: %v", err)
	}

	journal, err := outbox.New(cfg.Journal.Path, cfg.Journal.DedupeWindowSecs)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}

	bot := trader.New(cfg, v, gov, planner, pm, journal, pred)

	bridgeSrv := bridge.NewServer(bridge.Config{
		ListenAddr:        cfg.Bridge.ListenAddr,
		BroadcastInterval: time.Duration(cfg.Bridge.BroadcastIntervalSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Bridge.WriteTimeoutMs) * time.Millisecond,
		HeartbeatTimeout:  time.Duration(cfg.Bridge.HeartbeatTimeoutSec) * time.Second,
		SendQueueSize:     cfg.Bridge.SendQueueSize,
	}, bot)

	errCh := make(chan error, 3)
	go func() { errCh <- serveMetrics(ctx, cfg.MetricsAddr) }()
	go func() { errCh <- bridgeSrv.Run(ctx) }()
	go func() { errCh <- bot.Run(ctx) }()

	select {
	case <-ctx.Done():
		observ.Log("shutdown", map[string]any{"reason": "signal"})
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			observ.Error("fatal", err, nil)
			stop()
			os.Exit(1)
		}
	}
}

func buildVenue(cfg config.Root) (venue.Venue, error) {
	switch cfg.Venue.Mode {
	case "sim":
		sim := venue.NewSim(10000)
		for _, symbol := range cfg.Symbols {
			sim.SeedRandomWalk(symbol, cfg.HistoryBars*2, 100)
		}
		return sim, nil
	case "gateway":
		apiKey := os.Getenv(cfg.Venue.APIKeyEnv)
		apiSecret := os.Getenv(cfg.Venue.APISecretEnv)
		if apiKey == "" || apiSecret == "" {
			return nil, fmt.Errorf("gateway mode needs %s and %s set", cfg.Venue.APIKeyEnv, cfg.Venue.APISecretEnv)
		}
		return venue.NewClient(venue.ClientConfig{
			BaseURL:        cfg.Venue.BaseURL,
			APIKey:         apiKey,
			APISecret:      apiSecret,
			Timeout:        time.Duration(cfg.Venue.TimeoutMs) * time.Millisecond,
			RatePerSecond:  cfg.Venue.RatePerSecond,
			ReadMaxRetries: cfg.Venue.ReadMaxRetries,
			BackoffBase:    time.Duration(cfg.Venue.BackoffBaseMs) * time.Millisecond,
			BackoffMax:     time.Duration(cfg.Venue.BackoffMaxMs) * time.Millisecond,
		}), nil
	default:
		return nil, fmt.Errorf("unknown venue mode %q", cfg.Venue.Mode)
	}
}

func buildPredictor(cfg config.Root) (sig.Predictor, func(), error) {
	if !cfg.Predictor.Enabled {
		observ.Log("predictor_disabled", nil)
		return &sig.StaticPredictor{}, nil, nil
	}
	switch cfg.Predictor.Runtime {
	case "onnx":
		p, err := sig.NewONNXPredictor(cfg.Predictor.ModelPath)
		if err != nil {
			return nil, nil, err
		}
		observ.Log("predictor_loaded", map[string]any{"model": cfg.Predictor.ModelPath})
		return p, p.Close, nil
	case "static":
		return &sig.StaticPredictor{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown predictor runtime %q", cfg.Predictor.Runtime)
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	observ.Log("metrics_listening", map[string]any{"addr": addr})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
