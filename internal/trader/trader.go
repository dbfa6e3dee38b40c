// Package trader drives the periodic evaluation cycle and executes trades.
// It is the only component that talks to the venue for order flow, and it
// implements the bridge's Controller interface, so loop-initiated and
// client-initiated trades share one code path and one set of gates.
package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smartstocktrader/ultrabot/internal/config"
	"github.com/smartstocktrader/ultrabot/internal/decision"
	"github.com/smartstocktrader/ultrabot/internal/market"
	"github.com/smartstocktrader/ultrabot/internal/observ"
	"github.com/smartstocktrader/ultrabot/internal/outbox"
	"github.com/smartstocktrader/ultrabot/internal/position"
	"github.com/smartstocktrader/ultrabot/internal/risk"
	"github.com/smartstocktrader/ultrabot/internal/signal"
	"github.com/smartstocktrader/ultrabot/internal/venue"
)

// Trader wires the signal chain, risk governor, planner, position manager,
// journal and venue into one evaluation cycle. The mutex serializes trade
// mutations: a cycle and a bridge command never race on entries or closes.
type Trader struct {
	cfg       config.Root
	venue     venue.Venue
	gov       *risk.Governor
	planner   *decision.Planner
	positions *position.Manager
	journal   *outbox.Journal
	predictor signal.Predictor

	mu sync.Mutex
}

func New(cfg config.Root, v venue.Venue, gov *risk.Governor, planner *decision.Planner,
	pm *position.Manager, journal *outbox.Journal, pred signal.Predictor) *Trader {
	return &Trader{
		cfg:       cfg,
		venue:     v,
		gov:       gov,
		planner:   planner,
		positions: pm,
		journal:   journal,
		predictor: pred,
	}
}

// Run evaluates every configured symbol on the evaluation interval until ctx
// is canceled. One cycle runs immediately on start.
func (t *Trader) Run(ctx context.Context) error {
	interval := time.Duration(t.cfg.EvalIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	observ.Log("trader_started", map[string]any{
		"symbols": t.cfg.Symbols, "interval_seconds": t.cfg.EvalIntervalSecs,
	})

	t.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			observ.Log("trader_stopped", nil)
			return ctx.Err()
		case <-ticker.C:
			t.Cycle(ctx)
		}
	}
}

// Cycle is one full evaluation pass: account check, position reconciliation,
// partial-close scaling, then per-symbol signal evaluation and entries. A
// venue failure skips the cycle; the next tick retries.
func (t *Trader) Cycle(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	acct, err := t.venue.Account(ctx)
	if err != nil {
		observ.Error("cycle_account_unavailable", err, nil)
		return
	}
	entriesAllowed := t.gov.CheckDailyHalt(acct.Equity, time.Now())

	live := t.syncPositions(ctx)

	if t.cfg.Scaling.Enabled {
		t.scalePositions(ctx, live)
	}

	if !entriesAllowed {
		observ.Log("cycle_entries_halted", map[string]any{"state": t.gov.State()})
		return
	}

	for _, symbol := range t.cfg.Symbols {
		sig, atr, price, err := t.evaluate(ctx, symbol)
		if err != nil {
			observ.Error("cycle_evaluate_failed", err, map[string]any{"symbol": symbol})
			continue
		}
		observ.Decisions.WithLabelValues(symbol, string(sig.Direction)).Inc()
		if !sig.Actionable() {
			continue
		}
		if _, _, err := t.enter(ctx, sig, atr, price, acct.Equity); err != nil {
			observ.Error("cycle_entry_failed", err, map[string]any{"symbol": symbol})
		}
	}
}

// evaluate runs the full signal chain for one symbol and returns the fused
// signal along with the current ATR and the last close.
func (t *Trader) evaluate(ctx context.Context, symbol string) (signal.FusedSignal, float64, float64, error) {
	candles, err := t.venue.Candles(ctx, symbol, t.cfg.HistoryBars)
	if err != nil {
		return signal.FusedSignal{}, 0, 0, fmt.Errorf("candles for %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return signal.FusedSignal{}, 0, 0, fmt.Errorf("no candles for %s", symbol)
	}

	crossCfg := signal.CrossoverConfig{
		FastPeriod: t.cfg.Signal.FastPeriod,
		SlowPeriod: t.cfg.Signal.SlowPeriod,
		RSIPeriod:  t.cfg.Signal.RSIPeriod,
	}
	det := signal.Crossover(candles, crossCfg)

	pred := signal.Prediction{Direction: signal.None}
	if t.predictor != nil {
		features := signal.Features(candles, crossCfg)
		if features != nil {
			pred, err = t.predictor.Predict(ctx, symbol, features)
			if err != nil {
				// Model trouble degrades to crossover-only, never stops trading.
				observ.Warn("predictor_failed", map[string]any{"symbol": symbol, "error": err.Error()})
				pred = signal.Prediction{Direction: signal.None}
			}
		}
	}

	sig := signal.Fuse(symbol, pred, det, signal.FuseConfig{
		MLConfidenceThreshold: t.cfg.Signal.MLConfidenceThreshold,
		AgreementBonus:        t.cfg.Signal.AgreementBonus,
		OverrideThreshold:     t.cfg.Signal.OverrideThreshold,
		FallbackConfidence:    t.cfg.Signal.FallbackConfidence,
	})
	return sig, market.LastATR(candles, t.cfg.Plan.ATRPeriod), candles[len(candles)-1].Close, nil
}

// enter places one order for an actionable signal at price (the last close).
// Callers hold t.mu. The journal write precedes submission so a crash between
// the two shows up as an order without a result, which the dedupe window then
// blocks from repeating.
func (t *Trader) enter(ctx context.Context, sig signal.FusedSignal, atr, price, equity float64) (string, float64, error) {
	if n := t.positions.Count(sig.Symbol); n >= t.cfg.Risk.MaxPositions {
		observ.Log("entry_skipped_symbol_limit", map[string]any{"symbol": sig.Symbol, "open": n})
		return "", 0, nil
	}
	if n := t.positions.Count(""); n >= t.cfg.Risk.MaxTotalPositions {
		observ.Log("entry_skipped_total_limit", map[string]any{"open": n})
		return "", 0, nil
	}

	info, err := t.venue.SymbolInfo(ctx, sig.Symbol)
	if err != nil {
		return "", 0, fmt.Errorf("symbol info for %s: %w", sig.Symbol, err)
	}
	constraints := risk.Constraints{
		MinLot:          info.MinLot,
		MaxLot:          info.MaxLot,
		LotStep:         info.LotStep,
		TickValuePerLot: info.TickValuePerLot,
	}

	plan, ok := t.planner.Plan(sig, atr, constraints, equity)
	if !ok {
		return "", 0, nil
	}

	side := venue.SideBuy
	if plan.Direction == signal.Sell {
		side = venue.SideSell
	}

	// The venue wants protective levels as prices, not distances.
	stopLoss := price - plan.StopDistance
	takeProfit := price + plan.TakeProfitDistance
	if side == venue.SideSell {
		stopLoss = price + plan.StopDistance
		takeProfit = price - plan.TakeProfitDistance
	}

	key := outbox.IdempotencyKey(sig.Symbol, string(side))
	recent, err := t.journal.HasRecentOrder(key)
	if err != nil {
		return "", 0, fmt.Errorf("journal dedupe: %w", err)
	}
	if recent {
		observ.Log("entry_skipped_duplicate", map[string]any{"symbol": sig.Symbol, "key": key})
		return "", 0, nil
	}

	order := outbox.NewOrder(sig.Symbol, string(side), plan.LotSize, plan.Confidence)
	if err := t.journal.WriteOrder(order); err != nil {
		return "", 0, fmt.Errorf("journal order: %w", err)
	}

	// Submission must reach a terminal state even if the process is shutting
	// down; an in-flight order is never abandoned mid-call.
	placeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	res, err := t.venue.PlaceOrder(placeCtx, venue.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       side,
		Volume:     plan.LotSize,
		Price:      price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Comment:    "ultrabot " + order.ID,
	})
	if err != nil {
		t.journal.WriteResult(outbox.Result{OrderID: order.ID, Message: err.Error(), Timestamp: time.Now().UTC()})
		observ.Orders.WithLabelValues(sig.Symbol, string(side), "error").Inc()
		return "", 0, fmt.Errorf("place order for %s: %w", sig.Symbol, err)
	}
	t.journal.WriteResult(outbox.Result{
		OrderID:   order.ID,
		Ticket:    res.Ticket,
		FillPrice: res.Price,
		Success:   res.Success,
		ErrorCode: res.ErrorCode,
		Message:   res.Message,
		Timestamp: time.Now().UTC(),
	})

	if !res.Success {
		observ.Orders.WithLabelValues(sig.Symbol, string(side), "rejected").Inc()
		return "", 0, &venue.RejectedError{Op: "place_order", Code: res.ErrorCode, Message: res.Message}
	}
	observ.Orders.WithLabelValues(sig.Symbol, string(side), "filled").Inc()

	if _, err := t.positions.OnFill(res.Ticket, plan, sig, res.Price); err != nil {
		observ.Error("track_fill_failed", err, map[string]any{"ticket": res.Ticket})
	}
	return res.Ticket, res.Price, nil
}

// syncPositions reconciles tracked positions against the venue and returns
// the live snapshot keyed by ticket. A venue failure leaves tracked state
// untouched rather than treating every position as closed.
func (t *Trader) syncPositions(ctx context.Context) map[string]position.LiveState {
	livePositions, err := t.venue.Positions(ctx, "")
	if err != nil {
		observ.Error("cycle_positions_unavailable", err, nil)
		return nil
	}

	snapshot := make(map[string]position.LiveState, len(livePositions))
	for _, lp := range livePositions {
		snapshot[lp.Ticket] = position.LiveState{
			Price:      lp.PriceCurrent,
			Volume:     lp.Volume,
			StopLoss:   lp.StopLoss,
			TakeProfit: lp.TakeProfit,
			Profit:     lp.Profit,
		}
	}

	for _, ev := range t.positions.Sync(snapshot) {
		observ.Log("position_event", map[string]any{
			"type": ev.Type, "ticket": ev.Ticket, "symbol": ev.Symbol,
		})
	}
	return snapshot
}

// scalePositions takes partial profits on positions that reached the
// reward:risk trigger. Each position scales at most once; the once-flag is
// set only after the venue confirms the close.
func (t *Trader) scalePositions(ctx context.Context, live map[string]position.LiveState) {
	for _, pos := range t.positions.All() {
		state, ok := live[pos.Ticket]
		if !ok {
			continue
		}
		vol, due := t.positions.PartialCloseDue(pos.Ticket, state.Price,
			t.cfg.Scaling.PartialCloseRR, t.cfg.Scaling.PartialClosePercent)
		if !due {
			continue
		}

		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		res, err := t.venue.ClosePosition(closeCtx, pos.Ticket, vol)
		cancel()
		if err != nil {
			observ.Error("partial_close_failed", err, map[string]any{"ticket": pos.Ticket})
			continue
		}
		if !res.Success {
			observ.Warn("partial_close_rejected", map[string]any{"ticket": pos.Ticket, "error": res.Error})
			continue
		}

		t.positions.MarkScaled(pos.Ticket, vol)
		observ.PartialCloses.WithLabelValues(pos.Symbol).Inc()
		observ.Log("partial_close", map[string]any{
			"ticket": pos.Ticket, "symbol": pos.Symbol, "volume": vol, "price": state.Price,
		})
	}
}
