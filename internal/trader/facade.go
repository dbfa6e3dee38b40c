package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/smartstocktrader/ultrabot/internal/market"
	"github.com/smartstocktrader/ultrabot/internal/observ"
	"github.com/smartstocktrader/ultrabot/internal/position"
	"github.com/smartstocktrader/ultrabot/internal/signal"
	"github.com/smartstocktrader/ultrabot/internal/venue"
)

// The bridge.Controller surface. Bridge commands go through the same gates
// as the evaluation cycle: daily halt, position limits, journal dedupe.

// EvaluateSymbol runs the signal chain for one symbol on demand.
func (t *Trader) EvaluateSymbol(ctx context.Context, symbol string) (signal.FusedSignal, error) {
	sig, _, _, err := t.evaluate(ctx, symbol)
	if err != nil {
		return signal.FusedSignal{}, err
	}
	observ.Decisions.WithLabelValues(symbol, string(sig.Direction)).Inc()
	return sig, nil
}

// ExecuteTrade places an order for a client-supplied direction and
// confidence. The stop and take-profit still come from current volatility;
// the client chooses the side, not the risk shape.
func (t *Trader) ExecuteTrade(ctx context.Context, symbol string, dir signal.Direction, confidence float64) (string, float64, error) {
	if !dir.Actionable() {
		return "", 0, fmt.Errorf("direction %q is not tradable", dir)
	}
	if confidence < 0 || confidence > 1 {
		return "", 0, fmt.Errorf("confidence %.2f outside [0, 1]", confidence)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	acct, err := t.venue.Account(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("account: %w", err)
	}
	if !t.gov.CheckDailyHalt(acct.Equity, time.Now()) {
		return "", 0, fmt.Errorf("daily loss limit reached, new entries halted")
	}

	candles, err := t.venue.Candles(ctx, symbol, t.cfg.HistoryBars)
	if err != nil {
		return "", 0, fmt.Errorf("candles for %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return "", 0, fmt.Errorf("no candles for %s", symbol)
	}
	atr := market.LastATR(candles, t.cfg.Plan.ATRPeriod)
	last := candles[len(candles)-1].Close

	sig := signal.FusedSignal{
		Symbol:     symbol,
		Direction:  dir,
		Confidence: confidence,
		IssuedAt:   time.Now().UTC(),
	}
	ticket, price, err := t.enter(ctx, sig, atr, last, acct.Equity)
	if err != nil {
		return "", 0, err
	}
	if ticket == "" {
		return "", 0, fmt.Errorf("trade not placed: gated by limits, duplicate window, or unviable size")
	}
	return ticket, price, nil
}

// OpenPositions returns the tracked positions for bridge payloads.
func (t *Trader) OpenPositions() []position.Position {
	return t.positions.All()
}

// AccountInfo returns the live account snapshot.
func (t *Trader) AccountInfo(ctx context.Context) (venue.AccountInfo, error) {
	return t.venue.Account(ctx)
}

// CloseTicket closes one position on client request, fully when volume is 0.
// Tracked state catches up on the next reconciliation pass.
func (t *Trader) CloseTicket(ctx context.Context, ticket string, volume float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	res, err := t.venue.ClosePosition(closeCtx, ticket, volume)
	if err != nil {
		return fmt.Errorf("close %s: %w", ticket, err)
	}
	if !res.Success {
		return fmt.Errorf("close %s rejected: %s", ticket, res.Error)
	}
	observ.Log("position_close_requested", map[string]any{"ticket": ticket})
	return nil
}
