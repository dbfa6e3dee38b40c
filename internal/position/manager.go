// Package position tracks open positions from fill to close: registration on
// fill, reconciliation against venue snapshots, and reward:risk partial-close
// scaling. The manager is the only component allowed to mutate tracked
// positions.
package position

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smartstocktrader/ultrabot/internal/decision"
	"github.com/smartstocktrader/ultrabot/internal/observ"
	"github.com/smartstocktrader/ultrabot/internal/signal"
)

// Side is the held direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// SideFor maps a trade direction to the resulting position side.
func SideFor(d signal.Direction) Side {
	if d == signal.Sell {
		return Short
	}
	return Long
}

// Position is one tracked trade, keyed by the venue-assigned ticket.
type Position struct {
	Ticket            string    `json:"ticket"`
	Symbol            string    `json:"symbol"`
	Side              Side      `json:"side"`
	EntryPrice        float64   `json:"entry_price"`
	StopLoss          float64   `json:"stop_loss"`
	TakeProfit        float64   `json:"take_profit"`
	Volume            float64   `json:"volume"`
	ConfidenceAtEntry float64   `json:"confidence_at_entry"`
	OpenedAt          time.Time `json:"opened_at"`
	Scaled            bool      `json:"scaled"` // partial close already applied
	CurrentPrice      float64   `json:"current_price"`
	Profit            float64   `json:"profit"`
}

// LiveState is the venue's view of one open ticket, used by Sync.
type LiveState struct {
	Price      float64
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	Profit     float64
}

// EventType distinguishes reconciliation outcomes.
type EventType string

const (
	EventClosed  EventType = "closed"  // ticket gone from the venue snapshot
	EventUpdated EventType = "updated" // broker-side field change adopted
)

// Event is one reconciliation outcome from Sync.
type Event struct {
	Type     EventType
	Ticket   string
	Symbol   string
	Position Position // state at the time of the event
}

type state struct {
	Version   int64               `json:"version"`
	UpdatedAt string              `json:"updated_at"`
	Positions map[string]Position `json:"positions"`
}

// Manager owns the ticket -> Position mapping. Both the trading loop and the
// bridge mutate positions through the same instance; the mutex is the
// single-writer discipline.
type Manager struct {
	mu       sync.RWMutex
	filePath string
	st       state
}

func NewManager(filePath string) *Manager {
	return &Manager{
		filePath: filePath,
		st:       state{Positions: make(map[string]Position)},
	}
}

// Load restores persisted positions; a missing file starts empty.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read position state: %w", err)
	}
	if err := json.Unmarshal(data, &m.st); err != nil {
		return fmt.Errorf("unmarshal position state: %w", err)
	}
	if m.st.Positions == nil {
		m.st.Positions = make(map[string]Position)
	}
	return nil
}

// saveUnsafe persists atomically via temp file + rename. Callers hold mu.
func (m *Manager) saveUnsafe() error {
	m.st.Version++
	m.st.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(m.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal position state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tempPath := m.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp position state: %w", err)
	}
	if err := os.Rename(tempPath, m.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename position state: %w", err)
	}
	return nil
}

// OnFill registers a new position. This is the sole insertion point. The
// stop and take-profit are placed on the correct side of the entry for the
// held direction.
func (m *Manager) OnFill(ticket string, plan decision.RiskPlan, sig signal.FusedSignal, fillPrice float64) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.st.Positions[ticket]; exists {
		return Position{}, fmt.Errorf("ticket %s already tracked", ticket)
	}

	side := SideFor(plan.Direction)
	var sl, tp float64
	if side == Long {
		sl = fillPrice - plan.StopDistance
		tp = fillPrice + plan.TakeProfitDistance
	} else {
		sl = fillPrice + plan.StopDistance
		tp = fillPrice - plan.TakeProfitDistance
	}

	pos := Position{
		Ticket:            ticket,
		Symbol:            plan.Symbol,
		Side:              side,
		EntryPrice:        fillPrice,
		StopLoss:          sl,
		TakeProfit:        tp,
		Volume:            plan.LotSize,
		ConfidenceAtEntry: sig.Confidence,
		OpenedAt:          time.Now().UTC(),
		CurrentPrice:      fillPrice,
	}
	m.st.Positions[ticket] = pos

	if err := m.saveUnsafe(); err != nil {
		return pos, err
	}
	observ.Log("position_opened", map[string]any{
		"ticket": ticket, "symbol": pos.Symbol, "side": pos.Side,
		"entry": fillPrice, "sl": sl, "tp": tp, "volume": pos.Volume,
		"confidence": pos.ConfidenceAtEntry,
	})
	return pos, nil
}

// Sync reconciles tracked positions against a venue snapshot. Tickets absent
// from the snapshot were closed externally and are removed exactly once,
// yielding a Closed event. Diverging live fields (broker-side stop edits,
// partial fills) are adopted into tracked state.
func (m *Manager) Sync(snapshot map[string]LiveState) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	for ticket, pos := range m.st.Positions {
		live, ok := snapshot[ticket]
		if !ok {
			delete(m.st.Positions, ticket)
			events = append(events, Event{Type: EventClosed, Ticket: ticket, Symbol: pos.Symbol, Position: pos})
			observ.Log("position_closed", map[string]any{
				"ticket": ticket, "symbol": pos.Symbol, "profit": pos.Profit,
			})
			continue
		}

		changed := pos.StopLoss != live.StopLoss ||
			pos.TakeProfit != live.TakeProfit ||
			pos.Volume != live.Volume
		pos.StopLoss = live.StopLoss
		pos.TakeProfit = live.TakeProfit
		if live.Volume > 0 {
			pos.Volume = live.Volume
		}
		pos.CurrentPrice = live.Price
		pos.Profit = live.Profit
		m.st.Positions[ticket] = pos

		if changed {
			events = append(events, Event{Type: EventUpdated, Ticket: ticket, Symbol: pos.Symbol, Position: pos})
		}
	}

	if len(events) > 0 {
		if err := m.saveUnsafe(); err != nil {
			observ.Error("position_state_save", err, nil)
		}
	}
	return events
}

// PartialCloseDue reports the volume to close once the position's realized
// reward:risk ratio reaches rr, at most once per position. A stop at the
// entry price makes the ratio undefined; that is "not due", never a division
// by zero.
func (m *Manager) PartialCloseDue(ticket string, currentPrice, rr, percent float64) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.st.Positions[ticket]
	if !ok || pos.Scaled {
		return 0, false
	}

	riskDist := math.Abs(pos.EntryPrice - pos.StopLoss)
	if riskDist == 0 {
		return 0, false
	}

	var move float64
	if pos.Side == Long {
		move = currentPrice - pos.EntryPrice
	} else {
		move = pos.EntryPrice - currentPrice
	}
	if move <= 0 {
		return 0, false
	}

	if move/riskDist < rr {
		return 0, false
	}
	return pos.Volume * percent, true
}

// MarkScaled sets the once-only flag after a partial close succeeded and
// reduces the tracked volume by the closed amount.
func (m *Manager) MarkScaled(ticket string, closedVolume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.st.Positions[ticket]
	if !ok {
		return
	}
	pos.Scaled = true
	if closedVolume > 0 && closedVolume < pos.Volume {
		pos.Volume -= closedVolume
	}
	m.st.Positions[ticket] = pos
	if err := m.saveUnsafe(); err != nil {
		observ.Error("position_state_save", err, nil)
	}
}

// Get returns a tracked position by ticket.
func (m *Manager) Get(ticket string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.st.Positions[ticket]
	return pos, ok
}

// All returns a copy of every tracked position.
func (m *Manager) All() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.st.Positions))
	for _, pos := range m.st.Positions {
		out = append(out, pos)
	}
	return out
}

// Count returns the number of tracked positions, total or for one symbol.
func (m *Manager) Count(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if symbol == "" {
		return len(m.st.Positions)
	}
	n := 0
	for _, pos := range m.st.Positions {
		if pos.Symbol == symbol {
			n++
		}
	}
	return n
}
