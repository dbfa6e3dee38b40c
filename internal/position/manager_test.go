package position

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartstocktrader/ultrabot/internal/decision"
	"github.com/smartstocktrader/ultrabot/internal/signal"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, m.Load())
	return m
}

func buyPlan() decision.RiskPlan {
	return decision.RiskPlan{
		Symbol:             "AAPL",
		Direction:          signal.Buy,
		StopDistance:       3.0,
		TakeProfitDistance: 12.0,
		LotSize:            2.0,
		Confidence:         0.8,
	}
}

func buySig() signal.FusedSignal {
	return signal.FusedSignal{Symbol: "AAPL", Direction: signal.Buy, Confidence: 0.8, IssuedAt: time.Now()}
}

func TestOnFill(t *testing.T) {
	t.Run("long places stop below and take profit above", func(t *testing.T) {
		m := testManager(t)
		pos, err := m.OnFill("T1", buyPlan(), buySig(), 100.0)
		require.NoError(t, err)

		assert.Equal(t, Long, pos.Side)
		assert.InDelta(t, 97.0, pos.StopLoss, 1e-9)
		assert.InDelta(t, 112.0, pos.TakeProfit, 1e-9)
		assert.InDelta(t, 2.0, pos.Volume, 1e-9)
		assert.InDelta(t, 0.8, pos.ConfidenceAtEntry, 1e-9)
	})

	t.Run("short mirrors the levels", func(t *testing.T) {
		m := testManager(t)
		plan := buyPlan()
		plan.Direction = signal.Sell
		pos, err := m.OnFill("T1", plan, buySig(), 100.0)
		require.NoError(t, err)

		assert.Equal(t, Short, pos.Side)
		assert.InDelta(t, 103.0, pos.StopLoss, 1e-9)
		assert.InDelta(t, 88.0, pos.TakeProfit, 1e-9)
	})

	t.Run("duplicate ticket rejected", func(t *testing.T) {
		m := testManager(t)
		_, err := m.OnFill("T1", buyPlan(), buySig(), 100.0)
		require.NoError(t, err)
		_, err = m.OnFill("T1", buyPlan(), buySig(), 101.0)
		assert.Error(t, err)
		assert.Equal(t, 1, m.Count(""))
	})
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")

	m1 := NewManager(path)
	require.NoError(t, m1.Load())
	_, err := m1.OnFill("T1", buyPlan(), buySig(), 100.0)
	require.NoError(t, err)

	m2 := NewManager(path)
	require.NoError(t, m2.Load())
	pos, ok := m2.Get("T1")
	require.True(t, ok)
	assert.Equal(t, "AAPL", pos.Symbol)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
}

func TestSync(t *testing.T) {
	t.Run("absent ticket closes exactly once", func(t *testing.T) {
		m := testManager(t)
		_, err := m.OnFill("T1", buyPlan(), buySig(), 100.0)
		require.NoError(t, err)

		events := m.Sync(map[string]LiveState{})
		require.Len(t, events, 1)
		assert.Equal(t, EventClosed, events[0].Type)
		assert.Equal(t, "T1", events[0].Ticket)
		assert.Equal(t, 0, m.Count(""))

		// second sync is a no-op, no duplicate close event
		assert.Empty(t, m.Sync(map[string]LiveState{}))
	})

	t.Run("broker-side stop edit is adopted", func(t *testing.T) {
		m := testManager(t)
		_, err := m.OnFill("T1", buyPlan(), buySig(), 100.0)
		require.NoError(t, err)

		events := m.Sync(map[string]LiveState{
			"T1": {Price: 104, Volume: 2.0, StopLoss: 99.0, TakeProfit: 112.0, Profit: 8.0},
		})
		require.Len(t, events, 1)
		assert.Equal(t, EventUpdated, events[0].Type)

		pos, _ := m.Get("T1")
		assert.InDelta(t, 99.0, pos.StopLoss, 1e-9)
		assert.InDelta(t, 104.0, pos.CurrentPrice, 1e-9)
		assert.InDelta(t, 8.0, pos.Profit, 1e-9)
	})

	t.Run("unchanged fields emit no event", func(t *testing.T) {
		m := testManager(t)
		_, err := m.OnFill("T1", buyPlan(), buySig(), 100.0)
		require.NoError(t, err)

		events := m.Sync(map[string]LiveState{
			"T1": {Price: 101, Volume: 2.0, StopLoss: 97.0, TakeProfit: 112.0, Profit: 2.0},
		})
		assert.Empty(t, events)
		pos, _ := m.Get("T1")
		assert.InDelta(t, 101.0, pos.CurrentPrice, 1e-9)
	})
}

func TestPartialCloseDue(t *testing.T) {
	const rr, pct = 2.0, 0.25

	setup := func(t *testing.T) *Manager {
		m := testManager(t)
		// entry 100, stop 97 -> risk distance 3
		_, err := m.OnFill("T1", buyPlan(), buySig(), 100.0)
		require.NoError(t, err)
		return m
	}

	t.Run("due at the reward threshold", func(t *testing.T) {
		m := setup(t)
		vol, due := m.PartialCloseDue("T1", 106.0, rr, pct) // move 6 = 2x risk
		require.True(t, due)
		assert.InDelta(t, 0.5, vol, 1e-9)
	})

	t.Run("not due below the threshold", func(t *testing.T) {
		m := setup(t)
		_, due := m.PartialCloseDue("T1", 105.9, rr, pct)
		assert.False(t, due)
	})

	t.Run("adverse move never triggers", func(t *testing.T) {
		m := setup(t)
		_, due := m.PartialCloseDue("T1", 94.0, rr, pct)
		assert.False(t, due)
	})

	t.Run("short side measures the move downward", func(t *testing.T) {
		m := testManager(t)
		plan := buyPlan()
		plan.Direction = signal.Sell
		_, err := m.OnFill("S1", plan, buySig(), 100.0)
		require.NoError(t, err)

		vol, due := m.PartialCloseDue("S1", 94.0, rr, pct)
		require.True(t, due)
		assert.InDelta(t, 0.5, vol, 1e-9)
	})

	t.Run("fires at most once", func(t *testing.T) {
		m := setup(t)
		vol, due := m.PartialCloseDue("T1", 110.0, rr, pct)
		require.True(t, due)
		m.MarkScaled("T1", vol)

		_, due = m.PartialCloseDue("T1", 120.0, rr, pct)
		assert.False(t, due)

		pos, _ := m.Get("T1")
		assert.True(t, pos.Scaled)
		assert.InDelta(t, 1.5, pos.Volume, 1e-9)
	})

	t.Run("stop at entry is not due", func(t *testing.T) {
		m := testManager(t)
		plan := buyPlan()
		plan.StopDistance = 0
		_, err := m.OnFill("Z1", plan, buySig(), 100.0)
		require.NoError(t, err)

		_, due := m.PartialCloseDue("Z1", 200.0, rr, pct)
		assert.False(t, due)
	})

	t.Run("unknown ticket is not due", func(t *testing.T) {
		m := testManager(t)
		_, due := m.PartialCloseDue("nope", 100.0, rr, pct)
		assert.False(t, due)
	})
}

func TestCount(t *testing.T) {
	m := testManager(t)
	_, err := m.OnFill("T1", buyPlan(), buySig(), 100.0)
	require.NoError(t, err)

	plan := buyPlan()
	plan.Symbol = "MSFT"
	_, err = m.OnFill("T2", plan, buySig(), 300.0)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Count(""))
	assert.Equal(t, 1, m.Count("AAPL"))
	assert.Equal(t, 0, m.Count("TSLA"))
}
