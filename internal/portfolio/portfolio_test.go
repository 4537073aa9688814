package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalbot/internal/model"
)

func TestPortfolio_MarkTriggersLevels(t *testing.T) {
	pf := New()
	pf.Add(Position{ID: "long", Side: model.Long, Qty: 1, EntryPrice: 100, StopLoss: 90, TakeProfit: 120})
	pf.Add(Position{ID: "short", Side: model.Short, Qty: 2, EntryPrice: 100, StopLoss: 110, TakeProfit: 80})

	assert.Empty(t, pf.Mark(105))
	assert.InDelta(t, 5-10, pf.TotalUnrealizedPnL(), 1e-9)

	exits := pf.Mark(121)
	require.Len(t, exits, 1)
	assert.Equal(t, "long", exits[0].Position.ID)
	assert.Equal(t, ExitTakeProfit, exits[0].Reason)

	exits = pf.Mark(111)
	require.Len(t, exits, 1)
	assert.Equal(t, "short", exits[0].Position.ID)
	assert.Equal(t, ExitStopLoss, exits[0].Reason)
	assert.Empty(t, pf.GetPositions())
}

func TestPortfolio_AddRemove(t *testing.T) {
	pf := New()
	pf.Add(Position{ID: "a", Side: model.Long, Qty: 1, EntryPrice: 50})

	p, ok := pf.Get("a")
	require.True(t, ok)
	assert.Equal(t, 50.0, p.LastPrice)

	_, ok = pf.Remove("a")
	assert.True(t, ok)
	_, ok = pf.Remove("a")
	assert.False(t, ok)
}

func TestPnLTracker_RecordClose(t *testing.T) {
	tr := NewPnLTracker()
	now := time.Now()

	got := tr.RecordClose(Position{ID: "1", Side: model.Long, Qty: 2, EntryPrice: 100}, 110, ExitTakeProfit, now)
	assert.InDelta(t, 20, got, 1e-9)

	got = tr.RecordClose(Position{ID: "2", Side: model.Short, Qty: 1, EntryPrice: 100}, 104, ExitStopLoss, now)
	assert.InDelta(t, -4, got, 1e-9)

	sum := tr.GetSummary()
	assert.InDelta(t, 16, sum.RealizedPnL, 1e-9)
	assert.Equal(t, 2, sum.TotalTrades)
	assert.Equal(t, 1, sum.Wins)
	assert.Equal(t, 1, sum.Losses)
	assert.Len(t, tr.GetTrades(), 2)
}
