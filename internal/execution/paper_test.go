package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalbot/internal/model"
	"trading-signalbot/internal/portfolio"
	"trading-signalbot/internal/strategy"
)

func TestPaperBroker_OpenCloseWithSlippage(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(1000, 10, quietLog()) // 0.1%

	_, err := b.OpenPosition(ctx, model.Long, 1, 0, 0)
	require.Error(t, err, "no price marked yet")

	b.Mark(100)
	id, err := b.OpenPosition(ctx, model.Long, 2, 90, 120)
	require.NoError(t, err)

	open, err := b.IsPositionOpen(ctx, id)
	require.NoError(t, err)
	assert.True(t, open)

	b.Mark(110)
	require.NoError(t, b.ClosePosition(ctx, id))

	fills := b.GetFills()
	require.Len(t, fills, 2)
	assert.InDelta(t, 100.1, fills[0].Price, 1e-9)
	assert.InDelta(t, 109.89, fills[1].Price, 1e-9)

	bal, err := b.CurrentBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000+(109.89-100.1)*2, bal, 1e-9)

	open, _ = b.IsPositionOpen(ctx, id)
	assert.False(t, open)
	assert.ErrorIs(t, b.ClosePosition(ctx, id), ErrUnknownPosition)
}

func TestPaperBroker_MarkSettlesProtectiveLevels(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(1000, 0, quietLog())
	b.Mark(100)

	long, err := b.OpenPosition(ctx, model.Long, 1, 95, 110)
	require.NoError(t, err)
	short, err := b.OpenPosition(ctx, model.Short, 1, 105, 90)
	require.NoError(t, err)

	assert.Empty(t, b.Mark(102))

	// Price spikes through the short's stop-loss.
	closed := b.Mark(106)
	require.Len(t, closed, 1)
	assert.Equal(t, short, closed[0].PositionID)
	assert.Equal(t, portfolio.ExitStopLoss, closed[0].Reason)
	assert.InDelta(t, -5, closed[0].PnL, 1e-9)

	closed = b.Mark(111)
	require.Len(t, closed, 1)
	assert.Equal(t, long, closed[0].PositionID)
	assert.Equal(t, portfolio.ExitTakeProfit, closed[0].Reason)
	assert.InDelta(t, 10, closed[0].PnL, 1e-9)

	bal, _ := b.CurrentBalance(ctx)
	assert.InDelta(t, 1005, bal, 1e-9)

	sum := b.Summary()
	assert.Equal(t, 2, sum.TotalTrades)
	assert.Equal(t, 1, sum.Wins)
}

func TestPaperBroker_WithCoordinator(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(1000, 0, quietLog())
	b.Mark(100)
	c, clock := newTestCoordinator(t, b, nil)

	_, err := c.Handle(ctx, strategy.Buy, decision(strategy.Buy))
	require.NoError(t, err)
	require.True(t, c.State().IsOpen)

	// Stop-loss at 90 is hit; the coordinator notices on the next signal.
	b.Mark(89)
	clock.Advance(2 * time.Minute)
	res, err := c.Handle(ctx, strategy.Hold, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.False(t, c.State().IsOpen)
}

func TestJournal_RecordAndRead(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(ctx, TradeEvent{
		Instrument: "BTCUSD", Kind: EventOpen, Status: StatusOK, Signal: "BUY", Side: model.Long,
		PositionID: "p1", Qty: 0.4, Price: 100, StopLoss: 50, TakeProfit: 200, Attempts: 1, At: at,
	}))
	require.NoError(t, j.Record(ctx, TradeEvent{
		Instrument: "BTCUSD", Kind: EventClose, Status: StatusFailed, PositionID: "p1",
		Attempts: 3, Error: "timeout", At: at.Add(time.Minute),
	}))

	events, err := j.GetTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventClose, events[0].Kind)
	assert.Equal(t, "timeout", events[0].Error)
	assert.Equal(t, model.Long, events[1].Side)
	assert.InDelta(t, 0.4, events[1].Qty, 1e-12)
	assert.True(t, at.Equal(events[1].At), "got %s", events[1].At)
}
