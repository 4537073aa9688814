package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalbot/internal/model"
)

var (
	_ model.CandleWriter = (*Writer)(nil)
	_ model.CandleReader = (*Reader)(nil)
)

func TestWriterReader_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path, Instrument: "BTCUSD"})
	require.NoError(t, err)
	defer w.Close()

	committed := make(chan int, 10)
	w.OnCommit = func(n int) { committed <- n }

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ch := make(chan model.Observation, 32)
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		ch <- model.NewCandle(ts, 100+float64(i), 101+float64(i), 99+float64(i), 100.5+float64(i))
		ch <- model.NewTick(ts.Add(30*time.Second), 123)
	}
	close(ch)

	w.Run(context.Background(), ch)
	require.Equal(t, 10, <-committed)

	last, err := w.GetLastTimestamp(context.Background())
	require.NoError(t, err)
	assert.True(t, last.Equal(base.Add(9*time.Minute)))

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadRecent(context.Background(), "BTCUSD", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, c := range got {
		assert.True(t, c.CandleClose)
		assert.True(t, c.TS.Equal(base.Add(time.Duration(6+i)*time.Minute)), "index %d ts %s", i, c.TS)
		assert.Equal(t, 100.5+float64(6+i), c.Close)
	}

	other, err := r.ReadRecent(context.Background(), "ETHUSD", 4)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReader_EmptyDatabase(t *testing.T) {
	r, err := NewReader(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadRecent(context.Background(), "BTCUSD", 100)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriter_ReplacesDuplicateTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.db")
	w, err := New(WriterConfig{DBPath: path, Instrument: "BTCUSD"})
	require.NoError(t, err)
	defer w.Close()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ch := make(chan model.Observation, 2)
	ch <- model.NewCandle(ts, 1, 1, 1, 1)
	ch <- model.NewCandle(ts, 2, 2, 2, 2)
	close(ch)
	w.Run(context.Background(), ch)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadRecent(context.Background(), "BTCUSD", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Close)
}
