package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func executionAlert() Alert {
	return Alert{
		Level:      AlertCritical,
		Title:      EventExecutionFailed,
		Message:    "open BUY: timeout",
		Instrument: "BTCUSD",
		CycleID:    "c-1",
		Details:    map[string]string{"signal": "BUY", "attempts": "4"},
	}
}

func TestWebhookNotifier_PostsAlertFields(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, quietLog())
	require.NoError(t, n.Send(context.Background(), executionAlert()))

	assert.Equal(t, "CRITICAL", got["level"])
	assert.Equal(t, "ExecutionFailed", got["title"])
	assert.Equal(t, "open BUY: timeout", got["message"])
	assert.Equal(t, "BTCUSD", got["instrument"])
	assert.Equal(t, "c-1", got["cycle_id"])
	assert.Equal(t, map[string]any{"signal": "BUY", "attempts": "4"}, got["details"])
	assert.NotEmpty(t, got["ts"])
}

func TestWebhookNotifier_KeepsGivenTimestamp(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := executionAlert()
	a.At = at
	require.NoError(t, NewWebhookNotifier(srv.URL, quietLog()).Send(context.Background(), a))
	assert.True(t, got.At.Equal(at))
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, nil).Send(context.Background(), Alert{Level: AlertInfo, Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestTelegramNotifier_SendsEscapedMarkdown(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", quietLog())
	n.baseURL = srv.URL
	a := Alert{Level: AlertWarning, Title: EventFeedDiscontinuity, Message: "gap of 3.5m", Instrument: "BTC_USD", CycleID: "c-9"}
	require.NoError(t, n.Send(context.Background(), a))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "MarkdownV2", got["parse_mode"])
	assert.Contains(t, got["text"], `gap of 3\.5m`)
	assert.Contains(t, got["text"], `BTC\_USD`)
	assert.Contains(t, got["text"], "cycle: `c-9`")
}

func TestFormatTelegram_DetailsSorted(t *testing.T) {
	text := formatTelegram(executionAlert())
	assert.True(t, strings.HasPrefix(text, "🚨 *ExecutionFailed* · BTCUSD"))
	assert.Less(t, strings.Index(text, "attempts:"), strings.Index(text, "signal:"))
	assert.Contains(t, text, "signal: `BUY`")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\*c\.d`, escapeMarkdown("a_b*c.d"))
	assert.Equal(t, "plain", escapeMarkdown("plain"))
	assert.Equal(t, "a\\`b", escapeCode("a`b"))
}

func TestLogNotifier_WritesAlertFields(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	require.NoError(t, NewLogNotifier(l).Send(context.Background(), executionAlert()))

	line := buf.String()
	assert.Contains(t, line, `"level":"ERROR"`)
	assert.Contains(t, line, `"msg":"ExecutionFailed"`)
	assert.Contains(t, line, `"component":"notify"`)
	assert.Contains(t, line, `"instrument":"BTCUSD"`)
	assert.Contains(t, line, `"cycle_id":"c-1"`)
	assert.Contains(t, line, `"signal":"BUY"`)
}

type failingNotifier struct{ err error }

func (f failingNotifier) Send(context.Context, Alert) error { return f.err }

type countingNotifier struct{ n int }

func (c *countingNotifier) Send(context.Context, Alert) error { c.n++; return nil }

func TestMulti_AttemptsAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	counter := &countingNotifier{}

	m := Multi{failingNotifier{errA}, counter, failingNotifier{errB}}
	err := m.Send(context.Background(), Alert{Title: "t"})

	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 1, counter.n)
	assert.True(t, strings.Contains(err.Error(), "a down"))

	assert.NoError(t, Multi{counter}.Send(context.Background(), Alert{}))
}
