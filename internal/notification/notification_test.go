package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-analyzer/internal/model"
)

func testSignal() model.Signal {
	return model.Signal{
		ID:         "sig-1",
		Instrument: "BTC-USDT",
		Strategy:   model.StrategyRsiDualTF,
		Time:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Operation:  model.OperationBuy,
		Level:      model.LevelStrong,
		Price:      decimal.RequireFromString("64250.5"),
	}
}

func TestSignalAlert(t *testing.T) {
	a := SignalAlert(testSignal())
	assert.Equal(t, AlertWarning, a.Level)
	assert.Equal(t, "BUY BTC-USDT (STRONG)", a.Title)
	assert.Contains(t, a.Message, "64250.5")
	assert.Contains(t, a.Message, "2024-03-01 10:00 UTC")
	require.NotNil(t, a.Signal)

	small := testSignal()
	small.Level = model.LevelSmall
	assert.Equal(t, AlertInfo, SignalAlert(small).Level)
}

func TestWebhookNotifier_PostsSignal(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC) }
	require.NoError(t, NewSink(n).Publish(context.Background(), testSignal()))

	assert.JSONEq(t, `"2024-03-01T10:00:01Z"`, string(got["ts"]))
	assert.JSONEq(t, `"WARNING"`, string(got["level"]))

	var sig model.Signal
	require.NoError(t, json.Unmarshal(got["signal"], &sig))
	assert.Equal(t, "sig-1", sig.ID)
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestTelegramNotifier_SignalCard(t *testing.T) {
	var path string
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	require.NoError(t, NewSink(n).Publish(context.Background(), testSignal()))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "MarkdownV2", payload["parse_mode"])
	assert.Equal(t, strings.Join([]string{
		"🟢 *BUY BTC\\-USDT* · STRONG",
		"price `64250.5`",
		"at 2024\\-03\\-01 10:00 UTC",
		"_RSI\\_DUAL\\_TF_ · id `sig-1`",
	}, "\n"), payload["text"])

	sell := testSignal()
	sell.Operation = model.OperationSell
	require.NoError(t, NewSink(n).Publish(context.Background(), sell))
	assert.True(t, strings.HasPrefix(payload["text"], "🔴 *SELL"))
}

func TestTelegramNotifier_Incident(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "store down", Message: "save failed (3x)"}))
	assert.Equal(t, "🚨 *store down*\n\nsave failed \\(3x\\)", payload["text"])
}

func TestTelegramNotifier_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	err := n.Send(context.Background(), SignalAlert(testSignal()))
	assert.EqualError(t, err, "telegram: status 400: Bad Request: chat not found")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\.c\!`, escapeMarkdown("a_b.c!"))
	assert.Equal(t, "plain", escapeMarkdown("plain"))
	assert.Equal(t, `a\\b`, escapeMarkdown(`a\b`))
	assert.Equal(t, "x\\`y", escapeCode("x`y"))
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier().Send(context.Background(), Alert{Level: AlertCritical, Title: "t"}))
}
