package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-analyzer/internal/model"
)

func TestDecodeCandle(t *testing.T) {
	payload := `{"instrument":"BTCUSDT","timeframe":"1h","bucket":"2024-03-01T10:00:00Z",` +
		`"open":"1","high":"2","low":"0.5","close":"1.5","volume":"10","confirmed":true}`
	c, err := DecodeCandle("candle:1h:BTCUSDT", map[string]interface{}{"data": payload})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", c.Instrument)
	assert.Equal(t, model.Timeframe1h, c.Timeframe)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), c.Bucket)
	assert.Equal(t, "1.5", c.Close.String())
	assert.True(t, c.Confirmed)
}

func TestDecodeCandle_FallsBackToStreamKey(t *testing.T) {
	payload := `{"bucket":"2024-03-01T00:00:00+02:00","close":"3","confirmed":true}`
	c, err := DecodeCandle("candle:1d:ETHUSDT", map[string]interface{}{"data": payload})
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", c.Instrument)
	assert.Equal(t, model.Timeframe1d, c.Timeframe)
	assert.Equal(t, time.UTC, c.Bucket.Location())
}

func TestDecodeCandle_Errors(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		values map[string]interface{}
	}{
		{"no data field", "candle:1h:BTC", map[string]interface{}{"x": "1"}},
		{"bad json", "candle:1h:BTC", map[string]interface{}{"data": "{"}},
		{"no bucket", "candle:1h:BTC", map[string]interface{}{"data": `{"close":"1"}`}},
		{"bad stream key", "candles", map[string]interface{}{"data": `{"bucket":"2024-03-01T00:00:00Z"}`}},
		{"bad timeframe in key", "candle:7m:BTC", map[string]interface{}{"data": `{"bucket":"2024-03-01T00:00:00Z"}`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCandle(tc.stream, tc.values)
			assert.Error(t, err)
		})
	}
}

func TestNewCandleStream_Streams(t *testing.T) {
	s := NewCandleStream(nil, StreamConfig{
		Instruments: []string{"BTCUSDT", "ETHUSDT"},
		Timeframes:  []model.Timeframe{model.Timeframe1h, model.Timeframe1d},
	})
	assert.Equal(t, []string{
		"candle:1h:BTCUSDT", "candle:1h:ETHUSDT",
		"candle:1d:BTCUSDT", "candle:1d:ETHUSDT",
	}, s.Streams())
}

func TestKeys(t *testing.T) {
	p := &model.RsiPoint{Instrument: "BTCUSDT", Timeframe: model.Timeframe1h}
	assert.Equal(t, "rsi:1h:BTCUSDT", p.StreamKey())
	assert.Equal(t, "rsi:1h:latest:BTCUSDT", PointLatestKey(p))
	assert.Equal(t, "pub:rsi:1h:BTCUSDT", PointChannel(p))
	assert.Equal(t, "pub:signal:BTCUSDT", SignalChannel("BTCUSDT"))
}

type fakeWriter struct {
	mu      sync.Mutex
	fail    bool
	points  int
	signals []string
}

func (f *fakeWriter) WritePoints(_ context.Context, points []model.RsiPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.points += len(points)
	return nil
}

func (f *fakeWriter) WriteSignal(_ context.Context, sig model.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.signals = append(f.signals, sig.ID)
	return nil
}

func (f *fakeWriter) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeWriter) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.points, append([]string(nil), f.signals...)
}

func TestBufferedWriter_BuffersWhileOpenAndReplays(t *testing.T) {
	fw := &fakeWriter{}
	cb, clk := newTestBreaker(1)
	bw := NewBufferedWriter(context.Background(), fw, cb, 10)

	flushed := make(chan int, 1)
	bw.OnFlush = func(n int) { flushed <- n }

	ctx := context.Background()
	pt := model.RsiPoint{Instrument: "BTCUSDT", Timeframe: model.Timeframe1h, Rsi: decimal.NewFromInt(50)}

	fw.setFail(true)
	assert.Error(t, bw.Publish(ctx, model.Signal{ID: "lost"}), "failure while closed is reported")
	require.Equal(t, StateOpen, cb.CurrentState())

	require.NoError(t, bw.Publish(ctx, model.Signal{ID: "s1"}))
	bw.PublishPoints(ctx, []model.RsiPoint{pt, pt})
	assert.Equal(t, 2, bw.PendingCount())

	fw.setFail(false)
	clk.advance(2 * time.Second)
	require.NoError(t, bw.Publish(ctx, model.Signal{ID: "s2"}))

	select {
	case n := <-flushed:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("buffer not flushed")
	}
	points, signals := fw.snapshot()
	assert.Equal(t, 2, points)
	assert.ElementsMatch(t, []string{"s1", "s2"}, signals)
	assert.Zero(t, bw.PendingCount())
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	fw := &fakeWriter{fail: true}
	cb, _ := newTestBreaker(1)
	bw := NewBufferedWriter(context.Background(), fw, cb, 2)
	buffered := 0
	bw.OnBuffer = func() { buffered++ }

	ctx := context.Background()
	bw.Publish(ctx, model.Signal{ID: "trip"})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bw.Publish(ctx, model.Signal{ID: id}))
	}
	assert.Equal(t, 3, buffered)
	assert.Equal(t, 2, bw.PendingCount())
	assert.Equal(t, "b", bw.buffer[0].signal.ID)
}
