package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-analyzer/internal/model"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeReader struct {
	series map[string][]model.Candle
	err    error
}

func (f *fakeReader) ReadCandles(_ context.Context, inst string, tf model.Timeframe, _, _ time.Time) ([]model.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.series[model.SeriesKey(inst, tf)], nil
}

func c(tf model.Timeframe, bucket time.Time) model.Candle {
	return model.Candle{Instrument: "BTC", Timeframe: tf, Bucket: bucket}
}

func TestSort_ByCloseTimeFastFirst(t *testing.T) {
	candles := []model.Candle{
		c(model.Timeframe1d, t0),
		c(model.Timeframe1h, t0.Add(23*time.Hour)),
		c(model.Timeframe1h, t0),
		c(model.Timeframe1h, t0.Add(24*time.Hour)),
	}
	Sort(candles)

	// close times: +1h, +24h (1h then 1d), +25h
	assert.Equal(t, t0, candles[0].Bucket)
	assert.Equal(t, model.Timeframe1h, candles[1].Timeframe)
	assert.Equal(t, t0.Add(23*time.Hour), candles[1].Bucket)
	assert.Equal(t, model.Timeframe1d, candles[2].Timeframe)
	assert.Equal(t, t0.Add(24*time.Hour), candles[3].Bucket)
}

func TestRun_EmitsConfirmedInOrder(t *testing.T) {
	r := New(&fakeReader{series: map[string][]model.Candle{
		model.SeriesKey("BTC", model.Timeframe1h): {c(model.Timeframe1h, t0), c(model.Timeframe1h, t0.Add(time.Hour))},
		model.SeriesKey("BTC", model.Timeframe1d): {c(model.Timeframe1d, t0)},
	}})
	out := make(chan model.Candle, 10)
	err := r.Run(context.Background(), Window{
		Instruments: []string{"BTC"},
		Timeframes:  []model.Timeframe{model.Timeframe1h, model.Timeframe1d},
	}, out)
	require.NoError(t, err)
	close(out)

	var got []model.Candle
	for x := range out {
		assert.True(t, x.Confirmed)
		got = append(got, x)
	}
	require.Len(t, got, 3)
	assert.Equal(t, model.Timeframe1d, got[2].Timeframe)
}

func TestRun_ReaderError(t *testing.T) {
	r := New(&fakeReader{err: errors.New("disk")})
	err := r.Run(context.Background(), Window{
		Instruments: []string{"BTC"},
		Timeframes:  []model.Timeframe{model.Timeframe1h},
	}, make(chan model.Candle))
	assert.EqualError(t, err, "disk")
}

func TestRun_Cancelled(t *testing.T) {
	r := New(&fakeReader{series: map[string][]model.Candle{
		model.SeriesKey("BTC", model.Timeframe1h): {c(model.Timeframe1h, t0)},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, Window{
		Instruments: []string{"BTC"},
		Timeframes:  []model.Timeframe{model.Timeframe1h},
	}, make(chan model.Candle))
	assert.ErrorIs(t, err, context.Canceled)
}
