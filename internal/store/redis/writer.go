package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

const (
	defaultLatestTTL = 24 * time.Hour
	pointStreamLen   = 2000
	signalStreamLen  = 10000

	// SignalStream is the stream every emitted signal is appended to.
	SignalStream = "signals"
)

// Writer publishes RSI points and signals. Each call is one pipeline of
// XADD + SET latest + PUBLISH per item.
type Writer struct {
	client *goredis.Client
}

// NewWriter wraps a connected client.
func NewWriter(client *goredis.Client) *Writer {
	return &Writer{client: client}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// PointLatestKey is the key holding the newest point of a series.
func PointLatestKey(p *model.RsiPoint) string {
	return "rsi:" + p.Timeframe.String() + ":latest:" + p.Instrument
}

// PointChannel is the pub/sub channel of a series.
func PointChannel(p *model.RsiPoint) string {
	return "pub:" + p.StreamKey()
}

// SignalChannel is the pub/sub channel for an instrument's signals.
func SignalChannel(instrument string) string {
	return "pub:signal:" + instrument
}

// WritePoints appends points to their series streams in one pipeline.
func (w *Writer) WritePoints(ctx context.Context, points []model.RsiPoint) error {
	if len(points) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range points {
		p := &points[i]
		data := string(p.JSON())
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.StreamKey(),
			MaxLen: pointStreamLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, PointLatestKey(p), data, defaultLatestTTL)
		pipe.Publish(ctx, PointChannel(p), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis points pipeline (%d points): %w", len(points), err)
	}
	return nil
}

// WriteSignal appends a signal to the signal stream and publishes it.
func (w *Writer) WriteSignal(ctx context.Context, sig model.Signal) error {
	data := string(sig.JSON())
	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: SignalStream,
		MaxLen: signalStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, "signal:latest:"+sig.Instrument, data, defaultLatestTTL)
	pipe.Publish(ctx, SignalChannel(sig.Instrument), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis signal pipeline %s: %w", sig.ID, err)
	}
	log.Debug().Str("id", sig.ID).Str("instrument", sig.Instrument).Msg("redis signal published")
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
