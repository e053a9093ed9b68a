package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the analyzer from concrete storage and transport
// implementations (Redis, SQLite, Postgres, Kafka). Restore returns an
// ordered bucket→value mapping; save consumes a buffer's current contents.

// CandleRepository persists confirmed candles per (instrument, timeframe).
type CandleRepository interface {
	// SaveCandles upserts candles and returns the number written.
	SaveCandles(ctx context.Context, candles []Candle) (int, error)

	// RestoreCandles returns up to limit of the newest candles for the series.
	RestoreCandles(ctx context.Context, instrument string, tf Timeframe, limit int) (map[time.Time]*Candle, error)
}

// PointRepository persists computed RSI points.
type PointRepository interface {
	// SaveRsiPoints upserts points and returns the number written.
	SaveRsiPoints(ctx context.Context, points []RsiPoint) (int, error)

	// RestoreRsiPoints returns up to limit of the newest points for the series.
	RestoreRsiPoints(ctx context.Context, instrument string, tf Timeframe, limit int) (map[time.Time]*RsiPoint, error)
}

// Repository is the full persistence collaborator used by the analyzer.
type Repository interface {
	CandleRepository
	PointRepository

	// Close releases underlying resources.
	Close() error
}

// CandleSource delivers confirmed candles one at a time, ordered by bucket
// per (instrument, timeframe).
type CandleSource interface {
	// Consume blocks until ctx is cancelled, sending candles to out.
	Consume(ctx context.Context, out chan<- Candle) error

	// Close releases underlying resources.
	Close() error
}

// SignalSink delivers emitted signals to a downstream collaborator.
type SignalSink interface {
	Publish(ctx context.Context, sig Signal) error
}

// PointPublisher fans computed RSI points out to subscribers.
type PointPublisher interface {
	PublishPoints(ctx context.Context, points []RsiPoint)
}
