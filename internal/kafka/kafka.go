// Package kafka carries candles in and signals out over Kafka using
// segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"

	"trading-analyzer/internal/model"
)

// Config holds broker and topic settings.
type Config struct {
	Brokers     []string
	GroupID     string
	CandleTopic string
	SignalTopic string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CandleConsumer reads JSON candles from a topic through a consumer group
// and implements model.CandleSource. Offsets are committed after the candle
// was handed off.
type CandleConsumer struct {
	r messageReader

	// OnError is called for every fetch or decode error (for metrics).
	OnError func(error)
}

// NewCandleConsumer creates a group reader on cfg.CandleTopic.
func NewCandleConsumer(cfg Config) (*CandleConsumer, error) {
	if cfg.CandleTopic == "" {
		return nil, errors.New("kafka: candle topic required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.CandleTopic,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.CandleTopic).Str("group", cfg.GroupID).
		Msg("kafka candle consumer created")
	return &CandleConsumer{r: r}, nil
}

// Consume blocks until ctx is cancelled.
func (c *CandleConsumer) Consume(ctx context.Context, out chan<- model.Candle) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.reportError(fmt.Errorf("fetch: %w", err))
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		candle, err := DecodeCandle(msg.Value)
		if err != nil {
			c.reportError(fmt.Errorf("decode %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err))
		} else {
			select {
			case out <- candle:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.commit(msg); err != nil {
			c.reportError(fmt.Errorf("commit: %w", err))
		}
	}
}

func (c *CandleConsumer) commit(msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.r.CommitMessages(ctx, msg)
}

func (c *CandleConsumer) reportError(err error) {
	log.Warn().Err(err).Msg("kafka candle consumer")
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Close closes the reader.
func (c *CandleConsumer) Close() error { return c.r.Close() }

// DecodeCandle parses a JSON candle and checks it names a series and bucket.
func DecodeCandle(data []byte) (model.Candle, error) {
	var c model.Candle
	if err := json.Unmarshal(data, &c); err != nil {
		return c, err
	}
	switch {
	case c.Instrument == "":
		return c, errors.New("missing instrument")
	case !c.Timeframe.Valid():
		return c, model.ErrUnknownTimeframe
	case c.Bucket.IsZero():
		return c, errors.New("missing bucket")
	}
	c.Bucket = c.Bucket.UTC()
	return c, nil
}

// SignalProducer writes signals to cfg.SignalTopic keyed by instrument, so
// one instrument's signals stay ordered on a partition. It implements
// model.SignalSink.
type SignalProducer struct {
	w messageWriter
}

// NewSignalProducer creates the topic writer.
func NewSignalProducer(cfg Config) (*SignalProducer, error) {
	if cfg.SignalTopic == "" {
		return nil, errors.New("kafka: signal topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.SignalTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &SignalProducer{w: w}, nil
}

// Publish writes one signal.
func (p *SignalProducer) Publish(ctx context.Context, sig model.Signal) error {
	if err := p.w.WriteMessages(ctx, signalMessage(sig)); err != nil {
		return fmt.Errorf("kafka publish signal %s: %w", sig.ID, err)
	}
	return nil
}

func signalMessage(sig model.Signal) kafka.Message {
	return kafka.Message{
		Key:   []byte(sig.Instrument),
		Value: sig.JSON(),
		Time:  sig.Time,
		Headers: []kafka.Header{
			{Key: "strategy", Value: []byte(sig.Strategy)},
			{Key: "operation", Value: []byte(sig.Operation)},
		},
	}
}

// Close flushes and closes the writer.
func (p *SignalProducer) Close() error { return p.w.Close() }
