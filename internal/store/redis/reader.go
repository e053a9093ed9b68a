package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

// StreamConfig configures the candle stream consumer.
type StreamConfig struct {
	Group       string        // consumer group name, e.g. "analyzer"
	Consumer    string        // unique consumer name, e.g. hostname
	Prefix      string        // stream key prefix, e.g. "candle"
	Block       time.Duration // XREADGROUP block time
	Instruments []string
	Timeframes  []model.Timeframe
}

// CandleStream reads confirmed candles from Redis Streams through a consumer
// group. One stream per series: "{prefix}:{tf}:{instrument}".
type CandleStream struct {
	client  *goredis.Client
	cfg     StreamConfig
	streams []string

	// OnError is called for every read or decode error (for metrics).
	OnError func(error)
}

// NewCandleStream creates a consumer over the given client.
func NewCandleStream(client *goredis.Client, cfg StreamConfig) *CandleStream {
	if cfg.Group == "" {
		cfg.Group = "analyzer"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "candle"
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	var streams []string
	for _, tf := range cfg.Timeframes {
		for _, inst := range cfg.Instruments {
			streams = append(streams, StreamKey(cfg.Prefix, inst, tf))
		}
	}
	return &CandleStream{client: client, cfg: cfg, streams: streams}
}

// StreamKey builds the candle stream key for one series.
func StreamKey(prefix, instrument string, tf model.Timeframe) string {
	return prefix + ":" + tf.String() + ":" + instrument
}

// Streams returns the stream keys this consumer reads.
func (s *CandleStream) Streams() []string { return s.streams }

// EnsureConsumerGroup creates the group on every stream, tolerating groups
// that already exist. New groups start at "$" (only new messages).
func (s *CandleStream) EnsureConsumerGroup(ctx context.Context) error {
	for _, stream := range s.streams {
		err := s.client.XGroupCreateMkStream(ctx, stream, s.cfg.Group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// Consume implements model.CandleSource. It ensures the group, replays this
// consumer's pending entries from a previous run, then blocks on
// XREADGROUP until ctx is cancelled. Messages are acknowledged after they
// are handed to out; undecodable messages are acknowledged and skipped.
func (s *CandleStream) Consume(ctx context.Context, out chan<- model.Candle) error {
	if len(s.streams) == 0 {
		return fmt.Errorf("redis candle stream: no streams configured")
	}
	if err := s.EnsureConsumerGroup(ctx); err != nil {
		return err
	}
	if err := s.consumeFrom(ctx, "0", out); err != nil {
		return err
	}
	log.Info().Strs("streams", s.streams).Str("group", s.cfg.Group).Str("consumer", s.cfg.Consumer).
		Msg("redis candle consumer started")

	for {
		if err := s.consumeFrom(ctx, ">", out); err != nil {
			return err
		}
	}
}

// consumeFrom runs XREADGROUP with the given id. With "0" it drains the
// pending list once; with ">" it performs one blocking read.
func (s *CandleStream) consumeFrom(ctx context.Context, id string, out chan<- model.Candle) error {
	args := make([]string, len(s.streams)*2)
	for i, stream := range s.streams {
		args[i] = stream
		args[len(s.streams)+i] = id
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		block := s.cfg.Block
		if id != ">" {
			block = -1
		}
		results, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  args,
			Count:    100,
			Block:    block,
		}).Result()
		if err != nil {
			if err == goredis.Nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.reportError(fmt.Errorf("xreadgroup: %w", err))
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		n := 0
		for _, stream := range results {
			for _, msg := range stream.Messages {
				n++
				c, err := DecodeCandle(stream.Stream, msg.Values)
				if err != nil {
					s.reportError(fmt.Errorf("decode %s/%s: %w", stream.Stream, msg.ID, err))
					s.client.XAck(ctx, stream.Stream, s.cfg.Group, msg.ID)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return ctx.Err()
				}
				s.client.XAck(ctx, stream.Stream, s.cfg.Group, msg.ID)
			}
		}
		if id == ">" || n == 0 {
			return nil
		}
	}
}

func (s *CandleStream) reportError(err error) {
	log.Warn().Err(err).Msg("redis candle consumer")
	if s.OnError != nil {
		s.OnError(err)
	}
}

// DecodeCandle parses a stream message. The payload is the JSON candle in
// the "data" field. Instrument and timeframe fall back to the stream key
// when the payload omits them.
func DecodeCandle(stream string, values map[string]interface{}) (model.Candle, error) {
	var c model.Candle
	data, ok := values["data"].(string)
	if !ok {
		return c, fmt.Errorf("missing data field")
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return c, err
	}
	if c.Instrument == "" || !c.Timeframe.Valid() {
		inst, tf, err := parseStreamKey(stream)
		if err != nil {
			return c, err
		}
		if c.Instrument == "" {
			c.Instrument = inst
		}
		if !c.Timeframe.Valid() {
			c.Timeframe = tf
		}
	}
	if c.Bucket.IsZero() {
		return c, fmt.Errorf("missing bucket")
	}
	c.Bucket = c.Bucket.UTC()
	return c, nil
}

func parseStreamKey(stream string) (string, model.Timeframe, error) {
	parts := strings.SplitN(stream, ":", 3)
	if len(parts) != 3 {
		return "", model.TimeframeUnknown, fmt.Errorf("stream key %q: want prefix:tf:instrument", stream)
	}
	tf, err := model.ParseTimeframe(parts[1])
	if err != nil {
		return "", model.TimeframeUnknown, err
	}
	return parts[2], tf, nil
}

// Close closes the Redis client.
func (s *CandleStream) Close() error {
	return s.client.Close()
}
