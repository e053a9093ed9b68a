package indicator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-analyzer/internal/buffer"
	"trading-analyzer/internal/model"
	"trading-analyzer/internal/pipeline"
)

// Config controls the Calculator.
type Config struct {
	Period      int               // RSI lookback, default 14
	Timeframes  []model.Timeframe // empty = every valid timeframe
	CandleSize  int               // candles kept per series (continuity buffer)
	LiveSize    int               // live RSI points kept per series (continuity buffer)
	HistorySize int               // rolling history used for crossing detection

	// HistoricalSize bounds the plain RSI point buffer that survives resets.
	HistoricalSize int

	PumpLevel decimal.Decimal // zero = 70
	DumpLevel decimal.Decimal // zero = 30

	// OnReset is called whenever a continuity buffer resets.
	OnReset func(name string)
}

// SeriesID identifies one (instrument, timeframe) series.
type SeriesID struct {
	Instrument string
	Timeframe  model.Timeframe
}

// Key returns "instrument|tf".
func (id SeriesID) Key() string { return model.SeriesKey(id.Instrument, id.Timeframe) }

type series struct {
	id SeriesID

	candles    *buffer.Buffer[model.Candle]
	live       *buffer.Buffer[model.RsiPoint]
	historical *buffer.Buffer[model.RsiPoint]

	// Writer-only fields.
	state       *RsiState
	seenVersion int64

	snapshot atomic.Pointer[model.IndicatorSnapshot]
	preview  atomic.Pointer[model.RsiPoint]
	dirty    atomic.Bool
}

// Calculator drives the RSI pipeline for every configured series.
//
// OnCandle, OnTick, RestoreCandles and RestorePoints must be called from one
// goroutine. Every other method is safe for concurrent use.
type Calculator struct {
	cfg  Config
	pipe *pipeline.Pipeline[RsiContext]
	tfs  map[model.Timeframe]bool

	mu     sync.RWMutex
	series map[string]*series
}

// NewCalculator builds a calculator with the fixed stage list.
func NewCalculator(cfg Config) *Calculator {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.PumpLevel.IsZero() {
		cfg.PumpLevel = DefaultPumpLevel
	}
	if cfg.DumpLevel.IsZero() {
		cfg.DumpLevel = DefaultDumpLevel
	}

	var tfs map[model.Timeframe]bool
	if len(cfg.Timeframes) > 0 {
		tfs = make(map[model.Timeframe]bool, len(cfg.Timeframes))
		for _, tf := range cfg.Timeframes {
			tfs[tf] = true
		}
	}

	return &Calculator{
		cfg: cfg,
		pipe: pipeline.New[RsiContext](
			RsiStage{},
			HistoryStage{},
			PumpDumpStage{PumpLevel: cfg.PumpLevel, DumpLevel: cfg.DumpLevel},
		),
		tfs:    tfs,
		series: make(map[string]*series, 64),
	}
}

// Stages returns the stage names in execution order.
func (c *Calculator) Stages() []string { return c.pipe.Stages() }

// Configured reports whether candles of tf are processed.
func (c *Calculator) Configured(tf model.Timeframe) bool {
	if !tf.Valid() {
		return false
	}
	return c.tfs == nil || c.tfs[tf]
}

// OnCandle processes one confirmed candle and returns the RSI point emitted
// for its bucket, if any. Unconfirmed candles and unconfigured timeframes are
// ignored. The bucket is aligned to the timeframe first. A continuity reset
// reseeds the series from the candles still held.
func (c *Calculator) OnCandle(candle model.Candle) (*model.RsiPoint, error) {
	if !candle.Confirmed || candle.Bucket.IsZero() || !c.Configured(candle.Timeframe) {
		return nil, nil
	}
	candle.Bucket = candle.Timeframe.Align(candle.Bucket)

	s := c.seriesFor(candle.Instrument, candle.Timeframe)
	stored := candle
	s.candles.Append(candle.Bucket, &stored)
	s.dirty.Store(true)

	if s.candles.Version() != s.seenVersion {
		last, _, err := c.recompute(s)
		if err != nil {
			return nil, err
		}
		if last != nil && last.Bucket.Equal(candle.Bucket) {
			return last, nil
		}
		return nil, nil
	}

	// Re-delivered bucket: stored, state stays where it is.
	if s.state != nil && !s.state.LastBucket.IsZero() && !candle.Bucket.After(s.state.LastBucket) {
		return nil, nil
	}

	out, err := c.run(RsiContext{State: s.state, Bucket: candle.Bucket, Candle: candle})
	if err != nil {
		// The state was not committed; rebuild from the buffer next time.
		s.candles.IncrementVersion()
		log.Error().Err(err).Str("series", s.id.Key()).Time("bucket", candle.Bucket).Msg("candle aborted")
		return nil, err
	}
	s.state = out.State
	s.preview.Store(nil)
	if out.Point != nil {
		c.storePoint(s, out.Point)
	}
	return out.Point, nil
}

// OnTick computes the RSI an open bucket would have if it closed at the
// candle's current close. Nothing is committed: the state, the buffers and
// the snapshot stay as they are. Returns nil while the series is still
// seeding, for confirmed candles, and for buckets not after the last
// confirmed one.
func (c *Calculator) OnTick(candle model.Candle) *model.RsiPoint {
	if candle.Confirmed || candle.Bucket.IsZero() || !c.Configured(candle.Timeframe) {
		return nil
	}
	s, ok := c.lookup(candle.Instrument, candle.Timeframe)
	if !ok || s.state == nil {
		return nil
	}
	bucket := candle.Timeframe.Align(candle.Bucket)
	if !bucket.After(s.state.LastBucket) {
		return nil
	}
	_, rsi, ok := s.state.Next(candle.Close)
	if !ok {
		return nil
	}
	p := &model.RsiPoint{
		Instrument: candle.Instrument,
		Bucket:     bucket,
		Timeframe:  candle.Timeframe,
		Rsi:        rsi,
	}
	s.preview.Store(p)
	return p
}

// Preview returns the latest open-bucket RSI computed by OnTick, or nil once
// a confirmed candle has been processed after it.
func (c *Calculator) Preview(instrument string, tf model.Timeframe) *model.RsiPoint {
	if s, ok := c.lookup(instrument, tf); ok {
		return s.preview.Load()
	}
	return nil
}

// RestoreCandles merges historical candles without the continuity check and
// recomputes the series from scratch. Returns the number of points computed.
func (c *Calculator) RestoreCandles(instrument string, tf model.Timeframe, items map[time.Time]*model.Candle) (int, error) {
	if len(items) == 0 || !c.Configured(tf) {
		return 0, nil
	}
	s := c.seriesFor(instrument, tf)
	s.candles.PutItems(items)
	s.candles.IncrementVersion()
	_, n, err := c.recompute(s)
	return n, err
}

// RestorePoints merges persisted RSI points. While the series has no warm
// state of its own, the points also seed the live buffer and the snapshot.
func (c *Calculator) RestorePoints(instrument string, tf model.Timeframe, items map[time.Time]*model.RsiPoint) {
	if len(items) == 0 || !c.Configured(tf) {
		return
	}
	s := c.seriesFor(instrument, tf)
	s.historical.PutItems(items)
	s.historical.IncrementVersion()

	if s.state.Initialized {
		return
	}
	s.live.PutItems(items)
	s.live.IncrementVersion()
	if last, ok := s.live.Last(); ok {
		c.publishSnapshot(s, last.Value)
	}
}

func (c *Calculator) recompute(s *series) (*model.RsiPoint, int, error) {
	state := NewRsiState(c.cfg.Period, s.id.Timeframe, c.cfg.HistorySize)
	s.live.Clear()
	s.snapshot.Store(nil)
	s.preview.Store(nil)

	var (
		last *model.RsiPoint
		n    int
	)
	for _, e := range s.candles.Items() {
		out, err := c.run(RsiContext{State: state, Bucket: e.Bucket, Candle: *e.Value})
		if err != nil {
			log.Error().Err(err).Str("series", s.id.Key()).Msg("recompute aborted")
			return nil, n, err
		}
		state = out.State
		if out.Point != nil {
			c.storePoint(s, out.Point)
			last = out.Point
			n++
		}
	}

	s.state = state
	s.seenVersion = s.candles.Version()
	log.Debug().Str("series", s.id.Key()).Int("candles", s.candles.Size()).Int("points", n).Msg("series recomputed")
	return last, n, nil
}

// run executes the pipeline, converting a stage panic into ErrEventAborted.
func (c *Calculator) run(ctx RsiContext) (out RsiContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = RsiContext{}, fmt.Errorf("%w: %v", ErrEventAborted, r)
		}
	}()
	out, err = c.pipe.Run(ctx)
	if err != nil {
		return RsiContext{}, fmt.Errorf("%w: %v", ErrEventAborted, err)
	}
	return out, nil
}

func (c *Calculator) storePoint(s *series, p *model.RsiPoint) {
	s.live.Append(p.Bucket, p)
	s.historical.PutItem(p.Bucket, p)
	c.publishSnapshot(s, p)
}

func (c *Calculator) publishSnapshot(s *series, p *model.RsiPoint) {
	value := p.Rsi
	snap := &model.IndicatorSnapshot{
		Instrument: s.id.Instrument,
		Timeframe:  s.id.Timeframe,
		Bucket:     p.Bucket,
		Value:      &value,
	}
	if prev, ok := s.live.Before(p.Bucket); ok {
		pv := prev.Value.Rsi
		snap.Prev = &pv
	}
	s.snapshot.Store(snap)
}

func (c *Calculator) seriesFor(instrument string, tf model.Timeframe) *series {
	key := model.SeriesKey(instrument, tf)

	c.mu.RLock()
	s, ok := c.series[key]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.series[key]; ok {
		return s
	}

	interval := tf.Duration()
	s = &series{
		id: SeriesID{Instrument: instrument, Timeframe: tf},
		candles: buffer.New[model.Candle](c.cfg.CandleSize,
			buffer.WithName("candle:"+key),
			buffer.WithContinuity(interval),
			buffer.WithResetHook(c.cfg.OnReset)),
		live: buffer.New[model.RsiPoint](c.cfg.LiveSize,
			buffer.WithName("rsi:"+key),
			buffer.WithContinuity(interval),
			buffer.WithResetHook(c.cfg.OnReset)),
		historical: buffer.New[model.RsiPoint](c.cfg.HistoricalSize,
			buffer.WithName("rsi-historical:"+key)),
		state: NewRsiState(c.cfg.Period, tf, c.cfg.HistorySize),
	}
	c.series[key] = s
	log.Info().Str("series", key).Msg("series created")
	return s
}

func (c *Calculator) lookup(instrument string, tf model.Timeframe) (*series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[model.SeriesKey(instrument, tf)]
	return s, ok
}

// Snapshot returns the latest RSI reading of a series. Prev and Value are nil
// until points exist.
func (c *Calculator) Snapshot(instrument string, tf model.Timeframe) model.IndicatorSnapshot {
	if s, ok := c.lookup(instrument, tf); ok {
		if snap := s.snapshot.Load(); snap != nil {
			return *snap
		}
	}
	return model.IndicatorSnapshot{Instrument: instrument, Timeframe: tf}
}

// Points returns historical RSI points with after < bucket <= before.
// Zero bounds are open.
func (c *Calculator) Points(instrument string, tf model.Timeframe, after, before time.Time) []model.RsiPoint {
	s, ok := c.lookup(instrument, tf)
	if !ok {
		return nil
	}
	return values(s.historical.Range(after, before))
}

// LivePoints returns the gap-free live RSI points.
func (c *Calculator) LivePoints(instrument string, tf model.Timeframe) []model.RsiPoint {
	s, ok := c.lookup(instrument, tf)
	if !ok {
		return nil
	}
	return values(s.live.Items())
}

// Candles returns the candles held for a series.
func (c *Calculator) Candles(instrument string, tf model.Timeframe) []model.Candle {
	s, ok := c.lookup(instrument, tf)
	if !ok {
		return nil
	}
	return values(s.candles.Items())
}

// CandleVersion exposes the candle buffer version; it moves on every reset
// or restore.
func (c *Calculator) CandleVersion(instrument string, tf model.Timeframe) int64 {
	s, ok := c.lookup(instrument, tf)
	if !ok {
		return 0
	}
	return s.candles.Version()
}

// Series lists every known series, ordered by key.
func (c *Calculator) Series() []SeriesID {
	c.mu.RLock()
	ids := make([]SeriesID, 0, len(c.series))
	for _, s := range c.series {
		ids = append(ids, s.id)
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids
}

// TakeDirty returns the series that received candles since the previous
// call and clears their dirty flag.
func (c *Calculator) TakeDirty() []SeriesID {
	c.mu.RLock()
	var ids []SeriesID
	for _, s := range c.series {
		if s.dirty.Swap(false) {
			ids = append(ids, s.id)
		}
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids
}

func values[V any](entries []buffer.Entry[V]) []V {
	out := make([]V, len(entries))
	for i, e := range entries {
		out[i] = *e.Value
	}
	return out
}
