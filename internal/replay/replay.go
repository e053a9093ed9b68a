// Package replay reads stored candles and emits them in the order a live
// feed would have confirmed them, for backtesting.
package replay

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

// CandleReader reads a stored candle window, oldest first.
type CandleReader interface {
	ReadCandles(ctx context.Context, instrument string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error)
}

// Replayer replays candles at a configurable speed multiplier.
type Replayer struct {
	reader CandleReader
}

// New creates a Replayer over reader.
func New(reader CandleReader) *Replayer {
	return &Replayer{reader: reader}
}

// Window selects what to replay. Zero From/To are open bounds.
type Window struct {
	Instruments []string
	Timeframes  []model.Timeframe
	From, To    time.Time
	// Speed 1 is real time, 10 is ten times faster, 0 is as fast as possible.
	Speed float64
}

// Run emits every candle of the window into out as confirmed, then returns.
// out is not closed.
func (r *Replayer) Run(ctx context.Context, w Window, out chan<- model.Candle) error {
	var all []model.Candle
	for _, inst := range w.Instruments {
		for _, tf := range w.Timeframes {
			candles, err := r.reader.ReadCandles(ctx, inst, tf, w.From, w.To)
			if err != nil {
				return err
			}
			all = append(all, candles...)
		}
	}
	if len(all) == 0 {
		log.Warn().Msg("replay: no candles found")
		return nil
	}
	Sort(all)
	log.Info().Int("candles", len(all)).Float64("speed", w.Speed).Msg("replay loaded")

	var prev time.Time
	emitted := 0
	for _, c := range all {
		closeAt := closeTime(c)
		if w.Speed > 0 && !prev.IsZero() {
			if gap := closeAt.Sub(prev); gap > 0 {
				scaled := time.Duration(float64(gap) / w.Speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prev = closeAt

		c.Confirmed = true
		select {
		case <-ctx.Done():
			log.Info().Int("emitted", emitted).Msg("replay cancelled")
			return ctx.Err()
		case out <- c:
		}
		emitted++
	}
	log.Info().Int("emitted", emitted).Msg("replay completed")
	return nil
}

// Sort orders candles by the time they close. At equal close times the
// shorter timeframe goes first, so a fast candle never sees a slow candle
// that closed together with it.
func Sort(candles []model.Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		ci, cj := closeTime(candles[i]), closeTime(candles[j])
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return candles[i].Timeframe.Duration() < candles[j].Timeframe.Duration()
	})
}

func closeTime(c model.Candle) time.Time {
	return c.Bucket.Add(c.Timeframe.Duration())
}
