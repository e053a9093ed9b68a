package indicator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

// RestoreStats summarizes one warm-up.
type RestoreStats struct {
	Candles   int // candles merged
	Computed  int // points recomputed from candles
	Points    int // persisted points merged
	ColdStart int // series that started empty
}

// Restorer warms a Calculator on startup. For each series it follows the
// chain: persisted candles (recompute) → persisted RSI points → cold start.
type Restorer struct {
	candles model.CandleRepository
	points  model.PointRepository
	limit   int
}

// NewRestorer creates a restorer reading at most limit rows per series.
// Either repository may be nil.
func NewRestorer(candles model.CandleRepository, points model.PointRepository, limit int) *Restorer {
	return &Restorer{candles: candles, points: points, limit: limit}
}

// Restore warms every series in ids. A failing repository read is logged and
// the series falls through to the next link of the chain.
func (r *Restorer) Restore(ctx context.Context, calc *Calculator, ids []SeriesID) (RestoreStats, error) {
	var stats RestoreStats

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		warm := false

		if r.candles != nil {
			items, err := r.candles.RestoreCandles(ctx, id.Instrument, id.Timeframe, r.limit)
			if err != nil {
				log.Warn().Err(err).Str("series", id.Key()).Msg("candle restore failed, trying rsi points")
			} else if len(items) > 0 {
				n, err := calc.RestoreCandles(id.Instrument, id.Timeframe, items)
				if err != nil {
					return stats, fmt.Errorf("recompute %s: %w", id.Key(), err)
				}
				stats.Candles += len(items)
				stats.Computed += n
				warm = true
			}
		}

		if r.points != nil {
			items, err := r.points.RestoreRsiPoints(ctx, id.Instrument, id.Timeframe, r.limit)
			if err != nil {
				log.Warn().Err(err).Str("series", id.Key()).Msg("rsi point restore failed")
			} else if len(items) > 0 {
				calc.RestorePoints(id.Instrument, id.Timeframe, items)
				stats.Points += len(items)
				warm = true
			}
		}

		if !warm {
			stats.ColdStart++
			log.Info().Str("series", id.Key()).Msg("no persisted data, cold start")
		}
	}

	log.Info().
		Int("candles", stats.Candles).
		Int("computed", stats.Computed).
		Int("points", stats.Points).
		Int("cold", stats.ColdStart).
		Msg("indicator state restored")
	return stats, nil
}
