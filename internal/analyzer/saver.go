package analyzer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/indicator"
)

const (
	saveLive       = "live"
	saveHistorical = "historical"
)

// startSaver runs the two save schedules: candles and live points of the
// series touched since the last tick, and the historical point buffers of
// every series.
func (svc *Service) startSaver(ctx context.Context) {
	if svc.repo == nil {
		return
	}
	go func() {
		live := time.NewTicker(svc.opts.LiveSaveInterval)
		historical := time.NewTicker(svc.opts.HistoricalSaveInterval)
		defer live.Stop()
		defer historical.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-live.C:
				for _, id := range svc.calc.TakeDirty() {
					svc.saveSeries(ctx, id, saveLive)
				}
			case <-historical.C:
				ids := svc.calc.Series()
				svc.health.SetSeries(len(ids))
				for _, id := range ids {
					svc.saveSeries(ctx, id, saveHistorical)
				}
			}
		}
	}()
}

// saveAll writes every buffer of every series.
func (svc *Service) saveAll(ctx context.Context) {
	if svc.repo == nil {
		return
	}
	for _, id := range svc.calc.Series() {
		svc.saveSeries(ctx, id, saveLive)
		svc.saveSeries(ctx, id, saveHistorical)
	}
}

// saveSeries persists one series. A failed save is logged and counted; the
// next schedule tick or the shutdown save writes the buffer again.
func (svc *Service) saveSeries(ctx context.Context, id indicator.SeriesID, kind string) bool {
	sctx, cancel := context.WithTimeout(ctx, svc.opts.SaveTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch kind {
	case saveLive:
		if _, err = svc.repo.SaveCandles(sctx, svc.calc.Candles(id.Instrument, id.Timeframe)); err == nil {
			_, err = svc.repo.SaveRsiPoints(sctx, svc.calc.LivePoints(id.Instrument, id.Timeframe))
		}
	case saveHistorical:
		_, err = svc.repo.SaveRsiPoints(sctx, svc.calc.Points(id.Instrument, id.Timeframe, time.Time{}, time.Time{}))
	}
	svc.prom.SaveDur.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		svc.prom.SaveErrors.Inc()
		svc.health.SetStoreOK(false)
		log.Error().Err(err).Str("series", id.Key()).Str("kind", kind).Msg("buffer save failed")
		return false
	}
	svc.health.SetStoreOK(true)
	return true
}
