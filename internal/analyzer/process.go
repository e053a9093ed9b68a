package analyzer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/indicator"
	"trading-analyzer/internal/model"
	"trading-analyzer/internal/strategy"
)

// processLoop is the single writer of the calculator. On cancellation it
// drains the queue before returning.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			svc.drain()
			return
		case c, ok := <-svc.candleCh:
			if !ok {
				return
			}
			svc.handleCandle(ctx, c)
		}
	}
}

// drain processes the candles still queued once the source has stopped.
// The sources ack a candle when it is queued, so a candle left here would
// never be redelivered.
func (svc *Service) drain() {
	if svc.consumerDone != nil {
		select {
		case <-svc.consumerDone:
		case <-time.After(svc.opts.SinkTimeout):
			log.Warn().Msg("candle source did not stop in time, draining what is queued")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), svc.opts.SaveTimeout)
	defer cancel()
	n := 0
	for {
		select {
		case c := <-svc.candleCh:
			svc.handleCandle(ctx, c)
			n++
		default:
			if n > 0 {
				log.Info().Int("candles", n).Msg("drained queued candles")
			}
			return
		}
	}
}

// handleCandle runs one candle through the calculator, then publishes the
// point and dispatches it to the strategies.
func (svc *Service) handleCandle(ctx context.Context, c model.Candle) []model.Signal {
	svc.health.SetLastCandleTime(time.Now())
	if !svc.calc.Configured(c.Timeframe) {
		return nil
	}
	if !c.Confirmed {
		svc.calc.OnTick(c)
		return nil
	}
	tf := c.Timeframe.String()
	svc.prom.CandlesTotal.WithLabelValues(tf).Inc()

	start := time.Now()
	p, err := svc.calc.OnCandle(c)
	svc.prom.PipelineDur.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, indicator.ErrEventAborted) {
			svc.prom.AbortedEvents.Inc()
		}
		log.Error().Err(err).Str("series", c.Key()).Time("bucket", c.Bucket).Msg("candle not processed")
		return nil
	}
	if p == nil {
		return nil
	}

	svc.prom.PointsTotal.WithLabelValues(tf).Inc()
	if p.IsPump() {
		svc.prom.CrossingTotal.WithLabelValues("pump").Inc()
	}
	if p.IsDump() {
		svc.prom.CrossingTotal.WithLabelValues("dump").Inc()
	}
	if svc.points != nil {
		svc.points.PublishPoints(ctx, []model.RsiPoint{*p})
	}

	signals := svc.engine.Dispatch(strategy.Update{Point: *p, Price: c.Close})
	for _, sig := range signals {
		svc.prom.SignalsTotal.WithLabelValues(string(sig.Operation), string(sig.Level)).Inc()
	}
	return signals
}
