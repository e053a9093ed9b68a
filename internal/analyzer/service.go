// Package analyzer is the service around the RSI calculator: it restores
// state, consumes confirmed candles on a single writer goroutine, publishes
// points and signals, and saves buffers periodically.
package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/bus"
	"trading-analyzer/internal/indicator"
	"trading-analyzer/internal/metrics"
	"trading-analyzer/internal/model"
	"trading-analyzer/internal/strategy"
)

// NamedSink is a signal sink with the name used in logs and metrics.
type NamedSink struct {
	Name string
	Sink model.SignalSink
}

// Deps are the collaborators of the service. Only Source is required.
type Deps struct {
	Source  model.CandleSource
	Repo    model.Repository     // nil disables restore and persistence
	Points  model.PointPublisher // nil disables point publication
	Sinks   []NamedSink
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Server  *metrics.Server // nil disables the HTTP API

	// Strategies run after the dual-timeframe RSI strategy.
	Strategies []strategy.Strategy
}

// Service is the analyzer orchestrator.
type Service struct {
	opts Options

	calc   *indicator.Calculator
	dual   *strategy.DualRsi
	engine *strategy.Engine
	fan    *bus.FanOut[model.Signal]

	source model.CandleSource
	repo   model.Repository
	points model.PointPublisher
	sinks  []NamedSink
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server

	candleCh     chan model.Candle
	consumerDone chan struct{}
	wg           sync.WaitGroup
}

// New builds the service. Nothing is started until Run.
func New(opts Options, deps Deps) (*Service, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("analyzer: candle source required")
	}
	if !opts.Fast.Valid() || !opts.Slow.Valid() {
		return nil, fmt.Errorf("analyzer: invalid timeframes %s/%s", opts.Fast, opts.Slow)
	}
	if opts.Thresholds == (strategy.Thresholds{}) {
		opts.Thresholds = strategy.DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	opts.withDefaults()

	svc := &Service{
		opts:     opts,
		source:   deps.Source,
		repo:     deps.Repo,
		points:   deps.Points,
		sinks:    deps.Sinks,
		prom:     deps.Metrics,
		health:   deps.Health,
		server:   deps.Server,
		candleCh: make(chan model.Candle, opts.CandleQueue),
	}
	if svc.prom == nil {
		svc.prom = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if svc.health == nil {
		svc.health = metrics.NewHealthStatus(false, deps.Repo != nil)
	}

	icfg := opts.Indicator
	icfg.OnReset = func(name string) { svc.prom.BufferResets.Inc() }
	svc.calc = indicator.NewCalculator(icfg)

	svc.dual = strategy.NewDualRsi(strategy.DualRsiConfig{
		Fast:       opts.Fast,
		Slow:       opts.Slow,
		Thresholds: opts.Thresholds,
	}, svc.calc)
	svc.engine = strategy.NewEngine(opts.SignalBuffer, svc.dual)
	for _, s := range deps.Strategies {
		svc.engine.Register(s)
	}
	svc.engine.OnDrop = func(sig model.Signal) {
		svc.prom.DroppedSignals.Inc()
		log.Warn().Str("signal", sig.ID).Str("instrument", sig.Instrument).Msg("signal queue full, dropping")
	}

	svc.fan = bus.New[model.Signal](opts.SignalBuffer)
	svc.fan.OnDrop = func(name string) {
		svc.prom.FanoutDrops.WithLabelValues(name).Inc()
		log.Warn().Str("subscriber", name).Msg("signal sink too slow, dropping")
	}

	return svc, nil
}

// Calculator exposes the RSI calculator, for the HTTP API and tests.
func (svc *Service) Calculator() *indicator.Calculator { return svc.calc }

// Run restores state, starts every subsystem and blocks until ctx is
// cancelled. Buffers are saved once more on the way out.
func (svc *Service) Run(ctx context.Context) error {
	log.Info().
		Strs("instruments", svc.opts.Instruments).
		Str("fast", svc.opts.Fast.String()).
		Str("slow", svc.opts.Slow.String()).
		Strs("stages", svc.calc.Stages()).
		Msg("analyzer starting")

	if _, err := svc.restore(ctx); err != nil {
		return err
	}
	svc.health.SetSeries(len(svc.calc.Series()))

	svc.startSinks(ctx)
	svc.startConsumer(ctx)
	svc.startSaver(ctx)
	svc.startHTTP()

	log.Info().Int("sinks", len(svc.sinks)).Msg("analyzer running")
	svc.processLoop(ctx)

	svc.shutdown()
	return nil
}

func (svc *Service) restore(ctx context.Context) (indicator.RestoreStats, error) {
	var (
		candles model.CandleRepository
		points  model.PointRepository
	)
	if svc.repo != nil {
		candles, points = svc.repo, svc.repo
	}
	stats, err := indicator.NewRestorer(candles, points, svc.opts.RestoreLimit).
		Restore(ctx, svc.calc, svc.opts.seriesIDs())
	if err != nil {
		return stats, fmt.Errorf("analyzer restore: %w", err)
	}
	return stats, nil
}

// startSinks fans engine signals out to one delivery goroutine per sink.
func (svc *Service) startSinks(ctx context.Context) {
	for _, ns := range svc.sinks {
		ch := svc.fan.Subscribe(ns.Name)
		ns := ns
		svc.wg.Add(1)
		go func() {
			defer svc.wg.Done()
			bus.Deliver(ctx, ns.Name, ch, ns.Sink, svc.opts.SinkTimeout, func(name string, err error) {
				svc.prom.SinkErrors.WithLabelValues(name).Inc()
			})
		}()
	}
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		svc.fan.Run(ctx, svc.engine.Signals())
	}()
}

// startConsumer runs the candle source until ctx is cancelled.
func (svc *Service) startConsumer(ctx context.Context) {
	svc.health.SetSourceConnected(true)
	svc.consumerDone = make(chan struct{})
	go func() {
		defer close(svc.consumerDone)
		err := svc.source.Consume(ctx, svc.candleCh)
		svc.health.SetSourceConnected(false)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("candle source stopped")
		}
	}()
}

func (svc *Service) startHTTP() {
	if svc.server == nil {
		return
	}
	svc.registerAPI(svc.server)
	svc.server.Start()
}

// shutdown saves every series and closes collaborators.
func (svc *Service) shutdown() {
	log.Info().Msg("analyzer shutting down, saving buffers")

	ctx, cancel := context.WithTimeout(context.Background(), 3*svc.opts.SaveTimeout)
	defer cancel()
	svc.saveAll(ctx)

	if svc.server != nil {
		svc.server.Stop(ctx)
	}
	if err := svc.source.Close(); err != nil {
		log.Warn().Err(err).Msg("close candle source")
	}

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(svc.opts.SinkTimeout):
		log.Warn().Msg("signal sinks did not drain in time")
	}

	if svc.repo != nil {
		if err := svc.repo.Close(); err != nil {
			log.Warn().Err(err).Msg("close repository")
		}
	}
	log.Info().Msg("analyzer shutdown complete")
}
