// Package strategy turns RSI points into trading signals.
//
// A Strategy reacts to freshly computed points and may emit a Signal. The
// Engine holds the registered strategies, routes points to them and collects
// signals on a buffered channel.
package strategy

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-analyzer/internal/model"
)

// Update is one computed RSI point plus the close of the candle it came from.
type Update struct {
	Point model.RsiPoint
	Price decimal.Decimal
}

// Strategy is the interface that all signal strategies implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Kind returns the strategy family stamped on emitted signals.
	Kind() model.StrategyKind

	// OnPoint is called for every new RSI point.
	// Return a Signal to act, or nil to skip.
	OnPoint(u Update) *model.Signal
}

// Engine manages registered strategies and routes points to them.
type Engine struct {
	strategies []Strategy
	signalCh   chan model.Signal
	dropped    atomic.Uint64

	// OnDrop is called when a signal is dropped because the channel is full.
	OnDrop func(sig model.Signal)
}

// NewEngine creates an engine with the given strategies, in order.
func NewEngine(signalBufferSize int, strategies ...Strategy) *Engine {
	return &Engine{
		strategies: strategies,
		signalCh:   make(chan model.Signal, signalBufferSize),
	}
}

// Register adds a strategy to the engine. Not safe once Run has started.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Signals returns the channel of signals emitted by strategies.
func (e *Engine) Signals() <-chan model.Signal {
	return e.signalCh
}

// Dropped returns how many signals were dropped on a full channel.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// Dispatch routes one update to every strategy and returns the signals
// emitted. Signals are also queued on the channel; if it is full they are
// dropped there and only returned.
func (e *Engine) Dispatch(u Update) []model.Signal {
	var out []model.Signal
	for _, s := range e.strategies {
		sig := s.OnPoint(u)
		if sig == nil {
			continue
		}
		out = append(out, *sig)
		select {
		case e.signalCh <- *sig:
		default:
			e.dropped.Add(1)
			if e.OnDrop != nil {
				e.OnDrop(*sig)
			} else {
				log.Warn().Str("strategy", s.Name()).Str("signal", sig.ID).Msg("signal channel full, dropping")
			}
		}
	}
	return out
}

// Run consumes updates and routes them to all registered strategies.
// Blocks until ctx is cancelled or updates is closed.
func (e *Engine) Run(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			e.Dispatch(u)
		}
	}
}
