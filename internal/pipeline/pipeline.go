// Package pipeline runs an ordered, fixed list of enrichment stages over one
// context value per event.
package pipeline

import (
	"fmt"
	"sort"
)

// Stage transforms a context into the next one. Lower Order runs first;
// stages sharing an Order run in an unspecified relative order.
type Stage[T any] interface {
	Name() string
	Order() int
	Process(ctx T) (T, error)
}

// Pipeline folds a context through its stages synchronously.
type Pipeline[T any] struct {
	stages []Stage[T]
}

// New builds a pipeline from an explicit stage list, sorted once by Order.
func New[T any](stages ...Stage[T]) *Pipeline[T] {
	sorted := make([]Stage[T], len(stages))
	copy(sorted, stages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order() < sorted[j].Order()
	})
	return &Pipeline[T]{stages: sorted}
}

// Run applies every stage in ascending order. The first failing stage aborts
// the run and no partial context is returned. Panics propagate to the caller.
func (p *Pipeline[T]) Run(initial T) (T, error) {
	ctx := initial
	for _, s := range p.stages {
		next, err := s.Process(ctx)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("stage %s: %w", s.Name(), err)
		}
		ctx = next
	}
	return ctx, nil
}

// Stages returns the stage names in execution order.
func (p *Pipeline[T]) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}
