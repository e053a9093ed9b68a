package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appendStage struct {
	name  string
	order int
	err   error
	calls *int
}

func (s appendStage) Name() string { return s.name }
func (s appendStage) Order() int   { return s.order }
func (s appendStage) Process(in []string) ([]string, error) {
	if s.calls != nil {
		*s.calls++
	}
	if s.err != nil {
		return nil, s.err
	}
	out := append(append([]string{}, in...), s.name)
	return out, nil
}

func TestRun_AscendingOrder(t *testing.T) {
	p := New[[]string](
		appendStage{name: "pumpdump", order: 30},
		appendStage{name: "rsi", order: 10},
		appendStage{name: "history", order: 20},
	)

	out, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"rsi", "history", "pumpdump"}, out)
	assert.Equal(t, []string{"rsi", "history", "pumpdump"}, p.Stages())
}

func TestRun_AbortsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	var lateCalls int
	p := New[[]string](
		appendStage{name: "a", order: 1},
		appendStage{name: "b", order: 2, err: boom},
		appendStage{name: "c", order: 3, calls: &lateCalls},
	)

	out, err := p.Run([]string{"seed"})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, out, "no partial result")
	assert.Zero(t, lateCalls)
}

func TestRun_DoesNotMutateInput(t *testing.T) {
	p := New[[]string](appendStage{name: "a", order: 1})
	in := []string{"seed"}
	_, err := p.Run(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"seed"}, in)
}

func TestRun_PanicsPropagate(t *testing.T) {
	p := New[int](panicStage{})
	assert.Panics(t, func() { _, _ = p.Run(1) })
}

type panicStage struct{}

func (panicStage) Name() string             { return "panic" }
func (panicStage) Order() int               { return 0 }
func (panicStage) Process(int) (int, error) { panic("precondition") }
