package redis

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

type pointSignalWriter interface {
	WritePoints(ctx context.Context, points []model.RsiPoint) error
	WriteSignal(ctx context.Context, sig model.Signal) error
}

// pendingWrite is a write held back while the breaker was open. Exactly one
// of points or signal is set.
type pendingWrite struct {
	points []model.RsiPoint
	signal *model.Signal
}

// BufferedWriter sends points and signals through a circuit breaker. While
// the breaker is open writes are kept in a bounded local buffer (oldest
// dropped first) and replayed once it closes again.
//
// It implements model.PointPublisher and model.SignalSink.
type BufferedWriter struct {
	writer pointSignalWriter
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	// OnBuffer is called when a write is buffered (for metrics).
	OnBuffer func()
	// OnFlush is called after buffered writes were replayed.
	OnFlush func(count int)
}

// NewBufferedWriter wraps w. ctx bounds replays started by the breaker.
func NewBufferedWriter(ctx context.Context, w pointSignalWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 64),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// PublishPoints implements model.PointPublisher. Failures are logged; an
// open breaker buffers the batch.
func (bw *BufferedWriter) PublishPoints(ctx context.Context, points []model.RsiPoint) {
	if len(points) == 0 {
		return
	}
	err := bw.cb.Execute(func() error { return bw.writer.WritePoints(ctx, points) })
	switch err {
	case nil:
	case ErrCircuitOpen:
		cp := make([]model.RsiPoint, len(points))
		copy(cp, points)
		bw.bufferWrite(pendingWrite{points: cp})
	default:
		log.Warn().Err(err).Int("points", len(points)).Msg("redis publish points failed")
	}
}

// Publish implements model.SignalSink. A signal rejected by an open breaker
// is buffered and reported as delivered.
func (bw *BufferedWriter) Publish(ctx context.Context, sig model.Signal) error {
	err := bw.cb.Execute(func() error { return bw.writer.WriteSignal(ctx, sig) })
	if err == ErrCircuitOpen {
		bw.bufferWrite(pendingWrite{signal: &sig})
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(pw pendingWrite) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pw)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered writes directly through the writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 64)
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		var err error
		if pw.signal != nil {
			err = bw.writer.WriteSignal(bw.ctx, *pw.signal)
		} else {
			err = bw.writer.WritePoints(bw.ctx, pw.points)
		}
		if err != nil {
			log.Warn().Err(err).Msg("redis replay of buffered write failed")
			continue
		}
		flushed++
	}

	log.Info().Int("flushed", flushed).Int("buffered", len(toFlush)).Msg("redis buffered writes replayed")
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
