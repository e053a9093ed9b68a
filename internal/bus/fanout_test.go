package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-analyzer/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.Signal](10)
	out1 := fo.Subscribe("redis")
	out2 := fo.Subscribe("telegram")

	input := make(chan model.Signal, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Signal{ID: "sig-1", Instrument: "BTCUSDT"}

	for _, out := range []<-chan model.Signal{out1, out2} {
		select {
		case s := <-out:
			assert.Equal(t, "sig-1", s.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for signal")
		}
	}
}

func TestFanOut_DropsForSlowSubscriberOnly(t *testing.T) {
	fo := New[int](1)
	slow := fo.Subscribe("slow")
	fast := fo.Subscribe("fast")

	var dropped []string
	fo.OnDrop = func(name string) { dropped = append(dropped, name) }

	fo.Broadcast(1)
	<-fast
	fo.Broadcast(2)

	assert.Equal(t, []string{"slow"}, dropped)
	assert.Equal(t, 1, <-slow)
	assert.Equal(t, 2, <-fast)

	stats := fo.ChannelStats()
	require.Len(t, stats, 2)
	assert.Equal(t, ChannelStat{Name: "slow", Len: 0, Cap: 1}, stats[0])
}

func TestFanOut_ClosesOutputsWhenInputCloses(t *testing.T) {
	fo := New[int](1)
	out := fo.Subscribe("a")
	input := make(chan int)
	close(input)
	fo.Run(context.Background(), input)

	_, ok := <-out
	assert.False(t, ok)
}

type recordingSink struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]bool
}

func (r *recordingSink) Publish(_ context.Context, sig model.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[sig.ID] {
		return errors.New("sink down")
	}
	r.ids = append(r.ids, sig.ID)
	return nil
}

func TestDeliver_ContinuesAfterErrors(t *testing.T) {
	sink := &recordingSink{fail: map[string]bool{"b": true}}
	in := make(chan model.Signal, 3)
	for _, id := range []string{"a", "b", "c"} {
		in <- model.Signal{ID: id}
	}
	close(in)

	var failed []string
	Deliver(context.Background(), "test", in, sink, time.Second, func(name string, err error) {
		failed = append(failed, name)
	})

	assert.Equal(t, []string{"a", "c"}, sink.ids)
	assert.Equal(t, []string{"test"}, failed)
}
