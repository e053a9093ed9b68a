package bus

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

// Deliver drains a subscriber channel into sink until the channel closes.
// Each publish gets its own timeout; failures are reported through onErr
// and do not stop delivery.
func Deliver(ctx context.Context, name string, in <-chan model.Signal, sink model.SignalSink, timeout time.Duration, onErr func(name string, err error)) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	for sig := range in {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		err := sink.Publish(pctx, sig)
		cancel()
		if err == nil {
			continue
		}
		log.Warn().Err(err).Str("sink", name).Str("signal", sig.ID).Msg("signal delivery failed")
		if onErr != nil {
			onErr(name, err)
		}
	}
}
