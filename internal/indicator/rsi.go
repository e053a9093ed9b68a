package indicator

import "trading-analyzer/internal/model"

// RsiStage advances the Wilder recurrence with the candle close.
// Running it without a state is a programming error and panics.
type RsiStage struct{}

func (RsiStage) Name() string { return "rsi" }
func (RsiStage) Order() int   { return 10 }

func (RsiStage) Process(ctx RsiContext) (RsiContext, error) {
	if ctx.State == nil {
		panic(errNilState)
	}

	next, value, ok := ctx.State.Next(ctx.Candle.Close)
	next.LastBucket = ctx.Bucket
	ctx.State = next
	ctx.Point = nil

	if ok {
		ctx.Point = &model.RsiPoint{
			Instrument: ctx.Candle.Instrument,
			Bucket:     ctx.Bucket,
			Timeframe:  next.Timeframe,
			Rsi:        value,
		}
	}
	return ctx, nil
}
