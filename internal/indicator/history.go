package indicator

// HistoryStage appends the current candle, and the current point when one was
// emitted, to the state's rolling histories.
type HistoryStage struct{}

func (HistoryStage) Name() string { return "history" }
func (HistoryStage) Order() int   { return 20 }

func (HistoryStage) Process(ctx RsiContext) (RsiContext, error) {
	if ctx.State == nil {
		return ctx, nil
	}
	candle := ctx.Candle
	ctx.State.Candles.PutItem(ctx.Bucket, &candle)
	if ctx.Point != nil {
		ctx.State.Points.PutItem(ctx.Bucket, ctx.Point)
	}
	return ctx, nil
}
