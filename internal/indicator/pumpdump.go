package indicator

import "github.com/shopspring/decimal"

// PumpDumpStage flags exits from the overbought and oversold zones by
// comparing the current point with the newest earlier point in the history.
//
//	pump: prev > PumpLevel && curr <= PumpLevel
//	dump: prev < DumpLevel && curr >= DumpLevel
//
// With overlapping levels pump wins, so the flags are never both set.
type PumpDumpStage struct {
	PumpLevel decimal.Decimal
	DumpLevel decimal.Decimal
}

// NewPumpDumpStage returns the stage with the 70/30 levels.
func NewPumpDumpStage() PumpDumpStage {
	return PumpDumpStage{PumpLevel: DefaultPumpLevel, DumpLevel: DefaultDumpLevel}
}

func (PumpDumpStage) Name() string { return "pumpdump" }
func (PumpDumpStage) Order() int   { return 30 }

func (s PumpDumpStage) Process(ctx RsiContext) (RsiContext, error) {
	if ctx.Point == nil || ctx.State == nil {
		return ctx, nil
	}
	prev, ok := ctx.State.Points.Before(ctx.Bucket)
	if !ok || prev.Value == nil {
		return ctx, nil
	}

	p, c := prev.Value.Rsi, ctx.Point.Rsi
	pump := p.GreaterThan(s.PumpLevel) && c.LessThanOrEqual(s.PumpLevel)
	dump := !pump && p.LessThan(s.DumpLevel) && c.GreaterThanOrEqual(s.DumpLevel)
	if pump || dump {
		ctx.Point = ctx.Point.WithFlags(pump, dump)
		ctx.State.Points.PutItem(ctx.Bucket, ctx.Point)
	}
	return ctx, nil
}
