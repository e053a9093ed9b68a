package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-analyzer/internal/model"
)

// Thresholds are the RSI policy lines used by DualRsi.
type Thresholds struct {
	Oversold   decimal.Decimal // fast BUY trigger, STRONG below
	Lower      decimal.Decimal // MIDDLE/SMALL split on the buy side
	Mid        decimal.Decimal // re-arm line and slow BUY filter
	Upper      decimal.Decimal // slow SELL filter, MIDDLE from here
	Overbought decimal.Decimal // fast SELL trigger, STRONG above
}

// DefaultThresholds returns 30/40/50/60/70.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Oversold:   decimal.NewFromInt(30),
		Lower:      decimal.NewFromInt(40),
		Mid:        decimal.NewFromInt(50),
		Upper:      decimal.NewFromInt(60),
		Overbought: decimal.NewFromInt(70),
	}
}

// Validate checks the lines are strictly increasing.
func (t Thresholds) Validate() error {
	lines := []decimal.Decimal{t.Oversold, t.Lower, t.Mid, t.Upper, t.Overbought}
	for i := 1; i < len(lines); i++ {
		if !lines[i-1].LessThan(lines[i]) {
			return fmt.Errorf("thresholds must be strictly increasing: %s >= %s", lines[i-1], lines[i])
		}
	}
	return nil
}

// Level grades a slow-timeframe RSI:
//
//	<= Oversold or >= Overbought   STRONG
//	(Oversold, Lower]              MIDDLE
//	(Lower, Mid]                   SMALL
//	[Upper, Overbought)            MIDDLE
//	(Mid, Upper)                   UNSPECIFIED
func (t Thresholds) Level(slow decimal.Decimal) model.Level {
	switch {
	case slow.LessThanOrEqual(t.Oversold), slow.GreaterThanOrEqual(t.Overbought):
		return model.LevelStrong
	case slow.LessThanOrEqual(t.Lower):
		return model.LevelMiddle
	case slow.LessThanOrEqual(t.Mid):
		return model.LevelSmall
	case slow.GreaterThanOrEqual(t.Upper):
		return model.LevelMiddle
	default:
		return model.LevelUnspecified
	}
}

func crossedUp(prev, curr, line decimal.Decimal) bool {
	return prev.LessThan(line) && curr.GreaterThanOrEqual(line)
}

func crossedDown(prev, curr, line decimal.Decimal) bool {
	return prev.GreaterThan(line) && curr.LessThanOrEqual(line)
}
