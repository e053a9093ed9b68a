package indicator

import (
	"time"

	"github.com/shopspring/decimal"

	"trading-analyzer/internal/buffer"
	"trading-analyzer/internal/model"
)

// RsiState is the per-(instrument, timeframe) recurrence state.
//
// Transitions never mutate a state in place: Next returns a new value so the
// driver can commit it only after the whole pipeline succeeded. The rolling
// histories are shared between successive states.
type RsiState struct {
	Period    int
	Timeframe model.Timeframe

	LastClose  *decimal.Decimal // nil until the first close
	LastBucket time.Time

	SeedCount   int // 0..Period
	SeedGainSum decimal.Decimal
	SeedLossSum decimal.Decimal

	// Meaningful only once Initialized.
	AvgGain     decimal.Decimal
	AvgLoss     decimal.Decimal
	Initialized bool

	Points  *buffer.Buffer[model.RsiPoint]
	Candles *buffer.Buffer[model.Candle]
}

// NewRsiState returns an empty state with fresh rolling histories.
func NewRsiState(period int, tf model.Timeframe, historySize int) *RsiState {
	if period <= 0 {
		period = DefaultPeriod
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &RsiState{
		Period:    period,
		Timeframe: tf,
		Points:    buffer.New[model.RsiPoint](historySize, buffer.WithName("history:rsi:"+tf.String())),
		Candles:   buffer.New[model.Candle](historySize, buffer.WithName("history:candle:"+tf.String())),
	}
}

// Next feeds one close and returns the successor state together with the RSI
// emitted for it, if any. The receiver is not modified.
func (s *RsiState) Next(price decimal.Decimal) (*RsiState, decimal.Decimal, bool) {
	next := *s

	if s.LastClose == nil {
		next.LastClose = &price
		return &next, decimal.Zero, false
	}

	delta := price.Sub(*s.LastClose)
	next.LastClose = &price

	gain, loss := decimal.Zero, decimal.Zero
	if delta.IsPositive() {
		gain = delta
	} else {
		loss = delta.Neg()
	}

	period := decimal.NewFromInt(int64(s.Period))

	if !s.Initialized {
		next.SeedGainSum = s.SeedGainSum.Add(gain)
		next.SeedLossSum = s.SeedLossSum.Add(loss)
		next.SeedCount = s.SeedCount + 1
		if next.SeedCount < s.Period {
			return &next, decimal.Zero, false
		}
		next.AvgGain = next.SeedGainSum.DivRound(period, divPrecision)
		next.AvgLoss = next.SeedLossSum.DivRound(period, divPrecision)
		next.Initialized = true
		return &next, Rsi(next.AvgGain, next.AvgLoss), true
	}

	weight := period.Sub(decimal.NewFromInt(1))
	next.AvgGain = s.AvgGain.Mul(weight).Add(gain).DivRound(period, divPrecision)
	next.AvgLoss = s.AvgLoss.Mul(weight).Add(loss).DivRound(period, divPrecision)
	return &next, Rsi(next.AvgGain, next.AvgLoss), true
}

// Rsi converts smoothed averages into an RSI value rounded to two decimals.
// A zero average loss yields 100 and a zero average gain yields 0.
func Rsi(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return hundred.Round(rsiScale)
	}
	if avgGain.IsZero() {
		return decimal.Zero.Round(rsiScale)
	}
	rs := avgGain.DivRound(avgLoss, divPrecision)
	rsi := hundred.Sub(hundred.DivRound(rs.Add(decimal.NewFromInt(1)), divPrecision))
	// RSI is never negative, so away-from-zero rounding is half-up here.
	return rsi.Round(rsiScale)
}

// RsiContext is the value threaded through the stages for one event.
type RsiContext struct {
	State  *RsiState
	Point  *model.RsiPoint // nil when no point was emitted
	Bucket time.Time
	Candle model.Candle
}
