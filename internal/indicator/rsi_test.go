package indicator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-analyzer/internal/model"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func bucket(n int) time.Time { return t0.Add(time.Duration(n) * time.Minute) }

func candleAt(n int, closePrice string) model.Candle {
	c := dec(closePrice)
	return model.Candle{
		Instrument: "BTCUSDT",
		Timeframe:  model.Timeframe1m,
		Bucket:     bucket(n),
		Open:       c,
		High:       c,
		Low:        c,
		Close:      c,
		Volume:     decimal.NewFromInt(1),
		Confirmed:  true,
	}
}

// feed runs closes through a bare state and returns the emitted RSI per close
// ("" when no point was emitted).
func feed(period int, closes ...string) []string {
	s := NewRsiState(period, model.Timeframe1m, 0)
	out := make([]string, len(closes))
	for i, c := range closes {
		next, v, ok := s.Next(dec(c))
		if ok {
			out[i] = v.StringFixed(2)
		}
		s = next
	}
	return out
}

func TestRsi_Period3_HandCalculated(t *testing.T) {
	// 10 → first close, 12 (+2), 11 (-1), 13 (+2) → avgGain=4/3, avgLoss=1/3 → RSI 80
	// 14 (+1) → avgGain=11/9, avgLoss=2/9 → RS=5.5 → RSI 84.62
	got := feed(3, "10", "12", "11", "13", "14")
	assert.Equal(t, []string{"", "", "", "80.00", "84.62"}, got)
}

func TestRsi_AllGains_Is100(t *testing.T) {
	got := feed(3, "1", "2", "3", "4", "5")
	assert.Equal(t, "100.00", got[3])
	assert.Equal(t, "100.00", got[4])
}

func TestRsi_AllLosses_IsZero(t *testing.T) {
	got := feed(3, "5", "4", "3", "2", "1")
	assert.Equal(t, "0.00", got[3])
	assert.Equal(t, "0.00", got[4])
}

func TestRsi_FlatPrices_Is100(t *testing.T) {
	got := feed(2, "7", "7", "7")
	assert.Equal(t, "100.00", got[2])
}

func TestRsi_SentinelsNeverDivideByZero(t *testing.T) {
	assert.Equal(t, "100.00", Rsi(decimal.Zero, decimal.Zero).StringFixed(2))
	assert.Equal(t, "100.00", Rsi(dec("3"), decimal.Zero).StringFixed(2))
	assert.Equal(t, "0.00", Rsi(decimal.Zero, dec("3")).StringFixed(2))
}

func TestRsi_RoundsHalfUp(t *testing.T) {
	// RS = 0.6 → 100 - 100/1.6 = 37.5
	assert.Equal(t, "37.50", Rsi(dec("0.6"), dec("1")).StringFixed(2))
	// RS = 31 → 100 - 100/32 = 96.875
	assert.Equal(t, "96.88", Rsi(dec("31"), dec("1")).StringFixed(2))
	// RS = 1/7 → 12.5 up to the division precision
	assert.Equal(t, "12.50", Rsi(dec("1"), dec("7")).StringFixed(2))
}

func TestRsi_SeedingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, period := range []int{2, 5, 14} {
		closes := make([]decimal.Decimal, period+1)
		for i := range closes {
			closes[i] = decimal.NewFromInt(int64(100 + rng.Intn(50))).Div(decimal.NewFromInt(10))
		}

		s := NewRsiState(period, model.Timeframe1m, 0)
		gainSum, lossSum := decimal.Zero, decimal.Zero
		for i, c := range closes {
			next, v, ok := s.Next(c)
			if i > 0 {
				d := c.Sub(closes[i-1])
				if d.IsPositive() {
					gainSum = gainSum.Add(d)
				} else {
					lossSum = lossSum.Add(d.Neg())
				}
			}
			if i < period {
				assert.False(t, ok, "period %d close %d must not emit", period, i)
				assert.False(t, next.Initialized)
				assert.LessOrEqual(t, next.SeedCount, period)
			} else {
				require.True(t, ok)
				p := decimal.NewFromInt(int64(period))
				want := Rsi(gainSum.DivRound(p, 28), lossSum.DivRound(p, 28))
				assert.True(t, want.Equal(v), "period %d: got %s want %s", period, v, want)
				assert.True(t, next.Initialized)
				assert.Equal(t, period, next.SeedCount)
			}
			s = next
		}
	}
}

func TestRsiState_NextDoesNotMutateReceiver(t *testing.T) {
	s := NewRsiState(3, model.Timeframe1m, 0)
	s1, _, _ := s.Next(dec("10"))
	s2, _, _ := s1.Next(dec("12"))

	assert.Nil(t, s.LastClose)
	assert.Equal(t, 0, s1.SeedCount)
	assert.Equal(t, 1, s2.SeedCount)
	assert.True(t, dec("10").Equal(*s1.LastClose))
	assert.Same(t, s.Points, s2.Points, "rolling history is shared across states")
}

func TestRsiStage_NilStatePanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = RsiStage{}.Process(RsiContext{Candle: candleAt(0, "1")})
	})
}

func TestRsiStage_EmitsPointForBucket(t *testing.T) {
	ctx := RsiContext{State: NewRsiState(1, model.Timeframe1m, 0)}
	for i, c := range []string{"10", "11"} {
		ctx.Candle = candleAt(i, c)
		ctx.Bucket = bucket(i)
		var err error
		ctx, err = RsiStage{}.Process(ctx)
		require.NoError(t, err)
	}
	require.NotNil(t, ctx.Point)
	assert.Equal(t, bucket(1), ctx.Point.Bucket)
	assert.Equal(t, "BTCUSDT", ctx.Point.Instrument)
	assert.Equal(t, model.Timeframe1m, ctx.Point.Timeframe)
	assert.Equal(t, bucket(1), ctx.State.LastBucket)
}
