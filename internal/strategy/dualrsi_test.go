package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-analyzer/internal/model"
)

var h0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func d(v string) *decimal.Decimal {
	x := decimal.RequireFromString(v)
	return &x
}

func hour(n int) time.Time { return h0.Add(time.Duration(n) * time.Hour) }

func fastSnap(n int, prev, curr string) model.IndicatorSnapshot {
	return model.IndicatorSnapshot{
		Instrument: "BTCUSDT",
		Timeframe:  model.Timeframe1h,
		Bucket:     hour(n),
		Prev:       d(prev),
		Value:      d(curr),
	}
}

func slowSnap(curr string) model.IndicatorSnapshot {
	return model.IndicatorSnapshot{
		Instrument: "BTCUSDT",
		Timeframe:  model.Timeframe1d,
		Bucket:     h0,
		Prev:       d(curr),
		Value:      d(curr),
	}
}

func newTestDualRsi() *DualRsi {
	s := NewDualRsi(DualRsiConfig{Fast: model.Timeframe1h, Slow: model.Timeframe1d}, nil)
	n := 0
	s.newID = func() string {
		n++
		return "sig-" + string(rune('0'+n))
	}
	return s
}

var price = decimal.RequireFromString("64250.5")

func TestDualRsi_HysteresisScenario(t *testing.T) {
	s := newTestDualRsi()

	// slow 45, fast 29 → 31: BUY SMALL, gate cools down
	sig := s.Generate(fastSnap(1, "29", "31"), slowSnap("45"), price)
	require.NotNil(t, sig)
	assert.Equal(t, model.OperationBuy, sig.Operation)
	assert.Equal(t, model.LevelSmall, sig.Level)
	assert.Equal(t, hour(1), sig.Time)
	assert.True(t, price.Equal(sig.Price))
	assert.Equal(t, "BTCUSDT", sig.Instrument)
	assert.Equal(t, model.StrategyRsiDualTF, sig.Strategy)
	assert.Equal(t, "sig-1", sig.ID)
	assert.False(t, s.Armed("BTCUSDT"))

	// fast 35 → 32: no midline cross, still cooling
	assert.Nil(t, s.Generate(fastSnap(2, "35", "32"), slowSnap("45"), price))
	assert.False(t, s.Armed("BTCUSDT"))

	// a fresh oversold exit is ignored while cooling
	assert.Nil(t, s.Generate(fastSnap(3, "29", "31"), slowSnap("45"), price))
	assert.False(t, s.Armed("BTCUSDT"))

	// fast 49 → 51 re-arms without firing
	assert.Nil(t, s.Generate(fastSnap(4, "49", "51"), slowSnap("45"), price))
	assert.True(t, s.Armed("BTCUSDT"))

	// fast 29 → 31 again: new BUY
	sig = s.Generate(fastSnap(5, "29", "31"), slowSnap("45"), price)
	require.NotNil(t, sig)
	assert.Equal(t, model.OperationBuy, sig.Operation)
	assert.Equal(t, hour(5), sig.Time)
}

func TestDualRsi_ReArmOnDownwardMidlineCross(t *testing.T) {
	s := newTestDualRsi()
	require.NotNil(t, s.Generate(fastSnap(1, "71", "69"), slowSnap("65"), price))
	assert.False(t, s.Armed("BTCUSDT"))

	assert.Nil(t, s.Generate(fastSnap(2, "51", "50"), slowSnap("65"), price))
	assert.True(t, s.Armed("BTCUSDT"))
}

func TestDualRsi_Sell(t *testing.T) {
	s := newTestDualRsi()
	sig := s.Generate(fastSnap(1, "72", "70"), slowSnap("65"), price)
	require.NotNil(t, sig)
	assert.Equal(t, model.OperationSell, sig.Operation)
	assert.Equal(t, model.LevelMiddle, sig.Level)
}

func TestDualRsi_TrendFilter(t *testing.T) {
	tests := []struct {
		name       string
		prev, curr string
		slow       string
		want       model.Operation
	}{
		{"buy on midline", "29", "30", "50", model.OperationBuy},
		{"buy blocked above midline", "29", "31", "50.01", ""},
		{"sell on upper line", "71", "70", "60", model.OperationSell},
		{"sell blocked below upper line", "71", "69", "59.99", ""},
		{"no cross staying oversold", "25", "29", "45", ""},
		{"prev on trigger line", "30", "35", "45", ""},
		{"no cross staying overbought", "80", "75", "65", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sig := newTestDualRsi().Generate(fastSnap(1, tc.prev, tc.curr), slowSnap(tc.slow), price)
			if tc.want == "" {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, tc.want, sig.Operation)
		})
	}
}

func TestDualRsi_AntiDuplicateSameBucket(t *testing.T) {
	s := newTestDualRsi()
	require.NotNil(t, s.Generate(fastSnap(1, "29", "31"), slowSnap("45"), price))

	// same fast bucket re-evaluated after a re-arm elsewhere must not fire
	s.gates["BTCUSDT"].canEmit = true
	assert.Nil(t, s.Generate(fastSnap(1, "29", "31"), slowSnap("45"), price))
}

func TestDualRsi_SameBucketStillChecksReArm(t *testing.T) {
	s := newTestDualRsi()
	require.NotNil(t, s.Generate(fastSnap(1, "29", "31"), slowSnap("45"), price))

	assert.Nil(t, s.Generate(fastSnap(1, "45", "55"), slowSnap("45"), price))
	assert.True(t, s.Armed("BTCUSDT"))
}

func TestDualRsi_MissingValuesLeaveGateUntouched(t *testing.T) {
	s := newTestDualRsi()
	require.NotNil(t, s.Generate(fastSnap(1, "29", "31"), slowSnap("45"), price))

	noPrev := fastSnap(2, "49", "51")
	noPrev.Prev = nil
	assert.Nil(t, s.Generate(noPrev, slowSnap("45"), price))
	assert.False(t, s.Armed("BTCUSDT"))

	noSlow := slowSnap("45")
	noSlow.Value = nil
	assert.Nil(t, s.Generate(fastSnap(2, "49", "51"), noSlow, price))
	assert.False(t, s.Armed("BTCUSDT"))

	slowNoPrev := slowSnap("45")
	slowNoPrev.Prev = nil
	assert.Nil(t, s.Generate(fastSnap(2, "49", "51"), slowNoPrev, price))
	assert.True(t, s.Armed("BTCUSDT"), "slow previous value is not required")
}

func TestDualRsi_TimeFallsBackToSlowBucket(t *testing.T) {
	f := fastSnap(0, "29", "31")
	f.Bucket = time.Time{}
	sig := newTestDualRsi().Generate(f, slowSnap("45"), price)
	require.NotNil(t, sig)
	assert.Equal(t, h0, sig.Time)
}

func TestDualRsi_GatesArePerInstrument(t *testing.T) {
	s := newTestDualRsi()
	require.NotNil(t, s.Generate(fastSnap(1, "29", "31"), slowSnap("45"), price))

	eth := fastSnap(1, "29", "31")
	eth.Instrument = "ETHUSDT"
	ethSlow := slowSnap("45")
	ethSlow.Instrument = "ETHUSDT"
	sig := s.Generate(eth, ethSlow, price)
	require.NotNil(t, sig)
	assert.Equal(t, "ETHUSDT", sig.Instrument)
}

func TestThresholds_LevelBoundaries(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		slow string
		want model.Level
	}{
		{"10", model.LevelStrong},
		{"29.99", model.LevelStrong},
		{"30", model.LevelStrong},
		{"30.01", model.LevelMiddle},
		{"35", model.LevelMiddle},
		{"40", model.LevelMiddle},
		{"40.01", model.LevelSmall},
		{"45", model.LevelSmall},
		{"50", model.LevelSmall},
		{"55", model.LevelUnspecified},
		{"60", model.LevelMiddle},
		{"65", model.LevelMiddle},
		{"69.99", model.LevelMiddle},
		{"70", model.LevelStrong},
		{"85", model.LevelStrong},
	}
	for _, tc := range tests {
		t.Run(tc.slow, func(t *testing.T) {
			assert.Equal(t, tc.want, th.Level(*d(tc.slow)))
		})
	}
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.Upper = bad.Mid
	assert.Error(t, bad.Validate())
}

type stubSource map[string]model.IndicatorSnapshot

func (s stubSource) Snapshot(instrument string, tf model.Timeframe) model.IndicatorSnapshot {
	return s[model.SeriesKey(instrument, tf)]
}

func TestDualRsi_OnPointReadsSource(t *testing.T) {
	src := stubSource{
		"BTCUSDT|1h": fastSnap(1, "29", "31"),
		"BTCUSDT|1d": slowSnap("20"),
	}
	s := NewDualRsi(DualRsiConfig{Fast: model.Timeframe1h, Slow: model.Timeframe1d}, src)

	// slow-timeframe points never trigger evaluation
	assert.Nil(t, s.OnPoint(Update{Point: model.RsiPoint{Instrument: "BTCUSDT", Timeframe: model.Timeframe1d}}))

	sig := s.OnPoint(Update{
		Point: model.RsiPoint{Instrument: "BTCUSDT", Timeframe: model.Timeframe1h, Bucket: hour(1)},
		Price: price,
	})
	require.NotNil(t, sig)
	assert.Equal(t, model.LevelStrong, sig.Level)
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, "dual_rsi_1h_1d", s.Name())
}
