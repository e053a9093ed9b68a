package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-analyzer/internal/model"
)

func runPumpDump(t *testing.T, stage PumpDumpStage, prev, curr string) *model.RsiPoint {
	t.Helper()
	state := NewRsiState(3, model.Timeframe1m, 0)
	if prev != "" {
		state.Points.PutItem(bucket(0), &model.RsiPoint{Bucket: bucket(0), Rsi: dec(prev)})
	}
	ctx := RsiContext{
		State:  state,
		Bucket: bucket(1),
		Point:  &model.RsiPoint{Bucket: bucket(1), Rsi: dec(curr)},
	}
	out, err := stage.Process(ctx)
	require.NoError(t, err)
	return out.Point
}

func TestPumpDump_Crossings(t *testing.T) {
	tests := []struct {
		name       string
		prev, curr string
		pump, dump bool
	}{
		{"exit overbought", "71", "69", true, false},
		{"exit overbought onto line", "70.01", "70", true, false},
		{"stays overbought", "75", "71", false, false},
		{"prev on line", "70", "60", false, false},
		{"exit oversold", "29", "31", false, true},
		{"exit oversold onto line", "29.99", "30", false, true},
		{"stays oversold", "20", "29", false, false},
		{"prev on lower line", "30", "45", false, false},
		{"mid range", "50", "55", false, false},
		{"no history", "", "31", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := runPumpDump(t, NewPumpDumpStage(), tc.prev, tc.curr)
			assert.Equal(t, tc.pump, p.IsPump())
			assert.Equal(t, tc.dump, p.IsDump())
			if !tc.pump {
				assert.Nil(t, p.Pump)
			}
			if !tc.dump {
				assert.Nil(t, p.Dump)
			}
		})
	}
}

func TestPumpDump_CustomLevels(t *testing.T) {
	stage := PumpDumpStage{PumpLevel: dec("40"), DumpLevel: dec("60")}
	p := runPumpDump(t, stage, "50", "40")
	assert.True(t, p.IsPump())
	assert.False(t, p.IsDump())

	p = runPumpDump(t, stage, "45", "60")
	assert.False(t, p.IsPump())
	assert.True(t, p.IsDump())

	p = runPumpDump(t, stage, "55", "30")
	assert.True(t, p.IsPump())
	assert.False(t, p.IsDump())
}

func TestPumpDump_NoPointPassesThrough(t *testing.T) {
	ctx := RsiContext{State: NewRsiState(3, model.Timeframe1m, 0), Bucket: bucket(1)}
	out, err := NewPumpDumpStage().Process(ctx)
	require.NoError(t, err)
	assert.Nil(t, out.Point)
}
