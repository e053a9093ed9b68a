// Package indicator computes Wilder-smoothed RSI points and pump/dump
// crossing flags from confirmed candles.
//
// Each (instrument, timeframe) series is advanced by a fixed pipeline of
// stages: RSI (10) → history append (20) → pump/dump (30). The Calculator is
// the single writer that owns all per-series state; readers may query its
// buffers and snapshots concurrently.
package indicator

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrEventAborted is returned when a candle could not be fully processed.
// The RSI state is not advanced, but the candle buffer and the rolling
// histories may already hold the event; the series is rebuilt from the
// candle buffer on its next candle.
var ErrEventAborted = errors.New("indicator: event aborted")

// errNilState is the panic value of a stage run without RSI state.
var errNilState = errors.New("indicator: rsi state is nil")

const (
	// DefaultPeriod is the classic 14-bar RSI lookback.
	DefaultPeriod = 14

	// DefaultHistorySize is the number of recent points/candles kept for
	// crossing detection.
	DefaultHistorySize = 10

	// divPrecision is the number of fractional digits kept by intermediate
	// divisions; the recurrence never sees more rounding than this.
	divPrecision int32 = 28

	// rsiScale is the number of decimals RSI values are rounded to.
	rsiScale int32 = 2
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultPumpLevel is the overbought line a pump crosses back under.
	DefaultPumpLevel = decimal.NewFromInt(70)

	// DefaultDumpLevel is the oversold line a dump crosses back over.
	DefaultDumpLevel = decimal.NewFromInt(30)
)
