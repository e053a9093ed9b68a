package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents a confirmed OHLCV candle for a single instrument and timeframe.
// Prices and volume are arbitrary-precision decimals to avoid floating-point drift.
type Candle struct {
	Instrument string          `json:"instrument"`
	Timeframe  Timeframe       `json:"timeframe"`
	Bucket     time.Time       `json:"bucket"` // bucket start time (UTC, TF-aligned)
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	Confirmed  bool            `json:"confirmed"` // false while the bucket is still open
}

// Key returns a unique key for this candle's series: "instrument|tf".
func (c *Candle) Key() string {
	return SeriesKey(c.Instrument, c.Timeframe)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// SeriesKey builds the keyed-store key for one (instrument, timeframe) pair.
func SeriesKey(instrument string, tf Timeframe) string {
	return instrument + "|" + tf.String()
}
