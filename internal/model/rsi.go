package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RsiPoint is one computed RSI value for a confirmed bucket.
//
// Pump and Dump are tri-state: nil means "not triggered". Only true is ever
// stored explicitly.
type RsiPoint struct {
	Instrument string          `json:"instrument"`
	Bucket     time.Time       `json:"bucket"`
	Timeframe  Timeframe       `json:"timeframe"`
	Rsi        decimal.Decimal `json:"rsi"`
	Pump       *bool           `json:"pump,omitempty"`
	Dump       *bool           `json:"dump,omitempty"`
}

// IsPump reports whether the pump flag is set.
func (p *RsiPoint) IsPump() bool { return p.Pump != nil && *p.Pump }

// IsDump reports whether the dump flag is set.
func (p *RsiPoint) IsDump() bool { return p.Dump != nil && *p.Dump }

// WithFlags returns a copy of the point with the given crossing flags.
// A false flag is stored as nil.
func (p RsiPoint) WithFlags(pump, dump bool) *RsiPoint {
	p.Pump, p.Dump = nil, nil
	if pump {
		p.Pump = flag()
	}
	if dump {
		p.Dump = flag()
	}
	return &p
}

// Key returns "instrument|tf".
func (p *RsiPoint) Key() string {
	return SeriesKey(p.Instrument, p.Timeframe)
}

// StreamKey returns the Redis stream key: "rsi:{tf}:{instrument}".
func (p *RsiPoint) StreamKey() string {
	return "rsi:" + p.Timeframe.String() + ":" + p.Instrument
}

// MarshalJSON writes rsi with exactly two decimals ("80.00").
func (p RsiPoint) MarshalJSON() ([]byte, error) {
	type plain RsiPoint
	return json.Marshal(struct {
		plain
		Rsi string `json:"rsi"`
	}{plain: plain(p), Rsi: p.Rsi.StringFixed(2)})
}

// JSON returns the JSON-encoded point.
func (p *RsiPoint) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}

func flag() *bool {
	v := true
	return &v
}

// IndicatorSnapshot is the latest RSI reading of one series, as consumed by
// signal strategies. Prev and Value are nil until enough points exist.
type IndicatorSnapshot struct {
	Instrument string           `json:"instrument"`
	Timeframe  Timeframe        `json:"timeframe"`
	Bucket     time.Time        `json:"bucket"`
	Prev       *decimal.Decimal `json:"prev,omitempty"`
	Value      *decimal.Decimal `json:"value,omitempty"`
}
