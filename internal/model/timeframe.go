package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownTimeframe is returned when a timeframe label cannot be parsed.
var ErrUnknownTimeframe = errors.New("unknown timeframe")

// Timeframe identifies the bucket size of a candle series.
type Timeframe int

const (
	TimeframeUnknown Timeframe = iota
	Timeframe1m
	Timeframe5m
	Timeframe15m
	Timeframe1h
	Timeframe4h
	Timeframe1d
)

var timeframeLabels = map[Timeframe]string{
	Timeframe1m:  "1m",
	Timeframe5m:  "5m",
	Timeframe15m: "15m",
	Timeframe1h:  "1h",
	Timeframe4h:  "4h",
	Timeframe1d:  "1d",
}

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// Duration returns the bucket length. Zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Align truncates t to the start of its bucket in UTC.
func (tf Timeframe) Align(t time.Time) time.Time {
	d := tf.Duration()
	if d == 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeLabels[tf]
	return ok
}

func (tf Timeframe) String() string {
	if s, ok := timeframeLabels[tf]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON encodes the timeframe as its label ("1m", "1h", ...).
func (tf Timeframe) MarshalJSON() ([]byte, error) {
	return json.Marshal(tf.String())
}

// UnmarshalJSON decodes a timeframe label.
func (tf *Timeframe) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeframe(s)
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}

// Decode lets envconfig parse timeframe labels directly.
func (tf *Timeframe) Decode(value string) error {
	parsed, err := ParseTimeframe(value)
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}

// ParseTimeframe parses labels such as "1m", "1H" or "candle_1d".
func ParseTimeframe(s string) (Timeframe, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	label = strings.TrimPrefix(label, "candle_")
	for tf, l := range timeframeLabels {
		if l == label {
			return tf, nil
		}
	}
	return TimeframeUnknown, fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
}
