package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Operation is the trade direction of a signal.
type Operation string

const (
	OperationBuy  Operation = "BUY"
	OperationSell Operation = "SELL"
)

// Level grades signal strength from the slow-timeframe RSI.
type Level string

const (
	LevelUnspecified Level = "UNSPECIFIED"
	LevelSmall       Level = "SMALL"
	LevelMiddle      Level = "MIDDLE"
	LevelStrong      Level = "STRONG"
)

// StrategyKind names the strategy family that produced a signal.
type StrategyKind string

const StrategyRsiDualTF StrategyKind = "RSI_DUAL_TF"

// Signal is the output handed to order management.
type Signal struct {
	ID         string          `json:"id"`
	Instrument string          `json:"instrument"`
	Strategy   StrategyKind    `json:"strategy"`
	Time       time.Time       `json:"time"`
	Operation  Operation       `json:"operation"`
	Level      Level           `json:"level"`
	Price      decimal.Decimal `json:"price"`
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
