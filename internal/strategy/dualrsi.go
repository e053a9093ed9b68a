package strategy

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-analyzer/internal/model"
)

// SnapshotSource provides the latest RSI reading of a series.
type SnapshotSource interface {
	Snapshot(instrument string, tf model.Timeframe) model.IndicatorSnapshot
}

// DualRsiConfig configures a DualRsi strategy.
type DualRsiConfig struct {
	Fast       model.Timeframe
	Slow       model.Timeframe
	Thresholds Thresholds
}

// gate is the per-instrument hysteresis state. canEmit=true is ARMED,
// false is COOLING.
type gate struct {
	canEmit          bool
	lastSignalBucket time.Time
}

// DualRsi emits a BUY when the fast RSI leaves the oversold zone while the
// slow RSI is at or below the midline, and a SELL when the fast RSI leaves
// the overbought zone while the slow RSI is at or above the upper line.
//
// After a signal the instrument cools down until the fast RSI crosses the
// midline in either direction. The crossing only re-arms; it never fires.
type DualRsi struct {
	cfg    DualRsiConfig
	source SnapshotSource

	mu    sync.Mutex
	gates map[string]*gate

	newID func() string
}

// NewDualRsi creates the strategy. source may be nil when only Generate is used.
func NewDualRsi(cfg DualRsiConfig, source SnapshotSource) *DualRsi {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	return &DualRsi{
		cfg:    cfg,
		source: source,
		gates:  make(map[string]*gate, 16),
		newID:  uuid.NewString,
	}
}

func (d *DualRsi) Name() string { return "dual_rsi_" + d.cfg.Fast.String() + "_" + d.cfg.Slow.String() }

func (d *DualRsi) Kind() model.StrategyKind { return model.StrategyRsiDualTF }

// OnPoint evaluates the instrument whenever a fast-timeframe point arrives.
// The slow reading is whatever the source holds at that moment.
func (d *DualRsi) OnPoint(u Update) *model.Signal {
	if d.source == nil || u.Point.Timeframe != d.cfg.Fast {
		return nil
	}
	fast := d.source.Snapshot(u.Point.Instrument, d.cfg.Fast)
	slow := d.source.Snapshot(u.Point.Instrument, d.cfg.Slow)
	return d.Generate(fast, slow, u.Price)
}

// Generate runs one step of the gate for the instrument of the snapshots.
// A fast reading without previous and current values, or a slow reading
// without a current value, yields nothing and leaves the gate untouched.
func (d *DualRsi) Generate(fast, slow model.IndicatorSnapshot, price decimal.Decimal) *model.Signal {
	if fast.Prev == nil || fast.Value == nil || slow.Value == nil {
		return nil
	}
	instrument := fast.Instrument
	if instrument == "" {
		instrument = slow.Instrument
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.gateFor(instrument)
	prev, curr := *fast.Prev, *fast.Value
	th := d.cfg.Thresholds

	if !g.lastSignalBucket.IsZero() && fast.Bucket.Equal(g.lastSignalBucket) {
		d.rearm(instrument, g, prev, curr)
		return nil
	}
	if !g.canEmit {
		d.rearm(instrument, g, prev, curr)
		return nil
	}

	var op model.Operation
	switch {
	case slow.Value.LessThanOrEqual(th.Mid) && crossedUp(prev, curr, th.Oversold):
		op = model.OperationBuy
	case slow.Value.GreaterThanOrEqual(th.Upper) && crossedDown(prev, curr, th.Overbought):
		op = model.OperationSell
	default:
		return nil
	}

	at := fast.Bucket
	if at.IsZero() {
		at = slow.Bucket
	}

	g.canEmit = false
	g.lastSignalBucket = fast.Bucket

	sig := &model.Signal{
		ID:         d.newID(),
		Instrument: instrument,
		Strategy:   d.Kind(),
		Time:       at,
		Operation:  op,
		Level:      th.Level(*slow.Value),
		Price:      price,
	}
	log.Info().
		Str("strategy", d.Name()).
		Str("instrument", instrument).
		Str("operation", string(sig.Operation)).
		Str("level", string(sig.Level)).
		Str("fast_rsi", curr.String()).
		Str("slow_rsi", slow.Value.String()).
		Str("price", price.String()).
		Time("bucket", at).
		Msg("signal emitted")
	return sig
}

// rearm moves a cooling gate back to ARMED when the fast RSI crosses the
// midline. Must be called with mu held.
func (d *DualRsi) rearm(instrument string, g *gate, prev, curr decimal.Decimal) {
	if g.canEmit {
		return
	}
	mid := d.cfg.Thresholds.Mid
	if crossedUp(prev, curr, mid) || crossedDown(prev, curr, mid) {
		g.canEmit = true
		log.Debug().Str("strategy", d.Name()).Str("instrument", instrument).Msg("gate re-armed")
	}
}

func (d *DualRsi) gateFor(instrument string) *gate {
	g, ok := d.gates[instrument]
	if !ok {
		g = &gate{canEmit: true}
		d.gates[instrument] = g
	}
	return g
}

// Armed reports whether the instrument may emit its next signal.
func (d *DualRsi) Armed(instrument string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.gates[instrument]; ok {
		return g.canEmit
	}
	return true
}
