package analyzer

import (
	"time"

	"trading-analyzer/config"
	"trading-analyzer/internal/indicator"
	"trading-analyzer/internal/model"
	"trading-analyzer/internal/strategy"
)

// Options holds the analyzer service settings.
type Options struct {
	Instruments []string
	Fast        model.Timeframe
	Slow        model.Timeframe

	Indicator  indicator.Config
	Thresholds strategy.Thresholds

	RestoreLimit int
	SignalBuffer int
	CandleQueue  int

	LiveSaveInterval       time.Duration
	HistoricalSaveInterval time.Duration
	SaveTimeout            time.Duration
	SinkTimeout            time.Duration
}

// OptionsFromConfig maps the environment configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Instruments: cfg.Instruments,
		Fast:        cfg.FastTF,
		Slow:        cfg.SlowTF,
		Indicator: indicator.Config{
			Period:         cfg.Rsi.Period,
			Timeframes:     cfg.Timeframes(),
			CandleSize:     cfg.Rsi.CandleBuffer,
			LiveSize:       cfg.Rsi.LiveBuffer,
			HistorySize:    cfg.Rsi.HistorySize,
			HistoricalSize: cfg.Rsi.HistoricalBuffer,
			PumpLevel:      cfg.Rsi.PumpLevel,
			DumpLevel:      cfg.Rsi.DumpLevel,
		},
		Thresholds: strategy.Thresholds{
			Oversold:   cfg.Rsi.Oversold,
			Lower:      cfg.Rsi.Lower,
			Mid:        cfg.Rsi.Mid,
			Upper:      cfg.Rsi.Upper,
			Overbought: cfg.Rsi.Overbought,
		},
		RestoreLimit:           cfg.Rsi.RestoreLimit,
		SignalBuffer:           cfg.SignalBuffer,
		LiveSaveInterval:       cfg.LiveSaveInterval,
		HistoricalSaveInterval: cfg.HistoricalSaveInterval,
	}
}

func (o *Options) withDefaults() {
	if len(o.Indicator.Timeframes) == 0 {
		o.Indicator.Timeframes = []model.Timeframe{o.Fast, o.Slow}
	}
	if o.RestoreLimit <= 0 {
		o.RestoreLimit = 1000
	}
	if o.SignalBuffer <= 0 {
		o.SignalBuffer = 256
	}
	if o.CandleQueue <= 0 {
		o.CandleQueue = 5000
	}
	if o.LiveSaveInterval <= 0 {
		o.LiveSaveInterval = time.Second
	}
	if o.HistoricalSaveInterval <= 0 {
		o.HistoricalSaveInterval = 10 * time.Second
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 5 * time.Second
	}
	if o.SinkTimeout <= 0 {
		o.SinkTimeout = 10 * time.Second
	}
}

// seriesIDs lists every (instrument, timeframe) pair the service computes.
func (o *Options) seriesIDs() []indicator.SeriesID {
	ids := make([]indicator.SeriesID, 0, len(o.Instruments)*len(o.Indicator.Timeframes))
	for _, inst := range o.Instruments {
		for _, tf := range o.Indicator.Timeframes {
			ids = append(ids, indicator.SeriesID{Instrument: inst, Timeframe: tf})
		}
	}
	return ids
}
