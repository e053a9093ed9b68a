package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-analyzer/internal/model"
)

// RestoreCandles returns up to limit of the newest candles of the series,
// keyed by bucket. Restored candles are always confirmed.
func (s *Store) RestoreCandles(ctx context.Context, instrument string, tf model.Timeframe, limit int) (map[time.Time]*model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND tf = ?
		ORDER BY bucket DESC
		LIMIT ?
	`, instrument, tf.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite restore candles: %w", err)
	}
	defer rows.Close()

	out := make(map[time.Time]*model.Candle, limit)
	for rows.Next() {
		c, err := scanCandle(rows, instrument, tf)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		out[c.Bucket] = c
	}
	return out, rows.Err()
}

// RestoreRsiPoints returns up to limit of the newest points of the series,
// keyed by bucket.
func (s *Store) RestoreRsiPoints(ctx context.Context, instrument string, tf model.Timeframe, limit int) (map[time.Time]*model.RsiPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, rsi, pump, dump
		FROM rsi_points
		WHERE instrument = ? AND tf = ?
		ORDER BY bucket DESC
		LIMIT ?
	`, instrument, tf.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite restore rsi points: %w", err)
	}
	defer rows.Close()

	out := make(map[time.Time]*model.RsiPoint, limit)
	for rows.Next() {
		var (
			bucket     int64
			rsi        string
			pump, dump sql.NullBool
		)
		if err := rows.Scan(&bucket, &rsi, &pump, &dump); err != nil {
			return nil, fmt.Errorf("sqlite scan rsi point: %w", err)
		}
		v, err := decimal.NewFromString(rsi)
		if err != nil {
			return nil, fmt.Errorf("sqlite rsi value %q: %w", rsi, err)
		}
		p := model.RsiPoint{
			Instrument: instrument,
			Timeframe:  tf,
			Bucket:     time.Unix(bucket, 0).UTC(),
			Rsi:        v,
		}
		out[p.Bucket] = p.WithFlags(pump.Valid && pump.Bool, dump.Valid && dump.Bool)
	}
	return out, rows.Err()
}

// ReadCandles returns the stored candles of a series in the window
// [from, to], oldest first. A zero bound leaves that side open.
func (s *Store) ReadCandles(ctx context.Context, instrument string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	fromUnix, toUnix := int64(0), int64(1<<62)
	if !from.IsZero() {
		fromUnix = from.Unix()
	}
	if !to.IsZero() {
		toUnix = to.Unix()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND tf = ? AND bucket >= ? AND bucket <= ?
		ORDER BY bucket ASC
	`, instrument, tf.String(), fromUnix, toUnix)
	if err != nil {
		return nil, fmt.Errorf("sqlite read candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		c, err := scanCandle(rows, instrument, tf)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		candles = append(candles, *c)
	}
	return candles, rows.Err()
}

// ReadSignals returns the newest signals of an instrument, newest first.
func (s *Store) ReadSignals(ctx context.Context, instrument string, limit int) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, ts, operation, level, price
		FROM signals
		WHERE instrument = ?
		ORDER BY ts DESC
		LIMIT ?
	`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite read signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var (
			sig                        model.Signal
			ts                         int64
			strategy, operation, level string
			price                      string
		)
		if err := rows.Scan(&sig.ID, &strategy, &ts, &operation, &level, &price); err != nil {
			return nil, fmt.Errorf("sqlite scan signal: %w", err)
		}
		if sig.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("sqlite signal price %q: %w", price, err)
		}
		sig.Instrument = instrument
		sig.Strategy = model.StrategyKind(strategy)
		sig.Operation = model.Operation(operation)
		sig.Level = model.Level(level)
		sig.Time = time.Unix(ts, 0).UTC()
		out = append(out, sig)
	}
	return out, rows.Err()
}

func scanCandle(rows *sql.Rows, instrument string, tf model.Timeframe) (*model.Candle, error) {
	var (
		bucket int64
		ohlcv  [5]string
	)
	if err := rows.Scan(&bucket, &ohlcv[0], &ohlcv[1], &ohlcv[2], &ohlcv[3], &ohlcv[4]); err != nil {
		return nil, err
	}
	var vals [5]decimal.Decimal
	for i, raw := range ohlcv {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("decimal %q: %w", raw, err)
		}
		vals[i] = v
	}
	return &model.Candle{
		Instrument: instrument,
		Timeframe:  tf,
		Bucket:     time.Unix(bucket, 0).UTC(),
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		Volume:     vals[4],
		Confirmed:  true,
	}, nil
}
