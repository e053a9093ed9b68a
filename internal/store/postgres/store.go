// Package postgres is the PostgreSQL implementation of the analyzer
// repository, built on sqlx with lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trading-analyzer/internal/model"
)

// Config configures the PostgreSQL store.
type Config struct {
	DSN     string
	PoolMax int
}

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	instrument TEXT        NOT NULL,
	tf         TEXT        NOT NULL,
	bucket     TIMESTAMPTZ NOT NULL,
	open       NUMERIC     NOT NULL,
	high       NUMERIC     NOT NULL,
	low        NUMERIC     NOT NULL,
	close      NUMERIC     NOT NULL,
	volume     NUMERIC     NOT NULL,
	PRIMARY KEY (instrument, tf, bucket)
);

CREATE TABLE IF NOT EXISTS rsi_points (
	instrument TEXT        NOT NULL,
	tf         TEXT        NOT NULL,
	bucket     TIMESTAMPTZ NOT NULL,
	rsi        NUMERIC(5,2) NOT NULL,
	pump       BOOLEAN,
	dump       BOOLEAN,
	PRIMARY KEY (instrument, tf, bucket)
);

CREATE TABLE IF NOT EXISTS signals (
	id         TEXT        PRIMARY KEY,
	instrument TEXT        NOT NULL,
	strategy   TEXT        NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	operation  TEXT        NOT NULL,
	level      TEXT        NOT NULL,
	price      NUMERIC     NOT NULL
);
`

type candleRow struct {
	Instrument string          `db:"instrument"`
	TF         string          `db:"tf"`
	Bucket     time.Time       `db:"bucket"`
	Open       decimal.Decimal `db:"open"`
	High       decimal.Decimal `db:"high"`
	Low        decimal.Decimal `db:"low"`
	Close      decimal.Decimal `db:"close"`
	Volume     decimal.Decimal `db:"volume"`
}

type pointRow struct {
	Instrument string          `db:"instrument"`
	TF         string          `db:"tf"`
	Bucket     time.Time       `db:"bucket"`
	Rsi        decimal.Decimal `db:"rsi"`
	Pump       *bool           `db:"pump"`
	Dump       *bool           `db:"dump"`
}

type signalRow struct {
	ID         string          `db:"id"`
	Instrument string          `db:"instrument"`
	Strategy   string          `db:"strategy"`
	TS         time.Time       `db:"ts"`
	Operation  string          `db:"operation"`
	Level      string          `db:"level"`
	Price      decimal.Decimal `db:"price"`
}

// Store persists candles, RSI points and signals in PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// New connects, pings and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if cfg.PoolMax > 0 {
		db.SetMaxOpenConns(cfg.PoolMax)
		db.SetMaxIdleConns(cfg.PoolMax)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := NewWithDB(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Int("pool_max", cfg.PoolMax).Msg("postgres connected")
	return s, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db.DB }

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

// SaveCandles upserts candles in one transaction.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) (int, error) {
	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, toCandleRow(c))
	}
	err := execBatch(ctx, s.db, `
		INSERT INTO candles (instrument, tf, bucket, open, high, low, close, volume)
		VALUES (:instrument, :tf, :bucket, :open, :high, :low, :close, :volume)
		ON CONFLICT (instrument, tf, bucket) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume
	`, rows)
	if err != nil {
		return 0, fmt.Errorf("postgres save candles: %w", err)
	}
	return len(rows), nil
}

// SaveRsiPoints upserts points in one transaction.
func (s *Store) SaveRsiPoints(ctx context.Context, points []model.RsiPoint) (int, error) {
	rows := make([]pointRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, toPointRow(p))
	}
	err := execBatch(ctx, s.db, `
		INSERT INTO rsi_points (instrument, tf, bucket, rsi, pump, dump)
		VALUES (:instrument, :tf, :bucket, :rsi, :pump, :dump)
		ON CONFLICT (instrument, tf, bucket) DO UPDATE SET
			rsi = EXCLUDED.rsi, pump = EXCLUDED.pump, dump = EXCLUDED.dump
	`, rows)
	if err != nil {
		return 0, fmt.Errorf("postgres save rsi points: %w", err)
	}
	return len(rows), nil
}

// Publish records an emitted signal.
func (s *Store) Publish(ctx context.Context, sig model.Signal) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO signals (id, instrument, strategy, ts, operation, level, price)
		VALUES (:id, :instrument, :strategy, :ts, :operation, :level, :price)
		ON CONFLICT (id) DO NOTHING
	`, signalRow{
		ID:         sig.ID,
		Instrument: sig.Instrument,
		Strategy:   string(sig.Strategy),
		TS:         sig.Time,
		Operation:  string(sig.Operation),
		Level:      string(sig.Level),
		Price:      sig.Price,
	})
	if err != nil {
		return fmt.Errorf("postgres insert signal: %w", err)
	}
	return nil
}

// RestoreCandles returns up to limit of the newest candles of the series.
func (s *Store) RestoreCandles(ctx context.Context, instrument string, tf model.Timeframe, limit int) (map[time.Time]*model.Candle, error) {
	var rows []candleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT instrument, tf, bucket, open, high, low, close, volume
		FROM candles
		WHERE instrument = $1 AND tf = $2
		ORDER BY bucket DESC
		LIMIT $3
	`, instrument, tf.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres restore candles: %w", err)
	}
	out := make(map[time.Time]*model.Candle, len(rows))
	for _, r := range rows {
		c := r.toModel(tf)
		out[c.Bucket] = &c
	}
	return out, nil
}

// RestoreRsiPoints returns up to limit of the newest points of the series.
func (s *Store) RestoreRsiPoints(ctx context.Context, instrument string, tf model.Timeframe, limit int) (map[time.Time]*model.RsiPoint, error) {
	var rows []pointRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT instrument, tf, bucket, rsi, pump, dump
		FROM rsi_points
		WHERE instrument = $1 AND tf = $2
		ORDER BY bucket DESC
		LIMIT $3
	`, instrument, tf.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres restore rsi points: %w", err)
	}
	out := make(map[time.Time]*model.RsiPoint, len(rows))
	for _, r := range rows {
		p := r.toModel(tf)
		out[p.Bucket] = p
	}
	return out, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func execBatch[T any](ctx context.Context, db *sqlx.DB, query string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func toCandleRow(c model.Candle) candleRow {
	return candleRow{
		Instrument: c.Instrument,
		TF:         c.Timeframe.String(),
		Bucket:     c.Bucket.UTC(),
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
	}
}

func (r candleRow) toModel(tf model.Timeframe) model.Candle {
	return model.Candle{
		Instrument: r.Instrument,
		Timeframe:  tf,
		Bucket:     r.Bucket.UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		Confirmed:  true,
	}
}

func toPointRow(p model.RsiPoint) pointRow {
	row := pointRow{
		Instrument: p.Instrument,
		TF:         p.Timeframe.String(),
		Bucket:     p.Bucket.UTC(),
		Rsi:        p.Rsi,
	}
	if p.IsPump() {
		row.Pump = p.Pump
	}
	if p.IsDump() {
		row.Dump = p.Dump
	}
	return row
}

func (r pointRow) toModel(tf model.Timeframe) *model.RsiPoint {
	p := model.RsiPoint{
		Instrument: r.Instrument,
		Timeframe:  tf,
		Bucket:     r.Bucket.UTC(),
		Rsi:        r.Rsi,
	}
	return p.WithFlags(r.Pump != nil && *r.Pump, r.Dump != nil && *r.Dump)
}
