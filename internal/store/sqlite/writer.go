package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/analyzer.db"; ":memory:" for tests
}

// Store is a single-connection SQLite repository for candles, RSI points and
// emitted signals. Writes are batched into one transaction per call.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// one connection: single writer, and ":memory:" stays a single database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info().Str("path", cfg.DBPath).Msg("sqlite database opened")
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			instrument TEXT    NOT NULL,
			tf         TEXT    NOT NULL,
			bucket     INTEGER NOT NULL,
			open       TEXT    NOT NULL,
			high       TEXT    NOT NULL,
			low        TEXT    NOT NULL,
			close      TEXT    NOT NULL,
			volume     TEXT    NOT NULL,
			PRIMARY KEY (instrument, tf, bucket)
		);

		CREATE TABLE IF NOT EXISTS rsi_points (
			instrument TEXT    NOT NULL,
			tf         TEXT    NOT NULL,
			bucket     INTEGER NOT NULL,
			rsi        TEXT    NOT NULL,
			pump       INTEGER,
			dump       INTEGER,
			PRIMARY KEY (instrument, tf, bucket)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id         TEXT    PRIMARY KEY,
			instrument TEXT    NOT NULL,
			strategy   TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			operation  TEXT    NOT NULL,
			level      TEXT    NOT NULL,
			price      TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_signals_instrument_ts ON signals (instrument, ts);
	`)
	return err
}

// SaveCandles upserts candles in a single transaction.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	start := time.Now()
	err := s.inTx(ctx, `
		INSERT OR REPLACE INTO candles (instrument, tf, bucket, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, c := range candles {
			_, err := stmt.ExecContext(ctx, c.Instrument, c.Timeframe.String(), c.Bucket.Unix(),
				c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite save candles: %w", err)
	}
	log.Debug().Int("rows", len(candles)).Dur("took", time.Since(start)).Msg("sqlite committed candles")
	return len(candles), nil
}

// SaveRsiPoints upserts points in a single transaction. Unset flags are
// stored as NULL.
func (s *Store) SaveRsiPoints(ctx context.Context, points []model.RsiPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	start := time.Now()
	err := s.inTx(ctx, `
		INSERT OR REPLACE INTO rsi_points (instrument, tf, bucket, rsi, pump, dump)
		VALUES (?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, p := range points {
			_, err := stmt.ExecContext(ctx, p.Instrument, p.Timeframe.String(), p.Bucket.Unix(),
				p.Rsi.StringFixed(2), nullFlag(p.Pump), nullFlag(p.Dump))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite save rsi points: %w", err)
	}
	log.Debug().Int("rows", len(points)).Dur("took", time.Since(start)).Msg("sqlite committed rsi points")
	return len(points), nil
}

// Publish records an emitted signal. It makes the store usable as a signal
// sink so every signal leaves an audit row.
func (s *Store) Publish(ctx context.Context, sig model.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals (id, instrument, strategy, ts, operation, level, price)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.Instrument, string(sig.Strategy), sig.Time.Unix(),
		string(sig.Operation), string(sig.Level), sig.Price.String())
	if err != nil {
		return fmt.Errorf("sqlite insert signal: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullFlag(f *bool) sql.NullBool {
	if f == nil || !*f {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: true, Valid: true}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
