package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"financas/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository persists the last fetched rate schedule per series so
// the dashboard keeps a usable rate when the source is down.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps modernc sqlite free of SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveRateSnapshot replaces the stored schedule of series in one transaction.
// Open records are stored without an end date.
func (r *SQLiteRepository) SaveRateSnapshot(ctx context.Context, series string, records []core.RateRecord, fetchedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rate_records WHERE series = ?`, series); err != nil {
		return fmt.Errorf("delete rate records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rate_snapshots (series, fetched_at, record_count) VALUES (?, ?, ?)
		ON CONFLICT(series) DO UPDATE SET fetched_at = excluded.fetched_at, record_count = excluded.record_count`,
		series, fetchedAt.UTC().Format(time.RFC3339Nano), len(records)); err != nil {
		return fmt.Errorf("upsert rate snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rate_records (series, position, effective_start, effective_end, annual_rate)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		var end sql.NullString
		if !rec.Open {
			end = sql.NullString{String: rec.EffectiveEnd.ISO(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, series, i, rec.EffectiveStart.ISO(), end, rec.AnnualRate.String()); err != nil {
			return fmt.Errorf("insert rate record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Rate snapshot saved to SQLite",
		"series", series,
		"records", len(records),
		"fetched_at", fetchedAt)
	return nil
}

// LoadRateSnapshot returns the stored schedule in its original order. Open
// records are closed at today. A series never saved yields no records and
// a zero time.
func (r *SQLiteRepository) LoadRateSnapshot(ctx context.Context, series string) ([]core.RateRecord, time.Time, error) {
	var fetchedRaw string
	err := r.db.QueryRowContext(ctx, `SELECT fetched_at FROM rate_snapshots WHERE series = ?`, series).Scan(&fetchedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get rate snapshot: %w", err)
	}
	fetchedAt, err := time.Parse(time.RFC3339Nano, fetchedRaw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse fetched_at %q: %w", fetchedRaw, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT effective_start, effective_end, annual_rate
		FROM rate_records WHERE series = ? ORDER BY position`, series)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("list rate records: %w", err)
	}
	defer rows.Close()

	today := core.DateOf(r.now())
	var records []core.RateRecord
	for rows.Next() {
		var (
			startRaw, rateRaw string
			endRaw            sql.NullString
		)
		if err := rows.Scan(&startRaw, &endRaw, &rateRaw); err != nil {
			return nil, time.Time{}, fmt.Errorf("scan rate record: %w", err)
		}
		rec, err := scanRecord(startRaw, endRaw, rateRaw, today)
		if err != nil {
			return nil, time.Time{}, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("iterate rate records: %w", err)
	}
	return records, fetchedAt, nil
}

func scanRecord(startRaw string, endRaw sql.NullString, rateRaw string, today core.Date) (core.RateRecord, error) {
	start, err := core.ParseDateFlexible(startRaw)
	if err != nil {
		return core.RateRecord{}, fmt.Errorf("stored effective_start: %w", err)
	}
	rate, err := decimal.NewFromString(rateRaw)
	if err != nil {
		return core.RateRecord{}, fmt.Errorf("stored annual_rate %q: %w", rateRaw, err)
	}

	rec := core.RateRecord{EffectiveStart: start, AnnualRate: rate}
	if endRaw.Valid {
		if rec.EffectiveEnd, err = core.ParseDateFlexible(endRaw.String); err != nil {
			return core.RateRecord{}, fmt.Errorf("stored effective_end: %w", err)
		}
		return rec, nil
	}

	rec.Open = true
	rec.EffectiveEnd = today
	if today.Before(start) {
		rec.EffectiveEnd = start
	}
	return rec, nil
}

// SnapshotInfo summarizes a stored series.
type SnapshotInfo struct {
	Series      string    `json:"series"`
	FetchedAt   time.Time `json:"fetched_at"`
	RecordCount int       `json:"record_count"`
}

// ListSnapshots returns every stored series ordered by name.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT series, fetched_at, record_count FROM rate_snapshots ORDER BY series`)
	if err != nil {
		return nil, fmt.Errorf("list rate snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info       SnapshotInfo
			fetchedRaw string
		)
		if err := rows.Scan(&info.Series, &fetchedRaw, &info.RecordCount); err != nil {
			return nil, fmt.Errorf("scan rate snapshot: %w", err)
		}
		if info.FetchedAt, err = time.Parse(time.RFC3339Nano, fetchedRaw); err != nil {
			return nil, fmt.Errorf("parse fetched_at %q: %w", fetchedRaw, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
