package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver registration

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/pkg/metrics"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS review_records (
	dedupe_key        TEXT PRIMARY KEY,
	product_id        TEXT NOT NULL,
	segment           TEXT DEFAULT '',
	timestamp         DATETIME NOT NULL,
	rating            REAL NOT NULL,
	review_text       TEXT DEFAULT '',
	helpfulness_votes INTEGER DEFAULT 0,
	price_at_time     REAL,
	sentiment_score   REAL
);
CREATE INDEX IF NOT EXISTS idx_records_product ON review_records(product_id, timestamp);

CREATE TABLE IF NOT EXISTS product_segments (
	product_id TEXT PRIMARY KEY,
	segment    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS shock_events (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	period     DATETIME NOT NULL,
	shock_type TEXT NOT NULL,
	metric     TEXT NOT NULL,
	observed   REAL NOT NULL,
	baseline   REAL NOT NULL,
	magnitude  REAL NOT NULL,
	zscore     REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shocks_product ON shock_events(product_id, period);

CREATE TABLE IF NOT EXISTS sensitivity_estimates (
	id                TEXT PRIMARY KEY,
	product_id        TEXT NOT NULL,
	shock_id          TEXT NOT NULL,
	target_metric     TEXT NOT NULL,
	pre_start         DATETIME NOT NULL,
	pre_end           DATETIME NOT NULL,
	post_start        DATETIME NOT NULL,
	post_end          DATETIME NOT NULL,
	estimated_effect  REAL NOT NULL,
	ci_lower          REAL NOT NULL,
	ci_upper          REAL NOT NULL,
	ci_level          REAL NOT NULL,
	control_group_ids TEXT DEFAULT '',
	computed_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_estimates_product ON sensitivity_estimates(product_id);

CREATE TABLE IF NOT EXISTS estimate_skips (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id  TEXT NOT NULL,
	shock_id    TEXT NOT NULL,
	reason      TEXT NOT NULL,
	detail      TEXT DEFAULT '',
	recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_skips_product ON estimate_skips(product_id);

CREATE TABLE IF NOT EXISTS resilience_labels (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id  TEXT NOT NULL,
	label       TEXT NOT NULL,
	computed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_labels_product ON resilience_labels(product_id, computed_at);
`

// SQLiteStore persists records and outcomes in a SQLite file. It is the
// audit surface: every run's estimates, skips, and labels accumulate, and
// label history survives across runs. A single connection serializes writes
// from the worker pools.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteStore opens (creating when absent) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open results db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create results schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// IngestRecord validates, deduplicates, and appends one record.
func (s *SQLiteStore) IngestRecord(ctx context.Context, rec model.ReviewRecord) (bool, error) {
	defer func(start time.Time) { metrics.ObserveStoreWriteLatency(time.Since(start).Seconds()) }(time.Now())
	if err := rec.Validate(); err != nil {
		return false, err
	}
	if s.closed.Load() {
		return false, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO review_records
		 (dedupe_key, product_id, segment, timestamp, rating, review_text, helpfulness_votes, price_at_time, sentiment_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key(), rec.ProductID, rec.Segment, rec.Timestamp.UTC(), rec.Rating,
		rec.ReviewText, rec.HelpfulnessVotes, rec.PriceAtTime, rec.SentimentScore,
	)
	if err != nil {
		return false, fmt.Errorf("insert record for %s: %w", rec.ProductID, err)
	}
	added, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record for %s: %w", rec.ProductID, err)
	}
	if added == 0 {
		return false, nil
	}

	// First non-empty segment tag wins, matching the in-memory store.
	if rec.Segment != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO product_segments (product_id, segment) VALUES (?, ?)`,
			rec.ProductID, rec.Segment,
		); err != nil {
			return false, fmt.Errorf("assign segment for %s: %w", rec.ProductID, err)
		}
	}
	return true, tx.Commit()
}

// Products returns every product with at least one record, sorted.
func (s *SQLiteStore) Products(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT product_id FROM review_records ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []string
	for rows.Next() {
		var productID string
		if err := rows.Scan(&productID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, productID)
	}
	return products, rows.Err()
}

// RecordsOf returns a product's records in timestamp order.
func (s *SQLiteStore) RecordsOf(ctx context.Context, productID string) ([]model.ReviewRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, segment, timestamp, rating, review_text, helpfulness_votes, price_at_time, sentiment_score
		 FROM review_records WHERE product_id = ? ORDER BY timestamp, dedupe_key`, productID)
	if err != nil {
		return nil, fmt.Errorf("read records of %s: %w", productID, err)
	}
	defer rows.Close()

	var records []model.ReviewRecord
	for rows.Next() {
		var (
			rec       model.ReviewRecord
			price     sql.NullFloat64
			sentiment sql.NullFloat64
		)
		if err := rows.Scan(&rec.ProductID, &rec.Segment, &rec.Timestamp, &rec.Rating,
			&rec.ReviewText, &rec.HelpfulnessVotes, &price, &sentiment); err != nil {
			return nil, fmt.Errorf("scan record of %s: %w", productID, err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		if price.Valid {
			rec.PriceAtTime = &price.Float64
		}
		if sentiment.Valid {
			rec.SentimentScore = &sentiment.Float64
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	return records, nil
}

// SegmentOf returns the product's segment assignment.
func (s *SQLiteStore) SegmentOf(ctx context.Context, productID string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	var segment string
	err := s.db.QueryRowContext(ctx,
		`SELECT segment FROM product_segments WHERE product_id = ?`, productID).Scan(&segment)
	if err == nil {
		return segment, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("read segment of %s: %w", productID, err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_records WHERE product_id = ?`, productID).Scan(&count); err != nil {
		return "", fmt.Errorf("read segment of %s: %w", productID, err)
	}
	if count == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	return "", nil
}

// Segments returns every segment with its sorted member products.
func (s *SQLiteStore) Segments(ctx context.Context) (map[string][]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, segment FROM product_segments ORDER BY segment, product_id`)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	segments := make(map[string][]string)
	for rows.Next() {
		var productID, segment string
		if err := rows.Scan(&productID, &segment); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments[segment] = append(segments[segment], productID)
	}
	return segments, rows.Err()
}

// SaveShock appends a shock event, ignoring re-detections of the same ID.
func (s *SQLiteStore) SaveShock(ctx context.Context, ev model.ShockEvent) error {
	defer func(start time.Time) { metrics.ObserveStoreWriteLatency(time.Since(start).Seconds()) }(time.Now())
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO shock_events
		 (id, product_id, period, shock_type, metric, observed, baseline, magnitude, zscore)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.ProductID, ev.Period.UTC(), string(ev.ShockType), string(ev.Metric),
		ev.Observed, ev.Baseline, ev.Magnitude, ev.ZScore,
	)
	if err != nil {
		return fmt.Errorf("save shock %s: %w", ev.ID, err)
	}
	return nil
}

// ShocksOf returns a product's shocks in period order.
func (s *SQLiteStore) ShocksOf(ctx context.Context, productID string) ([]model.ShockEvent, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, period, shock_type, metric, observed, baseline, magnitude, zscore
		 FROM shock_events WHERE product_id = ? ORDER BY period, shock_type`, productID)
	if err != nil {
		return nil, fmt.Errorf("read shocks of %s: %w", productID, err)
	}
	defer rows.Close()

	var shocks []model.ShockEvent
	for rows.Next() {
		var ev model.ShockEvent
		var idStr, shockType, metric string
		if err := rows.Scan(&idStr, &ev.ProductID, &ev.Period, &shockType, &metric,
			&ev.Observed, &ev.Baseline, &ev.Magnitude, &ev.ZScore); err != nil {
			return nil, fmt.Errorf("scan shock of %s: %w", productID, err)
		}
		ev.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse shock id %q: %w", idStr, err)
		}
		ev.Period = ev.Period.UTC()
		ev.ShockType = model.ShockType(shockType)
		ev.Metric = model.Metric(metric)
		shocks = append(shocks, ev)
	}
	return shocks, rows.Err()
}

// SaveEstimate appends an estimate row.
func (s *SQLiteStore) SaveEstimate(ctx context.Context, est model.SensitivityEstimate) error {
	defer func(start time.Time) { metrics.ObserveStoreWriteLatency(time.Since(start).Seconds()) }(time.Now())
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensitivity_estimates
		 (id, product_id, shock_id, target_metric, pre_start, pre_end, post_start, post_end,
		  estimated_effect, ci_lower, ci_upper, ci_level, control_group_ids, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		est.ID.String(), est.ProductID, est.ShockID.String(), string(est.TargetMetric),
		est.PrePeriodWindow.Start.UTC(), est.PrePeriodWindow.End.UTC(),
		est.PostPeriodWindow.Start.UTC(), est.PostPeriodWindow.End.UTC(),
		est.EstimatedEffect, est.ConfidenceInterval.Lower, est.ConfidenceInterval.Upper,
		est.ConfidenceInterval.Level, strings.Join(est.ControlGroupIDs, ","), est.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save estimate %s: %w", est.ID, err)
	}
	return nil
}

// EstimatesOf returns a product's full estimate history.
func (s *SQLiteStore) EstimatesOf(ctx context.Context, productID string) ([]model.SensitivityEstimate, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, shock_id, target_metric, pre_start, pre_end, post_start, post_end,
		        estimated_effect, ci_lower, ci_upper, ci_level, control_group_ids, computed_at
		 FROM sensitivity_estimates WHERE product_id = ? ORDER BY computed_at, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("read estimates of %s: %w", productID, err)
	}
	defer rows.Close()

	var estimates []model.SensitivityEstimate
	for rows.Next() {
		var (
			est               model.SensitivityEstimate
			idStr, shockIDStr string
			metric, controls  string
		)
		if err := rows.Scan(&idStr, &est.ProductID, &shockIDStr, &metric,
			&est.PrePeriodWindow.Start, &est.PrePeriodWindow.End,
			&est.PostPeriodWindow.Start, &est.PostPeriodWindow.End,
			&est.EstimatedEffect, &est.ConfidenceInterval.Lower, &est.ConfidenceInterval.Upper,
			&est.ConfidenceInterval.Level, &controls, &est.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan estimate of %s: %w", productID, err)
		}
		est.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse estimate id %q: %w", idStr, err)
		}
		est.ShockID, err = uuid.Parse(shockIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse shock id %q: %w", shockIDStr, err)
		}
		est.TargetMetric = model.Metric(metric)
		if controls != "" {
			est.ControlGroupIDs = strings.Split(controls, ",")
		}
		est.PrePeriodWindow.Start = est.PrePeriodWindow.Start.UTC()
		est.PrePeriodWindow.End = est.PrePeriodWindow.End.UTC()
		est.PostPeriodWindow.Start = est.PostPeriodWindow.Start.UTC()
		est.PostPeriodWindow.End = est.PostPeriodWindow.End.UTC()
		est.ComputedAt = est.ComputedAt.UTC()
		estimates = append(estimates, est)
	}
	return estimates, rows.Err()
}

// SaveSkip appends a skip audit record.
func (s *SQLiteStore) SaveSkip(ctx context.Context, skip model.EstimateSkip) error {
	defer func(start time.Time) { metrics.ObserveStoreWriteLatency(time.Since(start).Seconds()) }(time.Now())
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO estimate_skips (product_id, shock_id, reason, detail, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		skip.ProductID, skip.ShockID.String(), string(skip.Reason), skip.Detail, skip.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save skip for %s: %w", skip.ProductID, err)
	}
	return nil
}

// SkipsOf returns a product's skip history.
func (s *SQLiteStore) SkipsOf(ctx context.Context, productID string) ([]model.EstimateSkip, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, shock_id, reason, detail, recorded_at
		 FROM estimate_skips WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("read skips of %s: %w", productID, err)
	}
	defer rows.Close()

	var skips []model.EstimateSkip
	for rows.Next() {
		var skip model.EstimateSkip
		var shockID, reason string
		if err := rows.Scan(&skip.ProductID, &shockID, &reason, &skip.Detail, &skip.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan skip of %s: %w", productID, err)
		}
		skip.ShockID, err = uuid.Parse(shockID)
		if err != nil {
			return nil, fmt.Errorf("parse shock id %q: %w", shockID, err)
		}
		skip.Reason = model.SkipReason(reason)
		skip.RecordedAt = skip.RecordedAt.UTC()
		skips = append(skips, skip)
	}
	return skips, rows.Err()
}

// SaveLabel appends a resilience label to the product's history.
func (s *SQLiteStore) SaveLabel(ctx context.Context, label model.ResilienceLabel) error {
	defer func(start time.Time) { metrics.ObserveStoreWriteLatency(time.Since(start).Seconds()) }(time.Now())
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resilience_labels (product_id, label, computed_at) VALUES (?, ?, ?)`,
		label.ProductID, string(label.Label), label.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save label for %s: %w", label.ProductID, err)
	}
	return nil
}

// LabelHistory returns a product's labels oldest-first.
func (s *SQLiteStore) LabelHistory(ctx context.Context, productID string) ([]model.ResilienceLabel, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, label, computed_at FROM resilience_labels
		 WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("read labels of %s: %w", productID, err)
	}
	defer rows.Close()

	return scanLabels(rows)
}

// LatestLabels returns each labeled product's newest label, sorted by
// product. Append order decides recency: labels within one run share a
// computed_at stamp.
func (s *SQLiteStore) LatestLabels(ctx context.Context) ([]model.ResilienceLabel, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, label, computed_at FROM resilience_labels
		 WHERE id IN (SELECT MAX(id) FROM resilience_labels GROUP BY product_id)
		 ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("read latest labels: %w", err)
	}
	defer rows.Close()

	return scanLabels(rows)
}

func scanLabels(rows *sql.Rows) ([]model.ResilienceLabel, error) {
	var labels []model.ResilienceLabel
	for rows.Next() {
		var (
			label model.ResilienceLabel
			value string
		)
		if err := rows.Scan(&label.ProductID, &value, &label.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		label.Label = model.Resilience(value)
		label.ComputedAt = label.ComputedAt.UTC()
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
