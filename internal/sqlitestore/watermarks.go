package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/watermark"
)

// Get implements watermark.Store.
func (s *Store) Get(ctx context.Context, pipeline, source string) (partition.Key, bool, error) {
	return getWatermark(ctx, s.db, pipeline, source)
}

func getWatermark(ctx context.Context, q dbtx, pipeline, source string) (partition.Key, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT partition_key FROM watermarks WHERE pipeline = ? AND source = ?`,
		pipeline, source).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return partition.Key{}, false, nil
	}
	if err != nil {
		return partition.Key{}, false, fmt.Errorf("read watermark %s/%s: %w", pipeline, source, err)
	}
	key, err := partition.Parse(raw)
	if err != nil {
		return partition.Key{}, false, fmt.Errorf("read watermark %s/%s: %w", pipeline, source, err)
	}
	return key, true, nil
}

// List implements watermark.Store.
func (s *Store) List(ctx context.Context) ([]watermark.Watermark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pipeline, source, partition_key, run_id, updated_at FROM watermarks ORDER BY pipeline, source`)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()

	var out []watermark.Watermark
	for rows.Next() {
		var (
			wm  watermark.Watermark
			raw string
		)
		if err := rows.Scan(&wm.Pipeline, &wm.Source, &raw, &wm.RunID, &wm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list watermarks: %w", err)
		}
		if wm.Partition, err = partition.Parse(raw); err != nil {
			return nil, fmt.Errorf("list watermarks: %w", err)
		}
		out = append(out, wm)
	}
	return out, rows.Err()
}

// Advance implements watermark.Store. All updates share one transaction.
func (s *Store) Advance(ctx context.Context, pipeline, runID string, updates []watermark.Update) error {
	if err := watermark.CheckForward(pipeline, updates); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			current, _, err := getWatermark(ctx, tx, pipeline, u.Source)
			if err != nil {
				return err
			}
			if !current.Equal(u.Expected) {
				return watermark.Conflict(pipeline, u.Source, u.Expected, current)
			}
		}
		now := time.Now().UTC()
		for _, u := range updates {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO watermarks (pipeline, source, partition_key, run_id, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (pipeline, source) DO UPDATE SET
					partition_key = excluded.partition_key,
					run_id        = excluded.run_id,
					updated_at    = excluded.updated_at`,
				pipeline, u.Source, u.Next.String(), runID, now)
			if err != nil {
				return fmt.Errorf("advance watermark %s/%s: %w", pipeline, u.Source, err)
			}
		}
		return nil
	})
}
