package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/runstore"
)

const dayLayout = "2006-01-02"

const runColumns = `id, pipeline, partition_key, state, forced, error, started_at, ended_at`

// CreateRun implements runstore.Store.
func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		active, err := activeRun(ctx, tx, run.Pipeline, run.Partition)
		if err != nil && !errors.Is(err, runstore.ErrNotFound) {
			return err
		}
		if active != nil {
			return runstore.InFlight(active, run.Partition)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (id, pipeline, partition_key, partition_start, partition_end, state, forced, error, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Pipeline, run.Partition.String(),
			run.Partition.Start().Format(dayLayout), run.Partition.End().Format(dayLayout),
			string(run.State), run.Forced, run.Error, run.StartedAt.UTC(), utcPtr(run.EndedAt))
		if err != nil {
			return err
		}
		for i, ti := range run.Tasks {
			if err := insertTask(ctx, tx, i, ti); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return &failure.ConcurrencyConflictError{
			Pipeline:  run.Pipeline,
			Partition: run.Partition.String(),
			Reason:    "a run for this partition is already in flight",
		}
	}
	if err != nil {
		var conflict *failure.ConcurrencyConflictError
		if errors.As(err, &conflict) {
			return err
		}
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, position int, ti *model.TaskInstance) error {
	results, err := encodeResults(ti.Quality)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_instances (run_id, position, task_id, kind, state, attempts, error, error_class,
			rows_processed, quality_score, quality_results, output, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ti.RunID, position, ti.TaskID, string(ti.Kind), string(ti.State), ti.Attempts, ti.Error, string(ti.ErrorClass),
		ti.Rows, ti.QualityScore, results, ti.Output, utcPtr(ti.StartedAt), utcPtr(ti.EndedAt))
	return err
}

// SaveRun implements runstore.Store.
func (s *Store) SaveRun(ctx context.Context, run *model.Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, error = ?, ended_at = ? WHERE id = ?`,
		string(run.State), run.Error, utcPtr(run.EndedAt), run.ID)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return expectOneRow(res, "save run "+run.ID)
}

// SaveTask implements runstore.Store.
func (s *Store) SaveTask(ctx context.Context, ti *model.TaskInstance) error {
	results, err := encodeResults(ti.Quality)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_instances SET state = ?, attempts = ?, error = ?, error_class = ?, rows_processed = ?,
			quality_score = ?, quality_results = ?, output = ?, started_at = ?, ended_at = ?
		WHERE run_id = ? AND task_id = ?`,
		string(ti.State), ti.Attempts, ti.Error, string(ti.ErrorClass), ti.Rows,
		ti.QualityScore, results, ti.Output, utcPtr(ti.StartedAt), utcPtr(ti.EndedAt),
		ti.RunID, ti.TaskID)
	if err != nil {
		return fmt.Errorf("save task %s/%s: %w", ti.RunID, ti.TaskID, err)
	}
	return expectOneRow(res, "save task "+ti.TaskID)
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, runstore.ErrNotFound)
	}
	return nil
}

// GetRun implements runstore.Store.
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	runs, err := queryRuns(ctx, s.db, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, runstore.ErrNotFound
	}
	return runs[0], nil
}

// ActiveRun implements runstore.Store.
func (s *Store) ActiveRun(ctx context.Context, pipeline string, key partition.Key) (*model.Run, error) {
	return activeRun(ctx, s.db, pipeline, key)
}

func activeRun(ctx context.Context, q dbtx, pipeline string, key partition.Key) (*model.Run, error) {
	runs, err := queryRuns(ctx, q, `
		SELECT `+runColumns+` FROM runs
		WHERE pipeline = ? AND state IN ('pending', 'running')
			AND partition_start <= ? AND partition_end >= ?
		ORDER BY seq LIMIT 1`,
		pipeline, key.End().Format(dayLayout), key.Start().Format(dayLayout))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, runstore.ErrNotFound
	}
	return runs[0], nil
}

// LatestRun implements runstore.Store.
func (s *Store) LatestRun(ctx context.Context, pipeline string, key partition.Key) (*model.Run, error) {
	runs, err := queryRuns(ctx, s.db, `
		SELECT `+runColumns+` FROM runs
		WHERE pipeline = ? AND partition_key = ?
		ORDER BY started_at DESC, seq DESC LIMIT 1`,
		pipeline, key.String())
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, runstore.ErrNotFound
	}
	return runs[0], nil
}

// ListRuns implements runstore.Store.
func (s *Store) ListRuns(ctx context.Context, f runstore.Filter) ([]*model.Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, f.Pipeline)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return queryRuns(ctx, s.db, query, args...)
}

// NonTerminalRuns implements runstore.Store.
func (s *Store) NonTerminalRuns(ctx context.Context) ([]*model.Run, error) {
	return queryRuns(ctx, s.db, `
		SELECT `+runColumns+` FROM runs
		WHERE state IN ('pending', 'running')
		ORDER BY started_at, seq`)
}

// queryRuns loads run headers, then their task instances. Headers are fully
// read before the second query so a single connection is never held twice.
func queryRuns(ctx context.Context, q dbtx, query string, args ...any) ([]*model.Run, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("query runs: %w", err)
	}
	rows.Close()

	for _, run := range runs {
		if run.Tasks, err = queryTasks(ctx, q, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func scanRun(rows *sql.Rows) (*model.Run, error) {
	var (
		run       model.Run
		key       string
		state     string
		startedAt sql.NullTime
		endedAt   sql.NullTime
	)
	if err := rows.Scan(&run.ID, &run.Pipeline, &key, &state, &run.Forced, &run.Error, &startedAt, &endedAt); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	var err error
	if run.Partition, err = partition.Parse(key); err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, err)
	}
	if run.State, err = model.ParseRunState(state); err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, err)
	}
	run.StartedAt = startedAt.Time
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return &run, nil
}

func queryTasks(ctx context.Context, q dbtx, runID string) ([]*model.TaskInstance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT task_id, kind, state, attempts, error, error_class, rows_processed,
			quality_score, quality_results, output, started_at, ended_at
		FROM task_instances WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query tasks of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*model.TaskInstance
	for rows.Next() {
		var (
			ti                 = &model.TaskInstance{RunID: runID}
			kind, state, class string
			score              sql.NullFloat64
			results            sql.NullString
			startedAt, endedAt sql.NullTime
		)
		err := rows.Scan(&ti.TaskID, &kind, &state, &ti.Attempts, &ti.Error, &class, &ti.Rows,
			&score, &results, &ti.Output, &startedAt, &endedAt)
		if err != nil {
			return nil, fmt.Errorf("scan task of run %s: %w", runID, err)
		}
		ti.Kind = model.TaskKind(kind)
		if ti.State, err = model.ParseTaskState(state); err != nil {
			return nil, fmt.Errorf("run %s task %s: %w", runID, ti.TaskID, err)
		}
		ti.ErrorClass = failure.Class(class)
		if score.Valid {
			v := score.Float64
			ti.QualityScore = &v
		}
		if results.Valid {
			if err := json.Unmarshal([]byte(results.String), &ti.Quality); err != nil {
				return nil, fmt.Errorf("run %s task %s: decode quality results: %w", runID, ti.TaskID, err)
			}
		}
		if startedAt.Valid {
			t := startedAt.Time
			ti.StartedAt = &t
		}
		if endedAt.Valid {
			t := endedAt.Time
			ti.EndedAt = &t
		}
		out = append(out, ti)
	}
	return out, rows.Err()
}

// encodeResults stores quality results as JSON; nil stays NULL.
func encodeResults(results []model.RuleResult) (any, error) {
	if results == nil {
		return nil, nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode quality results: %w", err)
	}
	return string(b), nil
}
