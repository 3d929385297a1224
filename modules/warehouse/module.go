// Package warehouse loads transformed datasets into serving tables of a
// SQLite database. A load replaces everything previously loaded for the
// same partition key in one transaction, so re-applying it is safe.
package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/fsutil"
	"github.com/vk/medallion/internal/registry"
)

// OperationName is the model operation registered by this module.
const OperationName = "warehouse_load"

// Bookkeeping columns added to every serving table.
const (
	PartitionColumn = "partition_key"
	LoadedAtColumn  = "loaded_at"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Now stamps loaded rows; defaults to time.Now.
	Now func() time.Time
}

// Register registers the modeler with the registry.
func (m *Module) Register(r *registry.Registry) {
	now := m.Now
	if now == nil {
		now = time.Now
	}
	r.RegisterModeler(OperationName, &Loader{now: now})
}

// Loader is the warehouse_load modeler.
//
// Parameters:
//
//	dsn      path of the serving database (required, created if missing)
//	table    serving table (required)
//	columns  comma-separated fields to load (required)
//	origin   only load rows whose _origin field equals this value
type Loader struct {
	now func() time.Time
}

// Load implements collaborator.Modeler.
func (l *Loader) Load(ctx context.Context, req collaborator.LoadRequest) (collaborator.Result, error) {
	logger := ctxlog.FromContext(ctx)

	dsn, err := collaborator.RequireParam(req.Params, "dsn")
	if err != nil {
		return collaborator.Result{}, err
	}
	table, err := collaborator.RequireParam(req.Params, "table")
	if err != nil {
		return collaborator.Result{}, err
	}
	colList, err := collaborator.RequireParam(req.Params, "columns")
	if err != nil {
		return collaborator.Result{}, err
	}
	columns := strings.Split(colList, ",")
	for i, c := range columns {
		columns[i] = strings.TrimSpace(c)
	}
	for _, ident := range append([]string{table}, columns...) {
		if !identRE.MatchString(ident) {
			return collaborator.Result{}, failure.Permanentf("invalid identifier %q", ident)
		}
	}
	origin := req.Params["origin"]

	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		return collaborator.Result{}, fmt.Errorf("failed to open serving database: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return collaborator.Result{}, classify(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createTableSQL(table, columns)); err != nil {
		return collaborator.Result{}, classify(fmt.Errorf("failed to create table %s: %w", table, err))
	}
	key := req.Partition.String()
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, PartitionColumn), key)
	if err != nil {
		return collaborator.Result{}, classify(fmt.Errorf("failed to clear partition: %w", err))
	}
	replaced, _ := res.RowsAffected()

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, columns))
	if err != nil {
		return collaborator.Result{}, classify(err)
	}
	defer stmt.Close()

	loadedAt := l.now().UTC()
	var rows int64
	for _, input := range req.Inputs {
		err := fsutil.ReadDataset(ctx, input, func(rec fsutil.Record) error {
			if origin != "" && rec[fsutil.OriginField] != origin {
				return nil
			}
			args := make([]any, 0, len(columns)+2)
			args = append(args, key, loadedAt)
			for _, c := range columns {
				v, err := sqlValue(rec[c])
				if err != nil {
					return failure.Permanentf("column %s: %v", c, err)
				}
				args = append(args, v)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return classify(fmt.Errorf("failed to insert row: %w", err))
			}
			rows++
			return nil
		})
		if err != nil {
			return collaborator.Result{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return collaborator.Result{}, classify(fmt.Errorf("failed to commit load: %w", err))
	}
	logger.Info("Loaded partition into serving table.", "table", table, "rows", rows, "replaced", replaced)
	return collaborator.Result{Rows: rows}, nil
}

func createTableSQL(table string, columns []string) string {
	defs := []string{PartitionColumn + " TEXT NOT NULL", LoadedAtColumn + " DATETIME NOT NULL"}
	defs = append(defs, columns...)
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);
CREATE INDEX IF NOT EXISTS %s_%s ON %s (%s);`,
		table, strings.Join(defs, ", "), table, PartitionColumn, table, PartitionColumn)
}

func insertSQL(table string, columns []string) string {
	all := append([]string{PartitionColumn, LoadedAtColumn}, columns...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(all, ", "), marks)
}

// sqlValue maps a decoded JSON value to a driver value. Numbers keep their
// integer form when they have one; nested values are stored as JSON text.
func sqlValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64, int64:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked {
		return failure.Transient(err)
	}
	return failure.Permanent(err)
}
