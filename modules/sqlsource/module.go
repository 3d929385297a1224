// Package sqlsource extracts one partition of a relational source into the
// landing zone. The source is a SQLite database; each attempt runs a
// partition-parameterised query and rewrites the landing dataset.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/fsutil"
	"github.com/vk/medallion/internal/registry"
)

// OperationName is the extract operation registered by this module.
const OperationName = "rds_extract"

const dayLayout = "2006-01-02"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the extractor with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterExtractor(OperationName, collaborator.ExtractorFunc(Extract))
}

// Extract runs the configured query for req.Partition and writes every row
// to req.Destination.
//
// Parameters:
//
//	dsn               path of the source database (required)
//	query             SQL using :start and :end (inclusive days, YYYY-MM-DD)
//	table             used with partition_column when query is not set
//	partition_column  column holding the record's date
func Extract(ctx context.Context, req collaborator.ExtractRequest) (collaborator.Result, error) {
	logger := ctxlog.FromContext(ctx).With("operation", OperationName, "source", req.Source)

	dsn, err := collaborator.RequireParam(req.Params, "dsn")
	if err != nil {
		return collaborator.Result{}, err
	}
	query, err := buildQuery(req.Params)
	if err != nil {
		return collaborator.Result{}, err
	}

	db, err := sql.Open("sqlite3", readOnlyDSN(dsn))
	if err != nil {
		return collaborator.Result{}, fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query,
		sql.Named("start", req.Partition.Start().Format(dayLayout)),
		sql.Named("end", req.Partition.End().Format(dayLayout)),
	)
	if err != nil {
		return collaborator.Result{}, classify(fmt.Errorf("failed to query source: %w", err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return collaborator.Result{}, classify(err)
	}

	out, err := fsutil.CreateDataset(req.Destination)
	if err != nil {
		return collaborator.Result{}, err
	}
	defer out.Abort()

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return collaborator.Result{}, classify(fmt.Errorf("failed to scan row: %w", err))
		}
		rec := make(fsutil.Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = values[i]
			}
		}
		if err := out.Write(rec); err != nil {
			return collaborator.Result{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return collaborator.Result{}, classify(fmt.Errorf("failed reading source rows: %w", err))
	}

	n, err := out.Commit()
	if err != nil {
		return collaborator.Result{}, err
	}
	logger.Info("Extracted partition from relational source.", "rows", n, "destination", req.Destination)
	return collaborator.Result{Rows: n}, nil
}

func buildQuery(params map[string]string) (string, error) {
	if q := params["query"]; q != "" {
		return q, nil
	}
	table, terr := collaborator.RequireParam(params, "table")
	column, cerr := collaborator.RequireParam(params, "partition_column")
	if terr != nil || cerr != nil {
		return "", failure.Permanentf("either query or both table and partition_column must be set")
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE date(%s) BETWEEN :start AND :end",
		quoteIdent(table), quoteIdent(column)), nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// readOnlyDSN opens a plain file path read-only. DSNs already written as
// URIs are left untouched.
func readOnlyDSN(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return "file:" + (&url.URL{Path: dsn}).EscapedPath() + "?mode=ro"
}

// classify marks contention and availability errors transient and every
// other engine error (bad SQL, missing table) permanent.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
		return failure.Transient(err)
	default:
		return failure.Permanent(err)
	}
}
