// Package repository reads source-of-truth records from a SQL database.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"regexp"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DefaultDriver is the database/sql driver name used by Open.
const DefaultDriver = "sqlite"

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Source describes which rows of which table feed an index.
type Source struct {
	Table    string `yaml:"table"`
	IDColumn string `yaml:"id_column"`
	// Where is an optional SQL condition, e.g. "status = 1".
	Where string `yaml:"where"`
}

// Open opens a database handle. An empty driver means DefaultDriver.
func Open(driver, dsn string) (*sql.DB, error) {
	if driver == "" {
		driver = DefaultDriver
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return db, nil
}

// SQL is a repository over one table.
type SQL struct {
	db      *sql.DB
	src     Source
	columns []string
	logger  *slog.Logger
}

// NewSQL validates src and loads the table's column set.
func NewSQL(ctx context.Context, db *sql.DB, src Source, logger *slog.Logger) (*SQL, error) {
	if src.IDColumn == "" {
		src.IDColumn = "id"
	}
	if !identRE.MatchString(src.Table) {
		return nil, fmt.Errorf("invalid table name %q", src.Table)
	}
	if !identRE.MatchString(src.IDColumn) {
		return nil, fmt.Errorf("invalid id column %q", src.IDColumn)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &SQL{db: db, src: src, logger: logger}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+src.Table+" LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("load columns of %s: %w", src.Table, err)
	}
	defer rows.Close()
	r.columns, err = rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("load columns of %s: %w", src.Table, err)
	}
	return r, nil
}

// Table is the source table name.
func (r *SQL) Table() string { return r.src.Table }

// Columns lists the table's columns in declaration order.
func (r *SQL) Columns() []string { return append([]string(nil), r.columns...) }

func (r *SQL) where(extra string) string {
	var conds []string
	if r.src.Where != "" {
		conds = append(conds, "("+r.src.Where+")")
	}
	if extra != "" {
		conds = append(conds, extra)
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// Get loads the row with the given id. A missing row yields *NotFoundError.
func (r *SQL) Get(ctx context.Context, id any) (any, error) {
	rec, found, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &NotFoundError{Table: r.src.Table, ID: id}
	}
	return rec, nil
}

// Find loads the row with the given id, reporting whether it exists.
func (r *SQL) Find(ctx context.Context, id any) (*Record, bool, error) {
	query := "SELECT * FROM " + r.src.Table + r.where(r.src.IDColumn+" = ?")
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, false, fmt.Errorf("query %s id %v: %w", r.src.Table, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	rec, err := r.scan(rows)
	if err != nil {
		return nil, false, err
	}
	return rec, true, rows.Err()
}

// New returns an empty record carrying the table's column set.
func (r *SQL) New() *Record {
	return NewRecord(r.src.Table, r.columns)
}

func (r *SQL) scan(rows *sql.Rows) (*Record, error) {
	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan %s row: %w", r.src.Table, err)
	}

	rec := r.New()
	for i, col := range r.columns {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		rec.Fields[col] = v
	}
	id, ok := toInt64(rec.Fields[r.src.IDColumn])
	if !ok {
		return nil, fmt.Errorf("%s.%s is %T, not an integer", r.src.Table, r.src.IDColumn, rec.Fields[r.src.IDColumn])
	}
	rec.ID = id
	return rec, nil
}

// IDs streams the ids of all matching rows in ascending order through a
// cursor. The cursor is closed when iteration stops.
func (r *SQL) IDs(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		query := "SELECT " + r.src.IDColumn + " FROM " + r.src.Table + r.where("") + " ORDER BY " + r.src.IDColumn
		rows, err := r.db.QueryContext(ctx, query)
		if err != nil {
			yield(nil, fmt.Errorf("query %s ids: %w", r.src.Table, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				yield(nil, fmt.Errorf("scan %s id: %w", r.src.Table, err))
				return
			}
			if !yield(id, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate %s ids: %w", r.src.Table, err))
		}
	}
}

// Count returns the number of matching rows.
func (r *SQL) Count(ctx context.Context) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM " + r.src.Table + r.where("")
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", r.src.Table, err)
	}
	r.logger.Debug("Counted source rows", "table", r.src.Table, "count", n)
	return n, nil
}
