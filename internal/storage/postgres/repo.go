// Package postgres implements the store backend on pgx v5, using the COPY
// protocol for bulk appends. Tables live in the public schema unless the
// table name is qualified.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chando-ra/fraudprep/internal/frame"
	"github.com/Chando-ra/fraudprep/internal/storage"
)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg)
	})
}

// Repository is the Postgres-backed storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects a pgx pool using the DSN.
func NewRepository(ctx context.Context, cfg storage.Config) (*Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// mapKind translates logical kinds onto Postgres types.
func mapKind(k frame.Kind) string {
	switch k {
	case frame.KindInt:
		return "BIGINT"
	case frame.KindFloat:
		return "DOUBLE PRECISION"
	case frame.KindBool:
		return "BOOLEAN"
	case frame.KindTime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// TableExists consults the catalog via to_regclass.
func (r *Repository) TableExists(ctx context.Context, table string) (bool, error) {
	var reg *string
	if err := r.pool.QueryRow(ctx, "SELECT to_regclass($1)::text", table).Scan(&reg); err != nil {
		return false, fmt.Errorf("postgres: table lookup: %w", err)
	}
	return reg != nil, nil
}

// CreateTable creates the table; it is an error if the table exists.
func (r *Repository) CreateTable(ctx context.Context, table string, cols []storage.ColumnDef) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", pgIdent(c.Name), mapKind(c.Kind))
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", pgIdent(table), strings.Join(defs, ", "))
	if _, err := r.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", table, err)
	}
	return nil
}

// CopyFrom streams rows via the COPY protocol.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}
	return n, nil
}

// RenameTable promotes a staging table.
func (r *Repository) RenameTable(ctx context.Context, from, to string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", pgIdent(from), pgIdent(to))
	if _, err := r.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: rename %s -> %s: %w", from, to, err)
	}
	return nil
}

// DropTable removes a staging table on the abandon path.
func (r *Repository) DropTable(ctx context.Context, table string) error {
	if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(table)); err != nil {
		return fmt.Errorf("postgres: drop %s: %w", table, err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
