// Package storage contains the backend-agnostic contract for the analytical
// store sink plus a factory over the concrete backends (embedded SQLite and
// Postgres). Backends map logical column kinds onto their own SQL types and
// implement bulk append with their most efficient primitive.
package storage

import (
	"context"
	"fmt"

	"github.com/Chando-ra/fraudprep/internal/frame"
)

// ColumnDef describes one destination column in logical terms; backends
// translate Kind to a concrete SQL type.
type ColumnDef struct {
	Name string
	Kind frame.Kind
}

// Repository is the minimal interface the store sink needs. Table names are
// passed per call because each source file lands in its own table.
type Repository interface {
	// TableExists reports whether table is present; its existence is the
	// completion marker for store mode.
	TableExists(ctx context.Context, table string) (bool, error)

	// CreateTable creates table with the given columns. It fails if the
	// table already exists.
	CreateTable(ctx context.Context, table string, cols []ColumnDef) error

	// CopyFrom bulk-appends rows (aligned to columns order) into table
	// and returns the number of rows inserted.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// RenameTable atomically promotes a staging table to its final name.
	RenameTable(ctx context.Context, from, to string) error

	// DropTable removes table if present; used to abandon staging.
	DropTable(ctx context.Context, table string) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Kind selects the backend: "sqlite" (default) or "postgres".
	Kind string `json:"kind"`

	// DSN is the backend connection string; for SQLite a file path such
	// as "output/data.db" works as-is.
	DSN string `json:"dsn"`
}

// Factory builds a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var factories = map[string]Factory{}

// Register installs a backend factory. Backends call this from init; callers
// select a backend with Config.Kind (see the storage/all package for the
// standard set).
func Register(kind string, f Factory) { factories[kind] = f }

// New constructs the configured Repository.
func New(ctx context.Context, cfg Config) (Repository, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = "sqlite"
	}
	f, ok := factories[kind]
	if !ok {
		return nil, unknownKind(kind)
	}
	return f(ctx, cfg)
}

// DefsFromSchema converts a frame schema into logical column definitions.
func DefsFromSchema(s *frame.Schema) []ColumnDef {
	defs := make([]ColumnDef, s.Len())
	for i := 0; i < s.Len(); i++ {
		c := s.Col(i)
		defs[i] = ColumnDef{Name: c.Name, Kind: c.Kind}
	}
	return defs
}

func unknownKind(kind string) error {
	return fmt.Errorf("unsupported storage.kind=%q (want sqlite or postgres)", kind)
}
