package sink

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Chando-ra/fraudprep/internal/frame"
	"github.com/Chando-ra/fraudprep/internal/storage"
)

// Store lands a source's rows in one table of the configured analytical
// store. Rows accumulate in a staging table named after the final table; on
// Close the staging table is renamed into place, so the final table only
// exists once every batch landed. Final table existence is the completion
// marker for store mode.
type Store struct {
	ctx     context.Context
	repo    storage.Repository
	table   string
	staging string

	columns []string
	created bool
	rows    int64
}

// NewStore builds the store sink for one source. table is the final table
// name; the staging table it writes through is derived from it.
func NewStore(ctx context.Context, repo storage.Repository, table string) *Store {
	return &Store{
		ctx:     ctx,
		repo:    repo,
		table:   table,
		staging: table + "__staging",
	}
}

// WriteBatch creates the staging table from the first batch's schema and
// bulk-appends every batch into it.
func (s *Store) WriteBatch(b *frame.Batch) error {
	if !s.created {
		// A retry may have left a half-filled staging table behind.
		if err := s.repo.DropTable(s.ctx, s.staging); err != nil {
			return err
		}
		if err := s.repo.CreateTable(s.ctx, s.staging, storage.DefsFromSchema(b.Schema)); err != nil {
			return err
		}
		s.columns = b.Schema.Names()
		s.created = true
	}
	if len(b.Rows) == 0 {
		return nil
	}
	rows := make([][]any, len(b.Rows))
	for i, row := range b.Rows {
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v.Any()
		}
		rows[i] = vals
	}
	n, err := s.repo.CopyFrom(s.ctx, s.staging, s.columns, rows)
	if err != nil {
		return err
	}
	s.rows += n
	return nil
}

// Close promotes the staging table to the final name. A source whose every
// row was dropped still promotes an empty table, so its completion marker
// appears and the source is not reprocessed. A source that never yielded a
// batch leaves nothing.
func (s *Store) Close() error {
	if !s.created {
		return nil
	}
	if err := s.repo.RenameTable(s.ctx, s.staging, s.table); err != nil {
		return fmt.Errorf("promote table %s: %w", s.table, err)
	}
	log.Info().Str("table", s.table).Int64("rows", s.rows).Msg("store output complete")
	return nil
}

// Abandon drops the staging table so a failed source leaves nothing behind.
func (s *Store) Abandon() {
	if !s.created {
		return
	}
	if err := s.repo.DropTable(s.ctx, s.staging); err != nil {
		log.Debug().Err(err).Str("table", s.staging).Msg("abandoning staging table")
	}
	s.created = false
}
