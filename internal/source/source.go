// Package source exposes each logical input file as a lazy sequence of
// (entry name, sequential byte stream) pairs. A plain delimited file yields
// exactly one entry; a .tar.gz archive yields one entry per member whose name
// matches the configured suffixes, decoded on the fly without extracting the
// archive to disk.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoMatchingEntry is returned when an archive contains zero members that
// match the configured suffixes. The run controller treats it as a
// skip-with-warning outcome, not a failure.
var ErrNoMatchingEntry = errors.New("archive contains no matching entries")

// ErrCorruptArchive wraps failures to parse an archive's header or member
// metadata.
var ErrCorruptArchive = errors.New("corrupt archive")

// Entry is one logical input inside a source. Reader is sequential-only; the
// decompression path does not support seeking.
type Entry struct {
	Name   string
	Reader io.Reader
}

// Entries iterates a source's entries. Next returns io.EOF after the last
// entry. An Entry's Reader is valid only until the following Next call.
type Entries interface {
	Next() (*Entry, error)
	Close() error
}

// ArchiveSuffix marks inputs that are routed through the tar.gz adapter.
const ArchiveSuffix = ".tar.gz"

// IsArchive reports whether path names a compressed archive.
func IsArchive(path string) bool { return strings.HasSuffix(path, ArchiveSuffix) }

// Open returns the entry sequence for path. memberSuffixes filters archive
// members (e.g. ".tsv", ".txt"); it is ignored for plain files.
func Open(ctx context.Context, path string, memberSuffixes []string) (Entries, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if IsArchive(path) {
		ents, err := newTarGz(f, path, memberSuffixes)
		if err != nil {
			f.Close()
			return nil, err
		}
		return ents, nil
	}
	return &single{name: path, f: f}, nil
}

// single adapts one plain file to the Entries sequence.
type single struct {
	name string
	f    *os.File
	done bool
}

func (s *single) Next() (*Entry, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return &Entry{Name: s.name, Reader: s.f}, nil
}

func (s *single) Close() error { return s.f.Close() }
