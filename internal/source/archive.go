package source

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// tarGz streams members of a .tar.gz archive. Members are discovered by
// walking the tar stream; non-matching members (directories, unrelated files)
// are skipped without being read. The gzip layer means every member stream is
// sequential-read only.
type tarGz struct {
	path     string
	f        *os.File
	gz       *gzip.Reader
	tr       *tar.Reader
	suffixes []string
	matched  int
}

func newTarGz(f *os.File, path string, suffixes []string) (*tarGz, error) {
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, path, err)
	}
	if len(suffixes) == 0 {
		suffixes = []string{".tsv", ".txt"}
	}
	return &tarGz{
		path:     path,
		f:        f,
		gz:       gz,
		tr:       tar.NewReader(gz),
		suffixes: suffixes,
	}, nil
}

// Next advances to the next matching member. The previous entry's Reader is
// invalidated. At the end of the archive it returns ErrNoMatchingEntry when
// nothing matched, io.EOF otherwise.
func (a *tarGz) Next() (*Entry, error) {
	for {
		hdr, err := a.tr.Next()
		if err == io.EOF {
			if a.matched == 0 {
				return nil, fmt.Errorf("%s: %w", a.path, ErrNoMatchingEntry)
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, a.path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !a.matches(hdr.Name) {
			log.Debug().Str("archive", a.path).Str("member", hdr.Name).Msg("skipping non-matching member")
			continue
		}
		a.matched++
		return &Entry{Name: hdr.Name, Reader: a.tr}, nil
	}
}

func (a *tarGz) matches(name string) bool {
	for _, suf := range a.suffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

func (a *tarGz) Close() error {
	gzErr := a.gz.Close()
	if err := a.f.Close(); err != nil {
		return err
	}
	return gzErr
}
