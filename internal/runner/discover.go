package runner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Chando-ra/fraudprep/internal/source"
)

// Directories never descended into, independent of configuration. The raw
// exports land next to scratch tooling and virtualenvs often enough that
// these are excluded unconditionally.
var builtinExcludes = []string{".venv", "__pycache__", ".git", "tests"}

// Discover walks root recursively and returns the qualifying input files in
// sorted order. root may also name a single file, which qualifies as-is. A
// missing root is the one fatal condition of a run.
func Discover(root string, suffixes, excludeDirs []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input root: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	exclude := make(map[string]bool, len(builtinExcludes)+len(excludeDirs))
	for _, d := range builtinExcludes {
		exclude[d] = true
	}
	for _, d := range excludeDirs {
		exclude[d] = true
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && exclude[d.Name()] {
				log.Debug().Str("dir", path).Msg("excluding directory")
				return filepath.SkipDir
			}
			return nil
		}
		if hasAnySuffix(d.Name(), suffixes) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// Stem derives the source identity from its file name: the base name with
// the archive or file suffix removed. It keys output directories, single
// file artifacts, and store tables.
func Stem(path string) string {
	base := filepath.Base(path)
	if source.IsArchive(base) {
		return strings.TrimSuffix(base, source.ArchiveSuffix)
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
