package source

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// writeArchive builds a .tar.gz on disk from name→content pairs, preserving
// member order.
func writeArchive(t *testing.T, path string, members [][2]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, m := range members {
		hdr := &tar.Header{Name: m[0], Mode: 0o644, Size: int64(len(m[1])), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(m[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func collect(t *testing.T, ents Entries) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for {
		e, err := ents.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		b, err := io.ReadAll(e.Reader)
		if err != nil {
			t.Fatalf("read %s: %v", e.Name, err)
		}
		out[e.Name] = string(b)
	}
}

func TestIsArchive(t *testing.T) {
	if !IsArchive("data/export.tar.gz") {
		t.Error("tar.gz not recognized")
	}
	if IsArchive("data/export.tsv") || IsArchive("data/export.gz") {
		t.Error("non-archive recognized as archive")
	}
}

func TestPlainFileSingleEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.tsv")
	if err := os.WriteFile(path, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ents, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ents.Close()

	got := collect(t, ents)
	if len(got) != 1 || got[path] != "id\n1\n" {
		t.Errorf("entries = %v", got)
	}
}

func TestArchiveFiltersMembers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.tar.gz")
	writeArchive(t, path, [][2]string{
		{"part1.tsv", "id\n1\n"},
		{"readme.md", "ignore me"},
		{"part2.txt", "id\n2\n"},
	})
	ents, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ents.Close()

	got := collect(t, ents)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(got), got)
	}
	if got["part1.tsv"] != "id\n1\n" || got["part2.txt"] != "id\n2\n" {
		t.Errorf("entries = %v", got)
	}
}

func TestArchiveSuffixOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.tar.gz")
	writeArchive(t, path, [][2]string{
		{"a.tsv", "x"},
		{"b.dat", "y"},
	})
	ents, err := Open(context.Background(), path, []string{".dat"})
	if err != nil {
		t.Fatal(err)
	}
	defer ents.Close()

	got := collect(t, ents)
	if len(got) != 1 || got["b.dat"] != "y" {
		t.Errorf("entries = %v", got)
	}
}

func TestArchiveNoMatchingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.tar.gz")
	writeArchive(t, path, [][2]string{{"readme.md", "nope"}})
	ents, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ents.Close()

	_, err = ents.Next()
	if !errors.Is(err, ErrNoMatchingEntry) {
		t.Errorf("got %v, want ErrNoMatchingEntry", err)
	}
}

func TestCorruptArchive(t *testing.T) {
	t.Run("bad gzip header", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "export.tar.gz")
		if err := os.WriteFile(path, []byte("not gzip at all"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Open(context.Background(), path, nil)
		if !errors.Is(err, ErrCorruptArchive) {
			t.Errorf("got %v, want ErrCorruptArchive", err)
		}
	})

	t.Run("truncated tar stream", func(t *testing.T) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write([]byte("short and not a tar header")); err != nil {
			t.Fatal(err)
		}
		if err := gz.Close(); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(t.TempDir(), "export.tar.gz")
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}

		ents, err := Open(context.Background(), path, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer ents.Close()
		if _, err := ents.Next(); !errors.Is(err, ErrCorruptArchive) {
			t.Errorf("got %v, want ErrCorruptArchive", err)
		}
	})
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent.tsv"), nil)
	if err == nil {
		t.Error("opening a missing file succeeded")
	}
}

func TestOpenCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Open(ctx, "anything.tsv", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
