package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/Chando-ra/fraudprep/internal/config"
	"github.com/Chando-ra/fraudprep/internal/storage"
)

const tsvHeader = "SCORE\tEVENT_VALUE\tis_fraud\tEVENT_TIME\thit_rule\n"

func tsvRow(score, value, fraud, ts, rules string) string {
	return strings.Join([]string{score, value, fraud, ts, rules}, "\t") + "\n"
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type archiveMember struct {
	name, content string
}

func writeArchive(t *testing.T, dir, name string, members []archiveMember) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Size: int64(len(m.content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(m.content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return writeInput(t, dir, name, buf.String())
}

func testConfig(input, output string) config.Config {
	cfg := config.Default()
	cfg.Input.Path = input
	cfg.Output.Dir = output
	cfg.Output.Mode = config.ModeAggregate
	return cfg
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "a.tsv", "x")
	writeInput(t, dir, "sub/b.txt", "x")
	writeInput(t, dir, "c.tar.gz", "x")
	writeInput(t, dir, "skip.csv", "x")
	writeInput(t, dir, "tests/fixture.tsv", "x")
	writeInput(t, dir, ".venv/lib.tsv", "x")
	writeInput(t, dir, "scratch/d.tsv", "x")

	t.Run("built-in excludes and suffixes", func(t *testing.T) {
		paths, err := Discover(dir, []string{".tsv", ".txt", ".tar.gz"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{
			filepath.Join(dir, "a.tsv"),
			filepath.Join(dir, "c.tar.gz"),
			filepath.Join(dir, "scratch", "d.tsv"),
			filepath.Join(dir, "sub", "b.txt"),
		}
		if fmt.Sprint(paths) != fmt.Sprint(want) {
			t.Errorf("Discover = %v, want %v", paths, want)
		}
	})

	t.Run("configured excludes", func(t *testing.T) {
		paths, err := Discover(dir, []string{".tsv"}, []string{"scratch"})
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range paths {
			if strings.Contains(p, "scratch") {
				t.Errorf("excluded dir leaked: %s", p)
			}
		}
	})

	t.Run("single file root", func(t *testing.T) {
		file := filepath.Join(dir, "a.tsv")
		paths, err := Discover(file, []string{".tsv"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(paths) != 1 || paths[0] != file {
			t.Errorf("Discover(file) = %v", paths)
		}
	})

	t.Run("missing root is fatal", func(t *testing.T) {
		if _, err := Discover(filepath.Join(dir, "absent"), nil, nil); err == nil {
			t.Error("missing root did not error")
		}
	})
}

func TestStem(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"data/export-2023.tar.gz", "export-2023"},
		{"data/part.tsv", "part"},
		{"part.txt", "part"},
	}
	for _, tt := range tests {
		if got := Stem(tt.path); got != tt.want {
			t.Errorf("Stem(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestAggregateRun(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeInput(t, in, "a.tsv", tsvHeader+
		tsvRow("100", "10", "1", "2023-05-01 10:15:00", "r1 r2")+
		tsvRow("600", "20", "0", "2023-05-01 10:45:00", "r1")+
		tsvRow("1600", "30", "0", "2023-05-01 11:10:00", ""))

	summary, err := New(testConfig(in, out)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 || summary.Rows != 3 {
		t.Fatalf("summary = %+v", summary)
	}

	b, err := os.ReadFile(filepath.Join(out, "rule_summary.tsv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("summary has %d lines, want 4:\n%s", len(lines), b)
	}
	if !strings.HasPrefix(lines[2], "2023-05-01 10:00:00\t2\t2\t1\t") {
		t.Errorf("first bucket line = %q", lines[2])
	}
}

func TestAggregateRunIdempotent(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeInput(t, in, "a.tsv", tsvHeader+tsvRow("100", "1", "0", "2023-05-01 10:00:00", "r1"))

	cfg := testConfig(in, out)
	if _, err := New(cfg).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	summary, err := New(cfg).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 0 || summary.SkippedExists != 1 {
		t.Errorf("rerun summary = %+v", summary)
	}
}

func TestFailureIsolation(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeInput(t, in, "good.tsv", tsvHeader+tsvRow("100", "1", "0", "2023-05-01 10:00:00", "r1"))
	writeInput(t, in, "bad.tar.gz", "this is not a gzip stream")
	// A file whose timestamps never resolve also fails alone.
	writeInput(t, in, "no-time.tsv", tsvHeader+tsvRow("100", "1", "0", "", "r1"))

	summary, err := New(testConfig(in, out)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 || summary.SkippedError != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	for _, res := range summary.Results {
		if res.Outcome == OutcomeSkippedError && res.Err == nil {
			t.Errorf("skipped result %s carries no error", res.Path)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "rule_summary.tsv")); err != nil {
		t.Error("good file did not produce the summary")
	}
}

func TestAggregateExcludesFailedFile(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeInput(t, in, "good.tsv", tsvHeader+
		tsvRow("100", "1", "0", "2023-05-01 10:00:00", "r1"))
	// The second member's header drifts, so the archive fails after its
	// first member already fed the accumulator. Nothing from it may reach
	// the summary.
	writeArchive(t, in, "tainted.tar.gz", []archiveMember{
		{"part1.tsv", tsvHeader + tsvRow("200", "2", "0", "2023-05-01 10:30:00", "r_late")},
		{"part2.tsv", "SCORE\tWRONG\n300\t3\n"},
	})

	summary, err := New(testConfig(in, out)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 || summary.SkippedError != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Rows != 1 {
		t.Errorf("summary counts %d rows, want 1 (failed file lands nothing)", summary.Rows)
	}

	b, err := os.ReadFile(filepath.Join(out, "rule_summary.tsv"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "r_late") {
		t.Errorf("failed file leaked into the summary:\n%s", b)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if !strings.HasPrefix(lines[2], "2023-05-01 10:00:00\t1\t") {
		t.Errorf("bucket line = %q", lines[2])
	}
}

func TestArchiveInput(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeArchive(t, in, "export.tar.gz", []archiveMember{
		{"part1.tsv", tsvHeader + tsvRow("100", "1", "0", "2023-05-01 10:00:00", "r1")},
		{"part2.tsv", tsvHeader + tsvRow("200", "2", "0", "2023-05-01 10:30:00", "r2")},
	})

	summary, err := New(testConfig(in, out)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 || summary.Rows != 2 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestStagingCleanup(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeInput(t, in, "a.tsv", tsvHeader+tsvRow("100", "1", "0", "2023-05-01 10:00:00", "r1"))
	writeInput(t, in, "bad.tar.gz", "corrupt")

	cfg := testConfig(in, out)
	cfg.Output.TempDir = filepath.Join(out, "tmp")
	if _, err := New(cfg).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(cfg.Output.TempDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging not cleaned up: %v", entries)
	}
}

func TestParallelRunMatchesSequential(t *testing.T) {
	in := t.TempDir()
	for i := 0; i < 4; i++ {
		writeInput(t, in, fmt.Sprintf("f%d.tsv", i), tsvHeader+
			tsvRow("100", "1", "0", "2023-05-01 10:00:00", "r1")+
			tsvRow("600", "2", "0", "2023-05-01 11:00:00", fmt.Sprintf("r%d", i)))
	}

	run := func(workers int) string {
		out := t.TempDir()
		cfg := testConfig(in, out)
		cfg.Runtime.Workers = workers
		if _, err := New(cfg).Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(out, "rule_summary.tsv"))
		if err != nil {
			t.Fatal(err)
		}
		return string(b)
	}

	if seq, par := run(1), run(3); seq != par {
		t.Errorf("parallel summary differs from sequential:\n%s\nvs\n%s", seq, par)
	}
}

// fakeRepo is an in-memory storage.Repository for store-mode tests.
type fakeRepo struct {
	mu     sync.Mutex
	tables map[string][][]any
	closed bool
}

func newFakeRepo() *fakeRepo { return &fakeRepo{tables: map[string][][]any{}} }

func (r *fakeRepo) TableExists(_ context.Context, table string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tables[table]
	return ok, nil
}

func (r *fakeRepo) CreateTable(_ context.Context, table string, _ []storage.ColumnDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[table]; ok {
		return fmt.Errorf("table %s exists", table)
	}
	r.tables[table] = nil
	return nil
}

func (r *fakeRepo) CopyFrom(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[table] = append(r.tables[table], rows...)
	return int64(len(rows)), nil
}

func (r *fakeRepo) RenameTable(_ context.Context, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[to] = r.tables[from]
	delete(r.tables, from)
	return nil
}

func (r *fakeRepo) DropTable(_ context.Context, table string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, table)
	return nil
}

func (r *fakeRepo) Close() error {
	r.closed = true
	return nil
}

func TestStoreModeRun(t *testing.T) {
	repo := newFakeRepo()
	orig := newRepositoryFn
	newRepositoryFn = func(_ context.Context, _ storage.Config) (storage.Repository, error) {
		return repo, nil
	}
	t.Cleanup(func() { newRepositoryFn = orig })

	in := t.TempDir()
	writeInput(t, in, "txn-export.tsv", tsvHeader+
		tsvRow("100", "1", "1", "2023-05-01 10:00:00", "r1")+
		tsvRow("600", "2", "0", "2023-05-01 11:00:00", ""))

	cfg := testConfig(in, t.TempDir())
	cfg.Output.Mode = config.ModeStore
	cfg.Storage.DSN = "fake"

	summary, err := New(cfg).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	rows, ok := repo.tables["txn_export"]
	if !ok {
		t.Fatalf("final table absent; tables = %v", keysOf(repo.tables))
	}
	if len(rows) != 2 {
		t.Errorf("table has %d rows, want 2", len(rows))
	}
	if _, staging := repo.tables["txn_export__staging"]; staging {
		t.Error("staging table was not promoted away")
	}
	if !repo.closed {
		t.Error("repository not closed after the run")
	}

	// A second run finds the table and skips the file.
	repo.closed = false
	summary, err = New(cfg).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.SkippedExists != 1 {
		t.Errorf("rerun summary = %+v", summary)
	}
}

func keysOf(m map[string][][]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
