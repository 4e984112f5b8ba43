package seeds

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"swarmfuzz/internal/mutator"
)

func collect(t *testing.T, ch <-chan []byte, n int) [][]byte {
	t.Helper()
	var out [][]byte
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case data := <-ch:
			out = append(out, data)
		case <-deadline:
			t.Fatalf("got %d candidates, want %d", len(out), n)
		}
	}
	return out
}

func TestImporterLoadsExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "seed1"), []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "seed2"), []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Hidden files are editor droppings, not seeds.
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("skip"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	imp, err := NewImporter(ctx, dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, imp.Candidates(), 2)
	contents := map[string]bool{}
	for _, d := range got {
		contents[string(d)] = true
	}
	if !contents["first"] || !contents["second"] {
		t.Fatalf("unexpected candidates: %v", contents)
	}
	select {
	case d := <-imp.Candidates():
		t.Fatalf("hidden file imported: %q", d)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestImporterPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	imp, err := NewImporter(ctx, dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "dropped"), []byte("late seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := collect(t, imp.Candidates(), 1)
	if string(got[0]) != "late seed" {
		t.Fatalf("candidate = %q", got[0])
	}
}

func TestImporterTruncatesOversized(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, mutator.MaxInputSize*2)
	if err := os.WriteFile(filepath.Join(dir, "huge"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	imp, err := NewImporter(ctx, dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, imp.Candidates(), 1)
	if len(got[0]) != mutator.MaxInputSize {
		t.Fatalf("candidate of %d bytes, want cap %d", len(got[0]), mutator.MaxInputSize)
	}
}

func TestImporterCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "seeds")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := NewImporter(ctx, dir, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("seed dir not created: %v", err)
	}
}

func TestImporterWaitReturnsAfterCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	imp, err := NewImporter(ctx, dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		imp.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
	if _, ok := <-imp.Candidates(); ok {
		t.Fatal("candidates channel still open after shutdown")
	}
}
