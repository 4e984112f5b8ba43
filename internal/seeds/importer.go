// Package seeds feeds externally provided inputs into the fuzzing loop: an
// import directory is watched, and any file dropped there becomes a corpus
// candidate evaluated through the normal feedback gate.
package seeds

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"swarmfuzz/internal/mutator"
	"swarmfuzz/pkg/watchdog"
)

type Importer struct {
	logger     *zap.Logger
	dir        string
	candidates chan []byte
	done       chan struct{}
}

// NewImporter loads the files already present in dir, then watches dir for
// new ones until ctx is done. Candidates() delivers the file contents.
func NewImporter(ctx context.Context, dir string, logger *zap.Logger) (*Importer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	imp := &Importer{
		logger:     logger.Named("seeds"),
		dir:        dir,
		candidates: make(chan []byte, 256),
		done:       make(chan struct{}),
	}

	notify := make(chan string, 256)
	wd, err := watchdog.New(ctx, notify, func(path string) bool {
		return !strings.HasPrefix(filepath.Base(path), ".")
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := wd.AddDir(dir); err != nil {
		return nil, err
	}

	go imp.run(ctx, notify)
	return imp, nil
}

// Candidates is drained by the fuzzer loop between iterations.
func (i *Importer) Candidates() <-chan []byte { return i.candidates }

// Wait blocks until the watch loop has exited and Candidates is closed.
func (i *Importer) Wait() { <-i.done }

func (i *Importer) run(ctx context.Context, notify <-chan string) {
	defer close(i.done)
	defer close(i.candidates)

	i.loadExisting(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-notify:
			if !ok {
				return
			}
			i.ingest(ctx, path)
		}
	}
}

func (i *Importer) loadExisting(ctx context.Context) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		i.logger.Warn("failed to list seed dir", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		i.ingest(ctx, filepath.Join(i.dir, e.Name()))
	}
}

func (i *Importer) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		i.logger.Warn("failed to read seed", zap.String("path", path), zap.Error(err))
		return
	}
	if len(data) > mutator.MaxInputSize {
		data = data[:mutator.MaxInputSize]
	}
	select {
	case i.candidates <- data:
		i.logger.Debug("seed imported", zap.String("path", path), zap.Int("size", len(data)))
	case <-ctx.Done():
	}
}
