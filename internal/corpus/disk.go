package corpus

import (
	"fmt"
	"os"
	"path/filepath"
)

// Disk wraps another corpus with a directory mirror. Every added input is
// written to disk, under its content digest, before the add returns; the
// solutions corpus runs on top of this so a fault input survives a process
// crash that happens right after discovery.
type Disk struct {
	inner Corpus
	dir   string
}

func NewDisk(inner Corpus, dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("corpus: create dir %s: %w", dir, err)
	}
	return &Disk{inner: inner, dir: dir}, nil
}

func (c *Disk) Add(tc *Testcase) (ID, error) {
	if err := c.persist(tc); err != nil {
		return 0, err
	}
	return c.inner.Add(tc)
}

// persist writes the input atomically: a temp file in the same directory,
// fsync, then rename onto the digest name.
func (c *Disk) persist(tc *Testcase) error {
	final := filepath.Join(c.dir, tc.Sig.String())
	if _, err := os.Stat(final); err == nil {
		return nil // same content already on disk
	}
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("corpus: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(tc.Input); err != nil {
		tmp.Close()
		return fmt.Errorf("corpus: write input: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("corpus: sync input: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("corpus: close input: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("corpus: rename input: %w", err)
	}
	return nil
}

func (c *Disk) Get(id ID) (*Testcase, error)      { return c.inner.Get(id) }
func (c *Disk) Replace(id ID, tc *Testcase) error { return c.inner.Replace(id, tc) }
func (c *Disk) Count() int                        { return c.inner.Count() }
func (c *Disk) IDs() []ID                         { return c.inner.IDs() }

// Remove deletes the in-memory entry only. The on-disk mirror is
// append-only; stale files are cheap and losing a recorded fault is not.
func (c *Disk) Remove(id ID) error { return c.inner.Remove(id) }

// Dir returns the mirror directory.
func (c *Disk) Dir() string { return c.dir }
