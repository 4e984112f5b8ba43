// Package corpus stores the inputs the engine has decided to keep: the main
// corpus that drives coverage and the append-only solutions corpus holding
// fault-triggering inputs.
package corpus

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for ids that were never assigned or have been
// removed. Hitting it indicates a scheduler or caller bug, not a runtime
// condition to retry.
var ErrNotFound = errors.New("corpus: testcase not found")

type Corpus interface {
	// Add inserts a testcase and returns its id. The corpus takes
	// ownership of the testcase.
	Add(tc *Testcase) (ID, error)
	// Get returns the testcase for id, or ErrNotFound.
	Get(id ID) (*Testcase, error)
	// Replace swaps the testcase stored under an existing id, keeping the
	// id stable. Used to update metadata after calibration.
	Replace(id ID, tc *Testcase) error
	// Remove deletes the testcase for id.
	Remove(id ID) error
	Count() int
	// IDs returns the live ids in insertion order.
	IDs() []ID
}

// InMemory keeps every testcase in memory. It is the main-corpus store for
// one fuzzer instance; durability comes from checkpoints.
type InMemory struct {
	entries map[ID]*Testcase
	order   []ID
	nextID  ID
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[ID]*Testcase)}
}

func (c *InMemory) Add(tc *Testcase) (ID, error) {
	if tc == nil {
		return 0, fmt.Errorf("corpus: add nil testcase")
	}
	id := c.nextID
	c.nextID++
	c.entries[id] = tc
	c.order = append(c.order, id)
	return id, nil
}

func (c *InMemory) Get(id ID) (*Testcase, error) {
	tc, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return tc, nil
}

func (c *InMemory) Replace(id ID, tc *Testcase) error {
	if _, ok := c.entries[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	c.entries[id] = tc
	return nil
}

func (c *InMemory) Remove(id ID) error {
	if _, ok := c.entries[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	delete(c.entries, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (c *InMemory) Count() int { return len(c.entries) }

func (c *InMemory) IDs() []ID {
	ids := make([]ID, len(c.order))
	copy(ids, c.order)
	return ids
}

// RestoreAt reinserts a testcase under its original id during checkpoint
// restore, before any Add.
func (c *InMemory) RestoreAt(id ID, tc *Testcase) error {
	if _, ok := c.entries[id]; ok {
		return fmt.Errorf("corpus: restore collision on id %d", id)
	}
	c.entries[id] = tc
	c.order = append(c.order, id)
	if id >= c.nextID {
		c.nextID = id + 1
	}
	return nil
}
