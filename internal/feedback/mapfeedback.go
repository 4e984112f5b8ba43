package feedback

import (
	"strconv"
	"sync"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/executor"
	"swarmfuzz/internal/observer"
)

// MapFeedback judges a run interesting when its coverage map shows a
// counter bucket the campaign has never seen in that cell. The history is
// a "virgin" map holding the maximum quantized counter per cell; check and
// update happen inside one critical section, so two concurrent evaluations
// of the same discovery claim it exactly once.
type MapFeedback struct {
	mu     sync.Mutex
	virgin []byte

	lastNovel int // cells newly claimed by the last interesting run
	lastCover int // nonzero cells of the last interesting run
}

func NewMap(size int) *MapFeedback {
	if size <= 0 {
		size = observer.DefaultMapSize
	}
	return &MapFeedback{virgin: make([]byte, size)}
}

func (f *MapFeedback) IsInteresting(obs *observer.Set, res executor.Result) bool {
	cov := obs.Coverage()
	if cov == nil || cov.Len() != len(f.virgin) {
		return false
	}
	cur := cov.Mem()

	f.mu.Lock()
	defer f.mu.Unlock()
	novel := 0
	for i, raw := range cur {
		if raw == 0 {
			continue
		}
		b := bucket(raw)
		if b > f.virgin[i] {
			f.virgin[i] = b
			novel++
		}
	}
	if novel == 0 {
		return false
	}
	f.lastNovel = novel
	f.lastCover = cov.CountNonZero()
	return true
}

func (f *MapFeedback) AppendMetadata(tc *corpus.Testcase) {
	f.mu.Lock()
	novel, cover := f.lastNovel, f.lastCover
	f.mu.Unlock()
	tc.CoverSize = cover
	tc.SetMeta("novel_edges", strconv.Itoa(novel))
}

// History snapshots the virgin map for checkpoints.
func (f *MapFeedback) History() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.virgin...)
}

// RestoreHistory replaces the virgin map from a checkpoint. A size
// mismatch means the campaign profile changed; the history is kept fresh
// instead.
func (f *MapFeedback) RestoreHistory(virgin []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(virgin) != len(f.virgin) {
		return false
	}
	copy(f.virgin, virgin)
	return true
}

// EdgesSeen counts cells ever hit across the campaign.
func (f *MapFeedback) EdgesSeen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.virgin {
		if v != 0 {
			n++
		}
	}
	return n
}

// bucket quantizes a raw hit counter. Without it every counter wiggle
// looks novel and the corpus inflates.
func bucket(x byte) byte {
	switch {
	case x <= 2:
		return x
	case x <= 4:
		return 4
	case x <= 8:
		return 8
	case x <= 16:
		return 16
	case x <= 32:
		return 32
	case x <= 64:
		return 64
	}
	return 255
}
