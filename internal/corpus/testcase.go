package corpus

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// ID identifies a testcase within one corpus. IDs are assigned at insertion,
// strictly increasing, and never reused.
type ID uint64

// Sig is the content digest of an input, used for deduplication and as the
// on-disk filename of mirrored inputs.
type Sig [sha1.Size]byte

func Hash(data []byte) Sig {
	return sha1.Sum(data)
}

func (s Sig) String() string {
	return hex.EncodeToString(s[:])
}

// Testcase wraps one input together with the metadata the scheduler and
// feedbacks accumulate about it. Once inserted into a corpus the input
// bytes must not be mutated; mutation always produces a new slice.
type Testcase struct {
	Input    []byte            `json:"input"`
	Sig      Sig               `json:"-"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Filled by calibration and evaluation.
	ExecTime  time.Duration `json:"exec_time"`
	CoverSize int           `json:"cover_size"`
	Depth     int           `json:"depth"`
	Parent    ID            `json:"parent"`
	FoundAt   time.Time     `json:"found_at"`
	Execs     uint64        `json:"execs"`

	// Scheduler-owned weight. Opaque to everything else.
	Score float64 `json:"score"`
}

func NewTestcase(input []byte) *Testcase {
	return &Testcase{
		Input:   input,
		Sig:     Hash(input),
		FoundAt: time.Now(),
	}
}

// SetMeta records a metadata key, allocating the map lazily. Most
// testcases never get metadata beyond the typed fields.
func (tc *Testcase) SetMeta(key, value string) {
	if tc.Metadata == nil {
		tc.Metadata = make(map[string]string)
	}
	tc.Metadata[key] = value
}

func (tc *Testcase) Meta(key string) (string, bool) {
	v, ok := tc.Metadata[key]
	return v, ok
}
