package observer

// DefaultMapSize matches the usual edge-counter map of instrumented
// targets.
const DefaultMapSize = 1 << 16

// Map observes a fixed-size array of edge hit counters. The backing slice
// is the memory the instrumentation writes into: a mmapped file shared
// with a child process, or a plain slice for in-process harnesses. The
// shape is fixed for the lifetime of the executor regardless of which
// backend fills it.
type Map struct {
	name string
	mem  []byte
}

// NewMap creates a map observer over freshly allocated memory.
func NewMap(name string, size int) *Map {
	if size <= 0 {
		size = DefaultMapSize
	}
	return &Map{name: name, mem: make([]byte, size)}
}

// NewMapFromMem creates a map observer over externally owned memory, e.g.
// a region mmapped from the coverage file shared with a forked target.
func NewMapFromMem(name string, mem []byte) *Map {
	return &Map{name: name, mem: mem}
}

func (m *Map) Name() string { return m.name }

func (m *Map) Reset() {
	for i := range m.mem {
		m.mem[i] = 0
	}
}

func (m *Map) PostExec() {}

// Mem exposes the backing memory for the instrumentation side. The engine
// only reads it between PostExec and the next Reset.
func (m *Map) Mem() []byte { return m.mem }

func (m *Map) Len() int { return len(m.mem) }

// CountNonZero returns the number of edges hit in the last run.
func (m *Map) CountNonZero() int {
	n := 0
	for _, v := range m.mem {
		if v != 0 {
			n++
		}
	}
	return n
}

// Snapshot copies the current counters. Used when a testcase needs to keep
// its coverage after the map is reset for the next run.
func (m *Map) Snapshot() []byte {
	return append([]byte(nil), m.mem...)
}
