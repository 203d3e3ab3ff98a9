package bucketing

import "github.com/spaolacci/murmur3"

// Manager spreads ledger rows across a fixed number of partitions so that a
// single hot user or identifier cannot produce an unbounded partition.
type Manager struct {
	numBuckets uint32
}

func NewManager(numBuckets int) *Manager {
	if numBuckets <= 0 {
		numBuckets = 16
	}
	return &Manager{numBuckets: uint32(numBuckets)}
}

// Bucket returns the partition bucket for a key. Stable across restarts.
func (m *Manager) Bucket(key string) int {
	return int(murmur3.Sum32([]byte(key)) % m.numBuckets)
}

// Buckets returns the full bucket range, for scans that must cover every
// partition.
func (m *Manager) Buckets() []int {
	out := make([]int, m.numBuckets)
	for i := range out {
		out[i] = i
	}
	return out
}
