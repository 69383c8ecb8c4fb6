package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Manager assigns events to stable hash buckets. ClickHouse partitions the
// security_events table by (event_bucket, event_date), so the assignment for
// a given key must never change across restarts.
type Manager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(eventBuckets int) *Manager {
	if eventBuckets <= 0 {
		eventBuckets = 64
	}
	m := &Manager{eventBuckets: eventBuckets}
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

// EventBucket returns the bucket for an event key (0 to eventBuckets-1).
// The key is the user id when present, otherwise the source IP.
func (m *Manager) EventBucket(key string) int {
	return int(m.hash(key) % uint64(m.eventBuckets))
}

// DateBucket returns the UTC date partition for an event timestamp.
func (m *Manager) DateBucket(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// TimeBucket truncates ts to a fixed window, used to key windowed counters.
func (m *Manager) TimeBucket(ts time.Time, windowSeconds int) int64 {
	return ts.Unix() / int64(windowSeconds) * int64(windowSeconds)
}

func (m *Manager) EventBuckets() int {
	return m.eventBuckets
}

func (m *Manager) hash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
