package reminder

import "sync"

// Key identifies one deliverable notification.
type Key struct {
	EventID string
	Label   string
}

func (k Key) String() string { return k.EventID + "_" + k.Label }

// Deduplicator remembers which keys were delivered on the periodic path.
type Deduplicator interface {
	// IsNovel reports whether k has not been recorded. It never mutates.
	IsNovel(k Key) bool
	// Record marks k delivered. Recording twice is a no-op.
	Record(k Key)
}

// MemoryLog is an append-only in-memory Deduplicator. Entries live until
// the process exits.
type MemoryLog struct {
	mu   sync.Mutex
	seen map[Key]struct{}
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{seen: map[Key]struct{}{}}
}

func (l *MemoryLog) IsNovel(k Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[k]
	return !ok
}

func (l *MemoryLog) Record(k Key) {
	l.mu.Lock()
	l.seen[k] = struct{}{}
	l.mu.Unlock()
}

func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
