package fetch

import "sync"

// KeyPool holds a provider's API credentials. The pool is process-wide state:
// the current index reflects real quota consumption and persists across runs,
// resetting only at process restart. All mutation is serialized so two
// concurrent callers observing the same rejected key cannot double-rotate
// past a still-valid one.
type KeyPool struct {
	mu        sync.Mutex
	keys      []string
	index     int
	exhausted bool
}

// NewKeyPool creates a pool over the given keys. A nil or empty key list
// yields a nil pool, which the client treats as "no credentials required".
func NewKeyPool(keys []string) *KeyPool {
	if len(keys) == 0 {
		return nil
	}
	copied := make([]string, len(keys))
	copy(copied, keys)
	return &KeyPool{keys: copied}
}

// Current returns the active key and its index. ok is false once the pool is
// exhausted; exhaustion is permanent for the process lifetime.
func (p *KeyPool) Current() (key string, index int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exhausted {
		return "", p.index, false
	}
	return p.keys[p.index], p.index, true
}

// Rotate advances to the next key, but only if the caller's observed index is
// still current. When another caller already rotated, the pool is left
// untouched and the caller simply retries with the fresh key.
func (p *KeyPool) Rotate(observed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index != observed {
		return
	}
	p.index = (p.index + 1) % len(p.keys)
}

// MarkExhausted records that a full rotation cycle failed. Subsequent calls
// fail fast with AuthExhausted until the process restarts.
func (p *KeyPool) MarkExhausted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exhausted = true
}

// Index returns the current key index.
func (p *KeyPool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Size returns the number of keys in the pool.
func (p *KeyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
