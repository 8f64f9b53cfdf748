package cache

// noopCache is a cache that stores nothing. It is used as a safe fallback
// when a real cache cannot be constructed.
type noopCache[V any] struct {
	stats *Statistics
}

// NewNoop creates a cache that does nothing (always returns cache misses).
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{stats: NewStatistics()}
}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	c.stats.Miss()
	return zero, false
}

func (c *noopCache[V]) Set(key string, _ V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return false, nil
}

func (c *noopCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return false, nil
}

func (c *noopCache[V]) Clear() error { return nil }

func (c *noopCache[V]) Size() int { return 0 }

func (c *noopCache[V]) Keys() []string { return nil }

func (c *noopCache[V]) Stats() *Statistics { return c.stats }

func (c *noopCache[V]) Close() error { return nil }
