package cache

// Writer is the write half of Store.
type Writer interface {
	// Set stores a fresh value.
	Set(key Key, value any)
	// Invalidate marks every entry under prefix stale and returns how many
	// entries were marked.
	Invalidate(prefix Key) int
}

// Store is the cache surface used by the live channel binding.
type Store interface {
	Writer
	// Get returns the last known value, stale or not.
	Get(key Key) (any, bool)
	// Deferred returns a Writer whose watcher notifications are held until
	// flush is called, so callers can write under their own locks.
	Deferred() (w Writer, flush func())
}

// GetAs returns the value at key if present and of type T.
func GetAs[T any](s Store, key Key) (T, bool) {
	v, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
