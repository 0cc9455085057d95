package ledger

// Snapshot is a test helper returning a copy of every code held by the
// in-memory store, in issue order. Other stores yield nil.
func Snapshot(s Store) []Code {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return nil
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	out := make([]Code, len(mem.codes))
	copy(out, mem.codes)
	return out
}
