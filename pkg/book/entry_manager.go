package book

// EntryManager is a flat id -> entry index across the whole book, used when
// entry ids are globally unique to avoid scanning levels during updates.
// It holds non-owning references: entries are owned by their price levels
// and the index is invalidated on removal.
type EntryManager struct {
	entries map[string]*Entry
}

// NewEntryManager creates an empty index
func NewEntryManager() *EntryManager {
	return &EntryManager{entries: make(map[string]*Entry)}
}

// Find returns the entry with the given id, or nil
func (em *EntryManager) Find(id string) *Entry {
	return em.entries[id]
}

// Add registers an entry. Returns ErrDuplicateEntry when the id is already
// indexed for a different entry.
func (em *EntryManager) Add(e *Entry) error {
	if existing, ok := em.entries[e.ID]; ok && existing != e {
		return ErrDuplicateEntry
	}
	em.entries[e.ID] = e
	return nil
}

// Remove drops the id from the index
func (em *EntryManager) Remove(id string) {
	delete(em.entries, id)
}

// Size returns the number of indexed entries
func (em *EntryManager) Size() int {
	return len(em.entries)
}

// Clear drops all indexed entries
func (em *EntryManager) Clear() {
	em.entries = make(map[string]*Entry)
}
