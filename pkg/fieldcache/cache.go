package fieldcache

import "sync"

// Cache maps field ids to typed value slots with a modified flag per field,
// plus an ordered dirty list so delta extraction runs in O(modified) rather
// than O(cache size). A field is in the dirty list iff its modified flag is
// set; extraction and ClearModified reset both together.
//
// The cache is single-threaded by default; SetUseLock(true) wraps every
// operation in one coarse mutex, reflecting its short critical sections.
type Cache struct {
	fields map[int]*Field
	byName map[string]*Field
	dirty  []*Field

	schema        *Schema
	trackModified bool
	useFieldNames bool

	useLock bool
	mu      sync.Mutex
}

// NewCache creates an empty cache. A nil schema is valid: every field then
// defaults to publish=true, checkModified=true.
func NewCache(schema *Schema) *Cache {
	return &Cache{
		fields:        make(map[int]*Field),
		schema:        schema,
		trackModified: true,
	}
}

// SetTrackModified controls dirty-set maintenance. With tracking off, delta
// extraction degenerates to full extraction.
func (c *Cache) SetTrackModified(track bool) {
	c.lock()
	defer c.unlock()
	c.trackModified = track
}

// SetUseFieldNames maintains a parallel name index for FindByName
func (c *Cache) SetUseFieldNames(use bool) {
	c.lock()
	defer c.unlock()
	c.useFieldNames = use
	if use && c.byName == nil {
		c.byName = make(map[string]*Field, len(c.fields))
		for _, f := range c.fields {
			if f.name != "" {
				c.byName[f.name] = f
			}
		}
	}
}

// SetUseLock serializes all cache operations behind an internal mutex
func (c *Cache) SetUseLock(use bool) {
	c.useLock = use
}

// Size returns the number of cached fields
func (c *Cache) Size() int {
	c.lock()
	defer c.unlock()
	return len(c.fields)
}

// Find returns the field with the given fid, or nil
func (c *Cache) Find(fid int) *Field {
	c.lock()
	defer c.unlock()
	return c.fields[fid]
}

// FindByName returns the named field, or nil. Requires SetUseFieldNames.
func (c *Cache) FindByName(name string) *Field {
	c.lock()
	defer c.unlock()
	if c.byName == nil {
		return nil
	}
	return c.byName[name]
}

// FindOrAdd returns the slot for fid, creating it when absent. The second
// return reports whether the field already existed.
func (c *Cache) FindOrAdd(fid int, ftype FieldType, name string) (*Field, bool) {
	c.lock()
	defer c.unlock()
	f, existed := c.findOrAddLocked(fid, ftype, name)
	return f, existed
}

// Apply copies one decoded field into its slot, creating the slot on first
// encounter, and adds the field to the dirty set per its checkModified
// policy.
func (c *Cache) Apply(u FieldUpdate) *Field {
	c.lock()
	defer c.unlock()
	return c.applyLocked(u)
}

// ApplyMessage applies every field of a decoded message, in message order.
// O(fields in message), not O(cache size).
func (c *Cache) ApplyMessage(msg MessageReader) error {
	if msg == nil {
		return ErrNilMessage
	}
	c.lock()
	defer c.unlock()
	msg.EachField(func(u FieldUpdate) bool {
		c.applyLocked(u)
		return true
	})
	return nil
}

// ApplyRecord applies every field of a record, in record order
func (c *Cache) ApplyRecord(rec Record) {
	c.lock()
	defer c.unlock()
	for _, u := range rec {
		c.applyLocked(u)
	}
}

// SetModified force-marks a field dirty without changing its value, to force
// republication.
func (c *Cache) SetModified(f *Field) {
	if f == nil {
		return
	}
	c.lock()
	defer c.unlock()
	if !f.modified {
		f.modified = true
		c.dirty = append(c.dirty, f)
	}
}

// ClearModified empties the dirty set and resets every field's flag
func (c *Cache) ClearModified() {
	c.lock()
	defer c.unlock()
	c.clearModifiedLocked()
}

// GetFullMessage serializes every publishable field into msg.
// O(cache size).
func (c *Cache) GetFullMessage(msg MessageWriter) error {
	if msg == nil {
		return ErrNilMessage
	}
	c.lock()
	defer c.unlock()
	for _, f := range c.fields {
		if f.publish {
			msg.AddField(f.update())
		}
	}
	return nil
}

// GetDeltaMessage serializes only the dirty set into msg, then consumes it:
// the dirty set and the serialized fields' flags are reset. With tracking
// disabled it behaves exactly like GetFullMessage. O(dirty set size).
func (c *Cache) GetDeltaMessage(msg MessageWriter) error {
	if msg == nil {
		return ErrNilMessage
	}
	c.lock()
	defer c.unlock()
	if !c.trackModified {
		for _, f := range c.fields {
			if f.publish {
				msg.AddField(f.update())
			}
		}
		return nil
	}
	for _, f := range c.dirty {
		if f.publish {
			msg.AddField(f.update())
		}
	}
	c.clearModifiedLocked()
	return nil
}

// EachModified visits the dirty set in modification order
func (c *Cache) EachModified(fn func(*Field) bool) {
	c.lock()
	defer c.unlock()
	for _, f := range c.dirty {
		if !fn(f) {
			return
		}
	}
}

// Clear drops every field and the dirty set
func (c *Cache) Clear() {
	c.lock()
	defer c.unlock()
	c.fields = make(map[int]*Field)
	if c.byName != nil {
		c.byName = make(map[string]*Field)
	}
	c.dirty = c.dirty[:0]
}

// internal, caller holds the lock when enabled

func (c *Cache) lock() {
	if c.useLock {
		c.mu.Lock()
	}
}

func (c *Cache) unlock() {
	if c.useLock {
		c.mu.Unlock()
	}
}

func (c *Cache) findOrAddLocked(fid int, ftype FieldType, name string) (*Field, bool) {
	if f, ok := c.fields[fid]; ok {
		return f, true
	}
	f := &Field{fid: fid, name: name, ftype: ftype, publish: true, checkModified: true}
	if c.schema != nil {
		if d, ok := c.schema.Lookup(fid); ok {
			if f.name == "" {
				f.name = d.Name
			}
			if d.Type != TypeUnknown {
				f.ftype = d.Type
			}
			f.publish = d.Publish
			f.checkModified = d.CheckModified
		}
	}
	c.fields[fid] = f
	if c.useFieldNames && f.name != "" {
		c.byName[f.name] = f
	}
	return f, false
}

func (c *Cache) applyLocked(u FieldUpdate) *Field {
	f, _ := c.findOrAddLocked(u.FID, u.Type, u.Name)
	if becameDirty := f.apply(u.Value); becameDirty {
		if c.trackModified {
			c.dirty = append(c.dirty, f)
		} else {
			// Keep the invariant: modified iff in the dirty set
			f.modified = false
		}
	}
	return f
}

func (c *Cache) clearModifiedLocked() {
	for _, f := range c.dirty {
		f.modified = false
	}
	c.dirty = c.dirty[:0]
}
