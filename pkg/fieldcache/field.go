package fieldcache

// Field is one typed value slot in the cache, identified by numeric fid with
// an optional name. Created on first encounter of a fid; value and modified
// flag mutate on every subsequent apply.
type Field struct {
	fid   int
	name  string
	ftype FieldType
	value any

	modified bool
	// publish: whether the field is ever serialized out. A publish=false
	// field stays findable and updatable but is skipped by both full and
	// delta extraction.
	publish bool
	// checkModified: when false the field is re-flagged dirty on every
	// apply regardless of value equality, for fields whose mere presence
	// signals an event.
	checkModified bool
}

// FID returns the numeric field id
func (f *Field) FID() int { return f.fid }

// Name returns the optional field name
func (f *Field) Name() string { return f.name }

// Type returns the field's value type
func (f *Field) Type() FieldType { return f.ftype }

// Value returns the current value
func (f *Field) Value() any { return f.value }

// Modified reports whether the field is in the dirty set
func (f *Field) Modified() bool { return f.modified }

// Publish reports whether extraction emits this field
func (f *Field) Publish() bool { return f.publish }

// SetPublish controls whether extraction emits this field
func (f *Field) SetPublish(publish bool) { f.publish = publish }

// CheckModified reports whether value equality suppresses re-flagging
func (f *Field) CheckModified() bool { return f.checkModified }

// SetCheckModified controls whether value equality suppresses re-flagging
func (f *Field) SetCheckModified(check bool) { f.checkModified = check }

// apply copies a new value into the slot and reports whether the field
// became dirty by this apply.
func (f *Field) apply(value any) bool {
	changed := !f.checkModified || !equalValue(f.ftype, f.value, value)
	f.value = value
	if changed && !f.modified {
		f.modified = true
		return true
	}
	return false
}

// update returns the field as a FieldUpdate for serialization
func (f *Field) update() FieldUpdate {
	return FieldUpdate{FID: f.fid, Name: f.name, Type: f.ftype, Value: f.value}
}
