package fieldcache

// FieldDescriptor declares a field's identity and publishing policy ahead of
// time. Fields applied without a descriptor default to publish=true,
// checkModified=true.
type FieldDescriptor struct {
	FID           int
	Name          string
	Type          FieldType
	Publish       bool
	CheckModified bool
}

// Schema is an explicit, immutable-once-built field dictionary. It is
// constructed once per data dictionary and passed to the caches that need
// it; there is no process-wide mutable registry.
type Schema struct {
	byFID  map[int]FieldDescriptor
	byName map[string]FieldDescriptor
}

// NewSchema builds a schema from descriptors
func NewSchema(descriptors ...FieldDescriptor) *Schema {
	s := &Schema{
		byFID:  make(map[int]FieldDescriptor, len(descriptors)),
		byName: make(map[string]FieldDescriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		s.byFID[d.FID] = d
		if d.Name != "" {
			s.byName[d.Name] = d
		}
	}
	return s
}

// Lookup returns the descriptor for a fid
func (s *Schema) Lookup(fid int) (FieldDescriptor, bool) {
	d, ok := s.byFID[fid]
	return d, ok
}

// LookupByName returns the descriptor for a field name
func (s *Schema) LookupByName(name string) (FieldDescriptor, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// Size returns the number of declared fields
func (s *Schema) Size() int {
	return len(s.byFID)
}
