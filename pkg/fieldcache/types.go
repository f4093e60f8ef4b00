// Package fieldcache implements a field-level value cache with modification
// tracking, so publishers can re-serialize only the fields an update touched.
package fieldcache

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType enumerates the scalar and vector types a field slot can hold
type FieldType int

const (
	TypeUnknown FieldType = iota
	TypeBool
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat64
	TypeDecimal
	TypeString
	TypeTime
	TypeFloat64Vector
	TypeStringVector
)

func (t FieldType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt32:
		return "i32"
	case TypeUint32:
		return "u32"
	case TypeInt64:
		return "i64"
	case TypeUint64:
		return "u64"
	case TypeFloat64:
		return "f64"
	case TypeDecimal:
		return "decimal"
	case TypeString:
		return "string"
	case TypeTime:
		return "time"
	case TypeFloat64Vector:
		return "f64[]"
	case TypeStringVector:
		return "string[]"
	default:
		return "unknown"
	}
}

// Errors
var (
	ErrNilMessage   = fmt.Errorf("nil message")
	ErrUnknownField = fmt.Errorf("unknown field")
	ErrTypeMismatch = fmt.Errorf("field type mismatch")
)

// FieldUpdate is one decoded (fid, name, type, value) tuple from an applied
// message or record
type FieldUpdate struct {
	FID   int
	Name  string
	Type  FieldType
	Value any
}

// Record is an ordered list of decoded field updates
type Record []FieldUpdate

// MessageReader is the read side of the message-decoding collaborator: it
// yields decoded fields in message order.
type MessageReader interface {
	EachField(fn func(FieldUpdate) bool)
}

// MessageWriter is the write side: full and delta extraction serialize
// cached fields into it.
type MessageWriter interface {
	AddField(FieldUpdate)
}

// MapMessage is an in-memory message usable as both reader and writer.
// Fields keep insertion order; re-adding a fid replaces the value in place.
type MapMessage struct {
	fields []FieldUpdate
	byFID  map[int]int
}

// NewMapMessage creates an empty message
func NewMapMessage() *MapMessage {
	return &MapMessage{byFID: make(map[int]int)}
}

// AddField inserts or replaces one field
func (m *MapMessage) AddField(f FieldUpdate) {
	if i, ok := m.byFID[f.FID]; ok {
		m.fields[i] = f
		return
	}
	m.byFID[f.FID] = len(m.fields)
	m.fields = append(m.fields, f)
}

// EachField visits fields in insertion order until fn returns false
func (m *MapMessage) EachField(fn func(FieldUpdate) bool) {
	for _, f := range m.fields {
		if !fn(f) {
			return
		}
	}
}

// Get returns the field with the given fid
func (m *MapMessage) Get(fid int) (FieldUpdate, bool) {
	if i, ok := m.byFID[fid]; ok {
		return m.fields[i], true
	}
	return FieldUpdate{}, false
}

// Len returns the number of fields in the message
func (m *MapMessage) Len() int {
	return len(m.fields)
}

// equalValue compares two values of the same field type
func equalValue(t FieldType, a, b any) bool {
	switch t {
	case TypeDecimal:
		av, aok := a.(decimal.Decimal)
		bv, bok := b.(decimal.Decimal)
		return aok && bok && av.Equal(bv)
	case TypeTime:
		av, aok := a.(time.Time)
		bv, bok := b.(time.Time)
		return aok && bok && av.Equal(bv)
	case TypeFloat64Vector:
		av, aok := a.([]float64)
		bv, bok := b.([]float64)
		if !aok || !bok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case TypeStringVector:
		av, aok := a.([]string)
		bv, bok := b.([]string)
		if !aok || !bok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
