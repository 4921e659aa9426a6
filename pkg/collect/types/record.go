package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// ErrNotObject is returned when decoding a record from JSON that is not an object.
var ErrNotObject = errors.New("record is not a JSON object")

// Record is a string-keyed mapping that remembers insertion order.
// Run configs and history steps are records so that column order follows
// the order the tracking service reported the keys in.
type Record struct {
	m *linkedhashmap.Map
}

// null stands in for a nil value. linkedhashmap.Map.Get reports a nil
// value as absent, so nil is never stored directly.
type null struct{}

func wrap(value any) any {
	if value == nil {
		return null{}
	}
	return value
}

func unwrap(value any) any {
	if _, ok := value.(null); ok {
		return nil
	}
	return value
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{m: linkedhashmap.New()}
}

// Set stores value under key. Re-setting an existing key keeps its position.
func (r *Record) Set(key string, value any) {
	r.m.Put(key, wrap(value))
}

// Get returns the value stored under key and whether it was present.
// A present key may still hold a nil value.
func (r *Record) Get(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.m.Get(key)
	return unwrap(v), ok
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, r.m.Size())
	for _, k := range r.m.Keys() {
		keys = append(keys, k.(string))
	}
	return keys
}

// Len returns the number of keys.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return r.m.Size()
}

// Each calls fn for every key/value pair in insertion order.
func (r *Record) Each(fn func(key string, value any)) {
	if r == nil {
		return
	}
	it := r.m.Iterator()
	for it.Next() {
		fn(it.Key().(string), unwrap(it.Value()))
	}
}

// MarshalJSON encodes the record as a JSON object, preserving key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	var err error
	i := 0
	r.Each(func(key string, value any) {
		if err != nil {
			return
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		i++

		var kb, vb []byte
		if kb, err = json.Marshal(key); err != nil {
			return
		}
		if vb, err = json.Marshal(value); err != nil {
			err = fmt.Errorf("encoding %q: %w", key, err)
			return
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the record, preserving key order.
// Numbers are kept as json.Number so they print exactly as received.
func (r *Record) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeRecord(data)
	if err != nil {
		return err
	}
	r.m = decoded.m
	return nil
}

// DecodeRecord decodes a top-level JSON object into a Record.
// Nested objects are decoded as map[string]any.
func DecodeRecord(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrNotObject
	}

	rec := NewRecord()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding record key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decoding record: unexpected key token %v", tok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decoding value for %q: %w", key, err)
		}
		rec.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return rec, nil
}
