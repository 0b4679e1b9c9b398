// Package models defines core data structures for entities, filters, and search results.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// IDField is the wire name of an entity's identifier.
const IDField = "id"

// Entity is one record of a given entity type. Fields keep the key order they
// were decoded with, so column order follows the record store.
type Entity struct {
	ID     string                 `json:"-"`
	Type   string                 `json:"-"`
	Keys   []string               `json:"-"`
	Fields map[string]interface{} `json:"-"`
}

// NewEntity returns an empty entity of the given type.
func NewEntity(entityType string) *Entity {
	return &Entity{Type: entityType, Fields: make(map[string]interface{})}
}

// Get returns the value of a field.
func (e *Entity) Get(name string) (interface{}, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// Set stores a field, appending the key when it is new. Once an entity has an
// id, setting a different "id" is ignored.
func (e *Entity) Set(name string, value interface{}) {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	if name == IDField {
		id := idString(value)
		if e.ID != "" && id != e.ID {
			return
		}
		e.ID = id
	}
	if _, ok := e.Fields[name]; !ok {
		e.Keys = append(e.Keys, name)
	}
	e.Fields[name] = value
}

func idString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return fmt.Sprint(t)
	}
}

// Text returns the trimmed string value of a field, or "" when absent or not a string.
func (e *Entity) Text(name string) string {
	v, ok := e.Fields[name]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Strings returns a field as a list of trimmed, non-empty strings. Lists keep
// their string elements; a scalar string is split on commas.
func (e *Entity) Strings(name string) []string {
	return StringList(e.Fields[name])
}

// StringList converts a list or comma separated string into trimmed, non-empty strings.
// A scalar that is neither becomes a one-element list of its text form.
func StringList(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		for _, item := range t {
			if item == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, item := range t {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	default:
		out = append(out, fmt.Sprint(t))
	}
	return out
}

// Clone returns a copy of e whose key slice and field map can be modified
// without affecting e. Nested values are shared.
func (e *Entity) Clone() *Entity {
	c := &Entity{
		ID:     e.ID,
		Type:   e.Type,
		Keys:   append([]string(nil), e.Keys...),
		Fields: make(map[string]interface{}, len(e.Fields)),
	}
	for k, v := range e.Fields {
		c.Fields[k] = v
	}
	return c
}

// MarshalJSON writes the fields as an object in key order.
func (e *Entity) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(e.Fields[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, recording key order. The "id" field, when a
// non-empty string, becomes the entity ID.
func (e *Entity) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return e.decode(dec)
}

func (e *Entity) decode(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("entity must be a JSON object")
	}
	e.ID = ""
	e.Keys = nil
	e.Fields = make(map[string]interface{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", keyTok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		e.Set(key, normalizeNumbers(value))
	}
	_, err = dec.Token()
	return err
}

// normalizeNumbers turns json.Number values into int64 when integral, float64 otherwise.
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []interface{}:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

// DecodeEntities decodes a JSON array of objects into entities of entityType.
func DecodeEntities(data []byte, entityType string) ([]*Entity, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	list, err := decodeEntityArray(dec, entityType)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func decodeEntityArray(dec *json.Decoder, entityType string) ([]*Entity, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return []*Entity{}, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("expected JSON array of %s", entityType)
	}
	list := make([]*Entity, 0)
	for dec.More() {
		e := NewEntity(entityType)
		if err := e.decode(dec); err != nil {
			return nil, err
		}
		e.Type = entityType
		list = append(list, e)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return list, nil
}

// Collections is an ordered set of entity collections keyed by type, the
// shape of a whole record store document.
type Collections struct {
	Types   []string
	Records map[string][]*Entity
}

// DecodeCollections reads `{"type": [records...], ...}` preserving type order.
func DecodeCollections(data []byte) (*Collections, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("collections must be a JSON object")
	}
	c := &Collections{Records: make(map[string][]*Entity)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		entityType, _ := keyTok.(string)
		list, err := decodeEntityArray(dec, entityType)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", entityType, err)
		}
		if _, seen := c.Records[entityType]; !seen {
			c.Types = append(c.Types, entityType)
		}
		c.Records[entityType] = list
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return c, nil
}

// MarshalJSON writes the collections as an object in type order.
func (c *Collections) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range c.Types {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(t)
		buf.Write(kb)
		buf.WriteByte(':')
		list := c.Records[t]
		if list == nil {
			list = []*Entity{}
		}
		vb, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
