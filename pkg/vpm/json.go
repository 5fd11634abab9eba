package vpm

import (
	"encoding/json"
	"reflect"
	"strings"
)

// keySet is a set of JSON object keys.
type keySet map[string]struct{}

// jsonKeys maps the JSON object keys produced by the exported fields of a
// struct value to their field index, honouring `json:"name,..."` tags and
// skipping `json:"-"`.
func jsonKeys(v any) map[string]int {
	t := reflect.TypeOf(v)
	keys := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		keys[name] = i
	}
	return keys
}

// splitKeys returns the known keys present in the JSON object in data and
// the members whose names are not known. Either result is nil when empty.
func splitKeys(data []byte, known map[string]int) (keySet, map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	var (
		present keySet
		extra   map[string]any
	)
	for k, v := range raw {
		if _, ok := known[k]; ok {
			if present == nil {
				present = make(keySet)
			}
			present[k] = struct{}{}
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, nil, err
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = val
	}
	return present, extra, nil
}

// emptyKeys narrows present to the keys whose decoded field omitempty would
// drop. It returns nil when none are left, so a descriptor without empty
// values decodes to the same Package as one built in code.
func emptyKeys(fields any, known map[string]int, present keySet) keySet {
	rv := reflect.ValueOf(fields)
	var out keySet
	for k := range present {
		if !isEmptyValue(rv.Field(known[k])) {
			continue
		}
		if out == nil {
			out = make(keySet)
		}
		out[k] = struct{}{}
	}
	return out
}

// isEmptyValue follows the omitempty rule of encoding/json.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}

// marshalWithExtra encodes fields, writes back known keys listed in present
// that omitempty dropped, and appends extra keys that fields did not already
// produce.
func marshalWithExtra(fields any, known map[string]int, present keySet, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(fields)
	if err != nil || (len(extra) == 0 && len(present) == 0) {
		return data, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(fields)
	changed := false
	for k := range present {
		if _, ok := m[k]; ok {
			continue
		}
		v, err := json.Marshal(rv.Field(known[k]).Interface())
		if err != nil {
			return nil, err
		}
		m[k] = v
		changed = true
	}
	for k, v := range extra {
		if _, ok := m[k]; ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[k] = raw
		changed = true
	}
	if !changed {
		return data, nil
	}
	return json.Marshal(m)
}
