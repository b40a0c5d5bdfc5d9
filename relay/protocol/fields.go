package protocol

import (
	"bytes"
	"encoding/json"
	"math"
)

// Fields is a free-form JSON object: a host descriptor, join criteria or public data.
type Fields map[string]any

// Clone returns a shallow copy; a nil receiver yields an empty map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Without returns a copy lacking the given keys.
func (f Fields) Without(keys ...string) Fields {
	out := f.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Name returns the "name" key when it is a string.
func (f Fields) Name() string {
	name, _ := f["name"].(string)
	return name
}

// ID returns the "id" key when it holds an integral number.
func (f Fields) ID() (int, bool) {
	return intValue(f["id"])
}

// MaxClients returns the capacity limit, if one is set.
func (f Fields) MaxClients() (int, bool) {
	return intValue(f["maxClients"])
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

// ValueEqual reports whether two values encode to the same JSON. Numbers compare by
// value regardless of their Go type, objects regardless of key order.
func ValueEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
