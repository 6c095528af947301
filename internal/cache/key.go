package cache

import (
	"encoding/json"
	"slices"
)

// Key addresses one server-side resource view: a resource name followed by
// its scoping parameters.
type Key []string

func NewKey(parts ...string) Key {
	return Key(slices.Clone(parts))
}

// String encodes the parts unambiguously; it is the identity used by the
// store and for snapshots.
func (k Key) String() string {
	data, _ := json.Marshal([]string(k))
	return string(data)
}

func (k Key) Equal(other Key) bool {
	return slices.Equal(k, other)
}

func (k Key) IsZero() bool {
	return len(k) == 0
}
