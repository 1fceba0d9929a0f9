package crdt

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUntypedMapTombstoneCollision indicates that a key is present both in
	// the map data and in the tombstone set
	ErrUntypedMapTombstoneCollision = errors.New("untyped map tombstone collision")

	// ErrMalformedUntypedMap indicates that a stored untyped map value does not
	// have the {"map": {...}, "tombs": [...]} shape
	ErrMalformedUntypedMap = errors.New("malformed untyped map")
)

const (
	localKeyMap   = "map"
	localKeyTombs = "tombs"
)

// OnCollision selects how NewUntypedMap resolves a key present both in the map
// and in the tombstones.
type OnCollision int

const (
	// DeleteEntry removes the map entry and keeps the tombstone
	// (prefer_deletions, or the tombstone is newer than the data).
	DeleteEntry OnCollision = iota
	// KeepEntry keeps the map entry and removes the tombstone (the data is
	// newer than the tombstones, e.g. when updating a record with new data).
	KeepEntry
	// collisionError is only reachable through TryNewUntypedMap.
	collisionError
)

// UntypedMap is a free-form key/value map paired with a tombstone set of
// deleted keys. A key never appears in both at the same time.
//
// The native representation is just the map data; the local (persisted)
// representation also carries the tombstones so that removals can be synced.
type UntypedMap struct {
	entries map[string]any
	tombs   map[string]struct{}
}

// EmptyUntypedMap returns a map with no entries and no tombstones.
func EmptyUntypedMap() UntypedMap {
	return UntypedMap{
		entries: map[string]any{},
		tombs:   map[string]struct{}{},
	}
}

// UntypedMapFromNative wraps native map data with an empty tombstone set.
func UntypedMapFromNative(m map[string]any) UntypedMap {
	u := EmptyUntypedMap()
	for k, v := range m {
		u.entries[k] = v
	}
	return u
}

// NewUntypedMap builds a map, resolving collisions as requested by on.
func NewUntypedMap(m map[string]any, tombstones []string, on OnCollision) UntypedMap {
	if on != DeleteEntry && on != KeepEntry {
		panic(fmt.Sprintf("crdt: invalid OnCollision %d", on))
	}
	u, err := newUntypedMap(m, tombstones, on)
	if err != nil {
		panic("bug: newUntypedMap failed without collisionError handling")
	}
	return u
}

// TryNewUntypedMap is like NewUntypedMap, but treats any collision as an
// error. Use it where a collision means the data is corrupt.
func TryNewUntypedMap(m map[string]any, tombstones []string) (UntypedMap, error) {
	return newUntypedMap(m, tombstones, collisionError)
}

func newUntypedMap(m map[string]any, tombstones []string, on OnCollision) (UntypedMap, error) {
	u := UntypedMapFromNative(m)
	for _, t := range tombstones {
		u.tombs[t] = struct{}{}
	}

	for k := range u.tombs {
		if _, collided := u.entries[k]; !collided {
			continue
		}
		switch on {
		case DeleteEntry:
			delete(u.entries, k)
		case KeepEntry:
			delete(u.tombs, k)
		default:
			return UntypedMap{}, fmt.Errorf("%w: key %q", ErrUntypedMapTombstoneCollision, k)
		}
	}

	return u, nil
}

// WithNative returns the map that results from updating u to newNative:
//   - keys of u missing from newNative become tombstones;
//   - tombstones for keys present in newNative are cleared;
//   - the map data becomes exactly newNative.
//
// The operation is idempotent.
func (u UntypedMap) WithNative(newNative map[string]any) UntypedMap {
	out := UntypedMapFromNative(newNative)

	for k := range u.entries {
		if _, ok := newNative[k]; !ok {
			out.tombs[k] = struct{}{}
		}
	}
	for k := range u.tombs {
		if _, ok := newNative[k]; !ok {
			out.tombs[k] = struct{}{}
		}
	}

	return out
}

// Len returns the number of live entries.
func (u UntypedMap) Len() int {
	return len(u.entries)
}

// Get returns the value for key.
func (u UntypedMap) Get(key string) (any, bool) {
	v, ok := u.entries[key]
	return v, ok
}

// HasTombstone reports whether key was deleted.
func (u UntypedMap) HasTombstone(key string) bool {
	_, ok := u.tombs[key]
	return ok
}

// Tombstones returns the deleted keys, sorted.
func (u UntypedMap) Tombstones() []string {
	out := make([]string, 0, len(u.tombs))
	for k := range u.tombs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Native returns a copy of the map data without tombstones.
func (u UntypedMap) Native() map[string]any {
	out := make(map[string]any, len(u.entries))
	for k, v := range u.entries {
		out[k] = v
	}
	return out
}

// LocalValue returns the persisted representation of u.
func (u UntypedMap) LocalValue() map[string]any {
	tombs := make([]any, 0, len(u.tombs))
	for _, t := range u.Tombstones() {
		tombs = append(tombs, t)
	}
	return map[string]any{
		localKeyMap:   u.Native(),
		localKeyTombs: tombs,
	}
}

// UntypedMapFromLocal parses a value produced by LocalValue (possibly after a
// JSON round trip). Collisions are reported as errors.
func UntypedMapFromLocal(v any) (UntypedMap, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return UntypedMap{}, fmt.Errorf("%w: expected object, got %T", ErrMalformedUntypedMap, v)
	}

	var entries map[string]any
	switch m := obj[localKeyMap].(type) {
	case map[string]any:
		entries = m
	case nil:
		entries = map[string]any{}
	default:
		return UntypedMap{}, fmt.Errorf("%w: %q is %T", ErrMalformedUntypedMap, localKeyMap, m)
	}

	var tombs []string
	switch ts := obj[localKeyTombs].(type) {
	case nil:
	case []string:
		tombs = ts
	case []any:
		tombs = make([]string, 0, len(ts))
		for _, t := range ts {
			s, ok := t.(string)
			if !ok {
				return UntypedMap{}, fmt.Errorf("%w: tombstone is %T", ErrMalformedUntypedMap, t)
			}
			tombs = append(tombs, s)
		}
	default:
		return UntypedMap{}, fmt.Errorf("%w: %q is %T", ErrMalformedUntypedMap, localKeyTombs, ts)
	}

	return TryNewUntypedMap(entries, tombs)
}

// UpdateLocalFromNative applies a native update to a stored local value and
// returns the new local value.
func UpdateLocalFromNative(oldLocal any, newNative any) (map[string]any, error) {
	prev, err := UntypedMapFromLocal(oldLocal)
	if err != nil {
		return nil, err
	}
	native, ok := newNative.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: native value is %T, not an object", ErrMalformedUntypedMap, newNative)
	}
	return prev.WithNative(native).LocalValue(), nil
}
