package models

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrNotJSONObject indicates that a record payload is not a JSON object
var ErrNotJSONObject = errors.New("record is not a JSON object")

// NativeRecord is a record in the shape the application reads and writes.
// Keys are field local names.
type NativeRecord map[string]any

// LocalRecord is a record in the shape persisted on disk. Keys are canonical
// field names. A LocalRecord is always valid against the local schema.
type LocalRecord map[string]any

// ParseNativeRecord decodes a JSON object into a NativeRecord.
func ParseNativeRecord(data []byte) (NativeRecord, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return NativeRecord(obj), nil
}

// DecodeLocalRecord decodes a persisted record payload.
func DecodeLocalRecord(data []byte) (LocalRecord, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return LocalRecord(obj), nil
}

func decodeObject(data []byte) (map[string]any, error) {
	v, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotJSONObject, v)
	}
	return obj, nil
}

// Encode serializes the record for storage.
func (r LocalRecord) Encode() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(map[string]any(r))
	if err != nil {
		return nil, fmt.Errorf("failed to encode local record: %w", err)
	}
	return data, nil
}

// MarshalJSON keeps a nil record encoded as an empty object.
func (r NativeRecord) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(r))
}

// Clone returns a shallow copy of the record.
func (r NativeRecord) Clone() NativeRecord {
	out := make(NativeRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of the record.
func (r LocalRecord) Clone() LocalRecord {
	out := make(LocalRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
