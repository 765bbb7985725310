package storage

import (
	"encoding/json"

	"github.com/syn2much/mantis/internal/model"
)

// encodeJSON marshals a JSON payload for storage as TEXT. A nil map
// marshals to "{}" so columns are never NULL.
func encodeJSON(v model.JSON) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeJSON unmarshals a stored JSON payload. Per spec §4.1, a
// malformed payload is tolerated: the raw string is wrapped rather than
// surfaced as a read error.
func decodeJSON(raw string) model.JSON {
	if raw == "" {
		return nil
	}
	var v model.JSON
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return model.JSON{"_raw": raw}
	}
	return v
}

func encodeIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeIDs(raw string) []int64 {
	if raw == "" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}
