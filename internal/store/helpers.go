package store

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ariel1441/hebrag/pkg/models"
)

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func jsonUnmarshalRecord(raw []byte) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func jsonUnmarshalMap(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// firstString returns the first of keys present (case-sensitive lookup,
// matching however the raw JSON happened to be cased) with a non-empty
// string value, read directly off raw JSON with gjson so the caller never
// has to unmarshal the whole record to pull out one typed column.
func firstString(j gjson.Result, keys ...string) string {
	for _, k := range keys {
		if r := j.Get(k); r.Exists() && r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}

func firstIntPtr(j gjson.Result, keys ...string) *int {
	for _, k := range keys {
		if r := j.Get(k); r.Exists() && (r.Type == gjson.Number) {
			n := int(r.Num)
			return &n
		}
	}
	return nil
}

func firstBool(j gjson.Result, keys ...string) bool {
	for _, k := range keys {
		if r := j.Get(k); r.Exists() && r.Type == gjson.True {
			return true
		}
		if r := j.Get(k); r.Exists() && r.Type == gjson.False {
			return false
		}
	}
	return false
}

func firstTimePtr(j gjson.Result, keys ...string) *time.Time {
	for _, k := range keys {
		r := j.Get(k)
		if !r.Exists() || r.Type != gjson.String || r.Str == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, r.Str); err == nil {
				return &t
			}
		}
	}
	return nil
}
