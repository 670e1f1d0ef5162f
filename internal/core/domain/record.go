package domain

import "strings"

// FlattenedRecord is the storage-shaped projection of an ExtractionResult:
// every field value promoted to a top-level key with a sibling
// "<field>_confidence" key.
type FlattenedRecord map[string]any

func (r FlattenedRecord) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// TrimmedString returns the value under key with surrounding whitespace removed.
func (r FlattenedRecord) TrimmedString(key string) string {
	return strings.TrimSpace(r.String(key))
}

func (r FlattenedRecord) List(key string) []string {
	switch typed := r[key].(type) {
	case []string:
		return typed
	case []any:
		return CoerceList(typed)
	default:
		return nil
	}
}

func (r FlattenedRecord) Int(key string) int {
	return CoerceConfidence(r[key])
}

func (r FlattenedRecord) Bool(key string) bool {
	b := CoerceBool(r[key])
	return b != nil && *b
}

// Confidence returns the per-field confidence recorded for field.
func (r FlattenedRecord) Confidence(field string) int {
	return r.Int(field + "_confidence")
}
