package usecase

import (
	"strings"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

// Flatten projects an extraction onto the flat storage shape.
func Flatten(result domain.ExtractionResult) domain.FlattenedRecord {
	return NormalizeRecord(result.ToMap())
}

// NormalizeRecord flattens a nested {field: {value, confidence}} map or
// re-normalizes an already flat record. Applying it twice yields the same
// shapes: list fields stay lists and priority stays a non-empty string.
func NormalizeRecord(raw map[string]any) domain.FlattenedRecord {
	out := make(domain.FlattenedRecord, len(domain.FieldRegistry)*2+6)

	for _, spec := range domain.FieldRegistry {
		value, confidence := unwrapField(raw, spec.Name)
		out[spec.Name] = normalizeFieldValue(spec, value)
		out[spec.Name+"_confidence"] = confidence
	}

	out["ai_summary"] = domain.CoerceText(raw["ai_summary"])
	out["extraction_notes"] = domain.CoerceText(raw["extraction_notes"])
	switch {
	case raw["overall_confidence"] != nil:
		out["confidence_score"] = domain.CoerceConfidence(raw["overall_confidence"])
	default:
		out["confidence_score"] = domain.CoerceConfidence(raw["confidence_score"])
	}

	out["extra_data"] = filterExtraData(raw["extra_data"])

	method := strings.TrimSpace(domain.CoerceText(raw["_extraction_method"]))
	if method == "" {
		method = "unknown"
	}
	out["_extraction_method"] = method
	reprocessed := domain.CoerceBool(raw["_reprocessed"])
	out["_reprocessed"] = reprocessed != nil && *reprocessed

	return out
}

func unwrapField(raw map[string]any, name string) (any, int) {
	v, ok := raw[name]
	if !ok {
		return nil, domain.CoerceConfidence(raw[name+"_confidence"])
	}
	if pair, ok := v.(map[string]any); ok {
		_, hasValue := pair["value"]
		_, hasConfidence := pair["confidence"]
		if hasValue || hasConfidence {
			return pair["value"], domain.CoerceConfidence(pair["confidence"])
		}
	}
	return v, domain.CoerceConfidence(raw[name+"_confidence"])
}

func normalizeFieldValue(spec domain.FieldSpec, v any) any {
	if spec.Name == "priority" {
		return normalizePriority(v)
	}
	switch spec.Kind {
	case domain.KindList:
		return domain.CoerceList(v)
	case domain.KindBool:
		b := domain.CoerceBool(v)
		if b == nil {
			return nil
		}
		return *b
	default:
		if v == nil {
			return nil
		}
		return domain.CoerceText(v)
	}
}

func normalizePriority(v any) string {
	if m, ok := v.(map[string]any); ok {
		v = m["value"]
	}
	var s string
	switch typed := v.(type) {
	case nil:
	case bool:
		if typed {
			s = "true"
		}
	default:
		s = domain.CoerceText(typed)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.DefaultPriority
	}
	return s
}

func filterExtraData(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, item := range m {
		if isEmptyExtra(item) {
			continue
		}
		out[k] = item
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isEmptyExtra(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case []string:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	default:
		return false
	}
}
