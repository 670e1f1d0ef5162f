package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type ExtractionMethod string

const (
	MethodVision       ExtractionMethod = "vision"
	MethodTextFallback ExtractionMethod = "text-fallback"
	MethodVerification ExtractionMethod = "verification"
	MethodFailed       ExtractionMethod = "failed"
)

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// ExtractionMeta is provenance attached by the extractor that produced a result.
type ExtractionMeta struct {
	Method             ExtractionMethod
	Model              string
	Timestamp          time.Time
	ImagesProcessed    int
	Tokens             *TokenUsage
	OriginalConfidence *int
	Reprocessed        bool
	TurboAttempted     bool
	TurboError         string
}

// ExtractionResult is the structured, confidence-annotated reading of one document.
type ExtractionResult struct {
	Fields            map[string]FieldExtraction
	AISummary         string
	OverallConfidence int
	ExtractionNotes   string
	ExtraData         map[string]any
	Meta              ExtractionMeta
}

const emptySummary = "Unable to extract document information."

// EmptyExtraction is the degraded result returned when nothing could be extracted.
func EmptyExtraction(reason string) ExtractionResult {
	result := ExtractionResult{
		Fields:    make(map[string]FieldExtraction, len(FieldRegistry)),
		AISummary: emptySummary,
		Meta: ExtractionMeta{
			Method:    MethodFailed,
			Timestamp: time.Now().UTC(),
		},
	}
	for _, spec := range FieldRegistry {
		result.Fields[spec.Name] = FieldExtraction{Value: NullValue(spec.Kind)}
	}
	result.Fields["facility"] = FieldExtraction{Value: TextValue(DefaultFacility), Confidence: 50}
	result.Fields["priority"] = FieldExtraction{Value: TextValue(DefaultPriority), Confidence: 50}

	if strings.TrimSpace(reason) != "" {
		result.ExtractionNotes = "Extraction failed: " + reason
	} else {
		result.ExtractionNotes = "No data extracted"
	}
	return result
}

// Field returns the named field, or a null value of the registered kind.
func (r ExtractionResult) Field(name string) FieldExtraction {
	if f, ok := r.Fields[name]; ok {
		return f
	}
	spec, ok := LookupField(name)
	if !ok {
		return FieldExtraction{Value: NullValue(KindText)}
	}
	return FieldExtraction{Value: NullValue(spec.Kind)}
}

// Complete fills every registry field that is missing.
func (r *ExtractionResult) Complete() {
	if r.Fields == nil {
		r.Fields = make(map[string]FieldExtraction, len(FieldRegistry))
	}
	for _, spec := range FieldRegistry {
		f, ok := r.Fields[spec.Name]
		if !ok || f.Value.Kind != spec.Kind {
			r.Fields[spec.Name] = FieldExtraction{Value: NullValue(spec.Kind), Confidence: f.Confidence}
		}
	}
}

func (r ExtractionResult) Clone() ExtractionResult {
	out := r
	out.Fields = make(map[string]FieldExtraction, len(r.Fields))
	for name, f := range r.Fields {
		out.Fields[name] = FieldExtraction{Value: f.Value.clone(), Confidence: f.Confidence}
	}
	if r.ExtraData != nil {
		out.ExtraData = make(map[string]any, len(r.ExtraData))
		for k, v := range r.ExtraData {
			out.ExtraData[k] = v
		}
	}
	if r.Meta.Tokens != nil {
		tokens := *r.Meta.Tokens
		out.Meta.Tokens = &tokens
	}
	if r.Meta.OriginalConfidence != nil {
		c := *r.Meta.OriginalConfidence
		out.Meta.OriginalConfidence = &c
	}
	return out
}

// ToMap renders the nested interchange shape: {field: {value, confidence}}
// plus scalars and underscore-prefixed provenance keys.
func (r ExtractionResult) ToMap() map[string]any {
	out := make(map[string]any, len(FieldRegistry)+12)
	for _, spec := range FieldRegistry {
		f := r.Field(spec.Name)
		out[spec.Name] = map[string]any{
			"value":      f.Value.Interface(),
			"confidence": f.Confidence,
		}
	}
	out["ai_summary"] = r.AISummary
	out["overall_confidence"] = r.OverallConfidence
	out["extraction_notes"] = r.ExtractionNotes
	if len(r.ExtraData) > 0 {
		out["extra_data"] = r.ExtraData
	}

	out["_extraction_method"] = string(r.Meta.Method)
	out["_reprocessed"] = r.Meta.Reprocessed
	if r.Meta.Model != "" {
		out["_model"] = r.Meta.Model
	}
	if !r.Meta.Timestamp.IsZero() {
		out["_timestamp"] = r.Meta.Timestamp.Format(time.RFC3339Nano)
	}
	if r.Meta.ImagesProcessed > 0 {
		out["_images_processed"] = r.Meta.ImagesProcessed
	}
	if r.Meta.Tokens != nil {
		out["_tokens"] = *r.Meta.Tokens
	}
	if r.Meta.OriginalConfidence != nil {
		out["_original_confidence"] = *r.Meta.OriginalConfidence
	}
	if r.Meta.TurboAttempted {
		out["_turbo_attempted"] = true
	}
	if r.Meta.TurboError != "" {
		out["_turbo_error"] = r.Meta.TurboError
	}
	return out
}

func (r ExtractionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

func (r *ExtractionResult) UnmarshalJSON(data []byte) error {
	parsed, err := ParseExtraction(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseExtraction decodes a model response object into a typed result.
// Each registered field is coerced to its kind; fields given as bare values
// instead of {value, confidence} pairs get confidence 0.
func ParseExtraction(data []byte) (ExtractionResult, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return ExtractionResult{}, fmt.Errorf("decode extraction json: %w", err)
	}
	if raw == nil {
		return ExtractionResult{}, errors.New("decode extraction json: not an object")
	}
	return ResultFromMap(raw), nil
}

var scalarKeys = map[string]struct{}{
	"ai_summary":         {},
	"overall_confidence": {},
	"extraction_notes":   {},
	"extra_data":         {},
	"confidence_score":   {},
}

// ResultFromMap builds a typed result from an already-decoded nested map.
func ResultFromMap(raw map[string]any) ExtractionResult {
	result := ExtractionResult{
		Fields: make(map[string]FieldExtraction, len(FieldRegistry)),
	}
	for _, spec := range FieldRegistry {
		v, ok := raw[spec.Name]
		if !ok {
			result.Fields[spec.Name] = FieldExtraction{Value: NullValue(spec.Kind)}
			continue
		}
		result.Fields[spec.Name] = CoerceFieldEntry(spec.Kind, v)
	}

	result.AISummary = CoerceText(raw["ai_summary"])
	result.OverallConfidence = CoerceConfidence(raw["overall_confidence"])
	result.ExtractionNotes = CoerceText(raw["extraction_notes"])

	extra := map[string]any{}
	if m, ok := raw["extra_data"].(map[string]any); ok {
		for k, v := range m {
			extra[k] = v
		}
	}
	for k, v := range raw {
		if strings.HasPrefix(k, "_") || strings.HasSuffix(k, "_confidence") {
			continue
		}
		if _, known := fieldIndex[k]; known {
			continue
		}
		if _, known := scalarKeys[k]; known {
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		result.ExtraData = extra
	}

	result.Meta = metaFromMap(raw)
	return result
}

// CoerceFieldEntry reads either a {value, confidence} pair or a bare value.
func CoerceFieldEntry(kind FieldKind, v any) FieldExtraction {
	if pair, ok := v.(map[string]any); ok {
		_, hasValue := pair["value"]
		_, hasConfidence := pair["confidence"]
		if hasValue || hasConfidence {
			return FieldExtraction{
				Value:      CoerceValue(kind, pair["value"]),
				Confidence: CoerceConfidence(pair["confidence"]),
			}
		}
	}
	return FieldExtraction{Value: CoerceValue(kind, v)}
}

func CoerceValue(kind FieldKind, v any) FieldValue {
	switch kind {
	case KindList:
		return ListValue(CoerceList(v)...)
	case KindBool:
		b := CoerceBool(v)
		if b == nil {
			return NullValue(KindBool)
		}
		return BoolValue(*b)
	default:
		if v == nil {
			return NullValue(KindText)
		}
		return TextValue(CoerceText(v))
	}
}

// CoerceList turns any value into a list of strings. Strings holding a JSON
// array are decoded; other strings become a one-element list.
func CoerceList(v any) []string {
	switch typed := v.(type) {
	case nil:
		return []string{}
	case []string:
		return cleanList(typed)
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			if item == nil {
				continue
			}
			items = append(items, stringify(item))
		}
		return cleanList(items)
	case string:
		s := strings.TrimSpace(typed)
		if s == "" {
			return []string{}
		}
		if strings.HasPrefix(s, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return CoerceList(decoded)
			}
		}
		return []string{typed}
	default:
		return []string{}
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func CoerceText(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			if item == nil {
				continue
			}
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	default:
		return stringify(typed)
	}
}

func CoerceBool(v any) *bool {
	var out bool
	switch typed := v.(type) {
	case bool:
		out = typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "yes", "y", "1", "checked", "x":
			out = true
		case "false", "no", "n", "0", "unchecked", "none":
			out = false
		default:
			return nil
		}
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return nil
		}
		out = f != 0
	case float64:
		out = typed != 0
	case int:
		out = typed != 0
	default:
		return nil
	}
	return &out
}

// CoerceConfidence reads numbers, numeric strings and "NN%" into [0,100].
func CoerceConfidence(v any) int {
	var f float64
	switch typed := v.(type) {
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = typed
	case float32:
		f = float64(typed)
	case int:
		f = float64(typed)
	case int64:
		f = float64(typed)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(typed), "%"), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return ClampConfidence(int(math.Round(f)))
}

func stringify(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case bool:
		return strconv.FormatBool(typed)
	default:
		b, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(b)
	}
}

func metaFromMap(raw map[string]any) ExtractionMeta {
	meta := ExtractionMeta{
		Method:     ExtractionMethod(CoerceText(raw["_extraction_method"])),
		Model:      CoerceText(raw["_model"]),
		TurboError: CoerceText(raw["_turbo_error"]),
	}
	if b := CoerceBool(raw["_reprocessed"]); b != nil {
		meta.Reprocessed = *b
	}
	if b := CoerceBool(raw["_turbo_attempted"]); b != nil {
		meta.TurboAttempted = *b
	}
	if v, ok := raw["_images_processed"]; ok {
		meta.ImagesProcessed = int(toFloat(v))
	}
	if v, ok := raw["_original_confidence"]; ok {
		c := CoerceConfidence(v)
		meta.OriginalConfidence = &c
	}
	if s := CoerceText(raw["_timestamp"]); s != "" {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			meta.Timestamp = ts
		}
	}
	if m, ok := raw["_tokens"].(map[string]any); ok {
		meta.Tokens = &TokenUsage{
			Input:  int(toFloat(m["input"])),
			Output: int(toFloat(m["output"])),
			Total:  int(toFloat(m["total"])),
		}
	}
	return meta
}

func toFloat(v any) float64 {
	switch typed := v.(type) {
	case json.Number:
		f, _ := typed.Float64()
		return f
	case float64:
		return typed
	case int:
		return float64(typed)
	default:
		return 0
	}
}
