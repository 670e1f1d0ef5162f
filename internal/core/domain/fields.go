package domain

import "strings"

type FieldKind int

const (
	KindText FieldKind = iota
	KindList
	KindBool
)

func (k FieldKind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindBool:
		return "bool"
	default:
		return "text"
	}
}

// FieldSpec describes one field of the closed extraction schema.
type FieldSpec struct {
	Name string
	Kind FieldKind
	Hint string
}

// DefaultFacility is used when the document does not name a facility.
const DefaultFacility = "Optalis Healthcare"

// DefaultPriority is the priority of a record whose priority is unknown.
const DefaultPriority = "normal"

// FieldRegistry is the closed set of extracted fields, in prompt order.
var FieldRegistry = []FieldSpec{
	{Name: "patient_name", Kind: KindText, Hint: "string or null"},
	{Name: "dob", Kind: KindText, Hint: "string (MM/DD/YYYY) or null"},
	{Name: "sex", Kind: KindText, Hint: `"Male"|"Female"|"Other" or null`},
	{Name: "ssn_last4", Kind: KindText, Hint: "string (last 4 digits only) or null"},
	{Name: "phone", Kind: KindText, Hint: "string or null"},
	{Name: "address", Kind: KindText, Hint: "string or null"},

	{Name: "referral_type", Kind: KindText, Hint: `"New Referral"|"Return to Hospital" or null`},
	{Name: "hospital", Kind: KindText, Hint: "string (hospital patient is currently at) or null"},
	{Name: "building", Kind: KindText, Hint: "string (building/facility referral is for) or null"},
	{Name: "room_number", Kind: KindText, Hint: "string or null"},
	{Name: "case_manager_name", Kind: KindText, Hint: "string or null"},
	{Name: "case_manager_phone", Kind: KindText, Hint: "string or null"},

	{Name: "insurance", Kind: KindText, Hint: "string (provider name) or null"},
	{Name: "policy_number", Kind: KindText, Hint: "string or null"},
	{Name: "care_level", Kind: KindText, Hint: `"SNF"|"LTC"|"AL"|"Hospice" or null`},

	{Name: "date_admitted", Kind: KindText, Hint: "string (MM/DD/YYYY) or null"},
	{Name: "inpatient_date", Kind: KindText, Hint: "string (MM/DD/YYYY) or null"},
	{Name: "anticipated_discharge", Kind: KindText, Hint: "string (MM/DD/YYYY) or null"},

	{Name: "diagnosis", Kind: KindList, Hint: "[array of diagnosis strings] or []"},
	{Name: "medications", Kind: KindList, Hint: "[array of medication strings with dosages] or []"},
	{Name: "allergies", Kind: KindList, Hint: "[array of allergy strings] or []"},
	{Name: "fall_risk", Kind: KindBool, Hint: "true|false or null"},
	{Name: "smoking_status", Kind: KindText, Hint: `"Never"|"Former"|"Current" or null`},
	{Name: "isolation", Kind: KindText, Hint: "string (isolation requirements) or null"},
	{Name: "barrier_precautions", Kind: KindText, Hint: "string (enhanced barrier precautions) or null"},

	{Name: "dme", Kind: KindText, Hint: "string (durable medical equipment needed) or null"},
	{Name: "diet", Kind: KindText, Hint: "string (dietary requirements) or null"},
	{Name: "height", Kind: KindText, Hint: "string or null"},
	{Name: "weight", Kind: KindText, Hint: "string or null"},
	{Name: "iv_meds", Kind: KindText, Hint: "string (IV medications if any) or null"},
	{Name: "expensive_meds", Kind: KindText, Hint: "string (expensive/carve-out/chemo meds) or null"},
	{Name: "infection_prevention", Kind: KindText, Hint: "string or null"},

	{Name: "physician", Kind: KindText, Hint: "string (referring physician) or null"},
	{Name: "facility", Kind: KindText, Hint: `string or "` + DefaultFacility + `"`},
	{Name: "services", Kind: KindList, Hint: `[array like "Skilled Nursing", "Physical Therapy", "Occupational Therapy"] or []`},

	{Name: "therapy_prior_level", Kind: KindText, Hint: "string (prior level of function - living situation, stairs, assistance needed) or null"},
	{Name: "therapy_bed_mobility", Kind: KindText, Hint: "string (current bed mobility status) or null"},
	{Name: "therapy_transfers", Kind: KindText, Hint: "string (current transfer status) or null"},
	{Name: "therapy_gait", Kind: KindText, Hint: "string (current gait/ambulation status) or null"},

	{Name: "clinical_summary", Kind: KindText, Hint: "string (detailed clinical summary of current condition and history) or null"},
	{Name: "priority", Kind: KindText, Hint: `"high"|"medium"|"normal"`},
}

var fieldIndex = func() map[string]FieldSpec {
	out := make(map[string]FieldSpec, len(FieldRegistry))
	for _, spec := range FieldRegistry {
		out[spec.Name] = spec
	}
	return out
}()

// LookupField returns the registry entry for name.
func LookupField(name string) (FieldSpec, bool) {
	spec, ok := fieldIndex[name]
	return spec, ok
}

// ListFieldNames returns the names of list-typed fields in registry order.
func ListFieldNames() []string {
	names := make([]string, 0, 4)
	for _, spec := range FieldRegistry {
		if spec.Kind == KindList {
			names = append(names, spec.Name)
		}
	}
	return names
}

// FieldValue is a tagged value whose populated member is selected by Kind.
type FieldValue struct {
	Kind FieldKind
	Text *string
	List []string
	Bool *bool
}

func NullValue(kind FieldKind) FieldValue {
	if kind == KindList {
		return FieldValue{Kind: KindList, List: []string{}}
	}
	return FieldValue{Kind: kind}
}

func TextValue(s string) FieldValue {
	return FieldValue{Kind: KindText, Text: &s}
}

func ListValue(items ...string) FieldValue {
	if items == nil {
		items = []string{}
	}
	return FieldValue{Kind: KindList, List: items}
}

func BoolValue(b bool) FieldValue {
	return FieldValue{Kind: KindBool, Bool: &b}
}

func (v FieldValue) IsEmpty() bool {
	switch v.Kind {
	case KindList:
		return len(v.List) == 0
	case KindBool:
		return v.Bool == nil
	default:
		return v.Text == nil || strings.TrimSpace(*v.Text) == ""
	}
}

// String returns the text member, or "" for other kinds and nulls.
func (v FieldValue) String() string {
	if v.Kind != KindText || v.Text == nil {
		return ""
	}
	return *v.Text
}

// Interface returns the JSON-facing value: string, []string, bool or nil.
func (v FieldValue) Interface() any {
	switch v.Kind {
	case KindList:
		if v.List == nil {
			return []string{}
		}
		out := make([]string, len(v.List))
		copy(out, v.List)
		return out
	case KindBool:
		if v.Bool == nil {
			return nil
		}
		return *v.Bool
	default:
		if v.Text == nil {
			return nil
		}
		return *v.Text
	}
}

func (v FieldValue) clone() FieldValue {
	out := FieldValue{Kind: v.Kind}
	if v.Text != nil {
		s := *v.Text
		out.Text = &s
	}
	if v.Bool != nil {
		b := *v.Bool
		out.Bool = &b
	}
	if v.List != nil {
		out.List = append([]string(nil), v.List...)
	}
	return out
}

// FieldExtraction pairs an extracted value with the model's 0-100 confidence.
type FieldExtraction struct {
	Value      FieldValue
	Confidence int
}

// Usable reports whether the value may be relied upon. A zero confidence
// disqualifies the value whatever it contains.
func (f FieldExtraction) Usable() bool {
	return f.Confidence > 0 && !f.Value.IsEmpty()
}

func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
