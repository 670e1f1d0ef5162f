package usecase

import "strings"

// DefaultKeywords is the healthcare vocabulary used to tell referrals from
// unrelated mail. Matching is case-insensitive substring containment.
var DefaultKeywords = []string{
	"patient", "referral", "admission", "admit", "discharge",
	"dob", "date of birth", "birthdate", "birth date",
	"insurance", "medicare", "medicaid", "aetna", "bcbs", "blue cross",
	"diagnosis", "diagnoses", "dx", "icd",
	"physician", "doctor", "dr.", "md", "nurse", "rn",
	"medication", "medications", "meds", "rx", "prescription",
	"allergies", "allergy", "nkda",
	"facility", "hospital", "clinic", "nursing", "rehab", "rehabilitation",
	"skilled nursing", "snf", "ltc", "long term care",
	"therapy", "pt", "ot", "physical therapy", "occupational therapy",
	"referral form", "intake form", "application form",
	"cms", "authorization", "prior auth",
}

const DefaultMinKeywordMatches = 2

// CountKeywordMatches counts distinct vocabulary entries found in the
// subject, body and attachment filenames.
func CountKeywordMatches(keywords []string, subject, body string, filenames []string) int {
	var b strings.Builder
	b.WriteString(subject)
	b.WriteByte(' ')
	b.WriteString(body)
	for _, name := range filenames {
		b.WriteByte(' ')
		b.WriteString(name)
	}
	text := strings.ToLower(b.String())

	seen := make(map[string]struct{}, len(keywords))
	count := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if strings.Contains(text, kw) {
			count++
		}
	}
	return count
}
