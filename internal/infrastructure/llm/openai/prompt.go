package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/referral-intake/internal/core/domain"
)

const systemPrompt = `You are an expert healthcare admissions document analyzer with exceptional accuracy.
You can see and read documents including handwritten text, checkboxes, stamps, and poor quality scans.

Your task is to extract patient and referral information with maximum accuracy.
For each field, assess your confidence based on:
- Clarity of the source text/image
- Whether the value was explicitly stated vs inferred
- Consistency with other information in the document

Be conservative with confidence scores - only rate 95+ if the field is crystal clear.`

const extractionInstructions = `Important Instructions:
- Look carefully at checkboxes - checked vs unchecked
- Read handwritten text carefully, even if messy
- Note any stamps, signatures, or dates
- For Fall Risk, look for checkboxes or yes/no indicators
- If a field is illegible, set confidence to 0-50 and note in extraction_notes
- Extract EVERYTHING you can find - this is for post-acute care admissions
- Return ONLY valid JSON, no markdown formatting or code blocks`

// extractionPrompt is rendered from the field registry so the prompt and the
// parser agree on the field set.
var extractionPrompt = buildExtractionPrompt()

func buildExtractionPrompt() string {
	var b strings.Builder
	b.WriteString("Analyze this healthcare document image and extract ALL available information for a skilled nursing/post-acute care referral.\n\n")
	b.WriteString("Return a JSON object with these fields (extract as many as you can find):\n\n{\n")
	for _, spec := range domain.FieldRegistry {
		fmt.Fprintf(&b, "  %q: {\"value\": %s, \"confidence\": 0-100},\n", spec.Name, spec.Hint)
	}
	b.WriteString("  \"ai_summary\": string (2-3 sentence summary for quick admissions review),\n")
	b.WriteString("  \"overall_confidence\": number (0-100, weighted average of field confidences),\n")
	b.WriteString("  \"extraction_notes\": string (any issues, unclear areas, or fields needing human review)\n")
	b.WriteString("}\n\n")
	b.WriteString(extractionInstructions)
	return b.String()
}

func visionContext(subject, body string, previewChars int) string {
	var b strings.Builder
	if subject != "" {
		fmt.Fprintf(&b, "Email Subject: %s\n", subject)
	}
	if body != "" {
		fmt.Fprintf(&b, "Email Body Preview: %s\n", truncateRunes(body, previewChars))
	}
	return b.String()
}

func buildTextPrompt(text, subject string, maxChars int) string {
	return fmt.Sprintf(`Analyze this healthcare document text and extract information.

Email Subject: %s

Document Text:
%s

%s`, subject, truncateRunes(text, maxChars), extractionPrompt)
}

func buildVerificationPrompt(prior domain.ExtractionResult, text, subject string, maxChars int) (string, error) {
	original, err := json.MarshalIndent(prior.ToMap(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal prior extraction: %w", err)
	}

	prompt := fmt.Sprintf(`You are verifying a healthcare document extraction that had low confidence.
The original extraction is provided below. Please re-analyze the raw text and either:
1. Confirm the extracted values (improve confidence if text is clear)
2. Correct any errors you find
3. Fill in any fields that were missed

Original extraction:
%s

Document text:
%s

Return an updated JSON object in the same format with corrected values and updated confidence scores.
Set confidence higher only if you are certain. Add notes about any corrections made.

Return ONLY valid JSON, no markdown formatting.`, original, truncateRunes(text, maxChars))

	if subject != "" {
		prompt = fmt.Sprintf("Email Subject: %s\n\n%s", subject, prompt)
	}
	return prompt, nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for idx := range s {
		if count == limit {
			return s[:idx]
		}
		count++
	}
	return s
}

// cleanModelJSON strips markdown fences and a leading "json" tag.
func cleanModelJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		lines = lines[1:]
		if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
			lines = lines[:n-1]
		}
		text = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	if strings.HasPrefix(text, "json") {
		text = strings.TrimSpace(text[len("json"):])
	}
	return text
}
