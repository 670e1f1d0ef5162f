package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordVocabulary is the on-disk shape of INTAKE_KEYWORDS_FILE.
type KeywordVocabulary struct {
	Keywords   []string `yaml:"keywords"`
	MinMatches int      `yaml:"min_matches"`
}

// LoadKeywords reads a YAML vocabulary. Blank and duplicate keywords are
// dropped; all keywords are lower-cased.
func LoadKeywords(path string) (KeywordVocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return KeywordVocabulary{}, fmt.Errorf("read keywords file: %w", err)
	}
	var vocab KeywordVocabulary
	if err := yaml.Unmarshal(raw, &vocab); err != nil {
		return KeywordVocabulary{}, fmt.Errorf("parse keywords file: %w", err)
	}

	seen := make(map[string]struct{}, len(vocab.Keywords))
	cleaned := make([]string, 0, len(vocab.Keywords))
	for _, kw := range vocab.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		cleaned = append(cleaned, kw)
	}
	if len(cleaned) == 0 {
		return KeywordVocabulary{}, fmt.Errorf("keywords file %s has no keywords", path)
	}
	vocab.Keywords = cleaned
	if vocab.MinMatches < 0 {
		vocab.MinMatches = 0
	}
	return vocab, nil
}
