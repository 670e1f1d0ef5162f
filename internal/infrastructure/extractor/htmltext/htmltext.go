// Package htmltext converts HTML markup into readable plain text.
package htmltext

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "br": {}, "li": {}, "tr": {}, "h1": {}, "h2": {}, "h3": {},
	"h4": {}, "h5": {}, "h6": {}, "table": {}, "ul": {}, "ol": {}, "blockquote": {},
}

var skippedElements = map[string]struct{}{
	"script": {}, "style": {}, "head": {}, "title": {},
}

// Convert returns the visible text of an HTML document, one block per line.
func Convert(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)
	var b strings.Builder
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != nil && err != io.EOF {
				return "", err
			}
			return collapse(b.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if _, ok := skippedElements[tag]; ok {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if _, ok := blockElements[tag]; ok {
				b.WriteByte('\n')
			}
			if tag == "td" || tag == "th" {
				b.WriteByte('\t')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if _, ok := skippedElements[tag]; ok && skipDepth > 0 {
				skipDepth--
				continue
			}
			if _, ok := blockElements[tag]; ok {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			b.Write(tokenizer.Text())
		}
	}
}

func ConvertString(s string) string {
	text, err := Convert(strings.NewReader(s))
	if err != nil {
		return ""
	}
	return text
}

// collapse trims each line, squeezes inner whitespace and drops repeated blank lines.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
