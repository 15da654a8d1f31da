// Package search maintains an inverted token index over entity content and
// answers exact, fuzzy, and regex queries plus prefix suggestions against it.
package search

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Normalize cleans and lowercases text for indexing and matching.
func Normalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	for _, ch := range s {
		c := unicode.ToLower(ch)

		// Curly apostrophe -> straight
		if c == '’' {
			out.WriteRune('\'')
			continue
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '\'' {
			out.WriteRune(c)
		} else {
			out.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(out.String()), " ")
}

// StopWords filtered during tokenization.
var StopWords = map[string]bool{
	"the": true, "of": true, "and": true, "a": true, "an": true,
	"to": true, "in": true, "on": true, "for": true, "at": true, "by": true,
	"is": true, "it": true, "as": true, "be": true, "was": true,
	"are": true, "been": true, "with": true, "from": true, "into": true,
	"that": true, "this": true, "has": true, "have": true, "had": true,
	"his": true, "her": true, "its": true, "their": true,
}

// Tokenize splits and normalizes text, filtering stop words.
func Tokenize(text string) []string {
	normalized := Normalize(text)
	words := strings.Fields(normalized)

	result := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 0 && !StopWords[w] {
			result = append(result, w)
		}
	}
	return result
}

// FieldsFromDocument flattens the indexable string content of an open
// attribute document into named fields. Strings are taken at the top level
// and one level into nested maps and arrays; deeper nesting and non-string
// scalars are not indexed.
func FieldsFromDocument(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}

	fields := make(map[string]string)
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			if v != "" {
				fields["data."+k] = v
			}
		case []any:
			var parts []string
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				fields["data."+k] = strings.Join(parts, " ")
			}
		case map[string]any:
			subKeys := make([]string, 0, len(v))
			for sk := range v {
				subKeys = append(subKeys, sk)
			}
			sort.Strings(subKeys)
			var parts []string
			for _, sk := range subKeys {
				if s, ok := v[sk].(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				fields["data."+k] = strings.Join(parts, " ")
			}
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// tokenCounts returns token -> term frequency for a piece of text.
func tokenCounts(text string) map[string]int {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

// DocFromFields assembles a Doc for indexing. The name is always indexed as
// its own field on top of whatever content fields are supplied.
func DocFromFields(id, name string, fields map[string]string, updatedAt int64) Doc {
	all := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		all[k] = v
	}
	all["name"] = name
	return Doc{ID: id, Name: name, Fields: all, UpdatedAt: updatedAt}
}

func validateDoc(d Doc) error {
	if d.ID == "" {
		return fmt.Errorf("doc has empty id")
	}
	return nil
}
