package retrieval

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultSnippetLength = 160

// snippet extracts a window of the stored excerpt around the first query
// term occurrence. Stemmed query terms match as word prefixes, so "cough"
// still anchors on "coughing".
func (e *Engine) snippet(excerpt string, terms []string) string {
	if excerpt == "" {
		return ""
	}
	maxLen := e.cfg.SnippetLength
	if maxLen <= 0 {
		maxLen = defaultSnippetLength
	}

	anchor := -1
	lower := strings.ToLower(excerpt)
	offset := 0
	for _, word := range strings.FieldsFunc(lower, isWordBreak) {
		i := strings.Index(lower[offset:], word)
		if i < 0 {
			break
		}
		pos := offset + i
		offset = pos + len(word)
		for _, term := range terms {
			if strings.HasPrefix(word, term) {
				anchor = pos
				break
			}
		}
		if anchor >= 0 {
			break
		}
	}
	if anchor < 0 {
		anchor = 0
	}

	start := anchor - maxLen/4
	if start < 0 {
		start = 0
	}
	end := start + maxLen
	if end > len(excerpt) {
		end = len(excerpt)
		if start = end - maxLen; start < 0 {
			start = 0
		}
	}
	start, end = alignToWords(excerpt, start, end)

	out := strings.TrimSpace(excerpt[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(excerpt) {
		out += "..."
	}
	return out
}

// alignToWords nudges a byte window inward so it never splits a word or a
// multi-byte rune.
func alignToWords(s string, start, end int) (int, int) {
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	for start > 0 && start < len(s) {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordBreak(r) {
			break
		}
		_, n := utf8.DecodeRuneInString(s[start:])
		start += n
	}
	for end > 0 && end < len(s) && !utf8.RuneStart(s[end]) {
		end--
	}
	for end > start && end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordBreak(r) {
			break
		}
		_, n := utf8.DecodeLastRuneInString(s[:end])
		end -= n
	}
	if start > end {
		start = end
	}
	return start, end
}

func isWordBreak(r rune) bool {
	return unicode.IsSpace(r) || r == '.' || r == ',' || r == ';' || r == ':'
}

// equalFold compares a metadata value against an already-lowercased filter.
func equalFold(value, lowerFilter string) bool {
	return strings.ToLower(strings.TrimSpace(value)) == lowerFilter
}

func hasPrefixFold(value, lowerPrefix string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), lowerPrefix)
}
