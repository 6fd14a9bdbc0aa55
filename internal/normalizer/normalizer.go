// Package normalizer turns raw clinical text and query strings into a
// canonical stream of (term, position) tokens. The same Normalizer instance
// (or an identically configured one) must be used at ingest and query time;
// matching depends on the two sides producing identical streams.
package normalizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/medsearch/medsearch/pkg/errors"
)

// Token is a single normalized term and the position of its source word in
// the original text. Positions count every word, including stop-words, so
// phrase offsets survive stop-word removal.
type Token struct {
	Term     string
	Position int
}

// Config controls normalization. The zero value plus Defaults() matches the
// engine-wide defaults.
type Config struct {
	MinTokenLength int
	Stemming       bool
	// StopWords replaces the built-in stop-word set when non-empty.
	StopWords []string
	// Abbreviations maps a lower-cased abbreviation to expansion terms that
	// are emitted alongside it at the same position, e.g.
	// "copd" -> ["chronic", "obstructive", "pulmonary", "disease"].
	Abbreviations map[string][]string
}

// Normalizer is a deterministic, pure tokenizer for a fixed Config.
type Normalizer struct {
	minLen        int
	stemming      bool
	stopWords     map[string]struct{}
	abbreviations map[string][]string
}

// New builds a Normalizer from cfg. Abbreviation expansions are normalized
// once up front so ingest- and query-time output stay symmetric.
func New(cfg Config) *Normalizer {
	n := &Normalizer{
		minLen:   cfg.MinTokenLength,
		stemming: cfg.Stemming,
	}
	if n.minLen <= 0 {
		n.minLen = 2
	}
	if len(cfg.StopWords) > 0 {
		n.stopWords = make(map[string]struct{}, len(cfg.StopWords))
		for _, w := range cfg.StopWords {
			n.stopWords[strings.ToLower(w)] = struct{}{}
		}
	} else {
		n.stopWords = defaultStopWords
	}
	if len(cfg.Abbreviations) > 0 {
		n.abbreviations = make(map[string][]string, len(cfg.Abbreviations))
		for abbr, expansion := range cfg.Abbreviations {
			terms := make([]string, 0, len(expansion))
			for _, word := range expansion {
				if t := n.normalizeWord(word); t != "" {
					terms = append(terms, t)
				}
			}
			n.abbreviations[strings.ToLower(abbr)] = terms
		}
	}
	return n
}

// Normalize tokenizes raw text. Empty or whitespace-only input yields an
// empty stream. Input that is not valid text (invalid UTF-8 or embedded NUL
// bytes) is rejected with a validation error; text extraction is the
// caller's responsibility.
func (n *Normalizer) Normalize(raw string) ([]Token, error) {
	if !utf8.ValidString(raw) || strings.ContainsRune(raw, 0) {
		return nil, apperrors.Validation("input is not plain text")
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	words := strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]Token, 0, len(words))
	for pos, word := range words {
		lower := strings.ToLower(foldDiacritics(word))
		if _, isStop := n.stopWords[lower]; isStop {
			continue // position still advances
		}
		if expansion, ok := n.abbreviations[lower]; ok {
			if t := n.normalizeWord(lower); t != "" {
				tokens = append(tokens, Token{Term: t, Position: pos})
			}
			for _, t := range expansion {
				tokens = append(tokens, Token{Term: t, Position: pos})
			}
			continue
		}
		if len(lower) < n.minLen {
			continue
		}
		term := lower
		if n.stemming {
			term = stem(term)
		}
		if term == "" {
			continue
		}
		tokens = append(tokens, Token{Term: term, Position: pos})
	}
	return tokens, nil
}

// Terms returns just the distinct normalized terms of raw, in first-seen
// order. Used by callers that need term sets rather than positions.
func (n *Normalizer) Terms(raw string) ([]string, error) {
	tokens, err := n.Normalize(raw)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok.Term]; dup {
			continue
		}
		seen[tok.Term] = struct{}{}
		terms = append(terms, tok.Term)
	}
	return terms, nil
}

// normalizeWord applies lowercasing, diacritic folding, and stemming to a
// single word without stop-word or length checks.
func (n *Normalizer) normalizeWord(word string) string {
	lower := strings.ToLower(foldDiacritics(word))
	if lower == "" {
		return ""
	}
	if n.stemming {
		return stem(lower)
	}
	return lower
}

// foldDiacritics maps accented Latin letters to their ASCII base form.
// Patient names in scanned reports frequently carry accents that queries
// omit.
func foldDiacritics(s string) string {
	var b strings.Builder
	changed := false
	for i, r := range s {
		folded, ok := diacriticFold[r]
		if ok && !changed {
			changed = true
			b.Grow(len(s))
			b.WriteString(s[:i])
		}
		if !changed {
			continue
		}
		if ok {
			b.WriteRune(folded)
		} else {
			b.WriteRune(r)
		}
	}
	if !changed {
		return s
	}
	return b.String()
}

var diacriticFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ã': 'a', 'å': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'õ': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ý': 'y', 'ÿ': 'y',
	'ç': 'c', 'ñ': 'n',
	'Á': 'A', 'À': 'A', 'Â': 'A', 'Ä': 'A', 'Ã': 'A', 'Å': 'A',
	'É': 'E', 'È': 'E', 'Ê': 'E', 'Ë': 'E',
	'Í': 'I', 'Ì': 'I', 'Î': 'I', 'Ï': 'I',
	'Ó': 'O', 'Ò': 'O', 'Ô': 'O', 'Ö': 'O', 'Õ': 'O',
	'Ú': 'U', 'Ù': 'U', 'Û': 'U', 'Ü': 'U',
	'Ý': 'Y', 'Ç': 'C', 'Ñ': 'N',
}

var defaultStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "she": {}, "her": {}, "his": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}
