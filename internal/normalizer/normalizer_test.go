package normalizer

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/medsearch/medsearch/pkg/errors"
)

func TestNormalizeDeterminism(t *testing.T) {
	n := New(Config{Stemming: true})
	text := "Patient presented with acute chest pain and persistent coughing."
	first, err := n.Normalize(text)
	if err != nil {
		t.Fatal(err)
	}
	second, err := n.Normalize(text)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalization not deterministic:\n%v\n%v", first, second)
	}
}

func TestNormalizeStopWordsAdvancePositions(t *testing.T) {
	n := New(Config{Stemming: false})
	// "and" is a stop-word; "cough" must keep position 2 so the phrase
	// "fever and cough" matches positionally.
	tokens, err := n.Normalize("fever and cough")
	if err != nil {
		t.Fatal(err)
	}
	want := []Token{
		{Term: "fever", Position: 0},
		{Term: "cough", Position: 2},
	}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	n := New(Config{})
	for _, input := range []string{"", "   ", "\n\t  "} {
		tokens, err := n.Normalize(input)
		if err != nil {
			t.Errorf("Normalize(%q) err = %v, want nil", input, err)
		}
		if len(tokens) != 0 {
			t.Errorf("Normalize(%q) = %v, want empty", input, tokens)
		}
	}
}

func TestNormalizeRejectsBinaryInput(t *testing.T) {
	n := New(Config{})
	for _, input := range []string{"report\x00data", string([]byte{0xff, 0xfe, 0x41})} {
		_, err := n.Normalize(input)
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("Normalize(%q) err = %v, want ErrValidation", input, err)
		}
	}
}

func TestNormalizeLowercasesAndStripsPunctuation(t *testing.T) {
	n := New(Config{Stemming: false})
	tokens, err := n.Normalize("Fever, COUGH; (dyspnea)!")
	if err != nil {
		t.Fatal(err)
	}
	terms := termsOf(tokens)
	want := []string{"fever", "cough", "dyspnea"}
	if !reflect.DeepEqual(terms, want) {
		t.Fatalf("terms = %v, want %v", terms, want)
	}
}

func TestNormalizeFoldsDiacritics(t *testing.T) {
	n := New(Config{Stemming: false})
	tokens, err := n.Normalize("José Muñoz anémia")
	if err != nil {
		t.Fatal(err)
	}
	terms := termsOf(tokens)
	want := []string{"jose", "munoz", "anemia"}
	if !reflect.DeepEqual(terms, want) {
		t.Fatalf("terms = %v, want %v", terms, want)
	}
}

func TestNormalizeAbbreviationExpansion(t *testing.T) {
	n := New(Config{
		Stemming: false,
		Abbreviations: map[string][]string{
			"copd": {"chronic", "obstructive", "pulmonary", "disease"},
		},
	})
	tokens, err := n.Normalize("history of COPD noted")
	if err != nil {
		t.Fatal(err)
	}
	// Abbreviation and expansion terms all share the abbreviation's position.
	var copdPos = -1
	seen := map[string]int{}
	for _, tok := range tokens {
		seen[tok.Term] = tok.Position
		if tok.Term == "copd" {
			copdPos = tok.Position
		}
	}
	if copdPos == -1 {
		t.Fatal("abbreviation term itself not emitted")
	}
	for _, term := range []string{"chronic", "obstructive", "pulmonary", "disease"} {
		pos, ok := seen[term]
		if !ok {
			t.Fatalf("expansion term %q not emitted (tokens: %v)", term, tokens)
		}
		if pos != copdPos {
			t.Errorf("expansion term %q at position %d, want %d", term, pos, copdPos)
		}
	}
}

func TestNormalizeQuerySymmetry(t *testing.T) {
	n := New(Config{Stemming: true})
	docTokens, err := n.Normalize("patient was coughing heavily")
	if err != nil {
		t.Fatal(err)
	}
	queryTokens, err := n.Normalize("coughing")
	if err != nil {
		t.Fatal(err)
	}
	if len(queryTokens) != 1 {
		t.Fatalf("query tokens = %v, want one", queryTokens)
	}
	found := false
	for _, tok := range docTokens {
		if tok.Term == queryTokens[0].Term {
			found = true
		}
	}
	if !found {
		t.Fatalf("query term %q not found in doc terms %v", queryTokens[0].Term, docTokens)
	}
}

func TestTermsDeduplicates(t *testing.T) {
	n := New(Config{Stemming: false})
	terms, err := n.Terms("cough cough fever cough")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"cough", "fever"}
	if !reflect.DeepEqual(terms, want) {
		t.Fatalf("terms = %v, want %v", terms, want)
	}
}

func termsOf(tokens []Token) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, tok.Term)
	}
	return out
}

func BenchmarkNormalize(b *testing.B) {
	n := New(Config{Stemming: true})
	text := strings.Repeat("patient presented with acute chest pain shortness of breath and persistent cough ", 20)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Normalize(text); err != nil {
			b.Fatal(err)
		}
	}
}
