// Package planner parses query strings into executable retrieval plans:
// normalized terms ordered rarest-first, phrase constraints with positional
// offsets, and validated metadata filters.
package planner

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/medsearch/medsearch/internal/normalizer"
	"github.com/medsearch/medsearch/internal/store"
	"github.com/medsearch/medsearch/pkg/config"
	apperrors "github.com/medsearch/medsearch/pkg/errors"
)

// Mode selects how multiple terms combine.
type Mode string

const (
	ModeAND Mode = "and"
	ModeOR  Mode = "or"
)

// PhraseTerm is one term of a phrase constraint. Offset is the term's word
// position relative to the first term of the phrase, in original word
// positions, so stop-words inside a phrase widen the gap instead of
// breaking it.
type PhraseTerm struct {
	Term   string
	Offset int
}

// Phrase is an ordered phrase constraint; every term must appear in one
// document at matching relative positions.
type Phrase []PhraseTerm

// Filters restricts results by document metadata.
type Filters struct {
	// PatientName matches the full patient name, case-insensitively.
	PatientName string
	// PatientPrefix matches a case-insensitive name prefix.
	PatientPrefix string
	DateFrom      *time.Time
	DateTo        *time.Time
	ReportTypes   []string
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.PatientName == "" && f.PatientPrefix == "" &&
		f.DateFrom == nil && f.DateTo == nil && len(f.ReportTypes) == 0
}

// Request is a search request before planning.
type Request struct {
	Query   string
	Mode    Mode
	Filters Filters
	Limit   int
	Cursor  string
}

// Plan is an executable retrieval plan.
type Plan struct {
	// Terms holds the distinct normalized query terms, rarest first, so
	// AND-mode intersection starts from the shortest postings list.
	Terms []string
	// DocFreqs maps each term to its postings-list length at planning time.
	DocFreqs map[string]int
	Phrases  []Phrase
	Mode     Mode
	Filters  Filters
	Limit    int
	Cursor   string
}

// Planner turns requests into plans using the shared normalizer and the
// index store's term statistics.
type Planner struct {
	store  *store.Store
	norm   *normalizer.Normalizer
	cfg    config.SearchConfig
	logger *slog.Logger
}

// New creates a Planner.
func New(s *store.Store, norm *normalizer.Normalizer, cfg config.SearchConfig) *Planner {
	return &Planner{
		store:  s,
		norm:   norm,
		cfg:    cfg,
		logger: slog.Default().With("component", "planner"),
	}
}

// BuildPlan validates and compiles a request. Unparseable queries and
// inconsistent filters fail with a planning error; nothing about the index
// changes either way. A query whose text normalizes to nothing (all
// stop-words, say) compiles to a plan with no terms, which retrieval answers
// with an empty result.
func (p *Planner) BuildPlan(ctx context.Context, req Request) (*Plan, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperrors.Planning("query text is required")
	}
	if err := validateFilters(req.Filters); err != nil {
		return nil, err
	}

	mode := req.Mode
	switch mode {
	case "":
		mode = ModeAND
		if p.cfg.DefaultORMode {
			mode = ModeOR
		}
	case ModeAND, ModeOR:
	default:
		return nil, apperrors.Planning("unknown query mode %q", req.Mode)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = p.cfg.DefaultLimit
	}
	if p.cfg.MaxResults > 0 && limit > p.cfg.MaxResults {
		limit = p.cfg.MaxResults
	}

	phraseParts, freeText, err := splitPhrases(req.Query)
	if err != nil {
		return nil, err
	}

	termSet := make(map[string]struct{})
	var phrases []Phrase
	for _, part := range phraseParts {
		phrase, err := p.compilePhrase(part)
		if err != nil {
			return nil, err
		}
		if len(phrase) == 0 {
			continue
		}
		phrases = append(phrases, phrase)
		for _, pt := range phrase {
			termSet[pt.Term] = struct{}{}
		}
	}

	freeTerms, err := p.norm.Terms(freeText)
	if err != nil {
		return nil, apperrors.Planning("parsing query: %v", err)
	}
	for _, t := range freeTerms {
		termSet[t] = struct{}{}
	}

	terms := make([]string, 0, len(termSet))
	docFreqs := make(map[string]int, len(termSet))
	for term := range termSet {
		df, err := p.store.DocFreq(ctx, term)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
		docFreqs[term] = df
	}
	sort.Slice(terms, func(i, j int) bool {
		if docFreqs[terms[i]] != docFreqs[terms[j]] {
			return docFreqs[terms[i]] < docFreqs[terms[j]]
		}
		return terms[i] < terms[j]
	})

	plan := &Plan{
		Terms:    terms,
		DocFreqs: docFreqs,
		Phrases:  phrases,
		Mode:     mode,
		Filters:  normalizeFilters(req.Filters),
		Limit:    limit,
		Cursor:   req.Cursor,
	}
	p.logger.Debug("plan built",
		"terms", len(plan.Terms),
		"phrases", len(plan.Phrases),
		"mode", string(plan.Mode),
	)
	return plan, nil
}

// compilePhrase normalizes a quoted phrase into relative-offset terms.
func (p *Planner) compilePhrase(raw string) (Phrase, error) {
	tokens, err := p.norm.Normalize(raw)
	if err != nil {
		return nil, apperrors.Planning("parsing phrase %q: %v", raw, err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	base := tokens[0].Position
	phrase := make(Phrase, 0, len(tokens))
	lastPos := -1
	for _, tok := range tokens {
		// Abbreviation expansions share their source word's position; keep
		// the first term per position so the phrase stays a strict sequence.
		if tok.Position == lastPos {
			continue
		}
		lastPos = tok.Position
		phrase = append(phrase, PhraseTerm{Term: tok.Term, Offset: tok.Position - base})
	}
	return phrase, nil
}

// splitPhrases separates double-quoted phrases from free text. An unclosed
// quote is a planning error.
func splitPhrases(query string) (phrases []string, freeText string, err error) {
	var free strings.Builder
	for {
		open := strings.IndexByte(query, '"')
		if open < 0 {
			free.WriteString(query)
			break
		}
		free.WriteString(query[:open])
		free.WriteByte(' ')
		rest := query[open+1:]
		closing := strings.IndexByte(rest, '"')
		if closing < 0 {
			return nil, "", apperrors.Planning("unclosed quote in query")
		}
		if p := strings.TrimSpace(rest[:closing]); p != "" {
			phrases = append(phrases, p)
		}
		query = rest[closing+1:]
	}
	return phrases, free.String(), nil
}

func validateFilters(f Filters) error {
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return apperrors.Planning("date_from is after date_to")
	}
	if f.PatientName != "" && f.PatientPrefix != "" {
		return apperrors.Planning("patient_name and patient_prefix are mutually exclusive")
	}
	return nil
}

func normalizeFilters(f Filters) Filters {
	f.PatientName = strings.ToLower(strings.TrimSpace(f.PatientName))
	f.PatientPrefix = strings.ToLower(strings.TrimSpace(f.PatientPrefix))
	if len(f.ReportTypes) > 0 {
		types := make([]string, 0, len(f.ReportTypes))
		for _, t := range f.ReportTypes {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				types = append(types, t)
			}
		}
		f.ReportTypes = types
	}
	return f
}
