package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/medsearch/medsearch/internal/index"
	"github.com/medsearch/medsearch/internal/normalizer"
	"github.com/medsearch/medsearch/internal/store"
	"github.com/medsearch/medsearch/pkg/config"
	apperrors "github.com/medsearch/medsearch/pkg/errors"
)

func newTestPlanner(t *testing.T) (*Planner, *store.Store) {
	t.Helper()
	s := store.New(store.NewMemory(), time.Second)
	norm := normalizer.New(normalizer.Config{})
	cfg := config.SearchConfig{DefaultLimit: 10, MaxResults: 100}
	return New(s, norm, cfg), s
}

func seedTerm(t *testing.T, s *store.Store, term string, docs int) {
	t.Helper()
	pl := make(index.PostingList, 0, docs)
	for i := 0; i < docs; i++ {
		pl = append(pl, index.Posting{
			DocID:     fmt.Sprintf("doc-%s-%02d", term, i),
			Frequency: 1,
			Positions: []int{0},
		})
	}
	err := s.Apply(context.Background(), store.DocUpdate{
		Postings: map[string]index.PostingList{term: pl},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBuildPlanOrdersTermsRarestFirst(t *testing.T) {
	p, s := newTestPlanner(t)
	seedTerm(t, s, "fever", 5)
	seedTerm(t, s, "cough", 2)
	seedTerm(t, s, "dyspnea", 1)

	plan, err := p.BuildPlan(context.Background(), Request{Query: "fever cough dyspnea"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"dyspnea", "cough", "fever"}
	if len(plan.Terms) != len(want) {
		t.Fatalf("terms = %v", plan.Terms)
	}
	for i, term := range want {
		if plan.Terms[i] != term {
			t.Fatalf("terms = %v, want %v", plan.Terms, want)
		}
	}
	if plan.DocFreqs["cough"] != 2 {
		t.Fatalf("doc freqs = %v", plan.DocFreqs)
	}
}

func TestBuildPlanTiesBreakLexicographically(t *testing.T) {
	p, s := newTestPlanner(t)
	seedTerm(t, s, "fever", 1)
	seedTerm(t, s, "cough", 1)

	plan, err := p.BuildPlan(context.Background(), Request{Query: "fever cough"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Terms[0] != "cough" || plan.Terms[1] != "fever" {
		t.Fatalf("terms = %v", plan.Terms)
	}
}

func TestBuildPlanExtractsPhrases(t *testing.T) {
	p, _ := newTestPlanner(t)

	plan, err := p.BuildPlan(context.Background(), Request{Query: `"chest pain" fever`})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Phrases) != 1 {
		t.Fatalf("phrases = %+v", plan.Phrases)
	}
	phrase := plan.Phrases[0]
	if len(phrase) != 2 || phrase[0].Term != "chest" || phrase[1].Term != "pain" {
		t.Fatalf("phrase = %+v", phrase)
	}
	if phrase[0].Offset != 0 || phrase[1].Offset != 1 {
		t.Fatalf("offsets = %+v", phrase)
	}
	if len(plan.Terms) != 3 {
		t.Fatalf("terms = %v, want chest+pain+fever", plan.Terms)
	}
}

func TestPhraseOffsetsPreserveStopWordGaps(t *testing.T) {
	p, _ := newTestPlanner(t)

	plan, err := p.BuildPlan(context.Background(), Request{Query: `"shortness of breath"`})
	if err != nil {
		t.Fatal(err)
	}
	phrase := plan.Phrases[0]
	if len(phrase) != 2 {
		t.Fatalf("phrase = %+v", phrase)
	}
	if phrase[0].Term != "shortness" || phrase[0].Offset != 0 {
		t.Fatalf("phrase = %+v", phrase)
	}
	if phrase[1].Term != "breath" || phrase[1].Offset != 2 {
		t.Fatalf("phrase = %+v, want breath at offset 2", phrase)
	}
}

func TestBuildPlanRejectsUnclosedQuote(t *testing.T) {
	p, _ := newTestPlanner(t)
	_, err := p.BuildPlan(context.Background(), Request{Query: `"chest pain fever`})
	if !errors.Is(err, apperrors.ErrPlanning) {
		t.Fatalf("err = %v, want ErrPlanning", err)
	}
}

func TestBuildPlanRejectsBlankQuery(t *testing.T) {
	p, _ := newTestPlanner(t)
	for _, query := range []string{"", "   "} {
		_, err := p.BuildPlan(context.Background(), Request{Query: query})
		if !errors.Is(err, apperrors.ErrPlanning) {
			t.Fatalf("query %q: err = %v, want ErrPlanning", query, err)
		}
	}
}

func TestBuildPlanStopWordOnlyQueryYieldsNoTerms(t *testing.T) {
	p, _ := newTestPlanner(t)
	for _, query := range []string{"the and of it", `""`, `"of the"`} {
		plan, err := p.BuildPlan(context.Background(), Request{Query: query})
		if err != nil {
			t.Fatalf("query %q: %v", query, err)
		}
		if len(plan.Terms) != 0 || len(plan.Phrases) != 0 {
			t.Fatalf("query %q: plan = %+v, want no terms", query, plan)
		}
	}
}

func TestBuildPlanRejectsInvalidDateRange(t *testing.T) {
	p, _ := newTestPlanner(t)
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, err := p.BuildPlan(context.Background(), Request{
		Query:   "fever",
		Filters: Filters{DateFrom: &from, DateTo: &to},
	})
	if !errors.Is(err, apperrors.ErrPlanning) {
		t.Fatalf("err = %v, want ErrPlanning", err)
	}
}

func TestBuildPlanRejectsUnknownMode(t *testing.T) {
	p, _ := newTestPlanner(t)
	_, err := p.BuildPlan(context.Background(), Request{Query: "fever", Mode: "xor"})
	if !errors.Is(err, apperrors.ErrPlanning) {
		t.Fatalf("err = %v, want ErrPlanning", err)
	}
}

func TestBuildPlanDefaultsAndClampsLimit(t *testing.T) {
	p, _ := newTestPlanner(t)
	ctx := context.Background()

	plan, err := p.BuildPlan(ctx, Request{Query: "fever"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Mode != ModeAND {
		t.Fatalf("mode = %q, want and", plan.Mode)
	}
	if plan.Limit != 10 {
		t.Fatalf("limit = %d, want default 10", plan.Limit)
	}

	plan, err = p.BuildPlan(ctx, Request{Query: "fever", Limit: 5000})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Limit != 100 {
		t.Fatalf("limit = %d, want clamp to 100", plan.Limit)
	}
}

func TestFiltersNormalized(t *testing.T) {
	p, _ := newTestPlanner(t)
	plan, err := p.BuildPlan(context.Background(), Request{
		Query:   "fever",
		Filters: Filters{PatientName: "  Alice SMITH ", ReportTypes: []string{"Radiology", " "}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Filters.PatientName != "alice smith" {
		t.Fatalf("patient name = %q", plan.Filters.PatientName)
	}
	if len(plan.Filters.ReportTypes) != 1 || plan.Filters.ReportTypes[0] != "radiology" {
		t.Fatalf("report types = %v", plan.Filters.ReportTypes)
	}
}
