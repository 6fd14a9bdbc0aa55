package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medsearch/medsearch/internal/planner"
	"github.com/medsearch/medsearch/internal/retrieval"
)

func TestKeyIsDeterministic(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := planner.Request{
		Query:   "cough fever",
		Mode:    planner.ModeAND,
		Filters: planner.Filters{PatientName: "alice smith", DateFrom: &from},
		Limit:   10,
	}
	if Key(req) != Key(req) {
		t.Fatal("same request must produce the same key")
	}

	other := req
	other.Cursor = "abc"
	if Key(req) == Key(other) {
		t.Fatal("cursor must be part of the key")
	}
	other = req
	other.Limit = 20
	if Key(req) == Key(other) {
		t.Fatal("limit must be part of the key")
	}
}

func TestNilRedisIsPassThrough(t *testing.T) {
	c := New(nil, time.Minute, nil)

	want := &retrieval.Response{Total: 3}
	resp, hit, err := c.GetOrCompute(context.Background(), "query:k", func(ctx context.Context) (*retrieval.Response, error) {
		return want, nil
	})
	if err != nil || hit {
		t.Fatalf("err = %v, hit = %v", err, hit)
	}
	if resp != want {
		t.Fatalf("resp = %+v", resp)
	}

	wantErr := errors.New("boom")
	_, _, err = c.GetOrCompute(context.Background(), "query:k", func(ctx context.Context) (*retrieval.Response, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
}
