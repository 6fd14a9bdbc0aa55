package index

import (
	"reflect"
	"testing"
)

func TestPostingListUpsertKeepsOrder(t *testing.T) {
	var pl PostingList
	for _, id := range []string{"doc-c", "doc-a", "doc-b"} {
		pl = pl.Upsert(Posting{DocID: id, Frequency: 1, Positions: []int{0}})
	}
	got := make([]string, 0, len(pl))
	for _, p := range pl {
		got = append(got, p.DocID)
	}
	want := []string{"doc-a", "doc-b", "doc-c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("doc order = %v, want %v", got, want)
	}
}

func TestPostingListUpsertReplaces(t *testing.T) {
	var pl PostingList
	pl = pl.Upsert(Posting{DocID: "doc-1", Frequency: 1, Positions: []int{0}})
	pl = pl.Upsert(Posting{DocID: "doc-1", Frequency: 3, Positions: []int{0, 4, 9}})
	if len(pl) != 1 {
		t.Fatalf("len = %d, want 1", len(pl))
	}
	if pl[0].Frequency != 3 {
		t.Errorf("frequency = %d, want 3", pl[0].Frequency)
	}
}

func TestPostingListUpsertDoesNotMutateReceiver(t *testing.T) {
	orig := PostingList{
		{DocID: "doc-1", Frequency: 1, Positions: []int{0}},
		{DocID: "doc-3", Frequency: 2, Positions: []int{1, 2}},
	}
	_ = orig.Upsert(Posting{DocID: "doc-2", Frequency: 1, Positions: []int{5}})
	if len(orig) != 2 || orig[0].DocID != "doc-1" || orig[1].DocID != "doc-3" {
		t.Fatalf("receiver mutated: %+v", orig)
	}
}

func TestPostingListRemove(t *testing.T) {
	pl := PostingList{
		{DocID: "doc-1"},
		{DocID: "doc-2"},
		{DocID: "doc-3"},
	}
	pl = pl.Remove("doc-2")
	if len(pl) != 2 || pl[0].DocID != "doc-1" || pl[1].DocID != "doc-3" {
		t.Fatalf("unexpected list after remove: %+v", pl)
	}
	if got := pl.Remove("doc-missing"); len(got) != 2 {
		t.Errorf("removing absent doc changed list: %+v", got)
	}
}

func TestCorpusStatsAvgDocLength(t *testing.T) {
	if got := (CorpusStats{}).AvgDocLength(); got != 0 {
		t.Errorf("empty corpus avg = %v, want 0", got)
	}
	s := CorpusStats{DocumentCount: 4, TotalTermCount: 10}
	if got := s.AvgDocLength(); got != 2.5 {
		t.Errorf("avg = %v, want 2.5", got)
	}
}
