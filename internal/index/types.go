// Package index defines the core data model of the inverted index: postings,
// document metadata records, and corpus-wide statistics.
package index

import (
	"sort"
	"time"
)

// Posting associates one term with one document, carrying the term frequency
// and the ordered positions at which the term occurs.
type Posting struct {
	DocID     string `json:"d"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p"`
}

// PostingList is the ordered sequence of postings for a single term.
// Invariant: sorted by DocID ascending, at most one posting per document.
type PostingList []Posting

// Find returns the index of the posting for docID and whether it exists.
func (pl PostingList) Find(docID string) (int, bool) {
	i := sort.Search(len(pl), func(i int) bool {
		return pl[i].DocID >= docID
	})
	if i < len(pl) && pl[i].DocID == docID {
		return i, true
	}
	return i, false
}

// Upsert returns a copy of the list with p replacing any prior posting for
// the same document, preserving DocID sort order. The receiver is not
// modified, so readers holding the old list are unaffected.
func (pl PostingList) Upsert(p Posting) PostingList {
	i, found := pl.Find(p.DocID)
	out := make(PostingList, 0, len(pl)+1)
	out = append(out, pl[:i]...)
	out = append(out, p)
	if found {
		out = append(out, pl[i+1:]...)
	} else {
		out = append(out, pl[i:]...)
	}
	return out
}

// Remove returns a copy of the list without any posting for docID.
func (pl PostingList) Remove(docID string) PostingList {
	i, found := pl.Find(docID)
	if !found {
		return pl
	}
	out := make(PostingList, 0, len(pl)-1)
	out = append(out, pl[:i]...)
	out = append(out, pl[i+1:]...)
	return out
}

// Metadata is the structured record stored per document: the filterable
// fields plus the document length used for score normalization.
type Metadata struct {
	PatientName string    `json:"patient_name"`
	ReportDate  time.Time `json:"report_date"`
	ReportType  string    `json:"report_type"`
	DocLength   int       `json:"doc_length"`
	Excerpt     string    `json:"excerpt,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CorpusStats summarises the live (non-tombstoned) document set.
type CorpusStats struct {
	DocumentCount  int64 `json:"document_count"`
	TotalTermCount int64 `json:"total_term_count"`
}

// AvgDocLength returns the mean document length, or 0 for an empty corpus.
func (s CorpusStats) AvgDocLength() float64 {
	if s.DocumentCount == 0 {
		return 0
	}
	return float64(s.TotalTermCount) / float64(s.DocumentCount)
}
