package retrieval

import (
	"math"

	"github.com/medsearch/medsearch/internal/index"
)

// BM25 parameters. k1 controls term-frequency saturation, b the strength of
// document-length normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// idf computes the smoothed inverse document frequency. The +1 inside the
// log keeps the value positive even when a term appears in more than half
// the corpus.
func idf(docCount int64, docFreq int) float64 {
	n := float64(docCount)
	df := float64(docFreq)
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// bm25 scores one term occurrence set within one document.
func bm25(termFreq, docFreq, docLength int, stats index.CorpusStats) float64 {
	avg := stats.AvgDocLength()
	if avg == 0 {
		avg = 1
	}
	tf := float64(termFreq)
	norm := bm25K1 * (1 - bm25B + bm25B*float64(docLength)/avg)
	return idf(stats.DocumentCount, docFreq) * (tf * (bm25K1 + 1) / (tf + norm))
}

// round4 fixes scores to 4 decimal places so equal-relevance documents
// compare equal and ordering falls through to the document ID tie-break.
func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
