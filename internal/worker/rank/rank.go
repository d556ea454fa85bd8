// Package rank implements BM25 relevance scoring for a single shard's
// search results. Unlike a single-node engine that computes its own
// inverse document frequency, a Worker scores against IDF values the
// Query Coordinator already computed from every shard's docFreqs
// response — so every shard's scores are comparable in the merged
// top-K, per spec.md §4.4's two-phase scatter/gather.
package rank

import (
	"math"
	"sort"

	"github.com/katta-cluster/katta/internal/indexengine/postings"
)

// BM25 tuning parameters.
const (
	k1 = 1.2
	b  = 0.75
)

// ScoredDoc pairs a document ID with its BM25 relevance score.
type ScoredDoc struct {
	DocID string
	Score float64
}

// Params holds the statistics this shard replica needs for BM25's length
// normalisation term — its own average document length — plus the
// query-wide IDF the Coordinator computed in phase one.
type Params struct {
	AvgDocLength float64
	IDF          map[string]float64
}

// Score scores every candidate document named in postingsPerTerm using
// BM25 and returns the top-limit results sorted by descending score, ties
// broken by document id for determinism across repeated queries.
func Score(postingsPerTerm map[string]postings.PostingList, params Params, docLength func(docID string) int, limit int) []ScoredDoc {
	scores := make(map[string]float64)
	for term, list := range postingsPerTerm {
		idf := params.IDF[term]
		for _, posting := range list {
			tfNorm := computeTFNorm(float64(posting.Frequency), float64(docLength(posting.DocID)), params.AvgDocLength)
			scores[posting.DocID] += idf * tfNorm
		}
	}
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{DocID: docID, Score: math.Round(score*10000) / 10000})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].DocID < result[j].DocID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// ComputeIDF is exposed for the Query Coordinator, which owns phase one:
// it sums docFreqs across every shard and derives one IDF value per term
// before the scatter in phase two.
func ComputeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq, docLength, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
