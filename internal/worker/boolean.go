package worker

import "github.com/katta-cluster/katta/internal/indexengine/postings"

// intersectCandidates returns the doc IDs present in every term's posting
// list, ported from the teacher's executor.intersectPostings: start from
// the shortest list (cheapest to seed from) and narrow it against every
// other term's doc-ID set.
func intersectCandidates(postingsPerTerm map[string]postings.PostingList) map[string]struct{} {
	if len(postingsPerTerm) == 0 {
		return make(map[string]struct{})
	}
	var shortestTerm string
	shortestLen := -1
	for term, list := range postingsPerTerm {
		if shortestLen < 0 || len(list) < shortestLen {
			shortestLen = len(list)
			shortestTerm = term
		}
	}
	candidates := make(map[string]struct{}, shortestLen)
	for _, p := range postingsPerTerm[shortestTerm] {
		candidates[p.DocID] = struct{}{}
	}
	for term, list := range postingsPerTerm {
		if term == shortestTerm {
			continue
		}
		docSet := make(map[string]struct{}, len(list))
		for _, p := range list {
			docSet[p.DocID] = struct{}{}
		}
		for docID := range candidates {
			if _, ok := docSet[docID]; !ok {
				delete(candidates, docID)
			}
		}
	}
	return candidates
}

// unionCandidates returns every doc ID appearing in any term's posting
// list.
func unionCandidates(postingsPerTerm map[string]postings.PostingList) map[string]struct{} {
	result := make(map[string]struct{})
	for _, list := range postingsPerTerm {
		for _, p := range list {
			result[p.DocID] = struct{}{}
		}
	}
	return result
}

// restrictToCandidates drops every posting whose doc ID is not in
// candidates, so the downstream ranker only ever scores documents that
// satisfied the query's Boolean combination.
func restrictToCandidates(postingsPerTerm map[string]postings.PostingList, candidates map[string]struct{}) map[string]postings.PostingList {
	out := make(map[string]postings.PostingList, len(postingsPerTerm))
	for term, list := range postingsPerTerm {
		kept := make(postings.PostingList, 0, len(list))
		for _, p := range list {
			if _, ok := candidates[p.DocID]; ok {
				kept = append(kept, p)
			}
		}
		out[term] = kept
	}
	return out
}
