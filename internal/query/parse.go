package query

import (
	"strings"

	"github.com/katta-cluster/katta/internal/indexengine/tokenizer"
)

// QueryType indicates the Boolean combination mode for a query's include
// terms.
type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

// String satisfies the wire representation proto.SearchRequest expects.
func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

// QueryPlan is the parsed representation of a query string: its include
// terms, exclude terms, Boolean combination mode, and the original text.
type QueryPlan struct {
	Terms        []string
	ExcludeTerms []string
	Type         QueryType
	RawQuery     string
}

// Parse tokenises query, recognising AND/OR/NOT operators case-
// insensitively and delegating term normalisation to the shared
// tokenizer so a query term stems and lower-cases exactly like the terms
// the index engine stored.
func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	words := strings.Fields(query)
	excludeNext := false
	for _, word := range words {
		switch strings.ToUpper(word) {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		tokens := tokenizer.Tokenize(word)
		if len(tokens) == 0 {
			continue
		}
		term := tokens[0].Term
		if excludeNext {
			plan.ExcludeTerms = append(plan.ExcludeTerms, term)
			excludeNext = false
		} else {
			plan.Terms = append(plan.Terms, term)
		}
	}
	return plan
}
