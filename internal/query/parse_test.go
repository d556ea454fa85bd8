package query

import "testing"

func TestParse_DefaultsToAND(t *testing.T) {
	plan := Parse("search engine")
	if plan.Type != QueryAND {
		t.Fatal("expected default query type AND")
	}
	if len(plan.Terms) != 2 {
		t.Fatalf("expected 2 terms, got %v", plan.Terms)
	}
}

func TestParse_RecognisesOR(t *testing.T) {
	plan := Parse("cats OR dogs")
	if plan.Type != QueryOR {
		t.Fatal("expected OR query type")
	}
	if len(plan.Terms) != 2 {
		t.Fatalf("expected 2 terms, got %v", plan.Terms)
	}
}

func TestParse_RecognisesNOT(t *testing.T) {
	plan := Parse("search NOT archived")
	if len(plan.Terms) != 1 || len(plan.ExcludeTerms) != 1 {
		t.Fatalf("expected 1 term and 1 exclude term, got terms=%v excludes=%v", plan.Terms, plan.ExcludeTerms)
	}
}

func TestParse_EmptyQueryHasNoTerms(t *testing.T) {
	plan := Parse("   ")
	if len(plan.Terms) != 0 {
		t.Fatalf("expected no terms for blank query, got %v", plan.Terms)
	}
}

func TestQueryType_String(t *testing.T) {
	if QueryAND.String() != "AND" || QueryOR.String() != "OR" {
		t.Fatal("unexpected QueryType string representation")
	}
}
