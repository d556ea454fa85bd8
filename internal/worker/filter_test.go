package worker

import "testing"

func TestParseFilter_SplitsFieldAndValue(t *testing.T) {
	f := parseFilter("category=electronics")
	if f == nil || f.field != "category" || f.value != "electronics" {
		t.Fatalf("expected field=category value=electronics, got %+v", f)
	}
}

func TestParseFilter_EmptyIsNil(t *testing.T) {
	if parseFilter("") != nil {
		t.Fatal("expected empty filter to parse to nil (no filtering)")
	}
}

func TestParseFilter_MalformedIsNil(t *testing.T) {
	if parseFilter("no-equals-sign") != nil {
		t.Fatal("expected malformed filter to parse to nil")
	}
}

func TestCompiledFilter_Matches(t *testing.T) {
	f := &compiledFilter{field: "category", value: "books"}
	if !f.matches(map[string]string{"category": "books"}, true) {
		t.Fatal("expected matching field value to pass")
	}
	if f.matches(map[string]string{"category": "toys"}, true) {
		t.Fatal("expected mismatched field value to fail")
	}
	if f.matches(nil, false) {
		t.Fatal("expected missing document to fail")
	}
}

func TestCompiledFilter_NilMatchesEverything(t *testing.T) {
	var f *compiledFilter
	if !f.matches(nil, false) {
		t.Fatal("expected nil filter to match unconditionally")
	}
}
