package worker

import "strings"

// compiledFilter is the parsed form of a SearchRequest.Filter string. The
// cluster's filter grammar is deliberately minimal — a single
// field=value equality test — since richer filtering belongs in the
// index engine's query language, not the wire protocol between
// Coordinator and Worker.
type compiledFilter struct {
	field string
	value string
}

func parseFilter(raw string) *compiledFilter {
	if raw == "" {
		return nil
	}
	field, value, ok := strings.Cut(raw, "=")
	if !ok {
		return nil
	}
	return &compiledFilter{field: field, value: value}
}

func (f *compiledFilter) matches(fields map[string]string, ok bool) bool {
	if f == nil {
		return true
	}
	if !ok {
		return false
	}
	return fields[f.field] == f.value
}
