// Package proto defines the wire message types exchanged between the Query
// Coordinator and Worker Nodes over the JSON-over-TCP RPC layer (see
// pkg/grpc). The Master makes no RPC calls to Workers.
//
// These are hand-written rather than generated from .proto files: the
// cluster has no cross-language clients, so the lightweight JSON framing
// in pkg/grpc is sufficient and keeps the dependency surface small.
package proto

// ---------- Common ----------

// HealthCheckResponse mirrors the gRPC health check spec.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING, UNKNOWN
}

// ---------- Worker search RPCs ----------

// DocFreqsRequest asks a replica for the document frequency of each term,
// the phase-one call of a scatter/gather query (spec.md §4.4).
type DocFreqsRequest struct {
	Shard string   `json:"shard"`
	Terms []string `json:"terms"`
}

// DocFreqsResponse reports per-term document frequency and the shard's
// total live document count, used to compute query-wide IDF.
type DocFreqsResponse struct {
	Shard    string         `json:"shard"`
	DocFreqs map[string]int `json:"docFreqs"`
	NumDocs  int            `json:"numDocs"`
}

// SearchRequest is the phase-two scatter call: search one shard replica
// with query-wide IDF weights already resolved.
type SearchRequest struct {
	Shard        string             `json:"shard"`
	Terms        []string           `json:"terms"`
	ExcludeTerms []string           `json:"excludeTerms,omitempty"`
	Type         string             `json:"type,omitempty"` // "AND" or "OR", default AND
	IDF          map[string]float64 `json:"idf"`
	Filter       string             `json:"filter,omitempty"`
	Limit        int                `json:"limit"`
	SortField    string             `json:"sortField,omitempty"`
	SortOrder    string             `json:"sortOrder,omitempty"` // "asc" or "desc"
}

// SearchResponse is one shard's contribution to a query: its top Limit
// hits plus the total number of documents in this shard that matched.
type SearchResponse struct {
	Shard     string `json:"shard"`
	Hits      []Hit  `json:"hits"`
	TotalHits int    `json:"totalHits"`
}

// Hit is a single scored document from one shard.
type Hit struct {
	DocID string  `json:"docId"`
	Score float64 `json:"score"`
}

// GetDetailsRequest fetches stored fields for a set of documents local to
// one shard replica, the final stage of answering a query.
type GetDetailsRequest struct {
	Shard  string   `json:"shard"`
	DocIDs []string `json:"docIds"`
	Fields []string `json:"fields,omitempty"`
}

// GetDetailsResponse carries the requested stored fields, keyed by
// document ID.
type GetDetailsResponse struct {
	Shard   string                       `json:"shard"`
	Details map[string]map[string]string `json:"details"`
}

// ---------- Worker lifecycle RPCs ----------

// PingRequest is a no-op liveness probe any RPC client can send a Worker
// directly, independent of the store's ephemeral-node signal.
type PingRequest struct{}

// PingResponse reports the Worker's self-observed health.
type PingResponse struct {
	NodeName   string `json:"nodeName"`
	OpenShards int    `json:"openShards"`
	Healthy    bool   `json:"healthy"`
}
