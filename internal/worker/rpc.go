package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/katta-cluster/katta/internal/indexengine"
	"github.com/katta-cluster/katta/internal/indexengine/postings"
	"github.com/katta-cluster/katta/internal/worker/rank"
	"github.com/katta-cluster/katta/pkg/errors"
	"github.com/katta-cluster/katta/pkg/grpc"
	"github.com/katta-cluster/katta/pkg/proto"
)

// defaultJobBudget is the wall-clock allowance a single search or
// docFreqs job gets before the search pool's shared timer aborts it. The
// Worker only ever spends TimeoutPercentage of it, leaving the remainder
// as margin for the Coordinator's own RPC round trip (spec.md §4.2).
const defaultJobBudget = 2 * time.Second

// registerHandlers wires the Worker's RPC surface onto srv. Method names
// follow the cluster's "Service.Method" convention.
func (n *Node) registerHandlers(srv *grpc.Server) {
	srv.Register("Worker.Ping", n.handlePing)
	srv.Register("Worker.DocFreqs", n.handleDocFreqs)
	srv.Register("Worker.Search", n.handleSearch)
	srv.Register("Worker.GetDetails", n.handleGetDetails)
}

func (n *Node) handlePing(ctx context.Context, raw json.RawMessage) (any, error) {
	return &proto.PingResponse{
		NodeName:   n.cfg.NodeName,
		OpenShards: n.shards.shardCount(),
		Healthy:    true,
	}, nil
}

func (n *Node) handleDocFreqs(ctx context.Context, raw json.RawMessage) (any, error) {
	var req proto.DocFreqsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedQuery, err)
	}
	budget := time.Duration(float64(defaultJobBudget) * n.cfg.TimeoutPercentage)
	out, err, timedOut := n.pool.Submit(ctx, budget, func() (any, error) {
		engine, ok := n.shards.EngineFor(req.Shard)
		if !ok {
			return nil, fmt.Errorf("%w: shard %s not open on %s", errors.ErrShardUnavailable, req.Shard, n.cfg.NodeName)
		}
		freqs := make(map[string]int, len(req.Terms))
		for _, term := range req.Terms {
			df, _ := engine.DocFreq(term)
			freqs[term] = df
		}
		return &proto.DocFreqsResponse{
			Shard:    req.Shard,
			DocFreqs: freqs,
			NumDocs:  int(engine.TotalDocs()),
		}, nil
	})
	if timedOut {
		slog.Warn("docFreqs exceeded its collector budget, returning partial result", "shard", req.Shard, "node", n.cfg.NodeName)
		return &proto.DocFreqsResponse{Shard: req.Shard, DocFreqs: map[string]int{}, NumDocs: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Node) handleSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var req proto.SearchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedQuery, err)
	}
	budget := time.Duration(float64(defaultJobBudget) * n.cfg.TimeoutPercentage)
	out, err, timedOut := n.pool.Submit(ctx, budget, func() (any, error) {
		return n.search(req)
	})
	if timedOut {
		slog.Warn("search exceeded its collector budget, returning partial result", "shard", req.Shard, "node", n.cfg.NodeName)
		return &proto.SearchResponse{Shard: req.Shard, Hits: []proto.Hit{}, TotalHits: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Node) search(req proto.SearchRequest) (*proto.SearchResponse, error) {
	engine, ok := n.shards.EngineFor(req.Shard)
	if !ok {
		return nil, fmt.Errorf("%w: shard %s not open on %s", errors.ErrShardUnavailable, req.Shard, n.cfg.NodeName)
	}

	cf, _ := n.filters.GetOrCompile(req.Filter, func() any { return parseFilter(req.Filter) }).(*compiledFilter)

	postingsPerTerm := make(map[string]postings.PostingList, len(req.Terms))
	for _, term := range req.Terms {
		postingsPerTerm[term] = n.filteredPostings(engine, term, cf)
	}

	candidates := unionCandidates(postingsPerTerm)
	if req.Type != "OR" {
		candidates = intersectCandidates(postingsPerTerm)
	}
	for _, term := range req.ExcludeTerms {
		for _, p := range n.filteredPostings(engine, term, cf) {
			delete(candidates, p.DocID)
		}
	}
	postingsPerTerm = restrictToCandidates(postingsPerTerm, candidates)

	params := rank.Params{AvgDocLength: engine.AvgDocLength(), IDF: req.IDF}
	scored := rank.Score(postingsPerTerm, params, engine.DocLength, req.Limit)

	hits := make([]proto.Hit, 0, len(scored))
	for _, s := range scored {
		hits = append(hits, proto.Hit{DocID: s.DocID, Score: s.Score})
	}
	if req.SortField != "" {
		n.sortBySortedField(hits, engine, req.SortField, req.SortOrder)
	}

	return &proto.SearchResponse{
		Shard:     req.Shard,
		Hits:      hits,
		TotalHits: len(candidates),
	}, nil
}

// filteredPostings returns term's postings in engine, narrowed to
// documents matching cf (a no-op when cf is nil).
func (n *Node) filteredPostings(engine *indexengine.Engine, term string, cf *compiledFilter) postings.PostingList {
	list := engine.SearchTerm(term)
	if cf == nil {
		return list
	}
	kept := make(postings.PostingList, 0, len(list))
	for _, p := range list {
		fields, ok := engine.GetFields(p.DocID, []string{cf.field})
		if cf.matches(fields, ok) {
			kept = append(kept, p)
		}
	}
	return kept
}

// sortBySortedField re-orders hits by a stored field instead of BM25
// score, for callers that requested an explicit sort (e.g. "newest
// first" on a date field) rather than relevance order.
func (n *Node) sortBySortedField(hits []proto.Hit, engine *indexengine.Engine, field, order string) {
	values := make(map[string]string, len(hits))
	for _, h := range hits {
		fields, _ := engine.GetFields(h.DocID, []string{field})
		values[h.DocID] = fields[field]
	}
	desc := order != "asc"
	sort.SliceStable(hits, func(i, j int) bool {
		vi, vj := values[hits[i].DocID], values[hits[j].DocID]
		if desc {
			return vi > vj
		}
		return vi < vj
	})
}

func (n *Node) handleGetDetails(ctx context.Context, raw json.RawMessage) (any, error) {
	var req proto.GetDetailsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedQuery, err)
	}
	engine, ok := n.shards.EngineFor(req.Shard)
	if !ok {
		return nil, fmt.Errorf("%w: shard %s not open on %s", errors.ErrShardUnavailable, req.Shard, n.cfg.NodeName)
	}
	details := make(map[string]map[string]string, len(req.DocIDs))
	for _, docID := range req.DocIDs {
		if fields, ok := engine.GetFields(docID, req.Fields); ok {
			details[docID] = fields
		}
	}
	return &proto.GetDetailsResponse{Shard: req.Shard, Details: details}, nil
}
