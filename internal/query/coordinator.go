package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/katta-cluster/katta/internal/worker/rank"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/errors"
	"github.com/katta-cluster/katta/pkg/grpc"
	"github.com/katta-cluster/katta/pkg/metrics"
	"github.com/katta-cluster/katta/pkg/proto"
	"github.com/katta-cluster/katta/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// ResultHit is one document in a SearchResult: its relevance score plus
// whatever stored fields the caller asked for.
type ResultHit struct {
	DocID  string            `json:"docId"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields,omitempty"`
}

// SearchResult is the Coordinator's answer to one query.
type SearchResult struct {
	Query     string      `json:"query"`
	Index     string      `json:"index"`
	TotalHits int         `json:"totalHits"`
	Hits      []ResultHit `json:"hits"`
}

// Coordinator drives the two-phase scatter/gather search: resolve a
// query's terms' IDF across every involved shard (phase one), then score
// each shard with that shared IDF and merge the results (phase two),
// finally hydrating the merged top-K with stored fields (phase three).
type Coordinator struct {
	shardMap *ShardMap
	cache    *ResultCache
	cfg      config.QueryConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	connMu sync.Mutex
	conns  map[string]*grpc.Client
}

// NewCoordinator builds a Coordinator over shardMap. Call SetCache to
// enable the optional result cache.
func NewCoordinator(shardMap *ShardMap, cfg config.QueryConfig, m *metrics.Metrics) *Coordinator {
	shardMap.SetUnreachableBackoff(cfg.UnreachableBackoff)
	return &Coordinator{
		shardMap: shardMap,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "query-coordinator"),
		conns:    make(map[string]*grpc.Client),
	}
}

// SetCache wires an optional Redis-backed result cache, and arranges for
// it to be invalidated whenever the shard map changes.
func (c *Coordinator) SetCache(cache *ResultCache) {
	c.cache = cache
	c.shardMap.OnChange(func() {
		cache.Invalidate(context.Background())
	})
}

// Search answers one query against index, returning at most limit hits
// (limit<=0 uses QueryConfig.DefaultLimit, and values above MaxResults
// are capped).
func (c *Coordinator) Search(ctx context.Context, index, queryStr string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = c.cfg.DefaultLimit
	}
	if limit > c.cfg.MaxResults {
		limit = c.cfg.MaxResults
	}

	start := time.Now()
	var result *SearchResult
	var err error
	outcome := "uncached"

	if c.cache != nil {
		var cached bool
		result, cached, err = c.cache.GetOrCompute(ctx, index, queryStr, limit, func() (*SearchResult, error) {
			return c.execute(ctx, index, queryStr, limit)
		})
		if cached {
			outcome = "hit"
			c.metrics.ResultCacheHits.Inc()
		} else {
			outcome = "miss"
			c.metrics.ResultCacheMisses.Inc()
		}
	} else {
		result, err = c.execute(ctx, index, queryStr, limit)
	}

	if err != nil {
		c.metrics.QueriesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	c.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	c.metrics.QueryLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	c.metrics.QueryResultsCount.Observe(float64(len(result.Hits)))
	return result, nil
}

func (c *Coordinator) execute(ctx context.Context, index, queryStr string, limit int) (*SearchResult, error) {
	traceID := fmt.Sprintf("%s-%d", index, time.Now().UnixNano())
	ctx, span := tracing.StartSpan(ctx, "coordinator.execute", traceID)
	defer func() {
		span.End()
		span.Log()
	}()
	span.SetAttr("index", index)

	_, parseSpan := tracing.StartChildSpan(ctx, "parse_query")
	plan := Parse(queryStr)
	parseSpan.SetAttr("terms", len(plan.Terms))
	parseSpan.SetAttr("exclude_terms", len(plan.ExcludeTerms))
	parseSpan.End()
	if len(plan.Terms) == 0 {
		return &SearchResult{Query: queryStr, Index: index, Hits: []ResultHit{}}, nil
	}

	shards, ok := c.shardMap.ShardsForIndex(index)
	if !ok || len(shards) == 0 {
		return nil, fmt.Errorf("%w: index %s", errors.ErrNotFound, index)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OverallTimeout)
	defer cancel()

	allTerms := append(append([]string{}, plan.Terms...), plan.ExcludeTerms...)
	_, freqSpan := tracing.StartChildSpan(ctx, "gather_doc_freqs")
	freqResults := c.gatherDocFreqs(ctx, shards, allTerms)
	freqSpan.SetAttr("shards_reachable", len(freqResults))
	freqSpan.SetAttr("shards_total", len(shards))
	freqSpan.End()
	if len(freqResults) != len(shards) {
		// gatherDocFreqs already retried every shard across its full
		// replica list (spec.md §4.4's per-shard failover); a shard still
		// missing here has exhausted every replica, which spec.md §4.4
		// treats as a hard failure rather than a partial result — unlike a
		// single replica merely exceeding its collector budget, which
		// returns a degraded-but-valid response and never reaches here.
		return nil, fmt.Errorf("%w: only %d/%d shards of %s reachable", errors.ErrShardUnavailable, len(freqResults), len(shards), index)
	}

	idf := computeIDF(freqResults)
	_, scatterSpan := tracing.StartChildSpan(ctx, "scatter_search")
	searchResults := c.scatterSearch(ctx, freqResults, plan, limit, idf)
	scatterSpan.End()

	shardHits := make([][]proto.Hit, 0, len(searchResults))
	shardOfDoc := make(map[string]string)
	totalHits := 0
	for _, r := range searchResults {
		shardHits = append(shardHits, r.resp.Hits)
		totalHits += r.resp.TotalHits
		for _, h := range r.resp.Hits {
			shardOfDoc[h.DocID] = r.shard
		}
	}

	mergeStart := time.Now()
	merged := Merge(shardHits, limit)
	c.metrics.MergeLatency.Observe(time.Since(mergeStart).Seconds())

	_, detailsSpan := tracing.StartChildSpan(ctx, "gather_details")
	details := c.gatherDetails(ctx, merged, shardOfDoc)
	detailsSpan.End()
	hits := make([]ResultHit, 0, len(merged))
	for _, h := range merged {
		hits = append(hits, ResultHit{DocID: h.DocID, Score: h.Score, Fields: details[h.DocID]})
	}

	return &SearchResult{Query: plan.RawQuery, Index: index, TotalHits: totalHits, Hits: hits}, nil
}

type docFreqResult struct {
	shard string
	addr  string
	resp  *proto.DocFreqsResponse
}

func (c *Coordinator) gatherDocFreqs(ctx context.Context, shards []string, terms []string) []docFreqResult {
	results := make([]docFreqResult, 0, len(shards))
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			addrs := c.shardMap.OrderedReplicas(shard)
			if len(addrs) == 0 {
				c.metrics.ScatterShardErrors.WithLabelValues("no_replica").Inc()
				return nil
			}
			for _, addr := range addrs {
				client, err := c.clientFor(addr)
				if err != nil {
					c.metrics.ScatterShardErrors.WithLabelValues("dial").Inc()
					c.shardMap.MarkUnreachable(addr)
					continue
				}
				var resp proto.DocFreqsResponse
				if err := client.Call("Worker.DocFreqs", &proto.DocFreqsRequest{Shard: shard, Terms: terms}, &resp); err != nil {
					c.metrics.ScatterShardErrors.WithLabelValues("docfreqs").Inc()
					c.dropConn(addr)
					c.shardMap.MarkUnreachable(addr)
					continue
				}
				c.shardMap.pin(shard, addr)
				mu.Lock()
				results = append(results, docFreqResult{shard: shard, addr: addr, resp: &resp})
				mu.Unlock()
				return nil
			}
			c.logger.Warn("shard exhausted every replica during docFreqs", "shard", shard, "replicas_tried", len(addrs))
			return nil
		})
	}
	g.Wait()
	return results
}

func computeIDF(freqResults []docFreqResult) map[string]float64 {
	var totalDocs int64
	docFreq := make(map[string]int64)
	for _, fr := range freqResults {
		totalDocs += int64(fr.resp.NumDocs)
		for term, df := range fr.resp.DocFreqs {
			docFreq[term] += int64(df)
		}
	}
	idf := make(map[string]float64, len(docFreq))
	for term, df := range docFreq {
		idf[term] = rank.ComputeIDF(totalDocs, df)
	}
	return idf
}

type searchShardResult struct {
	shard string
	resp  *proto.SearchResponse
}

func (c *Coordinator) scatterSearch(ctx context.Context, freqResults []docFreqResult, plan *QueryPlan, limit int, idf map[string]float64) []searchShardResult {
	results := make([]searchShardResult, 0, len(freqResults))
	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for _, fr := range freqResults {
		fr := fr
		g.Go(func() error {
			addrs := c.shardMap.OrderedReplicas(fr.shard)
			if len(addrs) == 0 {
				// The replica that answered docFreqs may have since
				// dropped out of the shard map; fall back to it directly
				// rather than giving up a shard we just heard from.
				addrs = []string{fr.addr}
			}
			req := &proto.SearchRequest{
				Shard:        fr.shard,
				Terms:        plan.Terms,
				ExcludeTerms: plan.ExcludeTerms,
				Type:         plan.Type.String(),
				IDF:          idf,
				Limit:        limit,
			}
			for _, addr := range addrs {
				client, err := c.clientFor(addr)
				if err != nil {
					c.metrics.ScatterShardErrors.WithLabelValues("dial").Inc()
					c.shardMap.MarkUnreachable(addr)
					continue
				}
				var resp proto.SearchResponse
				if err := client.Call("Worker.Search", req, &resp); err != nil {
					c.metrics.ScatterShardErrors.WithLabelValues("search").Inc()
					c.dropConn(addr)
					c.shardMap.MarkUnreachable(addr)
					continue
				}
				c.shardMap.pin(fr.shard, addr)
				mu.Lock()
				results = append(results, searchShardResult{shard: fr.shard, resp: &resp})
				mu.Unlock()
				return nil
			}
			c.logger.Warn("shard exhausted every replica during search", "shard", fr.shard, "replicas_tried", len(addrs))
			return nil
		})
	}
	g.Wait()
	return results
}

func (c *Coordinator) gatherDetails(ctx context.Context, hits []proto.Hit, shardOfDoc map[string]string) map[string]map[string]string {
	byShard := make(map[string][]string)
	for _, h := range hits {
		shard := shardOfDoc[h.DocID]
		byShard[shard] = append(byShard[shard], h.DocID)
	}

	details := make(map[string]map[string]string, len(hits))
	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for shard, docIDs := range byShard {
		shard, docIDs := shard, docIDs
		g.Go(func() error {
			for _, addr := range c.shardMap.OrderedReplicas(shard) {
				client, err := c.clientFor(addr)
				if err != nil {
					c.shardMap.MarkUnreachable(addr)
					continue
				}
				var resp proto.GetDetailsResponse
				if err := client.Call("Worker.GetDetails", &proto.GetDetailsRequest{Shard: shard, DocIDs: docIDs}, &resp); err != nil {
					c.dropConn(addr)
					c.shardMap.MarkUnreachable(addr)
					continue
				}
				c.shardMap.pin(shard, addr)
				mu.Lock()
				for docID, fields := range resp.Details {
					details[docID] = fields
				}
				mu.Unlock()
				return nil
			}
			return nil
		})
	}
	g.Wait()
	return details
}

func (c *Coordinator) clientFor(addr string) (*grpc.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if cl, ok := c.conns[addr]; ok {
		return cl, nil
	}
	cl, err := grpc.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dialing worker %s: %w", addr, err)
	}
	c.conns[addr] = cl
	return cl, nil
}

func (c *Coordinator) dropConn(addr string) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if cl, ok := c.conns[addr]; ok {
		cl.Close()
		delete(c.conns, addr)
	}
}

// Close releases every pooled worker connection.
func (c *Coordinator) Close() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	for addr, cl := range c.conns {
		cl.Close()
		delete(c.conns, addr)
	}
}
