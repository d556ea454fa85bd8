package benchmark

import (
	"fmt"
	"os"
	"testing"

	"github.com/katta-cluster/katta/internal/indexengine"
	"github.com/katta-cluster/katta/internal/indexengine/postings"
	"github.com/katta-cluster/katta/internal/query"
	"github.com/katta-cluster/katta/internal/worker/rank"
	"github.com/katta-cluster/katta/pkg/proto"
)

// BenchmarkEngineBuild measures per-document insert throughput into a
// shard engine's in-memory index, the same path an offline shard-build
// pipeline would drive.
func BenchmarkEngineBuild(b *testing.B) {
	dir, err := os.MkdirTemp("", "katta-bench-engine")
	if err != nil {
		b.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	e, err := indexengine.Open(dir)
	if err != nil {
		b.Fatalf("opening engine: %v", err)
	}
	defer e.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		docID := fmt.Sprintf("doc-%d", i)
		e.Build(docID, "distributed search platform", "shards scatter and gather across worker nodes", nil)
	}
}

// BenchmarkEngineSearchTerm measures lookup throughput for a term present
// in every document of a pre-built shard.
func BenchmarkEngineSearchTerm(b *testing.B) {
	dir, err := os.MkdirTemp("", "katta-bench-engine")
	if err != nil {
		b.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	e, err := indexengine.Open(dir)
	if err != nil {
		b.Fatalf("opening engine: %v", err)
	}
	defer e.Close()

	for i := 0; i < 10000; i++ {
		docID := fmt.Sprintf("doc-%d", i)
		e.Build(docID, "distributed search platform", "shards scatter and gather across worker nodes", nil)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.SearchTerm("shard")
	}
}

// BenchmarkRankScore measures BM25 scoring throughput for a term with a
// large posting list, the Worker's per-shard phase-two cost.
func BenchmarkRankScore(b *testing.B) {
	list := make(postings.PostingList, 5000)
	docLengths := make(map[string]int, len(list))
	for i := range list {
		docID := fmt.Sprintf("doc-%d", i)
		list[i] = postings.Posting{DocID: docID, Frequency: (i % 7) + 1}
		docLengths[docID] = 100 + i%50
	}
	perTerm := map[string]postings.PostingList{"shard": list}
	params := rank.Params{AvgDocLength: 120, IDF: map[string]float64{"shard": rank.ComputeIDF(5000, 3000)}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rank.Score(perTerm, params, func(docID string) int { return docLengths[docID] }, 10)
	}
}

// BenchmarkMerge measures the Coordinator's phase-two merge cost across a
// varying number of shard result sets, the cost that scales with
// replication and shard count in a live cluster.
func BenchmarkMerge(b *testing.B) {
	shardCounts := []int{4, 16, 64}
	for _, n := range shardCounts {
		shardHits := make([][]proto.Hit, n)
		for s := 0; s < n; s++ {
			hits := make([]proto.Hit, 50)
			for i := range hits {
				hits[i] = proto.Hit{DocID: fmt.Sprintf("shard-%d-doc-%d", s, i), Score: float64(i)}
			}
			shardHits[s] = hits
		}
		b.Run(fmt.Sprintf("shards_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = query.Merge(shardHits, 10)
			}
		})
	}
}
