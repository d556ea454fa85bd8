package query

import (
	"math"
	"testing"

	"github.com/katta-cluster/katta/pkg/proto"
)

func TestComputeIDF_AggregatesAcrossShards(t *testing.T) {
	freqResults := []docFreqResult{
		{shard: "shard-0", resp: &proto.DocFreqsResponse{NumDocs: 10, DocFreqs: map[string]int{"go": 2}}},
		{shard: "shard-1", resp: &proto.DocFreqsResponse{NumDocs: 10, DocFreqs: map[string]int{"go": 3}}},
	}
	idf := computeIDF(freqResults)
	want := math.Log((20.0-5.0)/5.5 + 1)
	if got := idf["go"]; math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected idf %f, got %f", want, got)
	}
}

func TestComputeIDF_MissingTermFromOneShardStillAggregates(t *testing.T) {
	freqResults := []docFreqResult{
		{shard: "shard-0", resp: &proto.DocFreqsResponse{NumDocs: 5, DocFreqs: map[string]int{"go": 1}}},
		{shard: "shard-1", resp: &proto.DocFreqsResponse{NumDocs: 5, DocFreqs: map[string]int{}}},
	}
	idf := computeIDF(freqResults)
	if _, ok := idf["go"]; !ok {
		t.Fatalf("expected an idf entry for a term reported by only one shard")
	}
}

func TestComputeIDF_EmptyInput(t *testing.T) {
	if idf := computeIDF(nil); len(idf) != 0 {
		t.Fatalf("expected no idf entries for no shard results, got %v", idf)
	}
}
