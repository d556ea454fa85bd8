// Package indexengine implements the embeddable inverted-index engine a
// Worker Node uses to open, search, and serve stored fields for the shard
// replicas assigned to it. It is a library the Worker links in directly,
// not a service reached over RPC — the wire boundary is between the Query
// Coordinator and the Worker, not between the Worker and its engine.
package indexengine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/katta-cluster/katta/internal/indexengine/postings"
	"github.com/katta-cluster/katta/internal/indexengine/segment"
	"github.com/katta-cluster/katta/internal/indexengine/tokenizer"
)

// Engine is a single shard's inverted index: an in-memory index for
// recently-built documents plus zero or more immutable on-disk segments.
// A Worker opens one Engine per shard replica it hosts.
type Engine struct {
	dataDir    string
	mem        *memoryIndex
	writer     *segment.Writer
	store      *docStore
	readers    []*segment.Reader
	readerMu   sync.RWMutex
	logger     *slog.Logger

	docLengths   map[string]int
	docLengthsMu sync.RWMutex
	totalDocs    int64
	totalTokens  int64
}

// Open loads a shard's on-disk segments (and any stored fields) from
// dataDir. It never fails because a shard is empty; a missing directory is
// the normal state for a shard that has not yet been fetched.
func Open(dataDir string) (*Engine, error) {
	store, err := openDocStore(dataDir)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		dataDir:    dataDir,
		mem:        newMemoryIndex(),
		writer:     segment.NewWriter(dataDir),
		store:      store,
		logger:     slog.Default().With("component", "index-engine", "shard_dir", dataDir),
		docLengths: make(map[string]int),
	}
	if err := e.loadExistingSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return e, nil
}

// Build adds a document to the engine's in-memory index and stored-field
// sidecar. It is used by offline shard-construction tooling and tests, not
// by the Worker's request path — a Worker only ever opens shards that
// already exist on durable storage.
func (e *Engine) Build(docID, title, body string, fields map[string]string) {
	tokenCount := e.mem.addDocument(docID, title, body)

	e.docLengthsMu.Lock()
	e.docLengths[docID] = tokenCount
	e.totalDocs++
	e.totalTokens += int64(tokenCount)
	e.docLengthsMu.Unlock()

	if fields == nil {
		fields = map[string]string{}
	}
	if _, ok := fields["title"]; !ok {
		fields["title"] = title
	}
	if _, ok := fields["body"]; !ok {
		fields["body"] = body
	}
	e.store.put(docID, fields)
}

// Flush writes the in-memory index to a new on-disk segment and persists
// the stored-field sidecar, making both durable and immediately searchable.
func (e *Engine) Flush() error {
	snapshot := e.mem.snapshot()
	if len(snapshot) == 0 {
		return e.store.flush()
	}
	segmentName, err := e.writer.Write(snapshot)
	if err != nil {
		return fmt.Errorf("writing segment: %w", err)
	}
	segPath := filepath.Join(e.dataDir, segmentName)
	reader, err := segment.OpenReader(segPath)
	if err != nil {
		return fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.readerMu.Lock()
	e.readers = append(e.readers, reader)
	e.readerMu.Unlock()
	e.mem.reset()
	if err := e.store.flush(); err != nil {
		return err
	}
	e.logger.Info("segment flushed", "segment", segmentName, "terms", reader.Terms(), "docs", reader.DocCount())
	return nil
}

// DocFreq returns the number of documents containing term across every
// segment plus the in-memory index, and the engine's total live document
// count — the ingredients for query-wide IDF (spec.md §4.4).
func (e *Engine) DocFreq(term string) (docFreq int, totalDocs int) {
	list := e.postingsFor(term)
	return len(list), int(e.TotalDocs())
}

// SearchTerm returns the deduplicated postings for term across the
// in-memory index and every on-disk segment.
func (e *Engine) SearchTerm(term string) postings.PostingList {
	return e.postingsFor(term)
}

func (e *Engine) postingsFor(rawTerm string) postings.PostingList {
	tokens := tokenizer.Tokenize(rawTerm)
	if len(tokens) == 0 {
		return nil
	}
	term := tokens[0].Term
	all := e.mem.search(term)

	e.readerMu.RLock()
	readers := make([]*segment.Reader, len(e.readers))
	copy(readers, e.readers)
	e.readerMu.RUnlock()

	for _, reader := range readers {
		list, err := reader.Search(term)
		if err != nil {
			e.logger.Error("segment search failed", "error", err)
			continue
		}
		all = append(all, list...)
	}
	return dedup(all)
}

// DocLength returns the token count recorded for docID, used as the
// document-length normalisation term in BM25.
func (e *Engine) DocLength(docID string) int {
	e.docLengthsMu.RLock()
	defer e.docLengthsMu.RUnlock()
	return e.docLengths[docID]
}

// AvgDocLength returns the mean token count across all documents in this
// shard replica.
func (e *Engine) AvgDocLength() float64 {
	e.docLengthsMu.RLock()
	defer e.docLengthsMu.RUnlock()
	if e.totalDocs == 0 {
		return 0
	}
	return float64(e.totalTokens) / float64(e.totalDocs)
}

// TotalDocs returns the number of live documents in this shard replica.
func (e *Engine) TotalDocs() int64 {
	e.docLengthsMu.RLock()
	defer e.docLengthsMu.RUnlock()
	return e.totalDocs
}

// GetFields returns the stored fields for docID, optionally filtered to a
// subset. An empty filter returns every stored field.
func (e *Engine) GetFields(docID string, only []string) (map[string]string, bool) {
	fields, ok := e.store.get(docID)
	if !ok || len(only) == 0 {
		return fields, ok
	}
	filtered := make(map[string]string, len(only))
	for _, k := range only {
		if v, present := fields[k]; present {
			filtered[k] = v
		}
	}
	return filtered, true
}

// Close flushes any pending in-memory documents and releases segment file
// handles.
func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.readerMu.Lock()
	defer e.readerMu.Unlock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	return nil
}

func (e *Engine) loadExistingSegments() error {
	entries, err := os.ReadDir(e.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading shard directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".spdx") {
			segFiles = append(segFiles, entry.Name())
		}
	}
	sort.Strings(segFiles)

	for _, name := range segFiles {
		path := filepath.Join(e.dataDir, name)
		reader, err := segment.OpenReader(path)
		if err != nil {
			e.logger.Error("failed to open segment, skipping", "segment", name, "error", err)
			continue
		}
		e.readers = append(e.readers, reader)
		e.totalDocs += int64(reader.DocCount())
	}
	e.logger.Info("shard opened", "segments_loaded", len(e.readers))
	return nil
}

func dedup(list postings.PostingList) postings.PostingList {
	if len(list) <= 1 {
		return list
	}
	seen := make(map[string]int)
	result := make(postings.PostingList, 0, len(list))
	for _, p := range list {
		if idx, exists := seen[p.DocID]; exists {
			if p.Frequency > result[idx].Frequency {
				result[idx] = p
			}
		} else {
			seen[p.DocID] = len(result)
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}
