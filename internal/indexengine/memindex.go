package indexengine

import (
	"sort"
	"sync"

	"github.com/katta-cluster/katta/internal/indexengine/postings"
	"github.com/katta-cluster/katta/internal/indexengine/tokenizer"
)

// memoryIndex is a concurrency-safe in-memory inverted index. Terms map to
// per-document Postings, and the entire structure can be snapshotted and
// reset when flushed to a segment.
type memoryIndex struct {
	mu       sync.RWMutex
	index    map[string]map[string]*postings.Posting
	docCount int
	size     int64
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{
		index: make(map[string]map[string]*postings.Posting),
	}
}

// addDocument tokenises the document and upserts term->posting entries into
// the index.
func (m *memoryIndex) addDocument(docID string, title string, body string) int {
	fullText := title + " " + body
	tokens := tokenizer.Tokenize(fullText)

	termData := make(map[string]*postings.Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &postings.Posting{
				DocID:     docID,
				Frequency: 0,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for term, posting := range termData {
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[string]*postings.Posting)
		}
		m.index[term][docID] = posting
		m.size += int64(len(term) + len(docID) + len(posting.Positions)*8 + 64)
	}
	m.docCount++
	return len(tokens)
}

// search returns the PostingList for the given term, sorted by DocID.
func (m *memoryIndex) search(term string) postings.PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(postings.PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// snapshot returns a sorted copy of all term entries suitable for flushing
// to a segment.
func (m *memoryIndex) snapshot() []postings.TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]postings.TermEntry, 0, len(m.index))
	for term, docs := range m.index {
		list := make(postings.PostingList, 0, len(docs))
		for _, posting := range docs {
			list = append(list, *posting)
		}
		sort.Slice(list, func(i, j int) bool {
			return list[i].DocID < list[j].DocID
		})
		entries = append(entries, postings.TermEntry{Term: term, Postings: list})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

func (m *memoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *memoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docCount
}

func (m *memoryIndex) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]*postings.Posting)
	m.docCount = 0
	m.size = 0
}
