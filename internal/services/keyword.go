package services

import (
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/jdkato/prose/v2"

	"rag-server/internal/models"
)

// KeywordIndex is an in-memory TF-IDF index over ingested chunks. It
// complements vector search with exact-term lookup that embeddings tend to
// blur, such as identifiers and version strings. The index does not
// survive a restart: chunks stored by a previous process run must be
// re-ingested before keyword search can see them.
type KeywordIndex struct {
	mu     sync.RWMutex
	docs   map[string]*indexedChunk // keyed by chunk id
	df     map[string]int           // term -> chunks containing it
	logger *log.Logger
}

type indexedChunk struct {
	chunk models.Chunk
	terms map[string]int
	total int
}

var keywordStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "its": true, "as": true, "from": true,
	"not": true, "no": true, "can": true, "will": true, "do": true, "does": true,
}

// NewKeywordIndex creates an empty index.
func NewKeywordIndex(logger *log.Logger) *KeywordIndex {
	if logger == nil {
		logger = log.New(os.Stdout, "[KEYWORDS] ", log.LstdFlags)
	}
	return &KeywordIndex{
		docs:   make(map[string]*indexedChunk),
		df:     make(map[string]int),
		logger: logger,
	}
}

// Index tokenizes and registers chunks. Re-indexing a chunk id replaces
// the previous entry.
func (k *KeywordIndex) Index(chunks []models.Chunk) error {
	for _, chunk := range chunks {
		terms, err := tokenize(chunk.Content)
		if err != nil {
			return NewEngineError("keyword_index", err, "tokenizing chunk "+chunk.ID)
		}

		entry := &indexedChunk{chunk: chunk, terms: terms}
		for _, n := range terms {
			entry.total += n
		}

		k.mu.Lock()
		if old, ok := k.docs[chunk.ID]; ok {
			for term := range old.terms {
				k.df[term]--
			}
		}
		k.docs[chunk.ID] = entry
		for term := range terms {
			k.df[term]++
		}
		k.mu.Unlock()
	}
	k.logger.Printf("[KEYWORDS] Indexed %d chunks (total %d)", len(chunks), k.Len())
	return nil
}

// Remove drops every chunk of a document and returns how many were removed.
func (k *KeywordIndex) Remove(documentID string) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for id, entry := range k.docs {
		if entry.chunk.DocumentID != documentID {
			continue
		}
		for term := range entry.terms {
			k.df[term]--
		}
		delete(k.docs, id)
		removed++
	}
	return removed
}

// Clear empties the index.
func (k *KeywordIndex) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.docs = make(map[string]*indexedChunk)
	k.df = make(map[string]int)
}

// Len counts indexed chunks.
func (k *KeywordIndex) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.docs)
}

// Search scores every indexed chunk against the query by summed TF-IDF and
// returns the top limit matches, scores normalized into (0,1].
func (k *KeywordIndex) Search(query string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		return nil, NewEngineError("keyword_search", nil, "limit must be positive")
	}
	queryTerms, err := tokenize(query)
	if err != nil {
		return nil, NewEngineError("keyword_search", err, "tokenizing query")
	}
	if len(queryTerms) == 0 {
		return []models.SearchResult{}, nil
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	totalDocs := float64(len(k.docs))
	if totalDocs == 0 {
		return []models.SearchResult{}, nil
	}

	type scored struct {
		entry *indexedChunk
		score float64
	}
	var matches []scored
	for _, entry := range k.docs {
		var score float64
		for term := range queryTerms {
			freq, ok := entry.terms[term]
			if !ok {
				continue
			}
			tf := float64(freq) / float64(entry.total)
			idf := math.Log(1 + totalDocs/float64(k.df[term]))
			score += tf * idf
		}
		if score > 0 {
			matches = append(matches, scored{entry: entry, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	var maxScore float64
	if len(matches) > 0 {
		maxScore = matches[0].score
	}
	results := make([]models.SearchResult, len(matches))
	for i, m := range matches {
		chunk := m.entry.chunk
		results[i] = models.SearchResult{
			ID:         chunk.ID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			Score:      m.score / maxScore,
			Rank:       i + 1,
			ResultType: models.ResultTypeText,
			Metadata:   chunk.Metadata,
		}
		if chunk.Metadata != nil {
			results[i].DocumentName = chunk.Metadata["document_name"]
			results[i].Source = chunk.Metadata["document_source"]
		}
	}
	return results, nil
}

// tokenize lowercases and counts the content words of text, dropping stop
// words, punctuation, and single characters.
func tokenize(text string) (map[string]int, error) {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false), prose.WithTagging(false))
	if err != nil {
		return nil, err
	}

	terms := make(map[string]int)
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(tok.Text)
		if len(word) < 2 || keywordStopWords[word] {
			continue
		}
		if !hasLetterOrDigit(word) {
			continue
		}
		terms[word]++
	}
	return terms, nil
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
