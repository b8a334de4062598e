package services

import (
	"context"
	"log"
	"os"
	"sort"

	"rag-server/internal/embeddings"
	"rag-server/internal/models"
	"rag-server/internal/vectorstore"
)

// Retriever embeds a query once and searches the text collection, plus the
// image collection when one is configured, fusing both result lists into a
// single ranking by weighted score.
type Retriever struct {
	provider    embeddings.Provider
	textStore   vectorstore.Store
	imageStore  vectorstore.Store // nil disables image retrieval
	textWeight  float64
	imageWeight float64
	logger      *log.Logger
}

// NewRetriever wires a retriever. imageStore may be nil, in which case only
// the text collection is searched and imageWeight is ignored.
func NewRetriever(provider embeddings.Provider, textStore, imageStore vectorstore.Store,
	textWeight, imageWeight float64, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.New(os.Stdout, "[RETRIEVER] ", log.LstdFlags)
	}
	return &Retriever{
		provider:    provider,
		textStore:   textStore,
		imageStore:  imageStore,
		textWeight:  textWeight,
		imageWeight: imageWeight,
		logger:      logger,
	}
}

// Retrieve returns at most limit fused results for the query, ranked by
// descending weighted score. When any configured collection fails the whole
// retrieval fails; a degraded half-answer is worse than an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		return nil, NewEngineError("retrieve", nil, "limit must be positive")
	}

	queryEmbedding, err := r.provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, NewEngineError("retrieve", err, "embedding query")
	}

	textResults, err := r.textStore.Search(ctx, queryEmbedding, limit, nil)
	if err != nil {
		return nil, NewEngineError("retrieve", err, "searching text collection")
	}

	// Pure-text deployment: the store's ranking stands as-is. Weights only
	// apply when two lists must be merged.
	if r.imageStore == nil {
		r.logger.Printf("[RETRIEVER] Returning %d text results", len(textResults))
		return textResults, nil
	}

	imageResults, err := r.imageStore.Search(ctx, queryEmbedding, limit, nil)
	if err != nil {
		return nil, NewEngineError("retrieve", err, "searching image collection")
	}
	for i := range imageResults {
		imageResults[i].ResultType = models.ResultTypeImage
	}

	fused := fuseResults(textResults, imageResults, r.textWeight, r.imageWeight, limit)
	r.logger.Printf("[RETRIEVER] Fused %d text + %d image results into %d",
		len(textResults), len(imageResults), len(fused))
	return fused, nil
}

// fusedEntry accumulates the weighted contributions of one result id.
type fusedEntry struct {
	result      models.SearchResult
	textScore   float64 // weighted text contribution
	imageScore  float64 // weighted image contribution
	arrivalRank int
}

// fuseResults merges two ranked lists by weighted score sum. A result
// present in both lists gets both contributions. Weights are applied as
// given, without renormalization, so a zero weight silences a list
// entirely. Ties break toward the higher weighted text contribution, then
// toward earlier arrival with the text list first.
func fuseResults(textResults, imageResults []models.SearchResult,
	textWeight, imageWeight float64, limit int) []models.SearchResult {

	entries := make(map[string]*fusedEntry, len(textResults)+len(imageResults))
	order := make([]*fusedEntry, 0, len(textResults)+len(imageResults))

	for _, res := range textResults {
		e := &fusedEntry{result: res, textScore: textWeight * res.Score, arrivalRank: len(order)}
		entries[res.ID] = e
		order = append(order, e)
	}
	for _, res := range imageResults {
		if e, ok := entries[res.ID]; ok {
			e.imageScore = imageWeight * res.Score
			continue
		}
		e := &fusedEntry{result: res, imageScore: imageWeight * res.Score, arrivalRank: len(order)}
		entries[res.ID] = e
		order = append(order, e)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		scoreA := a.textScore + a.imageScore
		scoreB := b.textScore + b.imageScore
		if scoreA != scoreB {
			return scoreA > scoreB
		}
		if a.textScore != b.textScore {
			return a.textScore > b.textScore
		}
		return a.arrivalRank < b.arrivalRank
	})

	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]models.SearchResult, len(order))
	for i, e := range order {
		res := e.result
		res.Score = e.textScore + e.imageScore
		res.Rank = i + 1
		out[i] = res
	}
	return out
}
