package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"rag-server/internal/models"
	"rag-server/internal/vectorstore"
)

// ============================================================================
// Mock Vector Store
// ============================================================================

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) AddDocuments(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	args := m.Called(ctx, chunks, embeddings)
	return args.Error(0)
}

func (m *MockStore) Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]string) ([]models.SearchResult, error) {
	args := m.Called(ctx, queryEmbedding, limit, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SearchResult), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, selector vectorstore.DeleteSelector) (int, error) {
	args := m.Called(ctx, selector)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) ListDocuments(ctx context.Context, limit int) ([]models.DocumentSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DocumentSummary), args.Error(1)
}

func (m *MockStore) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ============================================================================
// Fake Embedding Provider
// ============================================================================

// fakeProvider returns a fixed vector for every input; enough for code
// paths that only need embeddings to exist.
type fakeProvider struct {
	vector []float32
	err    error
}

func (p *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vector
	}
	return out, nil
}

func (p *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.vector, nil
}

func (p *fakeProvider) Dimension() int {
	return len(p.vector)
}

// ============================================================================
// Fake Generator
// ============================================================================

type fakeGenerator struct {
	answer     string
	err        error
	lastPrompt string
	lastImages []string
	calls      int
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, images []string) (string, error) {
	g.calls++
	g.lastPrompt = prompt
	g.lastImages = images
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}
