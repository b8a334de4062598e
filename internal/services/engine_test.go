package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rag-server/internal/models"
)

func newTestEngine(t *testing.T, store *MockStore, generator *fakeGenerator) *Engine {
	t.Helper()
	retriever := NewRetriever(&fakeProvider{vector: []float32{1, 0}}, store, nil, 1.0, 0.0, nil)
	sessions := NewSessionManager(20, time.Hour, nil)
	return NewEngine(retriever, generator, sessions, 5, nil)
}

func TestQuery_EmptyQuestion(t *testing.T) {
	engine := newTestEngine(t, new(MockStore), &fakeGenerator{})

	resp, err := engine.Query(context.Background(), "", "   ", 0)
	require.Error(t, err)
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, StateFailed, resp.State)
}

func TestQuery_AnswersWithSources(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 5, map[string]string(nil)).
		Return([]models.SearchResult{
			{ID: "a_chunk_0000", DocumentID: "doc-a", Content: "alpha facts",
				Score: 0.9, DocumentName: "alpha.txt", Source: "/data/alpha.txt",
				ResultType: models.ResultTypeText},
			{ID: "a_chunk_0001", DocumentID: "doc-a", Content: "more alpha",
				Score: 0.8, DocumentName: "alpha.txt", Source: "/data/alpha.txt",
				ResultType: models.ResultTypeText},
			{ID: "b_chunk_0000", DocumentID: "doc-b", Content: "beta facts",
				Score: 0.7, DocumentName: "beta.txt", Source: "/data/beta.txt",
				ResultType: models.ResultTypeText},
		}, nil)
	generator := &fakeGenerator{answer: "the answer"}
	engine := newTestEngine(t, store, generator)

	resp, err := engine.Query(context.Background(), "", "what is alpha?", 0)
	require.NoError(t, err)

	assert.Equal(t, StateAnswered, resp.State)
	assert.Equal(t, "the answer", resp.Answer)
	assert.NotEmpty(t, resp.SessionID)

	// Two chunks of doc-a collapse into one source, order preserved, with
	// the document's best chunk score carried on the source.
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "doc-a", resp.Sources[0].DocumentID)
	assert.InDelta(t, 0.9, resp.Sources[0].Score, 1e-9)
	assert.Equal(t, "doc-b", resp.Sources[1].DocumentID)
	assert.InDelta(t, 0.7, resp.Sources[1].Score, 1e-9)

	assert.Equal(t, 3, resp.ContextCount, "all three chunks entered the prompt")
	assert.Contains(t, generator.lastPrompt, "alpha facts")
	assert.Contains(t, generator.lastPrompt, "what is alpha?")
}

func TestQuery_TopKOverride(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 3, map[string]string(nil)).
		Return([]models.SearchResult{}, nil)
	generator := &fakeGenerator{answer: "ok"}
	engine := newTestEngine(t, store, generator)

	_, err := engine.Query(context.Background(), "", "anything", 3)
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestQuery_ZeroResultsStillGenerates(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 5, map[string]string(nil)).
		Return([]models.SearchResult{}, nil)
	generator := &fakeGenerator{answer: "I do not know."}
	engine := newTestEngine(t, store, generator)

	resp, err := engine.Query(context.Background(), "", "what is omega?", 0)
	require.NoError(t, err)

	assert.Equal(t, StateAnswered, resp.State)
	assert.Equal(t, 1, generator.calls, "generation runs even with no context")
	assert.Contains(t, generator.lastPrompt, emptyContextNote)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 0, resp.ContextCount)
}

func TestQuery_RetrievalFailure(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 5, map[string]string(nil)).
		Return(nil, errors.New("store down"))
	generator := &fakeGenerator{answer: "never"}
	engine := newTestEngine(t, store, generator)

	resp, err := engine.Query(context.Background(), "", "anything", 0)
	require.Error(t, err)
	assert.Equal(t, StateFailed, resp.State)
	assert.Equal(t, 0, generator.calls, "generation must not run after failed retrieval")
}

func TestQuery_GenerationFailureLeavesHistoryClean(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 5, map[string]string(nil)).
		Return([]models.SearchResult{}, nil)
	engine := newTestEngine(t, store, &fakeGenerator{err: errors.New("model crashed")})

	session := engine.Sessions().Create("")
	resp, err := engine.Query(context.Background(), session.ID, "anything", 0)
	require.Error(t, err)
	assert.Equal(t, StateFailed, resp.State)
	assert.Equal(t, 0, session.History.Len(), "failed exchange must not enter history")
}

func TestQuery_RecordsExchangeInSession(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 5, map[string]string(nil)).
		Return([]models.SearchResult{}, nil)
	engine := newTestEngine(t, store, &fakeGenerator{answer: "first answer"})

	resp, err := engine.Query(context.Background(), "", "first question", 0)
	require.NoError(t, err)

	session, ok := engine.Sessions().Get(resp.SessionID)
	require.True(t, ok)
	messages := session.History.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "first question", messages[0].Content)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, "first answer", messages[1].Content)
}

func TestQuery_HistoryFeedsFollowUpPrompt(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 5, map[string]string(nil)).
		Return([]models.SearchResult{}, nil)
	generator := &fakeGenerator{answer: "ok"}
	engine := newTestEngine(t, store, generator)

	first, err := engine.Query(context.Background(), "", "remember the number 7", 0)
	require.NoError(t, err)
	_, err = engine.Query(context.Background(), first.SessionID, "what number?", 0)
	require.NoError(t, err)

	assert.Contains(t, generator.lastPrompt, "remember the number 7",
		"follow-up prompt carries prior exchange")
}

func TestQuery_HistoryBounded(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 5, map[string]string(nil)).
		Return([]models.SearchResult{}, nil)
	retriever := NewRetriever(&fakeProvider{vector: []float32{1, 0}}, store, nil, 1.0, 0.0, nil)
	sessions := NewSessionManager(4, time.Hour, nil)
	engine := NewEngine(retriever, &fakeGenerator{answer: "ok"}, sessions, 5, nil)

	first, err := engine.Query(context.Background(), "", "question 1", 0)
	require.NoError(t, err)
	for i := 2; i <= 5; i++ {
		_, err = engine.Query(context.Background(), first.SessionID, "question "+string(rune('0'+i)), 0)
		require.NoError(t, err)
	}

	session, ok := engine.Sessions().Get(first.SessionID)
	require.True(t, ok)
	messages := session.History.Messages()
	require.Len(t, messages, 4, "history trims oldest-first at the bound")
	assert.Equal(t, "question 4", messages[0].Content)
	assert.Equal(t, "question 5", messages[2].Content)
}

func TestQuery_ImagePayloadsReachGenerator(t *testing.T) {
	store := new(MockStore)
	store.On("Search", mock.Anything, mock.Anything, 5, map[string]string(nil)).
		Return([]models.SearchResult{
			{ID: "img_chunk_0000", DocumentID: "img", Score: 0.9,
				ResultType: models.ResultTypeImage,
				Metadata:   map[string]string{"image_data": "aGVsbG8="}},
		}, nil)
	generator := &fakeGenerator{answer: "a picture of hello"}
	engine := newTestEngine(t, store, generator)

	resp, err := engine.Query(context.Background(), "", "describe the image", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"aGVsbG8="}, generator.lastImages)
	assert.Equal(t, 0, resp.ContextCount, "image payloads are not prompt context")
}
