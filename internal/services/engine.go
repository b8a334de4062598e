package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"rag-server/internal/models"
)

// RequestState tracks one query through the answer pipeline.
type RequestState string

const (
	StateIdle             RequestState = "idle"
	StateRetrieving       RequestState = "retrieving"
	StateContextAssembled RequestState = "context_assembled"
	StateGenerating       RequestState = "generating"
	StateAnswered         RequestState = "answered"
	StateFailed           RequestState = "failed"
)

// validTransitions centralizes the pipeline's legal moves so every query
// walks the same path and tests can assert on it.
var validTransitions = map[RequestState][]RequestState{
	StateIdle:             {StateRetrieving, StateFailed},
	StateRetrieving:       {StateContextAssembled, StateFailed},
	StateContextAssembled: {StateGenerating, StateFailed},
	StateGenerating:       {StateAnswered, StateFailed},
}

// EngineError is the error type for retrieval and orchestration failures.
type EngineError struct {
	Operation string
	Err       error
	Message   string
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("engine %s: %s", e.Operation, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds an EngineError.
func NewEngineError(operation string, err error, message string) *EngineError {
	return &EngineError{Operation: operation, Err: err, Message: message}
}

// emptyContextNote stands in for retrieved context when nothing relevant
// exists, so the model answers honestly instead of hallucinating sources.
const emptyContextNote = "No relevant documents were found in the knowledge base for this question."

// SourceRef is one distinct document cited by an answer. Score is the best
// score among the document's retrieved chunks.
type SourceRef struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Source       string  `json:"source"`
	Score        float64 `json:"score"`
}

// QueryResponse is the outcome of one answered (or failed) query.
// ContextCount is the number of chunks actually rendered into the prompt;
// image results carried as payloads are not counted.
type QueryResponse struct {
	SessionID    string                `json:"session_id"`
	Question     string                `json:"question"`
	Answer       string                `json:"answer"`
	Sources      []SourceRef           `json:"sources"`
	Results      []models.SearchResult `json:"results"`
	ContextCount int                   `json:"context_count"`
	State        RequestState          `json:"state"`
}

// Engine orchestrates the answer pipeline: retrieve, assemble context,
// generate, and record the exchange in the session.
type Engine struct {
	retriever *Retriever
	generator Generator
	sessions  *SessionManager
	topK      int
	logger    *log.Logger
}

// NewEngine wires the orchestration engine. topK bounds how many fused
// results feed the prompt.
func NewEngine(retriever *Retriever, generator Generator, sessions *SessionManager,
	topK int, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stdout, "[ENGINE] ", log.LstdFlags)
	}
	if topK <= 0 {
		topK = 5
	}
	return &Engine{
		retriever: retriever,
		generator: generator,
		sessions:  sessions,
		topK:      topK,
		logger:    logger,
	}
}

// Sessions exposes the session manager for the HTTP layer.
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// Query answers a question within the named session, creating the session
// when the id is empty or expired. topK bounds how many fused results feed
// the prompt; zero or negative falls back to the engine default. A
// zero-result retrieval is not a failure: generation still runs against an
// explicit empty-context note.
func (e *Engine) Query(ctx context.Context, sessionID, question string, topK int) (*QueryResponse, error) {
	state := StateIdle
	resp := &QueryResponse{Question: question, State: state}

	if strings.TrimSpace(question) == "" {
		resp.State = e.transition(state, StateFailed)
		return resp, NewEngineError("query", nil, "question must not be empty")
	}
	if topK <= 0 {
		topK = e.topK
	}

	session := e.sessions.GetOrCreate(sessionID)
	resp.SessionID = session.ID

	// Retrieve
	state = e.transition(state, StateRetrieving)
	results, err := e.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		resp.State = e.transition(state, StateFailed)
		return resp, err
	}
	resp.Results = results

	// Assemble
	prompt, images, contextCount := e.assemblePrompt(question, results, session.History.Messages())
	resp.ContextCount = contextCount
	state = e.transition(state, StateContextAssembled)

	// Generate
	state = e.transition(state, StateGenerating)
	answer, err := e.generator.Generate(ctx, prompt, images)
	if err != nil {
		resp.State = e.transition(state, StateFailed)
		return resp, err
	}

	resp.Answer = answer
	resp.Sources = dedupeSources(results)
	resp.State = e.transition(state, StateAnswered)

	// The exchange enters history only after a successful answer, so a
	// failed generation never pollutes the conversation.
	if err := session.History.Add(models.RoleUser, question); err != nil {
		e.logger.Printf("[ENGINE] WARNING: recording question failed: %v", err)
	}
	if err := session.History.Add(models.RoleAssistant, answer); err != nil {
		e.logger.Printf("[ENGINE] WARNING: recording answer failed: %v", err)
	}

	e.logger.Printf("[ENGINE] Answered in session %s with %d results, %d sources",
		session.ID, len(results), len(resp.Sources))
	return resp, nil
}

// transition moves the request state, logging any illegal move instead of
// failing: the map is the contract, a violation is a programming error.
func (e *Engine) transition(from, to RequestState) RequestState {
	for _, allowed := range validTransitions[from] {
		if to == allowed {
			return to
		}
	}
	e.logger.Printf("[ENGINE] WARNING: illegal state transition %s -> %s", from, to)
	return to
}

// assemblePrompt builds the generation prompt from retrieved context,
// conversation history, and the question, reporting how many chunks made
// it into the prompt. Image results contribute their base64 payload for
// multimodal models rather than prompt text.
func (e *Engine) assemblePrompt(question string, results []models.SearchResult,
	history []models.ChatMessage) (string, []string, int) {

	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say you do not know.\n\n")

	b.WriteString("Context:\n")
	var images []string
	contextBlocks := 0
	for _, res := range results {
		if res.ResultType == models.ResultTypeImage {
			if data := res.Metadata["image_data"]; data != "" {
				images = append(images, data)
			}
			continue
		}
		contextBlocks++
		name := res.DocumentName
		if name == "" {
			name = res.DocumentID
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", contextBlocks, name, res.Content)
	}
	if contextBlocks == 0 && len(images) == 0 {
		b.WriteString(emptyContextNote)
		b.WriteString("\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String(), images, contextBlocks
}

// dedupeSources collapses results into distinct cited documents, keeping
// first-seen order. Each source carries the best score among its chunks.
func dedupeSources(results []models.SearchResult) []SourceRef {
	index := make(map[string]int, len(results))
	sources := make([]SourceRef, 0, len(results))
	for _, res := range results {
		if res.DocumentID == "" {
			continue
		}
		if i, ok := index[res.DocumentID]; ok {
			if res.Score > sources[i].Score {
				sources[i].Score = res.Score
			}
			continue
		}
		index[res.DocumentID] = len(sources)
		sources = append(sources, SourceRef{
			DocumentID:   res.DocumentID,
			DocumentName: res.DocumentName,
			Source:       res.Source,
			Score:        res.Score,
		})
	}
	return sources
}
