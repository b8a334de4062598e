package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"rag-server/internal/models"
)

// PgvectorStore backs the Store contract with PostgreSQL and the pgvector
// extension. Each collection maps to one table with a vector column, and
// similarity search runs server side via the cosine distance operator.
type PgvectorStore struct {
	dsn        string
	collection string
	table      string
	dimension  int
	pool       *pgxpool.Pool
	logger     *log.Logger
}

var _ Store = (*PgvectorStore)(nil)

var tableNamePattern = regexp.MustCompile(`[^a-z0-9_]+`)

// NewPgvectorStore builds a store bound to one collection. The connection
// pool is created in Initialize, not here.
func NewPgvectorStore(dsn, collection string, dimension int, logger *log.Logger) *PgvectorStore {
	if logger == nil {
		logger = log.New(os.Stdout, "[PGVECTOR-STORE] ", log.LstdFlags)
	}
	// Collection names come from config; fold them into a safe identifier
	// since table names cannot be bound as query parameters.
	table := "rag_" + tableNamePattern.ReplaceAllString(collection, "_")
	return &PgvectorStore{
		dsn:        dsn,
		collection: collection,
		table:      table,
		dimension:  dimension,
		logger:     logger,
	}
}

func (s *PgvectorStore) Initialize(ctx context.Context) error {
	if s.pool != nil {
		return nil
	}
	if s.dimension <= 0 {
		return NewStoreError("initialize", ErrKindInvalid, nil,
			"pgvector requires a positive embedding dimension before schema creation")
	}

	poolConfig, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return NewStoreError("initialize", ErrKindInvalid, err, "parsing dsn")
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return wrapErr("initialize", err, "creating pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return wrapErr("initialize", err, "postgres unreachable")
	}

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return wrapErr("initialize", err, "enabling pgvector extension")
	}
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id           TEXT PRIMARY KEY,
			document_id  TEXT NOT NULL,
			content      TEXT NOT NULL,
			ordinal      INTEGER NOT NULL,
			metadata     JSONB NOT NULL DEFAULT '{}',
			embedding    vector(%d) NOT NULL
		)`, s.table, s.dimension)
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return wrapErr("initialize", err, "creating table "+s.table)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)`, s.table, s.table)); err != nil {
		pool.Close()
		return wrapErr("initialize", err, "creating document index")
	}

	s.pool = pool
	s.logger.Printf("[PGVECTOR-STORE] Table %s ready (dimension %d)", s.table, s.dimension)
	return nil
}

func (s *PgvectorStore) AddDocuments(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if s.pool == nil {
		return NewStoreError("add_documents", ErrKindUnavailable, nil, "store not initialized")
	}
	if err := validateAdd(chunks, embeddings); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, content, ordinal, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			ordinal = EXCLUDED.ordinal,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, s.table)

	for i, chunk := range chunks {
		if len(embeddings[i]) != s.dimension {
			return NewStoreError("add_documents", ErrKindInvalid, nil,
				fmt.Sprintf("embedding %d has dimension %d, table expects %d", i, len(embeddings[i]), s.dimension))
		}
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return NewStoreError("add_documents", ErrKindInvalid, err,
				fmt.Sprintf("encoding metadata for chunk %s", chunk.ID))
		}
		batch.Queue(upsert, chunk.ID, chunk.DocumentID, chunk.Content, chunk.Ordinal,
			meta, pgvector.NewVector(embeddings[i]))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return wrapErr("add_documents", err, "upserting chunks")
	}
	s.logger.Printf("[PGVECTOR-STORE] Upserted %d chunks into %s", len(chunks), s.table)
	return nil
}

func (s *PgvectorStore) Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]string) ([]models.SearchResult, error) {
	if s.pool == nil {
		return nil, NewStoreError("search", ErrKindUnavailable, nil, "store not initialized")
	}
	if limit <= 0 {
		return nil, NewStoreError("search", ErrKindInvalid, nil, "limit must be positive")
	}
	if len(queryEmbedding) != s.dimension {
		return nil, NewStoreError("search", ErrKindInvalid, nil,
			fmt.Sprintf("query has dimension %d, table expects %d", len(queryEmbedding), s.dimension))
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, content, metadata, embedding <=> $1 AS distance
		FROM %s`, s.table)
	args := []any{pgvector.NewVector(queryEmbedding)}
	if len(filter) > 0 {
		meta, err := json.Marshal(filter)
		if err != nil {
			return nil, NewStoreError("search", ErrKindInvalid, err, "encoding filter")
		}
		query += ` WHERE metadata @> $2`
		args = append(args, meta)
	}
	query += fmt.Sprintf(` ORDER BY distance LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("search", err, "querying chunks")
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var (
			id, documentID, content string
			metaJSON                []byte
			distance                float64
		)
		if err := rows.Scan(&id, &documentID, &content, &metaJSON, &distance); err != nil {
			return nil, wrapErr("search", err, "scanning row")
		}
		meta := map[string]string{}
		_ = json.Unmarshal(metaJSON, &meta)
		r := models.SearchResult{
			ID:         id,
			DocumentID: documentID,
			Content:    content,
			// Cosine distance ranges over [0,2]; 1 - d/2 maps it onto [0,1].
			Score:      clampScore(1.0 - distance/2.0),
			Rank:       len(results) + 1,
			ResultType: models.ResultTypeText,
			Metadata:   meta,
		}
		resultFromMetadata(&r)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("search", err, "iterating rows")
	}
	return results, nil
}

func (s *PgvectorStore) Delete(ctx context.Context, selector DeleteSelector) (int, error) {
	if s.pool == nil {
		return 0, NewStoreError("delete", ErrKindUnavailable, nil, "store not initialized")
	}
	if err := selector.Validate(); err != nil {
		return 0, err
	}

	var (
		query string
		args  []any
	)
	switch {
	case selector.DocumentID != "":
		query = fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.table)
		args = []any{selector.DocumentID}
	case len(selector.ChunkIDs) > 0:
		query = fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table)
		args = []any{selector.ChunkIDs}
	default:
		meta, err := json.Marshal(selector.Filter)
		if err != nil {
			return 0, NewStoreError("delete", ErrKindInvalid, err, "encoding filter")
		}
		query = fmt.Sprintf(`DELETE FROM %s WHERE metadata @> $1`, s.table)
		args = []any{meta}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("delete", err, "deleting chunks")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgvectorStore) ListDocuments(ctx context.Context, limit int) ([]models.DocumentSummary, error) {
	if s.pool == nil {
		return nil, NewStoreError("list_documents", ErrKindUnavailable, nil, "store not initialized")
	}
	query := fmt.Sprintf(`
		SELECT document_id,
		       COALESCE(MIN(metadata->>'%s'), '') AS name,
		       COALESCE(MIN(metadata->>'%s'), '') AS source,
		       COUNT(*) AS chunk_count
		FROM %s
		GROUP BY document_id
		ORDER BY MIN(ordinal), document_id`, metaDocumentName, metaSource, s.table)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapErr("list_documents", err, "querying summaries")
	}
	defer rows.Close()

	summaries := []models.DocumentSummary{}
	for rows.Next() {
		var d models.DocumentSummary
		if err := rows.Scan(&d.ID, &d.Name, &d.Source, &d.ChunkCount); err != nil {
			return nil, wrapErr("list_documents", err, "scanning row")
		}
		summaries = append(summaries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list_documents", err, "iterating rows")
	}
	return summaries, nil
}

func (s *PgvectorStore) Clear(ctx context.Context) error {
	if s.pool == nil {
		return NewStoreError("clear", ErrKindUnavailable, nil, "store not initialized")
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return wrapErr("clear", err, "deleting all chunks")
	}
	s.logger.Printf("[PGVECTOR-STORE] Cleared table %s", s.table)
	return nil
}

func (s *PgvectorStore) Count(ctx context.Context) (int, error) {
	if s.pool == nil {
		return 0, NewStoreError("count", ErrKindUnavailable, nil, "store not initialized")
	}
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, wrapErr("count", err, "counting chunks")
	}
	return n, nil
}

func (s *PgvectorStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}
