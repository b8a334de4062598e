package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"rag-server/internal/models"
)

// SQLiteStore is the embedded zero-dependency backend. Embeddings are kept
// as little-endian float32 blobs and similarity is computed in process, so
// it suits small to medium corpora without any running service.
type SQLiteStore struct {
	path       string
	collection string
	db         *sql.DB
	logger     *log.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore builds a store persisting to <dir>/<collection>.db. No
// file is touched until Initialize.
func NewSQLiteStore(dir, collection string, logger *log.Logger) *SQLiteStore {
	if logger == nil {
		logger = log.New(os.Stdout, "[SQLITE-STORE] ", log.LstdFlags)
	}
	return &SQLiteStore{path: dir, collection: collection, logger: logger}
}

func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return NewStoreError("initialize", ErrKindUnavailable, err,
			fmt.Sprintf("creating data directory %s", s.path))
	}

	file := filepath.Join(s.path, s.collection+".db")
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return NewStoreError("initialize", ErrKindUnavailable, err,
			fmt.Sprintf("opening %s", file))
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return wrapErr("initialize", err, "applying "+p)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		document_id  TEXT NOT NULL,
		content      TEXT NOT NULL,
		ordinal      INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset   INTEGER NOT NULL,
		metadata     TEXT NOT NULL DEFAULT '{}',
		embedding    BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	CREATE TABLE IF NOT EXISTS collection_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return wrapErr("initialize", err, "creating schema")
	}

	s.db = db
	s.logger.Printf("[SQLITE-STORE] Collection %s ready at %s", s.collection, file)
	return nil
}

// dimension returns the pinned embedding dimension, or 0 when the
// collection has never been written.
func (s *SQLiteStore) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM collection_meta WHERE key = 'dimension'`).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr("dimension", err, "reading pinned dimension")
	}
	return dim, nil
}

func (s *SQLiteStore) AddDocuments(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if s.db == nil {
		return NewStoreError("add_documents", ErrKindUnavailable, nil, "store not initialized")
	}
	if err := validateAdd(chunks, embeddings); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if dim == 0 {
		// First write pins the dimension for the collection's lifetime.
		dim = len(embeddings[0])
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO collection_meta (key, value) VALUES ('dimension', ?)`, dim); err != nil {
			return wrapErr("add_documents", err, "pinning dimension")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("add_documents", err, "starting transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, content, ordinal, start_offset, end_offset, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			content = excluded.content,
			ordinal = excluded.ordinal,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			metadata = excluded.metadata,
			embedding = excluded.embedding`)
	if err != nil {
		return wrapErr("add_documents", err, "preparing upsert")
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		if len(embeddings[i]) != dim {
			return NewStoreError("add_documents", ErrKindInvalid, nil,
				fmt.Sprintf("embedding %d has dimension %d, collection is pinned to %d", i, len(embeddings[i]), dim))
		}
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return NewStoreError("add_documents", ErrKindInvalid, err,
				fmt.Sprintf("encoding metadata for chunk %s", chunk.ID))
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.Content,
			chunk.Ordinal, chunk.StartOffset, chunk.EndOffset, string(meta),
			encodeVector(embeddings[i])); err != nil {
			return wrapErr("add_documents", err, fmt.Sprintf("upserting chunk %s", chunk.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("add_documents", err, "committing")
	}
	s.logger.Printf("[SQLITE-STORE] Upserted %d chunks into %s", len(chunks), s.collection)
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]string) ([]models.SearchResult, error) {
	if s.db == nil {
		return nil, NewStoreError("search", ErrKindUnavailable, nil, "store not initialized")
	}
	if limit <= 0 {
		return nil, NewStoreError("search", ErrKindInvalid, nil, "limit must be positive")
	}

	dim, err := s.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []models.SearchResult{}, nil
	}
	if len(queryEmbedding) != dim {
		return nil, NewStoreError("search", ErrKindInvalid, nil,
			fmt.Sprintf("query has dimension %d, collection is pinned to %d", len(queryEmbedding), dim))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, metadata, embedding FROM chunks`)
	if err != nil {
		return nil, wrapErr("search", err, "scanning chunks")
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			id, documentID, content, metaJSON string
			blob                              []byte
		)
		if err := rows.Scan(&id, &documentID, &content, &metaJSON, &blob); err != nil {
			return nil, wrapErr("search", err, "scanning row")
		}
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, NewStoreError("search", ErrKindInvalid, err,
				fmt.Sprintf("decoding metadata for chunk %s", id))
		}
		if !matchesFilter(meta, filter) {
			continue
		}
		r := models.SearchResult{
			ID:         id,
			DocumentID: documentID,
			Content:    content,
			Score:      clampScore(cosineSimilarity(queryEmbedding, decodeVector(blob))),
			ResultType: models.ResultTypeText,
			Metadata:   meta,
		}
		resultFromMetadata(&r)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("search", err, "iterating rows")
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return results, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, selector DeleteSelector) (int, error) {
	if s.db == nil {
		return 0, NewStoreError("delete", ErrKindUnavailable, nil, "store not initialized")
	}
	if err := selector.Validate(); err != nil {
		return 0, err
	}

	switch {
	case selector.DocumentID != "":
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_id = ?`, selector.DocumentID)
		if err != nil {
			return 0, wrapErr("delete", err, "deleting by document id")
		}
		n, _ := res.RowsAffected()
		return int(n), nil

	case len(selector.ChunkIDs) > 0:
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(selector.ChunkIDs)), ",")
		args := make([]any, len(selector.ChunkIDs))
		for i, id := range selector.ChunkIDs {
			args[i] = id
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM chunks WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, wrapErr("delete", err, "deleting by chunk ids")
		}
		n, _ := res.RowsAffected()
		return int(n), nil

	default:
		ids, err := s.idsMatching(ctx, selector.Filter)
		if err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return 0, nil
		}
		return s.Delete(ctx, DeleteSelector{ChunkIDs: ids})
	}
}

// idsMatching scans metadata for chunks satisfying a filter. Filtering is
// done in Go because metadata is stored as opaque JSON.
func (s *SQLiteStore) idsMatching(ctx context.Context, filter map[string]string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, metadata FROM chunks`)
	if err != nil {
		return nil, wrapErr("delete", err, "scanning for filter match")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			return nil, wrapErr("delete", err, "scanning row")
		}
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		if matchesFilter(meta, filter) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, limit int) ([]models.DocumentSummary, error) {
	if s.db == nil {
		return nil, NewStoreError("list_documents", ErrKindUnavailable, nil, "store not initialized")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, metadata FROM chunks ORDER BY rowid`)
	if err != nil {
		return nil, wrapErr("list_documents", err, "scanning chunks")
	}
	defer rows.Close()

	acc := newDocAccumulator()
	for rows.Next() {
		var documentID, metaJSON string
		if err := rows.Scan(&documentID, &metaJSON); err != nil {
			return nil, wrapErr("list_documents", err, "scanning row")
		}
		meta := map[string]string{}
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		acc.add(documentID, meta[metaDocumentName], meta[metaSource])
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list_documents", err, "iterating rows")
	}
	return acc.summaries(limit), nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if s.db == nil {
		return NewStoreError("clear", ErrKindUnavailable, nil, "store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return wrapErr("clear", err, "deleting all chunks")
	}
	s.logger.Printf("[SQLITE-STORE] Cleared collection %s", s.collection)
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, NewStoreError("count", ErrKindUnavailable, nil, "store not initialized")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, wrapErr("count", err, "counting chunks")
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// matchesFilter reports whether meta satisfies every key->value pair.
func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks little-endian bytes back into float32s.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// cosineSimilarity computes the cosine of the angle between a and b.
// Returns 0 when either vector has zero magnitude.
func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
