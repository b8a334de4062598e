package vectorstore

import (
	"fmt"
	"log"
	"strings"

	"rag-server/internal/config"
	"rag-server/internal/db"
)

// Kind names a vector store backend. The set is closed; adding a backend
// means adding a constant here and a case to Create.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindChroma   Kind = "chroma"
	KindQdrant   Kind = "qdrant"
	KindPgvector Kind = "pgvector"
)

// Kinds returns every registered backend kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindSQLite, KindChroma, KindQdrant, KindPgvector}
}

// ParseKind normalizes a config string into a Kind.
func ParseKind(s string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range Kinds() {
		if kind == k {
			return k, nil
		}
	}
	return "", NewStoreError("create", ErrKindUnsupported, nil,
		fmt.Sprintf("unknown vector store kind %q (valid kinds: %s)", s, kindList()))
}

// Create builds a store of the given kind bound to collection, configured
// from cfg. Construction performs no I/O; callers must Initialize before
// use.
func Create(kind Kind, collection string, cfg *config.Config, logger *log.Logger) (Store, error) {
	if collection == "" {
		return nil, NewStoreError("create", ErrKindInvalid, nil, "collection name must not be empty")
	}

	switch kind {
	case KindSQLite:
		return NewSQLiteStore(cfg.SQLitePath, collection, logger), nil
	case KindChroma:
		return NewChromaStore(db.ChromaConfig{
			Host:     cfg.ChromaHost,
			Port:     cfg.ChromaPort,
			Tenant:   cfg.ChromaTenant,
			Database: cfg.ChromaDB,
		}, collection, logger), nil
	case KindQdrant:
		return NewQdrantStore(QdrantConfig{
			URL:    cfg.QdrantURL,
			APIKey: cfg.QdrantAPIKey,
		}, collection, cfg.EmbeddingDimension, logger), nil
	case KindPgvector:
		return NewPgvectorStore(cfg.PgvectorDSN, collection, cfg.EmbeddingDimension, logger), nil
	default:
		return nil, NewStoreError("create", ErrKindUnsupported, nil,
			fmt.Sprintf("unknown vector store kind %q (valid kinds: %s)", kind, kindList()))
	}
}

// IsAvailable reports whether kind is registered and has the configuration
// it needs. It inspects config only and never contacts the backend.
func IsAvailable(kind Kind, cfg *config.Config) bool {
	switch kind {
	case KindSQLite:
		return cfg.SQLitePath != ""
	case KindChroma:
		return cfg.ChromaHost != "" && cfg.ChromaPort > 0
	case KindQdrant:
		return cfg.QdrantURL != "" && cfg.EmbeddingDimension > 0
	case KindPgvector:
		return cfg.PgvectorDSN != "" && cfg.EmbeddingDimension > 0
	default:
		return false
	}
}

func kindList() string {
	names := make([]string, 0, len(Kinds()))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}
