package vector

import (
	"fmt"

	"github.com/hyperjump/docrag/internal/config"
)

// BackendType names a vector store implementation.
type BackendType string

const (
	// BackendQdrant talks to a Qdrant server over gRPC.
	BackendQdrant BackendType = "qdrant"
	// BackendSQLite keeps vectors in a local SQLite file. Good for single-node setups.
	BackendSQLite BackendType = "sqlite"
	// BackendMemory keeps vectors in process memory; nothing survives a restart.
	BackendMemory BackendType = "memory"
)

// NewBackend creates the backend selected by cfg.Backend.
func NewBackend(cfg *config.VectorConfig) (Backend, error) {
	switch BackendType(cfg.Backend) {
	case BackendQdrant, "":
		return NewQdrantBackend(cfg.Qdrant)
	case BackendSQLite:
		return NewSQLiteBackend(cfg.SQLitePath)
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: qdrant, sqlite, memory)", cfg.Backend)
	}
}
