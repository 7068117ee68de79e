package memory

import (
	"context"
	"strings"
)

// NewRepository selects a backend from dbPath:
//
//	postgres://... or postgresql://...  PostgreSQL via pgx
//	memory                              process-local maps
//	sqlite://path or a bare path        SQLite file
//
// An empty dbPath defaults to clinicguard.db in the working directory.
func NewRepository(ctx context.Context, dbPath string) (Repository, error) {
	dbPath = strings.TrimSpace(dbPath)
	lower := strings.ToLower(dbPath)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return NewPostgresRepository(ctx, dbPath)
	case lower == "memory" || lower == ":memory:":
		return NewInMemoryRepository(), nil
	}

	path := strings.TrimPrefix(dbPath, "sqlite://")
	if path == "" {
		path = "clinicguard.db"
	}
	return NewSQLiteRepository(ctx, path)
}
