package memory

import (
	"context"
	"strings"
)

// NewStore picks the backend: postgres when a database URL is configured,
// otherwise the JSON file store when a directory is configured, otherwise
// in-memory.
func NewStore(ctx context.Context, databaseURL, dir string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(dir) != "" {
		return NewFileStore(dir)
	}
	return NewInMemoryStore(), nil
}
