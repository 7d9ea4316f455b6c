// Package cmd wires shared infrastructure for the runwell binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/runwell/runwell/pkg/persistence"
	"github.com/runwell/runwell/pkg/persistence/file"
	"github.com/runwell/runwell/pkg/persistence/postgresql"
)

// NewPersistence builds a persistence layer from a database URL. URLs with a
// postgres:// or postgresql:// scheme use PostgreSQL; everything else is
// treated as a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL persistence: %w", err)
		}

		return p, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseScheme(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return scheme
}
