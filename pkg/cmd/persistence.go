// Package cmd provides common initialization for the tideflow binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tideflow-io/tideflow/pkg/persistence"
	"github.com/tideflow-io/tideflow/pkg/persistence/file"
	"github.com/tideflow-io/tideflow/pkg/persistence/postgresql"
)

// NewPersistence selects a store from the database URL scheme: postgres://
// for PostgreSQL, anything else is treated as a file-store root path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgres persistence: %w", err))
		}

		return store
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}
