package patterns

import (
	"context"

	"github.com/logsight/ds-analyzer/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, runID string, patterns []models.MessagePattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, runID string, patterns []models.MessagePattern) error {
	return f(ctx, runID, patterns)
}
