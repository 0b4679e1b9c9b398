// Package recordstore is the client side of the schema-less record store: a
// REST client for a remote store and a JSON-file store with the same contract.
package recordstore

import (
	"context"

	"github.com/hyperjump/reqai/internal/models"
)

// Store is the record store contract. Payloads are field maps; the store
// assigns ids on create and keeps them immutable on update.
type Store interface {
	ListTypes(ctx context.Context) ([]string, error)
	List(ctx context.Context, entityType string) ([]*models.Entity, error)
	Get(ctx context.Context, entityType, id string) (*models.Entity, error)
	Create(ctx context.Context, entityType string, payload map[string]interface{}) (*models.Entity, error)
	Update(ctx context.Context, entityType, id string, payload map[string]interface{}) (*models.Entity, error)
	Delete(ctx context.Context, entityType, id string) error
}
