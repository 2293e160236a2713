package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrStockChanged means the row no longer held the expected quantity when
// the decrement ran.
var ErrStockChanged = errors.New("inventory quantity changed concurrently")

// InventoryRepository. Lookups return db.ErrNotFound when nothing matches.
type InventoryRepository interface {
	// AddStock merges into the row for the same medication and batch, or
	// creates one. merged reports which happened.
	AddStock(ctx context.Context, item *InventoryItem) (merged bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error)
	// FindDispensable returns the first batch in FEFO order with quantity > 0.
	FindDispensable(ctx context.Context, medicationID uuid.UUID) (*InventoryItem, error)
	// DecrementIfQuantity removes one unit if the row still holds expected
	// units. It returns the new quantity or ErrStockChanged.
	DecrementIfQuantity(ctx context.Context, id uuid.UUID, expected int) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, medicationID *uuid.UUID, limit, offset int) ([]*InventoryItem, int, error)
}
