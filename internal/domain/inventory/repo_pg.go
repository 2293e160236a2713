package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/pharmacy/internal/platform/db"
)

type inventoryRepoPG struct {
	pool *pgxpool.Pool
}

func NewInventoryRepo(pool *pgxpool.Pool) InventoryRepository {
	return &inventoryRepoPG{pool: pool}
}

const itemCols = `i.id, i.medication_id, COALESCE(m.name, ''), i.quantity, i.expiry_date, i.batch_number, i.created_at, i.updated_at`

const itemFrom = ` FROM inventory_item i LEFT JOIN medication m ON m.id = i.medication_id`

// AddStock relies on uq_inventory_item_batch so concurrent adds to one batch
// serialize on the row. GREATEST skips NULL, which keeps the later expiry.
func (r *inventoryRepoPG) AddStock(ctx context.Context, item *InventoryItem) (bool, error) {
	newID := uuid.New()
	now := time.Now().UTC()

	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inventory_item (id, medication_id, quantity, expiry_date, batch_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (medication_id, (COALESCE(batch_number, ''))) DO UPDATE SET
			quantity    = inventory_item.quantity + EXCLUDED.quantity,
			expiry_date = GREATEST(inventory_item.expiry_date, EXCLUDED.expiry_date),
			updated_at  = EXCLUDED.updated_at
		RETURNING id, quantity, expiry_date, batch_number, created_at, updated_at`,
		newID, item.MedicationID, item.Quantity, item.ExpiryDate, item.BatchNumber, now,
	).Scan(&item.ID, &item.Quantity, &item.ExpiryDate, &item.BatchNumber, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert inventory item: %w", err)
	}
	return item.ID != newID, nil
}

func (r *inventoryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return scanItem(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+itemCols+itemFrom+` WHERE i.id = $1`, id))
}

func (r *inventoryRepoPG) FindDispensable(ctx context.Context, medicationID uuid.UUID) (*InventoryItem, error) {
	return scanItem(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+itemCols+itemFrom+`
		WHERE i.medication_id = $1 AND i.quantity > 0
		ORDER BY i.expiry_date ASC NULLS LAST, i.created_at ASC, i.id ASC
		LIMIT 1`, medicationID))
}

func (r *inventoryRepoPG) DecrementIfQuantity(ctx context.Context, id uuid.UUID, expected int) (int, error) {
	var qty int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE inventory_item SET quantity = quantity - 1, updated_at = NOW()
		WHERE id = $1 AND quantity = $2 AND quantity > 0
		RETURNING quantity`, id, expected).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrStockChanged
	}
	if err != nil {
		return 0, fmt.Errorf("decrement inventory item: %w", err)
	}
	return qty, nil
}

func (r *inventoryRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM inventory_item WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete inventory item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *inventoryRepoPG) List(ctx context.Context, medicationID *uuid.UUID, limit, offset int) ([]*InventoryItem, int, error) {
	conn := db.Conn(ctx, r.pool)
	where, args := "", []interface{}{}
	if medicationID != nil {
		where = ` WHERE i.medication_id = $1`
		args = append(args, *medicationID)
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_item i`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY m.name, i.expiry_date ASC NULLS LAST, i.created_at LIMIT $%d OFFSET $%d`,
		itemCols, itemFrom, where, n+1, n+2)
	rows, err := conn.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*InventoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func scanItem(row pgx.Row) (*InventoryItem, error) {
	var it InventoryItem
	err := row.Scan(&it.ID, &it.MedicationID, &it.MedicationName, &it.Quantity,
		&it.ExpiryDate, &it.BatchNumber, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &it, nil
}
