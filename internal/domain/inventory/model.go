package inventory

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// InventoryItem is one batch of a medication on the shelf.
type InventoryItem struct {
	ID             uuid.UUID  `json:"id"`
	MedicationID   uuid.UUID  `json:"medication_id"`
	MedicationName string     `json:"medication_name,omitempty"`
	Quantity       int        `json:"quantity"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	BatchNumber    *string    `json:"batch_number,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Batch returns the batch number, or "" when the row has none.
func (i *InventoryItem) Batch() string {
	if i.BatchNumber == nil {
		return ""
	}
	return *i.BatchNumber
}

// SameBatch reports whether two rows identify the same medication batch.
// A missing batch number matches another missing one.
func (i *InventoryItem) SameBatch(o *InventoryItem) bool {
	return i.MedicationID == o.MedicationID && i.Batch() == o.Batch()
}

// MergeStock adds qty units to the row and keeps the later of the two expiry dates.
func (i *InventoryItem) MergeStock(qty int, expiry *time.Time) {
	i.Quantity += qty
	if expiry != nil && (i.ExpiryDate == nil || expiry.After(*i.ExpiryDate)) {
		e := *expiry
		i.ExpiryDate = &e
	}
}

// DispensesBefore orders batches first-expiry-first-out: earliest expiry,
// rows without an expiry last, then the oldest row, then id.
func DispensesBefore(a, b *InventoryItem) bool {
	switch {
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return true
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return false
	case a.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// SortFEFO sorts items in dispense order.
func SortFEFO(items []*InventoryItem) {
	sort.SliceStable(items, func(i, j int) bool { return DispensesBefore(items[i], items[j]) })
}
