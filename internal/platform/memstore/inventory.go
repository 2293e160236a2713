package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/domain/inventory"
	"github.com/ehr/pharmacy/internal/platform/db"
)

type inventoryRepo struct{ s *Store }

func cloneItem(it *inventory.InventoryItem) *inventory.InventoryItem {
	cp := *it
	return &cp
}

// withName fills the joined medication name. Callers hold s.mu.
func (r *inventoryRepo) withName(it *inventory.InventoryItem) *inventory.InventoryItem {
	cp := cloneItem(it)
	if m, ok := r.s.medications[it.MedicationID]; ok {
		cp.MedicationName = m.Name
	}
	return cp
}

func (r *inventoryRepo) AddStock(ctx context.Context, item *inventory.InventoryItem) (bool, error) {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.medications[item.MedicationID]; !ok {
		return false, fmt.Errorf("medication %s: %w", item.MedicationID, db.ErrNotFound)
	}

	for _, existing := range s.items {
		if !existing.SameBatch(item) {
			continue
		}
		prev := *existing
		existing.MergeStock(item.Quantity, item.ExpiryDate)
		existing.UpdatedAt = s.now()
		record(ctx, func() { *existing = prev })
		*item = *r.withName(existing)
		return true, nil
	}

	item.ID = uuid.New()
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	stored := cloneItem(item)
	stored.MedicationName = ""
	s.items[item.ID] = stored
	id := item.ID
	record(ctx, func() { delete(s.items, id) })
	*item = *r.withName(stored)
	return false, nil
}

func (r *inventoryRepo) GetByID(_ context.Context, id uuid.UUID) (*inventory.InventoryItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if it, ok := r.s.items[id]; ok {
		return r.withName(it), nil
	}
	return nil, db.ErrNotFound
}

func (r *inventoryRepo) FindDispensable(_ context.Context, medicationID uuid.UUID) (*inventory.InventoryItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var candidates []*inventory.InventoryItem
	for _, it := range r.s.items {
		if it.MedicationID == medicationID && it.Quantity > 0 {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return nil, db.ErrNotFound
	}
	inventory.SortFEFO(candidates)
	return r.withName(candidates[0]), nil
}

func (r *inventoryRepo) DecrementIfQuantity(ctx context.Context, id uuid.UUID, expected int) (int, error) {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.Quantity != expected || it.Quantity <= 0 {
		return 0, inventory.ErrStockChanged
	}
	prevQty, prevUpdated := it.Quantity, it.UpdatedAt
	it.Quantity--
	it.UpdatedAt = s.now()
	record(ctx, func() { it.Quantity, it.UpdatedAt = prevQty, prevUpdated })
	return it.Quantity, nil
}

func (r *inventoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return db.ErrNotFound
	}
	delete(s.items, id)
	record(ctx, func() { s.items[id] = it })
	return nil
}

func (r *inventoryRepo) List(_ context.Context, medicationID *uuid.UUID, limit, offset int) ([]*inventory.InventoryItem, int, error) {
	r.s.mu.RLock()
	var all []*inventory.InventoryItem
	for _, it := range r.s.items {
		if medicationID == nil || it.MedicationID == *medicationID {
			all = append(all, r.withName(it))
		}
	}
	r.s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].MedicationName != all[j].MedicationName {
			return all[i].MedicationName < all[j].MedicationName
		}
		return inventory.DispensesBefore(all[i], all[j])
	})
	return window(all, limit, offset), len(all), nil
}
