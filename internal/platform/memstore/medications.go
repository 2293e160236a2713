package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/domain/medication"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/fhir"
)

type medicationRepo struct{ s *Store }

func cloneMedication(m *medication.Medication) *medication.Medication {
	cp := *m
	cp.Codings = append([]fhir.Coding{}, m.Codings...)
	return &cp
}

func (r *medicationRepo) Create(ctx context.Context, m *medication.Medication) error {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.medications {
		for _, c := range m.Codings {
			if existing.HasCoding(c.System, c.Code) {
				return medication.ErrDuplicateCoding
			}
		}
		if m.FHIRID != "" && existing.FHIRID == m.FHIRID {
			return medication.ErrDuplicateMedicationFHIRID
		}
	}
	m.ID = uuid.New()
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	s.medications[m.ID] = cloneMedication(m)
	id := m.ID
	record(ctx, func() { delete(s.medications, id) })
	return nil
}

func (r *medicationRepo) GetByID(_ context.Context, id uuid.UUID) (*medication.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if m, ok := r.s.medications[id]; ok {
		return cloneMedication(m), nil
	}
	return nil, db.ErrNotFound
}

func (r *medicationRepo) GetByFHIRID(_ context.Context, fhirID string) (*medication.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, m := range r.s.medications {
		if fhirID != "" && m.FHIRID == fhirID {
			return cloneMedication(m), nil
		}
	}
	return nil, db.ErrNotFound
}

func (r *medicationRepo) GetByCoding(_ context.Context, system, code string) (*medication.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, m := range r.s.medications {
		if m.HasCoding(system, code) {
			return cloneMedication(m), nil
		}
	}
	return nil, db.ErrNotFound
}

// Delete removes the medication's inventory and clears medication_ref on
// requests, matching the foreign keys of the SQL schema.
func (r *medicationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medications[id]
	if !ok {
		return db.ErrNotFound
	}
	delete(s.medications, id)
	record(ctx, func() { s.medications[id] = m })

	for itemID, it := range s.items {
		if it.MedicationID == id {
			itemID, it := itemID, it
			delete(s.items, itemID)
			record(ctx, func() { s.items[itemID] = it })
		}
	}
	for _, mr := range s.requests {
		if mr.MedicationRef != nil && *mr.MedicationRef == id {
			mr, prev := mr, mr.MedicationRef
			mr.MedicationRef = nil
			record(ctx, func() { mr.MedicationRef = prev })
		}
	}
	return nil
}

func (r *medicationRepo) List(_ context.Context, limit, offset int) ([]*medication.Medication, int, error) {
	r.s.mu.RLock()
	all := make([]*medication.Medication, 0, len(r.s.medications))
	for _, m := range r.s.medications {
		all = append(all, cloneMedication(m))
	}
	r.s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return window(all, limit, offset), len(all), nil
}
