package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/domain/medication"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/fhir"
)

type requestRepo struct{ s *Store }

func cloneRequest(mr *medication.MedicationRequest) *medication.MedicationRequest {
	cp := *mr
	cp.DosageInstruction = append([]fhir.Dosage(nil), mr.DosageInstruction...)
	return &cp
}

func (r *requestRepo) Create(ctx context.Context, mr *medication.MedicationRequest) error {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if mr.FHIRID != "" {
		for _, existing := range s.requests {
			if existing.FHIRID == mr.FHIRID {
				return medication.ErrDuplicateExternalID
			}
		}
	}
	mr.ID = uuid.New()
	mr.CreatedAt = s.now()
	mr.UpdatedAt = mr.CreatedAt
	s.requests[mr.ID] = cloneRequest(mr)
	id := mr.ID
	record(ctx, func() { delete(s.requests, id) })
	return nil
}

func (r *requestRepo) GetByID(_ context.Context, id uuid.UUID) (*medication.MedicationRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if mr, ok := r.s.requests[id]; ok {
		return cloneRequest(mr), nil
	}
	return nil, db.ErrNotFound
}

// GetByIDForUpdate needs no row lock: transactions already run one at a time.
func (r *requestRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*medication.MedicationRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *requestRepo) GetByFHIRID(_ context.Context, fhirID string) (*medication.MedicationRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, mr := range r.s.requests {
		if fhirID != "" && mr.FHIRID == fhirID {
			return cloneRequest(mr), nil
		}
	}
	return nil, db.ErrNotFound
}

func (r *requestRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	mr, ok := s.requests[id]
	if !ok {
		return db.ErrNotFound
	}
	prevStatus, prevUpdated := mr.Status, mr.UpdatedAt
	mr.Status = status
	mr.UpdatedAt = s.now()
	record(ctx, func() { mr.Status, mr.UpdatedAt = prevStatus, prevUpdated })
	return nil
}

func (r *requestRepo) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	mr, ok := s.requests[id]
	if !ok {
		return db.ErrNotFound
	}
	delete(s.requests, id)
	record(ctx, func() { s.requests[id] = mr })
	return nil
}

func (r *requestRepo) List(_ context.Context, f medication.RequestFilter, limit, offset int) ([]*medication.MedicationRequest, int, error) {
	r.s.mu.RLock()
	var all []*medication.MedicationRequest
	for _, mr := range r.s.requests {
		if f.Matches(mr) {
			all = append(all, cloneRequest(mr))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return window(all, limit, offset), len(all), nil
}
