// Package memstore keeps every pharmacy collection in process memory. It
// implements the same repository interfaces as the Postgres layer and is
// used for demo runs (STORE=memory) and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/domain/identity"
	"github.com/ehr/pharmacy/internal/domain/inventory"
	"github.com/ehr/pharmacy/internal/domain/medication"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/pkg/pagination"
)

// Store owns the maps. Transactions are serialized by txMu; each one keeps
// an undo log that is replayed in reverse when the function fails. Writes
// outside a transaction take txMu too, so a rollback never overwrites them.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	patients    map[uuid.UUID]*identity.Patient
	medications map[uuid.UUID]*medication.Medication
	requests    map[uuid.UUID]*medication.MedicationRequest
	items       map[uuid.UUID]*inventory.InventoryItem

	now func() time.Time
}

func New() *Store {
	return &Store{
		patients:    make(map[uuid.UUID]*identity.Patient),
		medications: make(map[uuid.UUID]*medication.Medication),
		requests:    make(map[uuid.UUID]*medication.MedicationRequest),
		items:       make(map[uuid.UUID]*inventory.InventoryItem),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Patients() identity.PatientRepository { return &patientRepo{s: s} }

func (s *Store) Medications() medication.MedicationRepository { return &medicationRepo{s: s} }

func (s *Store) Requests() medication.MedicationRequestRepository { return &requestRepo{s: s} }

func (s *Store) Inventory() inventory.InventoryRepository { return &inventoryRepo{s: s} }

// Ping always succeeds; it lets the health endpoint treat both stores alike.
func (s *Store) Ping(context.Context) error { return nil }

// -- Transactions --

type txKey struct{}

type txState struct {
	undo []func()
}

// WithinTx implements db.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txState{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

var _ db.Transactor = (*Store)(nil)

// autocommit serializes a write made outside a transaction against running
// transactions and returns the matching unlock. Inside a transaction txMu is
// already held.
func (s *Store) autocommit(ctx context.Context) func() {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

// record registers an undo step. Callers hold s.mu for writing.
func record(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(txKey{}).(*txState); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func window[T any](all []T, limit, offset int) []T {
	lo, hi := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[lo:hi]
}

// -- Patients --

type patientRepo struct{ s *Store }

func clonePatient(p *identity.Patient) *identity.Patient {
	cp := *p
	cp.NameGiven = append([]string(nil), p.NameGiven...)
	return &cp
}

func (r *patientRepo) Create(ctx context.Context, p *identity.Patient) error {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.FHIRID != "" {
		for _, existing := range s.patients {
			if existing.FHIRID == p.FHIRID {
				return identity.ErrDuplicateFHIRID
			}
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	if p.NameGiven == nil {
		p.NameGiven = []string{}
	}
	s.patients[p.ID] = clonePatient(p)
	id := p.ID
	record(ctx, func() { delete(s.patients, id) })
	return nil
}

func (r *patientRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.patients[id]; ok {
		return clonePatient(p), nil
	}
	return nil, db.ErrNotFound
}

func (r *patientRepo) GetByFHIRID(_ context.Context, fhirID string) (*identity.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.patients {
		if fhirID != "" && p.FHIRID == fhirID {
			return clonePatient(p), nil
		}
	}
	return nil, db.ErrNotFound
}

// Delete clears patient_ref on requests that pointed at the patient.
func (r *patientRepo) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.s
	defer s.autocommit(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return db.ErrNotFound
	}
	delete(s.patients, id)
	record(ctx, func() { s.patients[id] = p })
	for _, mr := range s.requests {
		if mr.PatientRef != nil && *mr.PatientRef == id {
			mr, prev := mr, mr.PatientRef
			mr.PatientRef = nil
			record(ctx, func() { mr.PatientRef = prev })
		}
	}
	return nil
}

func (r *patientRepo) List(_ context.Context, limit, offset int) ([]*identity.Patient, int, error) {
	r.s.mu.RLock()
	all := make([]*identity.Patient, 0, len(r.s.patients))
	for _, p := range r.s.patients {
		all = append(all, clonePatient(p))
	}
	r.s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].NameFamily != all[j].NameFamily {
			return all[i].NameFamily < all[j].NameFamily
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return window(all, limit, offset), len(all), nil
}
