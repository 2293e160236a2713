package medication

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateExternalID       = errors.New("medication request with this external id already exists")
	ErrDuplicateCoding           = errors.New("medication with this system and code already exists")
	ErrDuplicateMedicationFHIRID = errors.New("medication fhir_id already exists")
)

// MedicationRepository lookups return db.ErrNotFound when nothing matches.
type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*Medication, error)
	GetByCoding(ctx context.Context, system, code string) (*Medication, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Medication, int, error)
}

// RequestFilter narrows List. Zero fields do not filter.
type RequestFilter struct {
	Status       string
	PatientRef   *uuid.UUID
	AuthoredFrom *time.Time
	AuthoredTo   *time.Time
}

// MedicationRequestRepository. Create returns ErrDuplicateExternalID when the
// fhir_id is taken. GetByIDForUpdate locks the row for the enclosing transaction.
type MedicationRequestRepository interface {
	Create(ctx context.Context, r *MedicationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationRequest, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*MedicationRequest, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*MedicationRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f RequestFilter, limit, offset int) ([]*MedicationRequest, int, error)
}

// Matches applies the filter to one request in memory.
func (f RequestFilter) Matches(r *MedicationRequest) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.PatientRef != nil && (r.PatientRef == nil || *r.PatientRef != *f.PatientRef) {
		return false
	}
	if f.AuthoredFrom != nil && (r.AuthoredOn == nil || r.AuthoredOn.Before(*f.AuthoredFrom)) {
		return false
	}
	if f.AuthoredTo != nil && (r.AuthoredOn == nil || r.AuthoredOn.After(*f.AuthoredTo)) {
		return false
	}
	return true
}
