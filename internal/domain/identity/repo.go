package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateFHIRID is returned when another patient already carries the fhir_id.
var ErrDuplicateFHIRID = errors.New("patient fhir_id already exists")

// PatientRepository lookups return db.ErrNotFound when nothing matches.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*Patient, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
