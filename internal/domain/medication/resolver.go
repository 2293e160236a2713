package medication

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/domain/identity"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/fhir"
)

// MedicationMatch records which path linked a request to a medication.
type MedicationMatch string

const (
	MatchNone      MedicationMatch = ""
	MatchCoding    MedicationMatch = "coding"
	MatchReference MedicationMatch = "reference"
)

// Resolver maps inbound references to internal ids. A missing match is
// reported as unresolved, never as an error; only store failures are returned.
type Resolver struct {
	patients    identity.PatientRepository
	medications MedicationRepository
	logger      zerolog.Logger
}

func NewResolver(patients identity.PatientRepository, medications MedicationRepository, logger zerolog.Logger) *Resolver {
	return &Resolver{patients: patients, medications: medications, logger: logger}
}

// ResolvePatient links subject.reference to a Patient by fhir_id.
func (r *Resolver) ResolvePatient(ctx context.Context, subject *fhir.Reference) (uuid.UUID, bool, error) {
	if subject == nil || subject.Reference == "" {
		r.logger.Warn().Msg("medication request has no subject reference; not linked to a patient")
		return uuid.Nil, false, nil
	}
	ref, ok := fhir.ParseReference(subject.Reference)
	if !ok {
		r.logger.Warn().Str("reference", subject.Reference).Msg("malformed subject reference; not linked to a patient")
		return uuid.Nil, false, nil
	}

	p, err := r.patients.GetByFHIRID(ctx, ref.ID)
	if errors.Is(err, db.ErrNotFound) {
		r.logger.Warn().Str("patient_fhir_id", ref.ID).Msg("no patient with this fhir_id; not linked to a patient")
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("resolve patient %q: %w", ref.ID, err)
	}
	r.logger.Info().Str("patient_fhir_id", ref.ID).Str("patient_id", p.ID.String()).Msg("linked medication request to patient")
	return p.ID, true, nil
}

// ResolveMedication looks up the first coding of medicationCodeableConcept when
// it carries both system and code; a miss there leaves the request unlinked.
// Only otherwise is medicationReference looked up by fhir_id. Later codings are
// never consulted.
func (r *Resolver) ResolveMedication(ctx context.Context, p *MedicationRequestPayload) (uuid.UUID, MedicationMatch, error) {
	if c := p.MedicationCodeableConcept.FirstCoding(); c != nil && c.System != "" && c.Code != "" {
		m, err := r.medications.GetByCoding(ctx, c.System, c.Code)
		switch {
		case err == nil:
			r.logger.Info().Str("system", c.System).Str("code", c.Code).Str("medication_id", m.ID.String()).
				Msg("linked medication request to medication by coding")
			return m.ID, MatchCoding, nil
		case !errors.Is(err, db.ErrNotFound):
			return uuid.Nil, MatchNone, fmt.Errorf("resolve medication coding %s|%s: %w", c.System, c.Code, err)
		}
		r.logger.Warn().Str("system", c.System).Str("code", c.Code).Msg("no medication with this coding; not linked to a medication")
		return uuid.Nil, MatchNone, nil
	}

	if p.MedicationReference != nil && p.MedicationReference.Reference != "" {
		ref, ok := fhir.ParseReference(p.MedicationReference.Reference)
		if !ok {
			r.logger.Warn().Str("reference", p.MedicationReference.Reference).Msg("malformed medication reference")
			return uuid.Nil, MatchNone, nil
		}
		m, err := r.medications.GetByFHIRID(ctx, ref.ID)
		switch {
		case err == nil:
			r.logger.Info().Str("medication_fhir_id", ref.ID).Str("medication_id", m.ID.String()).
				Msg("linked medication request to medication by reference")
			return m.ID, MatchReference, nil
		case !errors.Is(err, db.ErrNotFound):
			return uuid.Nil, MatchNone, fmt.Errorf("resolve medication %q: %w", ref.ID, err)
		}
		r.logger.Warn().Str("medication_fhir_id", ref.ID).Msg("no medication with this fhir_id")
	}

	r.logger.Warn().Msg("medication request not linked to a medication")
	return uuid.Nil, MatchNone, nil
}
