package medication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/domain/identity"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/fhir"
)

const ResourceTypeMedicationRequest = "MedicationRequest"

var (
	ErrInvalidResourceType = errors.New("payload is not a MedicationRequest")
	ErrMalformedPayload    = errors.New("malformed payload")
)

// ValidationError marks input the caller must fix.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type Service struct {
	medications MedicationRepository
	requests    MedicationRequestRepository
	resolver    *Resolver
	checker     *fhir.PayloadChecker
	logger      zerolog.Logger
}

// NewService wires the catalog and the ingestor. checker may be nil.
func NewService(
	medications MedicationRepository,
	requests MedicationRequestRepository,
	patients identity.PatientRepository,
	checker *fhir.PayloadChecker,
	logger zerolog.Logger,
) *Service {
	return &Service{
		medications: medications,
		requests:    requests,
		resolver:    NewResolver(patients, medications, logger),
		checker:     checker,
		logger:      logger,
	}
}

// -- Medication catalog --

type CreateMedicationInput struct {
	Name    string `json:"name"`
	System  string `json:"system"`
	Code    string `json:"code"`
	FHIRID  string `json:"fhir_id,omitempty"`
	Display string `json:"display,omitempty"`
}

func (s *Service) CreateMedication(ctx context.Context, in CreateMedicationInput) (*Medication, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.System = strings.TrimSpace(in.System)
	in.Code = strings.TrimSpace(in.Code)
	if in.Name == "" || in.System == "" || in.Code == "" {
		return nil, &ValidationError{Msg: "medication name, code, and system are required"}
	}

	_, err := s.medications.GetByCoding(ctx, in.System, in.Code)
	if err == nil {
		return nil, ErrDuplicateCoding
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("check medication coding: %w", err)
	}

	display := in.Display
	if display == "" {
		display = in.Name
	}
	m := &Medication{
		FHIRID:  strings.TrimSpace(in.FHIRID),
		Name:    in.Name,
		Codings: []fhir.Coding{{System: in.System, Code: in.Code, Display: display}},
	}
	if err := s.medications.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.medications.GetByID(ctx, id)
}

func (s *Service) GetMedicationByFHIRID(ctx context.Context, fhirID string) (*Medication, error) {
	return s.medications.GetByFHIRID(ctx, fhirID)
}

func (s *Service) DeleteMedication(ctx context.Context, id uuid.UUID) error {
	return s.medications.Delete(ctx, id)
}

func (s *Service) ListMedications(ctx context.Context, limit, offset int) ([]*Medication, int, error) {
	return s.medications.List(ctx, limit, offset)
}

// -- Request ingestion --

// IngestResult reports what Ingest stored and which links resolved.
type IngestResult struct {
	ID              uuid.UUID                    `json:"id"`
	FHIRID          string                       `json:"fhir_id,omitempty"`
	Status          string                       `json:"status"`
	PatientRef      *uuid.UUID                   `json:"patient_ref,omitempty"`
	MedicationRef   *uuid.UUID                   `json:"medication_ref,omitempty"`
	MedicationMatch MedicationMatch              `json:"medication_match,omitempty"`
	Issues          []fhir.OperationOutcomeIssue `json:"issues,omitempty"`
}

// Ingest validates, links and stores one inbound FHIR MedicationRequest.
// Unresolved patient or medication references never fail the call.
func (s *Service) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	p, err := decodeRequest(raw)
	if err != nil {
		return nil, err
	}

	log := s.logger.With().Str("fhir_id", p.ID).Logger()

	if p.ID != "" {
		_, err := s.requests.GetByFHIRID(ctx, p.ID)
		if err == nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExternalID, p.ID)
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("check external id: %w", err)
		}
	}

	var issues []fhir.OperationOutcomeIssue
	if s.checker != nil {
		issues = s.checker.Check(raw)
		for _, is := range issues {
			log.Warn().Str("severity", is.Severity).Msg(is.Diagnostics)
		}
	}

	mr := &MedicationRequest{
		FHIRID:              p.ID,
		Status:              p.Status,
		Intent:              p.Intent,
		MedicationReference: p.MedicationReference,
		Subject:             p.Subject,
		Requester:           p.Requester,
		DosageInstruction:   p.DosageInstruction,
		MedicationDisplay:   p.MedicationDisplay(),
	}
	if mr.Status == "" {
		mr.Status = StatusActive
	}
	if p.AuthoredOn != "" {
		if t, ok := ParseFHIRDateTime(p.AuthoredOn); ok {
			mr.AuthoredOn = &t
		} else {
			log.Warn().Str("authored_on", p.AuthoredOn).Msg("unparseable authoredOn ignored")
		}
	}

	patientID, ok, err := s.resolver.ResolvePatient(ctx, p.Subject)
	if err != nil {
		return nil, err
	}
	if ok {
		mr.PatientRef = &patientID
	}

	medID, match, err := s.resolver.ResolveMedication(ctx, p)
	if err != nil {
		return nil, err
	}
	if match != MatchNone {
		mr.MedicationRef = &medID
	}

	if err := s.requests.Create(ctx, mr); err != nil {
		if errors.Is(err, ErrDuplicateExternalID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExternalID, p.ID)
		}
		return nil, err
	}

	log.Info().
		Str("request_id", mr.ID.String()).
		Bool("patient_linked", mr.PatientRef != nil).
		Bool("medication_linked", mr.MedicationRef != nil).
		Msg("medication request ingested")

	return &IngestResult{
		ID:              mr.ID,
		FHIRID:          mr.FHIRID,
		Status:          mr.Status,
		PatientRef:      mr.PatientRef,
		MedicationRef:   mr.MedicationRef,
		MedicationMatch: match,
		Issues:          issues,
	}, nil
}

func decodeRequest(raw []byte) (*MedicationRequestPayload, error) {
	p, err := ParsePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.ResourceType != ResourceTypeMedicationRequest {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidResourceType, p.ResourceType)
	}
	return p, nil
}

// Validate runs the payload checks Ingest would run and stores nothing.
func (s *Service) Validate(raw []byte) ([]fhir.OperationOutcomeIssue, error) {
	if _, err := decodeRequest(raw); err != nil {
		return nil, err
	}
	if s.checker == nil {
		return nil, nil
	}
	return s.checker.Check(raw), nil
}

// -- Request queries --

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) GetRequestByFHIRID(ctx context.Context, fhirID string) (*MedicationRequest, error) {
	return s.requests.GetByFHIRID(ctx, fhirID)
}

func (s *Service) ListRequests(ctx context.Context, f RequestFilter, limit, offset int) ([]*MedicationRequest, int, error) {
	return s.requests.List(ctx, f, limit, offset)
}

// DeleteRequest is an administrative override; normal flow never deletes requests.
func (s *Service) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	if err := s.requests.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Warn().Str("request_id", id.String()).Msg("medication request deleted")
	return nil
}
