package medication

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/platform/fhir"
)

const (
	StatusActive    = "active"
	StatusDispensed = "dispensed"
)

// Medication maps to the medication table plus its medication_coding rows.
type Medication struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	FHIRID    string        `db:"fhir_id" json:"fhir_id,omitempty"`
	Name      string        `db:"name" json:"name"`
	Codings   []fhir.Coding `json:"codings"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// HasCoding reports an exact (system, code) match against any coding.
func (m *Medication) HasCoding(system, code string) bool {
	for _, c := range m.Codings {
		if c.System == system && c.Code == code {
			return true
		}
	}
	return false
}

func (m *Medication) ToFHIR() map[string]interface{} {
	id := m.FHIRID
	if id == "" {
		id = m.ID.String()
	}
	return map[string]interface{}{
		"resourceType": "Medication",
		"id":           id,
		"meta":         fhir.Meta{LastUpdated: m.UpdatedAt},
		"code": fhir.CodeableConcept{
			Coding: m.Codings,
			Text:   m.Name,
		},
	}
}

// MedicationRequest maps to the medication_request table. MedicationRef and
// PatientRef are set once at ingestion and never re-resolved.
type MedicationRequest struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	FHIRID              string          `db:"fhir_id" json:"fhir_id,omitempty"`
	Status              string          `db:"status" json:"status"`
	Intent              string          `db:"intent" json:"intent,omitempty"`
	MedicationReference *fhir.Reference `json:"medication_reference,omitempty"`
	Subject             *fhir.Reference `json:"subject,omitempty"`
	Requester           *fhir.Reference `json:"requester,omitempty"`
	MedicationRef       *uuid.UUID      `db:"medication_ref" json:"medication_ref,omitempty"`
	PatientRef          *uuid.UUID      `db:"patient_ref" json:"patient_ref,omitempty"`
	DosageInstruction   []fhir.Dosage   `json:"dosage_instruction,omitempty"`
	MedicationDisplay   *string         `db:"medication_display" json:"medication_display,omitempty"`
	AuthoredOn          *time.Time      `db:"authored_on" json:"authored_on,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

func (r *MedicationRequest) IsDispensed() bool {
	return r.Status == StatusDispensed
}

func (r *MedicationRequest) ToFHIR() map[string]interface{} {
	id := r.FHIRID
	if id == "" {
		id = r.ID.String()
	}
	result := map[string]interface{}{
		"resourceType": "MedicationRequest",
		"id":           id,
		"status":       r.Status,
		"meta":         fhir.Meta{LastUpdated: r.UpdatedAt},
	}
	if r.Intent != "" {
		result["intent"] = r.Intent
	}
	if r.Subject != nil {
		result["subject"] = r.Subject
	}
	switch {
	case r.MedicationReference != nil:
		result["medicationReference"] = r.MedicationReference
	case r.MedicationRef != nil:
		ref := fhir.Reference{Reference: fhir.FormatReference("Medication", r.MedicationRef.String())}
		if r.MedicationDisplay != nil {
			ref.Display = *r.MedicationDisplay
		}
		result["medicationReference"] = ref
	case r.MedicationDisplay != nil:
		result["medicationCodeableConcept"] = fhir.CodeableConcept{Text: *r.MedicationDisplay}
	}
	if r.Requester != nil {
		result["requester"] = r.Requester
	}
	if len(r.DosageInstruction) > 0 {
		result["dosageInstruction"] = r.DosageInstruction
	}
	if r.AuthoredOn != nil {
		result["authoredOn"] = r.AuthoredOn.Format(time.RFC3339)
	}
	return result
}

// MedicationConcept is medicationCodeableConcept as sent by upstream systems,
// some of which put a non-standard display next to text.
type MedicationConcept struct {
	Coding  []fhir.Coding `json:"coding,omitempty"`
	Text    string        `json:"text,omitempty"`
	Display string        `json:"display,omitempty"`
}

// FirstCoding returns the only coding consulted for matching.
func (mc *MedicationConcept) FirstCoding() *fhir.Coding {
	if mc == nil || len(mc.Coding) == 0 {
		return nil
	}
	return &mc.Coding[0]
}

// MedicationRequestPayload is the inbound FHIR MedicationRequest. Unknown
// fields are ignored.
type MedicationRequestPayload struct {
	ResourceType              string             `json:"resourceType"`
	ID                        string             `json:"id,omitempty"`
	Status                    string             `json:"status,omitempty"`
	Intent                    string             `json:"intent,omitempty"`
	MedicationCodeableConcept *MedicationConcept `json:"medicationCodeableConcept,omitempty"`
	MedicationReference       *fhir.Reference    `json:"medicationReference,omitempty"`
	Subject                   *fhir.Reference    `json:"subject,omitempty"`
	Requester                 *fhir.Reference    `json:"requester,omitempty"`
	DosageInstruction         []fhir.Dosage      `json:"dosageInstruction,omitempty"`
	AuthoredOn                string             `json:"authoredOn,omitempty"`
}

func ParsePayload(raw []byte) (*MedicationRequestPayload, error) {
	var p MedicationRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MedicationDisplay is the concept display, then the first coding's display.
// Concept text is only used when neither is present.
func (p *MedicationRequestPayload) MedicationDisplay() *string {
	mc := p.MedicationCodeableConcept
	if mc == nil {
		return nil
	}
	d := mc.Display
	if c := mc.FirstCoding(); d == "" && c != nil {
		d = c.Display
	}
	if d == "" {
		d = mc.Text
	}
	if d == "" {
		return nil
	}
	return &d
}

var authoredOnLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02", "2006-01", "2006"}

// ParseFHIRDateTime accepts the FHIR dateTime precisions.
func ParseFHIRDateTime(s string) (time.Time, bool) {
	for _, layout := range authoredOnLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
