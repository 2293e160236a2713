package fhir

import (
	"strings"
	"testing"
)

func newMedicationRequestChecker(t *testing.T) *PayloadChecker {
	t.Helper()
	pc, err := NewPayloadChecker(MedicationRequestRules())
	if err != nil {
		t.Fatalf("NewPayloadChecker: %v", err)
	}
	return pc
}

func issueKeys(issues []OperationOutcomeIssue) []string {
	keys := make([]string, 0, len(issues))
	for _, is := range issues {
		k, _, _ := strings.Cut(is.Diagnostics, ":")
		keys = append(keys, k)
	}
	return keys
}

func hasKey(issues []OperationOutcomeIssue, key string) bool {
	for _, k := range issueKeys(issues) {
		if k == key {
			return true
		}
	}
	return false
}

func TestPayloadChecker_CompletePayload(t *testing.T) {
	pc := newMedicationRequestChecker(t)
	payload := []byte(`{
		"resourceType": "MedicationRequest",
		"id": "mr-1",
		"status": "active",
		"subject": {"reference": "Patient/p-1"},
		"medicationCodeableConcept": {
			"coding": [{"system": "http://www.nlm.nih.gov/research/umls/rxnorm", "code": "834064"}]
		},
		"dosageInstruction": [{"text": "1 tablet daily"}]
	}`)

	if issues := pc.Check(payload); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issueKeys(issues))
	}
}

func TestPayloadChecker_MissingSubjectAndMedication(t *testing.T) {
	pc := newMedicationRequestChecker(t)
	payload := []byte(`{"resourceType": "MedicationRequest", "status": "active"}`)

	issues := pc.Check(payload)
	if !hasKey(issues, "mrq-subject") {
		t.Errorf("expected mrq-subject issue, got %v", issueKeys(issues))
	}
	if !hasKey(issues, "mrq-medication") {
		t.Errorf("expected mrq-medication issue, got %v", issueKeys(issues))
	}
	if !hasKey(issues, "mrq-dosage") {
		t.Errorf("expected mrq-dosage issue, got %v", issueKeys(issues))
	}
	for _, is := range issues {
		if is.Severity == IssueSeverityError || is.Severity == IssueSeverityFatal {
			t.Errorf("payload checks must not raise errors, got %+v", is)
		}
	}
}

func TestPayloadChecker_ReferenceOnlyMedication(t *testing.T) {
	pc := newMedicationRequestChecker(t)
	payload := []byte(`{
		"resourceType": "MedicationRequest",
		"subject": {"reference": "Patient/p-1"},
		"medicationReference": {"reference": "Medication/m-1"},
		"dosageInstruction": [{"text": "as needed"}]
	}`)

	if issues := pc.Check(payload); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issueKeys(issues))
	}
}

func TestNewPayloadChecker_BadExpression(t *testing.T) {
	_, err := NewPayloadChecker([]PayloadRule{{Key: "bad", Expression: "subject.(("}})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("expected rule key in error, got %v", err)
	}
}
