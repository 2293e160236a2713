package fhir

import (
	"fmt"

	"github.com/gofhir/fhirpath"
)

// PayloadRule is a FHIRPath invariant checked against an inbound resource.
// A rule that evaluates to false produces an issue; it never rejects the payload.
type PayloadRule struct {
	Key        string
	Expression string
	Human      string
	Severity   string
	Location   string
}

type compiledRule struct {
	PayloadRule
	expr *fhirpath.Expression
}

// PayloadChecker evaluates a fixed set of compiled rules. It is safe for
// concurrent use once built.
type PayloadChecker struct {
	rules []compiledRule
}

// NewPayloadChecker compiles every rule up front so a bad expression fails at startup.
func NewPayloadChecker(rules []PayloadRule) (*PayloadChecker, error) {
	pc := &PayloadChecker{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		expr, err := fhirpath.Compile(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", r.Key, err)
		}
		pc.rules = append(pc.rules, compiledRule{PayloadRule: r, expr: expr})
	}
	return pc, nil
}

// MedicationRequestRules are the soft checks run on every ingested MedicationRequest.
func MedicationRequestRules() []PayloadRule {
	return []PayloadRule{
		{
			Key:        "mrq-subject",
			Expression: "subject.reference.exists()",
			Human:      "subject.reference is missing; the request cannot be linked to a patient",
			Severity:   IssueSeverityWarning,
			Location:   "MedicationRequest.subject",
		},
		{
			Key:        "mrq-medication",
			Expression: "medicationCodeableConcept.exists() or medicationReference.exists()",
			Human:      "neither medicationCodeableConcept nor medicationReference is present",
			Severity:   IssueSeverityWarning,
			Location:   "MedicationRequest.medication[x]",
		},
		{
			Key:        "mrq-coding",
			Expression: "medicationCodeableConcept.coding.exists() implies (medicationCodeableConcept.coding.first().system.exists() and medicationCodeableConcept.coding.first().code.exists())",
			Human:      "first medication coding lacks system or code and cannot be matched",
			Severity:   IssueSeverityWarning,
			Location:   "MedicationRequest.medicationCodeableConcept.coding[0]",
		},
		{
			Key:        "mrq-dosage",
			Expression: "dosageInstruction.text.exists()",
			Human:      "no dosage instruction text",
			Severity:   IssueSeverityInformation,
			Location:   "MedicationRequest.dosageInstruction",
		},
	}
}

// Check runs every rule against the raw JSON resource and returns one issue
// per failed rule. Evaluation errors are reported as processing issues.
func (pc *PayloadChecker) Check(resource []byte) []OperationOutcomeIssue {
	var issues []OperationOutcomeIssue
	for _, r := range pc.rules {
		result, err := r.expr.Evaluate(resource)
		if err != nil {
			issues = append(issues, OperationOutcomeIssue{
				Severity:    IssueSeverityWarning,
				Code:        IssueTypeProcessing,
				Diagnostics: fmt.Sprintf("%s: %v", r.Key, err),
				Expression:  []string{r.Location},
			})
			continue
		}
		if passed(result) {
			continue
		}
		issues = append(issues, OperationOutcomeIssue{
			Severity:    r.Severity,
			Code:        IssueTypeInvalid,
			Diagnostics: fmt.Sprintf("%s: %s", r.Key, r.Human),
			Expression:  []string{r.Location},
		})
	}
	return issues
}

// Empty is false; a non-boolean non-empty result counts as true.
func passed(result fhirpath.Collection) bool {
	if result.Empty() {
		return false
	}
	b, err := result.ToBoolean()
	if err != nil {
		return true
	}
	return b
}
