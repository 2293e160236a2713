package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/config"
	"github.com/ehr/pharmacy/internal/platform/memstore"
)

func testServer(t *testing.T) (*services, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		Env:         "development",
		Store:       config.StoreMemory,
		CORSOrigins: []string{"*"},
	}
	st := memoryStores(memstore.New())
	svc, err := newServices(cfg, st, zerolog.Nop())
	if err != nil {
		t.Fatalf("newServices: %v", err)
	}
	return svc, newRouter(cfg, st, svc, zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSeedFHIRID(t *testing.T) {
	tests := map[string]string{
		"Vitamin D3 2000 IU":             "med-seed-vitamin-d3-2000-iu",
		" metformin 500 mg oral tablet ": "med-seed-metformin-500-mg-oral-tablet",
		"Omega-3 Fish Oil 1000mg":        "med-seed-omega-3-fish-oil-1000mg",
	}
	for in, want := range tests {
		if got := seedFHIRID(in); got != want {
			t.Errorf("seedFHIRID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSeedCatalog_Idempotent(t *testing.T) {
	svc, _ := testServer(t)
	ctx := context.Background()

	meds, batches, err := seedCatalog(ctx, svc, zerolog.Nop())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if meds != len(demoCatalog) || batches != len(demoCatalog) {
		t.Errorf("expected %d/%d, got %d/%d", len(demoCatalog), len(demoCatalog), meds, batches)
	}

	meds, batches, err = seedCatalog(ctx, svc, zerolog.Nop())
	if err != nil || meds != 0 || batches != 0 {
		t.Errorf("second seed should skip everything, got %d/%d %v", meds, batches, err)
	}
	if _, total, _ := svc.inventory.ListItems(ctx, nil, 100, 0); total != len(demoCatalog) {
		t.Errorf("expected %d batches, got %d", len(demoCatalog), total)
	}
}

func TestRouter_IngestAndDispense(t *testing.T) {
	svc, h := testServer(t)
	if _, _, err := seedCatalog(context.Background(), svc, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"store":"memory"`) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}

	payload := `{
		"resourceType": "MedicationRequest",
		"id": "mr-100",
		"status": "active",
		"subject": {"reference": "Patient/unknown"},
		"medicationCodeableConcept": {"coding": [{"system": "http://snomed.info/sct", "code": "VITD"}]},
		"dosageInstruction": [{"text": "One daily"}]
	}`
	rec = do(t, h, http.MethodPost, "/fhir/MedicationRequest", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body.String())
	}
	var ingested struct {
		ID            string  `json:"id"`
		MedicationRef *string `json:"medication_ref"`
		PatientRef    *string `json:"patient_ref"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &ingested)
	if ingested.MedicationRef == nil || ingested.PatientRef != nil {
		t.Fatalf("unexpected links %+v", ingested)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/medication-requests/"+ingested.ID+"/dispense", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dispense: %d %s", rec.Code, rec.Body.String())
	}
	var dispensed struct {
		NewQuantity int    `json:"new_quantity"`
		BatchNumber string `json:"batch_number"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &dispensed)
	if dispensed.NewQuantity != 99 || dispensed.BatchNumber != "VD3-BATCH-001" {
		t.Errorf("unexpected dispense %+v", dispensed)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/medication-requests/dispense/"+ingested.ID, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("legacy path re-dispense: expected 409, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/fhir/MedicationRequest", payload)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate ingest: expected 409, got %d", rec.Code)
	}
}

func TestRouter_RequestIDAndSecurityHeaders(t *testing.T) {
	_, h := testServer(t)
	rec := do(t, h, http.MethodGet, "/api/v1/medications", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}
