package inventory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func httpCode(t *testing.T, err error, rec *httptest.ResponseRecorder) int {
	t.Helper()
	if err == nil {
		return rec.Code
	}
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_AddStock(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"created", `{"medication_id":"` + f.medID.String() + `","quantity":10,"batch_number":"B1"}`, http.StatusOK},
		{"merged", `{"medicationId":"` + f.medID.String() + `","quantity":5,"batchNumber":"B1"}`, http.StatusOK},
		{"zero quantity", `{"medication_id":"` + f.medID.String() + `","quantity":0}`, http.StatusBadRequest},
		{"unknown medication", `{"medication_id":"` + uuid.NewString() + `","quantity":1}`, http.StatusNotFound},
		{"bad json", `{"quantity":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/add-stock", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			if got := httpCode(t, h.AddStock(e.NewContext(req, rec)), rec); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	if len(f.items.items) != 1 {
		t.Fatalf("expected 1 row, got %d", len(f.items.items))
	}
	for _, it := range f.items.items {
		if it.Quantity != 15 {
			t.Errorf("expected merged quantity 15, got %d", it.Quantity)
		}
	}
}

func TestHandler_AddStock_ResponseShape(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/add-stock",
		strings.NewReader(`{"medication_id":"`+f.medID.String()+`","quantity":3}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.AddStock(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Message string        `json:"message"`
		Item    InventoryItem `json:"item"`
		Merged  bool          `json:"merged"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "Stock updated successfully" || body.Item.Quantity != 3 || body.Merged {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandler_ListItems(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()
	other := uuid.New()
	f.items.items[uuid.New()] = &InventoryItem{MedicationID: f.medID, Quantity: 1}
	f.items.items[uuid.New()] = &InventoryItem{MedicationID: other, Quantity: 1}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory?medication_id="+f.medID.String(), nil)
	rec := httptest.NewRecorder()
	if err := h.ListItems(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 item for medication, got %d", body.Total)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/inventory?medication_id=bad", nil)
	rec = httptest.NewRecorder()
	if got := httpCode(t, h.ListItems(e.NewContext(req, rec)), rec); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_GetAndDeleteItem(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()
	id := uuid.New()
	f.items.items[id] = &InventoryItem{ID: id, MedicationID: f.medID, Quantity: 4}

	call := func(method string, fn echo.HandlerFunc, param string) int {
		req := httptest.NewRequest(method, "/api/v1/inventory/"+param, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(param)
		return httpCode(t, fn(c), rec)
	}

	if got := call(http.MethodGet, h.GetItem, id.String()); got != http.StatusOK {
		t.Errorf("get: expected 200, got %d", got)
	}
	if got := call(http.MethodDelete, h.DeleteItem, id.String()); got != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", got)
	}
	if got := call(http.MethodGet, h.GetItem, id.String()); got != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", got)
	}
	if got := call(http.MethodDelete, h.DeleteItem, "not-a-uuid"); got != http.StatusBadRequest {
		t.Errorf("delete bad id: expected 400, got %d", got)
	}
}
