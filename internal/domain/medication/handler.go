package medication

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/fhir"
	"github.com/ehr/pharmacy/pkg/pagination"
)

// maxPayloadBytes bounds an ingested resource.
const maxPayloadBytes = 1 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/medications", h.ListMedications)
	read.GET("/medications/:id", h.GetMedication)
	read.GET("/medication-requests", h.ListRequests)
	read.GET("/medication-requests/:id", h.GetRequest)

	write := api.Group("", auth.RequireRole(auth.WriteRoles...))
	write.POST("/medications", h.CreateMedication)
	write.DELETE("/medications/:id", h.DeleteMedication)
	write.POST("/medication-requests/ingest", h.Ingest)

	admin := api.Group("", auth.RequireRole(auth.AdminRoles...))
	admin.DELETE("/medication-requests/:id", h.DeleteRequest)

	fhirRead := fhirGroup.Group("", auth.RequireRole(auth.ReadRoles...))
	fhirRead.GET("/Medication", h.SearchMedicationsFHIR)
	fhirRead.GET("/Medication/:id", h.GetMedicationFHIR)
	fhirRead.GET("/MedicationRequest", h.SearchRequestsFHIR)
	fhirRead.GET("/MedicationRequest/:id", h.GetRequestFHIR)
	fhirRead.POST("/MedicationRequest/$validate", h.ValidateFHIR)

	fhirWrite := fhirGroup.Group("", auth.RequireRole(auth.WriteRoles...))
	fhirWrite.POST("/MedicationRequest", h.IngestFHIR)
}

// -- Medication Handlers --

func (h *Handler) CreateMedication(c echo.Context) error {
	var in CreateMedicationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.CreateMedication(c.Request().Context(), in)
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Msg)
	case errors.Is(err, ErrDuplicateCoding), errors.Is(err, ErrDuplicateMedicationFHIRID):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set("Location", "/api/v1/medications/"+m.ID.String())
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMedication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.GetMedication(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "medication not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	pg := pagination.FromContext(c)
	meds, total, err := h.svc.ListMedications(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if meds == nil {
		meds = []*Medication{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(meds, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteMedication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	err = h.svc.DeleteMedication(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "medication not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetMedicationFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	m, err := h.svc.GetMedicationByFHIRID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		if uid, perr := uuid.Parse(id); perr == nil {
			m, err = h.svc.GetMedication(ctx, uid)
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Medication", id))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, m.ToFHIR())
}

// -- MedicationRequest Handlers --

type ingestResponse struct {
	Message string `json:"message"`
	*IngestResult
}

func readPayload(c echo.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
}

// Ingest is the REST spelling of the FHIR endpoint; failures come back as plain HTTP errors.
func (h *Handler) Ingest(c echo.Context) error {
	raw, err := readPayload(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Ingest(c.Request().Context(), raw)
	if err != nil {
		status, _ := ingestErrorStatus(err)
		return echo.NewHTTPError(status, err.Error())
	}
	c.Response().Header().Set("Location", "/api/v1/medication-requests/"+res.ID.String())
	return c.JSON(http.StatusCreated, ingestResponse{Message: "MedicationRequest received and processed", IngestResult: res})
}

// IngestFHIR accepts a FHIR MedicationRequest and reports failures as OperationOutcome.
func (h *Handler) IngestFHIR(c echo.Context) error {
	raw, err := readPayload(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.StructureOutcome(err))
	}
	res, err := h.svc.Ingest(c.Request().Context(), raw)
	if err != nil {
		status, outcome := ingestErrorStatus(err)
		return c.JSON(status, outcome)
	}
	c.Response().Header().Set("Location", "/fhir/MedicationRequest/"+res.ID.String())
	return c.JSON(http.StatusCreated, ingestResponse{Message: "MedicationRequest received and processed", IngestResult: res})
}

func ingestErrorStatus(err error) (int, *fhir.OperationOutcome) {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, err.Error())
	case errors.Is(err, ErrInvalidResourceType):
		return http.StatusBadRequest, fhir.InvalidOutcome(err.Error())
	case errors.Is(err, ErrDuplicateExternalID):
		return http.StatusConflict, fhir.DuplicateOutcome(err.Error())
	default:
		return http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error())
	}
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	mr, err := h.svc.GetRequest(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "medication request not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, mr)
}

func (h *Handler) ListRequests(c echo.Context) error {
	f, err := requestFilterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	reqs, total, err := h.svc.ListRequests(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if reqs == nil {
		reqs = []*MedicationRequest{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reqs, total, pg.Limit, pg.Offset))
}

// requestFilterFromQuery also accepts startDate/endDate from older clients.
func requestFilterFromQuery(c echo.Context) (RequestFilter, error) {
	f := RequestFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("patient_ref"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("invalid patient_ref")
		}
		f.PatientRef = &id
	}
	var err error
	if f.AuthoredFrom, err = queryTime(c, "authored_from", "startDate"); err != nil {
		return f, err
	}
	if f.AuthoredTo, err = queryTime(c, "authored_to", "endDate"); err != nil {
		return f, err
	}
	return f, nil
}

func queryTime(c echo.Context, names ...string) (*time.Time, error) {
	for _, name := range names {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, ok := ParseFHIRDateTime(v)
		if !ok {
			return nil, errors.New("invalid " + name)
		}
		return &t, nil
	}
	return nil, nil
}

func (h *Handler) DeleteRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	err = h.svc.DeleteRequest(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "medication request not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetRequestFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	mr, err := h.svc.GetRequestByFHIRID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		if uid, perr := uuid.Parse(id); perr == nil {
			mr, err = h.svc.GetRequest(ctx, uid)
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("MedicationRequest", id))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, mr.ToFHIR())
}

// -- FHIR search --

// searchLinks builds self and next links for a searchset page.
func searchLinks(base string, q url.Values, pg pagination.Params, total int) []fhir.BundleLink {
	page := func(offset int) string {
		v := url.Values{}
		for k, vals := range q {
			v[k] = vals
		}
		v.Set("_count", fmt.Sprint(pg.Limit))
		v.Set("_offset", fmt.Sprint(offset))
		return base + "?" + v.Encode()
	}
	links := []fhir.BundleLink{{Relation: "self", URL: page(pg.Offset)}}
	if pg.Offset+pg.Limit < total {
		links = append(links, fhir.BundleLink{Relation: "next", URL: page(pg.Offset + pg.Limit)})
	}
	return links
}

func (h *Handler) SearchMedicationsFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	meds, total, err := h.svc.ListMedications(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}
	resources := make([]map[string]interface{}, len(meds))
	for i, m := range meds {
		resources[i] = m.ToFHIR()
	}
	const base = "/fhir/Medication"
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, total, base, searchLinks(base, nil, pg, total)))
}

// SearchRequestsFHIR supports status, patient (internal id) and authoredon
// given as ge/le prefixed dates.
func (h *Handler) SearchRequestsFHIR(c echo.Context) error {
	f := RequestFilter{Status: c.QueryParam("status")}
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if v := c.QueryParam("patient"); v != "" {
		id, err := uuid.Parse(fhirIDFromParam(v))
		if err != nil {
			return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("invalid patient parameter"))
		}
		f.PatientRef = &id
		q.Set("patient", v)
	}
	for _, v := range c.QueryParams()["authoredon"] {
		prefix, value := v, ""
		if len(v) > 2 {
			prefix, value = v[:2], v[2:]
		}
		t, ok := ParseFHIRDateTime(value)
		if !ok || (prefix != "ge" && prefix != "le") {
			return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("authoredon must be ge<date> or le<date>"))
		}
		if prefix == "ge" {
			f.AuthoredFrom = &t
		} else {
			f.AuthoredTo = &t
		}
		q.Add("authoredon", v)
	}

	pg := pagination.FromContext(c)
	reqs, total, err := h.svc.ListRequests(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}
	resources := make([]map[string]interface{}, len(reqs))
	for i, mr := range reqs {
		resources[i] = mr.ToFHIR()
	}
	const base = "/fhir/MedicationRequest"
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, total, base, searchLinks(base, q, pg, total)))
}

// fhirIDFromParam accepts "Patient/<id>" as well as a bare id.
func fhirIDFromParam(v string) string {
	if ref, ok := fhir.ParseReference(v); ok {
		return ref.ID
	}
	return v
}

// ValidateFHIR implements $validate: the payload is checked and never stored.
func (h *Handler) ValidateFHIR(c echo.Context) error {
	raw, err := readPayload(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.StructureOutcome(err))
	}
	issues, err := h.svc.Validate(raw)
	if err != nil {
		status, outcome := ingestErrorStatus(err)
		return c.JSON(status, outcome)
	}
	if len(issues) == 0 {
		return c.JSON(http.StatusOK, fhir.NewOperationOutcome(fhir.IssueSeverityInformation, fhir.IssueTypeInformational, "no issues detected"))
	}
	return c.JSON(http.StatusOK, fhir.MultipleIssuesOutcome(issues))
}
