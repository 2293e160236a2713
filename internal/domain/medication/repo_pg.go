package medication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/fhir"
)

// -- Medication Repository --

type medicationRepoPG struct {
	pool *pgxpool.Pool
	tx   db.Transactor
}

func NewMedicationRepo(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool, tx: db.NewTransactor(pool)}
}

const medicationCols = `m.id, COALESCE(m.fhir_id, ''), m.name, m.created_at, m.updated_at`

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now

	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		if _, err := conn.Exec(ctx, `
			INSERT INTO medication (id, fhir_id, name, created_at, updated_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
			m.ID, m.FHIRID, m.Name, m.CreatedAt, m.UpdatedAt,
		); err != nil {
			return err
		}
		for i, c := range m.Codings {
			if _, err := conn.Exec(ctx, `
				INSERT INTO medication_coding (medication_id, position, system, code, display)
				VALUES ($1, $2, $3, $4, $5)`,
				m.ID, i, c.System, c.Code, c.Display,
			); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case db.IsUniqueViolation(err, "uq_medication_coding_system_code"):
		return ErrDuplicateCoding
	case db.IsUniqueViolation(err, "uq_medication_fhir_id"):
		return ErrDuplicateMedicationFHIRID
	case err != nil:
		return fmt.Errorf("insert medication: %w", err)
	}
	return nil
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return r.getOne(ctx, `SELECT `+medicationCols+` FROM medication m WHERE m.id = $1`, id)
}

func (r *medicationRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*Medication, error) {
	return r.getOne(ctx, `SELECT `+medicationCols+` FROM medication m WHERE m.fhir_id = $1`, fhirID)
}

func (r *medicationRepoPG) GetByCoding(ctx context.Context, system, code string) (*Medication, error) {
	return r.getOne(ctx, `
		SELECT `+medicationCols+` FROM medication m
		JOIN medication_coding c ON c.medication_id = m.id
		WHERE c.system = $1 AND c.code = $2`, system, code)
}

func (r *medicationRepoPG) getOne(ctx context.Context, query string, args ...interface{}) (*Medication, error) {
	m, err := scanMedication(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if err := r.loadCodings(ctx, []*Medication{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *medicationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM medication WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete medication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *medicationRepoPG) List(ctx context.Context, limit, offset int) ([]*Medication, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM medication`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+medicationCols+` FROM medication m ORDER BY m.name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var meds []*Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, 0, err
		}
		meds = append(meds, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadCodings(ctx, meds); err != nil {
		return nil, 0, err
	}
	return meds, total, nil
}

func (r *medicationRepoPG) loadCodings(ctx context.Context, meds []*Medication) error {
	if len(meds) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Medication, len(meds))
	ids := make([]uuid.UUID, 0, len(meds))
	for _, m := range meds {
		m.Codings = []fhir.Coding{}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT medication_id, system, code, display FROM medication_coding
		WHERE medication_id = ANY($1) ORDER BY medication_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load codings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var c fhir.Coding
		if err := rows.Scan(&id, &c.System, &c.Code, &c.Display); err != nil {
			return err
		}
		if m, ok := byID[id]; ok {
			m.Codings = append(m.Codings, c)
		}
	}
	return rows.Err()
}

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	if err := row.Scan(&m.ID, &m.FHIRID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, db.NotFound(err)
	}
	return &m, nil
}

// -- MedicationRequest Repository --

type requestRepoPG struct {
	pool *pgxpool.Pool
}

func NewMedicationRequestRepo(pool *pgxpool.Pool) MedicationRequestRepository {
	return &requestRepoPG{pool: pool}
}

const requestCols = `id, COALESCE(fhir_id, ''), status, intent,
	medication_reference, medication_reference_display,
	subject_reference, subject_display,
	requester_reference, requester_display,
	medication_ref, patient_ref, dosage_text, medication_display, authored_on,
	created_at, updated_at`

func (r *requestRepoPG) Create(ctx context.Context, mr *MedicationRequest) error {
	mr.ID = uuid.New()
	now := time.Now().UTC()
	mr.CreatedAt, mr.UpdatedAt = now, now

	medRef, medDisplay := splitReference(mr.MedicationReference)
	subRef, subDisplay := splitReference(mr.Subject)
	reqRef, reqDisplay := splitReference(mr.Requester)

	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO medication_request (
			id, fhir_id, status, intent,
			medication_reference, medication_reference_display,
			subject_reference, subject_display,
			requester_reference, requester_display,
			medication_ref, patient_ref, dosage_text, medication_display, authored_on,
			created_at, updated_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		mr.ID, mr.FHIRID, mr.Status, mr.Intent,
		medRef, medDisplay,
		subRef, subDisplay,
		reqRef, reqDisplay,
		mr.MedicationRef, mr.PatientRef, dosageTexts(mr.DosageInstruction), mr.MedicationDisplay, mr.AuthoredOn,
		mr.CreatedAt, mr.UpdatedAt,
	)
	if db.IsUniqueViolation(err, "uq_medication_request_fhir_id") {
		return ErrDuplicateExternalID
	}
	if err != nil {
		return fmt.Errorf("insert medication request: %w", err)
	}
	return nil
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	return scanRequest(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+requestCols+` FROM medication_request WHERE id = $1`, id))
}

func (r *requestRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	return scanRequest(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+requestCols+` FROM medication_request WHERE id = $1 FOR UPDATE`, id))
}

func (r *requestRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*MedicationRequest, error) {
	return scanRequest(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+requestCols+` FROM medication_request WHERE fhir_id = $1`, fhirID))
}

func (r *requestRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE medication_request SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *requestRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM medication_request WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete medication request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *requestRepoPG) List(ctx context.Context, f RequestFilter, limit, offset int) ([]*MedicationRequest, int, error) {
	where, args := requestWhere(f)
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM medication_request`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM medication_request%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		requestCols, where, len(args)+1, len(args)+2)
	rows, err := conn.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*MedicationRequest
	for rows.Next() {
		mr, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, mr)
	}
	return out, total, rows.Err()
}

func requestWhere(f RequestFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PatientRef != nil {
		add("patient_ref = $%d", *f.PatientRef)
	}
	if f.AuthoredFrom != nil {
		add("authored_on >= $%d", *f.AuthoredFrom)
	}
	if f.AuthoredTo != nil {
		add("authored_on <= $%d", *f.AuthoredTo)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanRequest(row pgx.Row) (*MedicationRequest, error) {
	var mr MedicationRequest
	var medRef, medDisplay, subRef, subDisplay, reqRef, reqDisplay *string
	var dosage []string
	err := row.Scan(
		&mr.ID, &mr.FHIRID, &mr.Status, &mr.Intent,
		&medRef, &medDisplay,
		&subRef, &subDisplay,
		&reqRef, &reqDisplay,
		&mr.MedicationRef, &mr.PatientRef, &dosage, &mr.MedicationDisplay, &mr.AuthoredOn,
		&mr.CreatedAt, &mr.UpdatedAt,
	)
	if err != nil {
		return nil, db.NotFound(err)
	}
	mr.MedicationReference = joinReference(medRef, medDisplay)
	mr.Subject = joinReference(subRef, subDisplay)
	mr.Requester = joinReference(reqRef, reqDisplay)
	for _, text := range dosage {
		mr.DosageInstruction = append(mr.DosageInstruction, fhir.Dosage{Text: text})
	}
	return &mr, nil
}

func splitReference(ref *fhir.Reference) (reference, display *string) {
	if ref == nil {
		return nil, nil
	}
	if ref.Reference != "" {
		reference = &ref.Reference
	}
	if ref.Display != "" {
		display = &ref.Display
	}
	return reference, display
}

func joinReference(reference, display *string) *fhir.Reference {
	if reference == nil && display == nil {
		return nil
	}
	ref := &fhir.Reference{}
	if reference != nil {
		ref.Reference = *reference
	}
	if display != nil {
		ref.Display = *display
	}
	return ref
}

func dosageTexts(ds []fhir.Dosage) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		if d.Text != "" {
			out = append(out, d.Text)
		}
	}
	return out
}
