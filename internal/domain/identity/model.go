package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/pharmacy/internal/platform/fhir"
)

// Patient maps to the patient table. FHIRID is the upstream clinical system's
// id and may be empty.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	FHIRID     string     `db:"fhir_id" json:"fhir_id,omitempty"`
	NameGiven  []string   `db:"name_given" json:"name_given"`
	NameFamily string     `db:"name_family" json:"name_family"`
	Gender     *string    `db:"gender" json:"gender,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName joins given and family names the way labels show them.
func (p *Patient) DisplayName() string {
	name := ""
	for _, g := range p.NameGiven {
		if g == "" {
			continue
		}
		if name != "" {
			name += " "
		}
		name += g
	}
	if p.NameFamily != "" {
		if name != "" {
			name += " "
		}
		name += p.NameFamily
	}
	return name
}

func (p *Patient) ToFHIR() map[string]interface{} {
	id := p.FHIRID
	if id == "" {
		id = p.ID.String()
	}
	result := map[string]interface{}{
		"resourceType": "Patient",
		"id":           id,
		"meta":         fhir.Meta{LastUpdated: p.UpdatedAt},
		"identifier": []map[string]string{
			{"system": "urn:pharmacy:patient", "value": p.ID.String()},
		},
	}
	if p.NameFamily != "" || len(p.NameGiven) > 0 {
		result["name"] = []fhir.HumanName{{
			Use:    "official",
			Text:   p.DisplayName(),
			Family: p.NameFamily,
			Given:  p.NameGiven,
		}}
	}
	if p.Gender != nil {
		result["gender"] = *p.Gender
	}
	if p.BirthDate != nil {
		result["birthDate"] = p.BirthDate.Format("2006-01-02")
	}
	return result
}
