package patient

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gynlab/gynlab/internal/platform/apperr"
)

// SearchLimit caps Search results.
const SearchLimit = 200

var nationalIDPattern = regexp.MustCompile(`^[0-9]{5,12}$`)

// Patient maps to the patients table.
type Patient struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	NationalID      string     `db:"national_id" json:"national_id"`
	FirstName       string     `db:"first_name" json:"first_name"`
	LastName        string     `db:"last_name" json:"last_name"`
	Phone           *string    `db:"phone" json:"phone,omitempty"`
	BirthDate       *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Address         *string    `db:"address" json:"address,omitempty"`
	PersonalHistory *string    `db:"personal_history" json:"personal_history,omitempty"`
	FamilyHistory   *string    `db:"family_history" json:"family_history,omitempty"`
	Comment         *string    `db:"comment" json:"comment,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName is "last, first", the order used in every list.
func (p *Patient) DisplayName() string {
	return p.LastName + ", " + p.FirstName
}

// Summary is a search result row.
type Summary struct {
	ID         uuid.UUID `json:"id"`
	NationalID string    `json:"national_id"`
	LastName   string    `json:"last_name"`
	FirstName  string    `json:"first_name"`
	Phone      *string   `json:"phone,omitempty"`
}

// normalize trims every text field and turns empty optional fields into nil.
func (p *Patient) normalize() {
	p.NationalID = strings.TrimSpace(p.NationalID)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	for _, f := range []**string{&p.Phone, &p.Address, &p.PersonalHistory, &p.FamilyHistory, &p.Comment} {
		if *f == nil {
			continue
		}
		v := strings.TrimSpace(**f)
		if v == "" {
			*f = nil
		} else {
			*f = &v
		}
	}
}

func (p *Patient) validate() error {
	if !nationalIDPattern.MatchString(p.NationalID) {
		return apperr.InvalidField("national_id", "must contain 5 to 12 digits")
	}
	if p.FirstName == "" || p.LastName == "" {
		return apperr.Validation("first and last names are required")
	}
	return nil
}
