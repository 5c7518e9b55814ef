// Package student contains the student entity of a class ledger.
// Balances are mutated only by the ledger package; this package owns
// identity, profile validation and name normalization.
package student

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Number is the user-facing student number, unique within a class.
type Number int

// IsValid reports whether the number is positive.
func (n Number) IsValid() bool {
	return n > 0
}

// MaxNameLength bounds display names, counted in runes.
const MaxNameLength = 100

// NormalizeText trims surrounding whitespace and converts s to NFC so
// visually identical names typed on different keyboards compare equal.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: STUDENT
// ══════════════════════════════════════════════════════════════════════════════

// Student is one member of a class together with its balances.
type Student struct {
	// ID is the internal identifier. Generated once, never reused.
	ID string `json:"id"`

	// Number is the user-editable student number.
	Number Number `json:"number"`

	Name string `json:"name"`

	// Group is empty when the student belongs to no group.
	Group string `json:"group,omitempty"`

	// Balances holds the per-category points, all >= 0.
	Balances points.Balances `json:"balances"`

	// Currency is the spendable exchange credit, always >= 0.
	Currency int `json:"currency"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is the user-editable part of a student.
type Profile struct {
	Number Number
	Name   string
	Group  string
}

// Normalize returns a copy with name and group normalized.
func (p Profile) Normalize() Profile {
	p.Name = NormalizeText(p.Name)
	p.Group = NormalizeText(p.Group)
	return p
}

// Validate checks number and name. Call Normalize first.
func (p Profile) Validate() error {
	if !p.Number.IsValid() {
		return shared.ErrInvalidStudentNumber
	}
	if n := utf8.RuneCountInString(p.Name); n == 0 || n > MaxNameLength {
		return shared.ErrInvalidStudentName
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewStudentParams contains the parameters for creating a student.
type NewStudentParams struct {
	ID       string
	Profile  Profile
	Balances points.Balances
	Currency int
	Now      time.Time
}

// NewStudent creates a student after validating all fields.
func NewStudent(params NewStudentParams) (*Student, error) {
	if params.ID == "" {
		return nil, shared.NewDomainError("student", "New", shared.ErrEmptyValue, "student id is required")
	}

	profile := params.Profile.Normalize()
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	if params.Balances.HasNegative() || params.Currency < 0 {
		return nil, shared.ErrInvalidStudentBalance
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return &Student{
		ID:        params.ID,
		Number:    profile.Number,
		Name:      profile.Name,
		Group:     profile.Group,
		Balances:  params.Balances,
		Currency:  params.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// Total returns the sum of the four category balances.
func (s *Student) Total() int {
	return s.Balances.Total()
}

// HasGroup reports whether the student carries a group label.
func (s *Student) HasGroup() bool {
	return s.Group != ""
}

// Profile returns the editable fields.
func (s *Student) Profile() Profile {
	return Profile{Number: s.Number, Name: s.Name, Group: s.Group}
}

// ApplyProfile overwrites number, name and group. Balances are untouched.
func (s *Student) ApplyProfile(p Profile, at time.Time) {
	s.Number = p.Number
	s.Name = p.Name
	s.Group = p.Group
	s.UpdatedAt = at
}

// Clone returns an independent copy.
func (s *Student) Clone() *Student {
	c := *s
	return &c
}

// Validate checks the entity invariants, used when restoring from storage.
func (s *Student) Validate() error {
	if s.ID == "" {
		return shared.NewDomainError("student", "Validate", shared.ErrEmptyValue, "student id is required")
	}
	if err := s.Profile().Validate(); err != nil {
		return err
	}
	if s.Balances.HasNegative() || s.Currency < 0 {
		return shared.ErrInvalidStudentBalance
	}
	return nil
}
