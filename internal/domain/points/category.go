// Package points defines the closed set of point categories and the
// arithmetic rules over per-category balances.
package points

import (
	"fmt"
	"strings"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY
// ══════════════════════════════════════════════════════════════════════════════

// Category is one of the four fixed point buckets.
type Category string

const (
	Discipline Category = "discipline"
	Hygiene    Category = "hygiene"
	Academic   Category = "academic"
	Other      Category = "other"
)

// NumCategories is the size of the category set.
const NumCategories = 4

// Categories returns the categories in their fixed canonical order.
// Redistribution, exports and summaries all follow this order.
func Categories() [NumCategories]Category {
	return [NumCategories]Category{Discipline, Hygiene, Academic, Other}
}

// IsValid reports whether c belongs to the closed set.
func (c Category) IsValid() bool {
	return c.Index() >= 0
}

// Index returns the position of c in the canonical order, or -1.
func (c Category) Index() int {
	switch c {
	case Discipline:
		return 0
	case Hygiene:
		return 1
	case Academic:
		return 2
	case Other:
		return 3
	default:
		return -1
	}
}

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// ParseCategory converts user input into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", shared.WrapError("points", "ParseCategory", shared.ErrInvalidArgument,
			fmt.Sprintf("unknown category %q", s), shared.ErrInvalidCategory)
	}
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DIRECTION
// ══════════════════════════════════════════════════════════════════════════════

// Direction tells whether an adjustment adds or removes points.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// IsValid reports whether d is credit or debit.
func (d Direction) IsValid() bool {
	return d == Credit || d == Debit
}

// Sign returns +1 for credit and -1 for debit.
func (d Direction) Sign() int {
	if d == Debit {
		return -1
	}
	return 1
}

// String returns the direction name.
func (d Direction) String() string {
	return string(d)
}

// ParseDirection accepts credit/debit and the add/subtract aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credit", "add", "+":
		return Credit, nil
	case "debit", "subtract", "sub", "-":
		return Debit, nil
	default:
		return "", shared.WrapError("points", "ParseDirection", shared.ErrInvalidArgument,
			fmt.Sprintf("unknown direction %q", s), shared.ErrInvalidDirection)
	}
}
