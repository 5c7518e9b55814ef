package student

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

func TestNewStudent(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	s, err := NewStudent(NewStudentParams{
		ID:       "s-1",
		Profile:  Profile{Number: 7, Name: "  Li Wei ", Group: " A "},
		Balances: points.NewBalances(1, 2, 3, 4),
		Currency: 10,
		Now:      now,
	})
	require.NoError(t, err)
	assert.Equal(t, "Li Wei", s.Name)
	assert.Equal(t, "A", s.Group)
	assert.Equal(t, 10, s.Total())
	assert.True(t, s.HasGroup())
	assert.Equal(t, now, s.CreatedAt)
}

func TestNewStudent_Validation(t *testing.T) {
	tests := []struct {
		name   string
		params NewStudentParams
		kind   error
	}{
		{"missing id", NewStudentParams{Profile: Profile{Number: 1, Name: "a"}}, shared.ErrEmptyValue},
		{"zero number", NewStudentParams{ID: "x", Profile: Profile{Number: 0, Name: "a"}}, shared.ErrInvalidArgument},
		{"blank name", NewStudentParams{ID: "x", Profile: Profile{Number: 1, Name: "   "}}, shared.ErrInvalidArgument},
		{"long name", NewStudentParams{ID: "x", Profile: Profile{Number: 1, Name: strings.Repeat("名", MaxNameLength+1)}}, shared.ErrInvalidArgument},
		{"negative balance", NewStudentParams{ID: "x", Profile: Profile{Number: 1, Name: "a"}, Balances: points.NewBalances(0, -1, 0, 0)}, shared.ErrNegativeValue},
		{"negative currency", NewStudentParams{ID: "x", Profile: Profile{Number: 1, Name: "a"}, Currency: -1}, shared.ErrNegativeValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStudent(tt.params)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestNormalizeText(t *testing.T) {
	// "é" as e + combining acute accent vs the precomposed rune.
	decomposed := "Rene\u0301"
	assert.Equal(t, "Ren\u00e9", NormalizeText("  "+decomposed+"\t"))
}

func TestStudent_CloneIsIndependent(t *testing.T) {
	s := &Student{ID: "a", Number: 1, Name: "A", Balances: points.NewBalances(1, 1, 1, 1)}
	c := s.Clone()
	c.Balances = c.Balances.Set(points.Academic, 9)
	c.Name = "B"

	assert.Equal(t, 1, s.Balances.Get(points.Academic))
	assert.Equal(t, "A", s.Name)
}
