package points

import (
	"strings"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

// Item is a named preset adjustment, e.g. "Homework done: +2 academic".
type Item struct {
	ID        string    `json:"id" toml:"id" yaml:"id"`
	Name      string    `json:"name" toml:"name" yaml:"name"`
	Category  Category  `json:"category" toml:"category" yaml:"category"`
	Points    int       `json:"points" toml:"points" yaml:"points"`
	Direction Direction `json:"direction" toml:"direction" yaml:"direction"`
}

// Validate checks that the preset can drive an adjustment.
func (i Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" || strings.TrimSpace(i.Name) == "" {
		return shared.NewDomainError("points", "ValidateItem", shared.ErrEmptyValue, "item id and name are required")
	}
	if !i.Category.IsValid() {
		return shared.ErrInvalidCategory
	}
	if !i.Direction.IsValid() {
		return shared.ErrInvalidDirection
	}
	if i.Points <= 0 {
		return shared.ErrInvalidAmount
	}
	return nil
}

// ItemSet indexes presets by id.
type ItemSet map[string]Item

// NewItemSet validates and indexes items. Duplicate ids are rejected.
func NewItemSet(items []Item) (ItemSet, error) {
	set := make(ItemSet, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set[it.ID]; dup {
			return nil, shared.Errorf("points", "NewItemSet", shared.ErrAlreadyExists, "duplicate item id %q", it.ID)
		}
		set[it.ID] = it
	}
	return set, nil
}

// Lookup returns the item with the given id.
func (s ItemSet) Lookup(id string) (Item, error) {
	it, ok := s[id]
	if !ok {
		return Item{}, shared.Errorf("points", "Lookup", shared.ErrNotFound, "item %q not found", id)
	}
	return it, nil
}
