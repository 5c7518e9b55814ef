package command

import (
	"context"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// CreateClassCommand creates an empty class.
type CreateClassCommand struct {
	ClassID string

	// Name defaults to the id.
	Name string
}

// Validate checks the id format.
func (c CreateClassCommand) Validate() error {
	return classroom.ValidateID(c.ClassID)
}

// CreateClassHandler handles CreateClassCommand.
type CreateClassHandler struct {
	deps Deps
}

// NewCreateClassHandler creates a handler.
func NewCreateClassHandler(deps Deps) *CreateClassHandler {
	return &CreateClassHandler{deps: deps.withDefaults("create_class")}
}

// Handle creates and stores the class.
func (h *CreateClassHandler) Handle(ctx context.Context, cmd CreateClassCommand) (*classroom.Info, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	c, err := h.deps.Registry.Create(ctx, cmd.ClassID, cmd.Name)
	if err != nil {
		return nil, err
	}
	h.deps.Logger.Info("class created", logger.ClassID(c.ID), logger.String("name", c.Name))
	info := c.Info
	return &info, nil
}
