// Package command contains write operations (CQRS - Commands).
//
// Every handler validates its command, mutates one class through the domain,
// checkpoints the class and only then publishes domain events. A handler
// never edits balances itself.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// Recorder receives command metrics. *metrics.Collector satisfies it.
type Recorder interface {
	RecordAdjustment(category, direction string, effective int)
	RecordImportRows(outcome string, n int)
	RecordRedemption(outcome string)
	RecordCheckpoint(d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordAdjustment(string, string, int)  {}
func (nopRecorder) RecordImportRows(string, int)          {}
func (nopRecorder) RecordRedemption(string)               {}
func (nopRecorder) RecordCheckpoint(time.Duration, error) {}

// Deps are the collaborators shared by every command handler.
type Deps struct {
	Registry *classroom.Registry

	// Events is optional; nil discards events.
	Events shared.EventPublisher

	// Metrics is optional.
	Metrics Recorder

	Logger *logger.Logger
}

func (d Deps) withDefaults(component string) Deps {
	if d.Events == nil {
		d.Events = shared.NopPublisher{}
	}
	if d.Metrics == nil {
		d.Metrics = nopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	d.Logger = d.Logger.With(logger.Component(component))
	return d
}

// commit checkpoints the class and publishes events once the save succeeded.
// A failed save unloads the class, so the rejected mutation is not visible
// to the next command. Publish failures are logged; the mutation is
// already durable.
func (d Deps) commit(ctx context.Context, classID string, events ...shared.Event) error {
	start := time.Now()
	err := d.Registry.Checkpoint(ctx, classID)
	d.Metrics.RecordCheckpoint(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("checkpoint class %s: %w", classID, err)
	}

	for _, e := range events {
		if err := d.Events.Publish(e); err != nil {
			d.Logger.Warn("event publish failed",
				logger.ClassID(classID),
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
		}
	}
	return nil
}

func requireClassID(id string) error {
	if strings.TrimSpace(id) == "" {
		return shared.ErrInvalidClassID
	}
	return nil
}

func requireStudentID(op, id string) error {
	if strings.TrimSpace(id) == "" {
		return shared.NewDomainError("command", op, shared.ErrEmptyValue, "student id is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADJUSTMENT PARAMETERS
// ══════════════════════════════════════════════════════════════════════════════

// AdjustmentSpec is the what-and-how-much part shared by single and batch
// adjustments. Either ItemID names a preset, or Category, Amount and
// Direction are given explicitly.
type AdjustmentSpec struct {
	ItemID    string
	Category  points.Category
	Amount    int
	Direction points.Direction

	// Reason defaults to the preset name when ItemID is set.
	Reason   string
	Operator string
}

// resolve turns the spec into a ledger adjustment template.
func (s AdjustmentSpec) resolve(items points.ItemSet) (ledger.Adjustment, error) {
	adj := ledger.Adjustment{
		Category:  s.Category,
		Amount:    s.Amount,
		Direction: s.Direction,
		Reason:    strings.TrimSpace(s.Reason),
		Operator:  strings.TrimSpace(s.Operator),
	}
	if s.ItemID == "" {
		return adj, adj.Validate()
	}

	item, err := items.Lookup(s.ItemID)
	if err != nil {
		return ledger.Adjustment{}, err
	}
	adj.ItemID = item.ID
	adj.Category = item.Category
	adj.Amount = item.Points
	adj.Direction = item.Direction
	if adj.Reason == "" {
		adj.Reason = item.Name
	}
	return adj, adj.Validate()
}
