// Package classroom binds one class's ledger and reward catalogue together
// and manages their lifecycle. A Registry is created and owned by the
// caller; there is no process-wide class state.
package classroom

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/reward"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASSROOM
// ══════════════════════════════════════════════════════════════════════════════

// Info identifies a class.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

var classIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateID accepts lowercase slugs up to 64 chars.
func ValidateID(id string) error {
	if !classIDPattern.MatchString(id) {
		return shared.ErrInvalidClassID
	}
	return nil
}

// Classroom is the unit of ownership: one ledger, one catalogue.
type Classroom struct {
	Info
	Ledger  *ledger.Ledger
	Rewards *reward.Catalog

	// checkpointMu orders checkpoints so an older snapshot never
	// overwrites a newer one.
	checkpointMu sync.Mutex
}

// New creates an empty classroom.
func New(id, name string, now time.Time) (*Classroom, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = id
	}
	return &Classroom{
		Info:    Info{ID: id, Name: name, CreatedAt: now},
		Ledger:  ledger.New(id),
		Rewards: reward.NewCatalog(),
	}, nil
}

// Redeem spends a student's exchange credit on a reward.
func (c *Classroom) Redeem(studentID, rewardID, operator string) (reward.Exchange, error) {
	return c.Rewards.Redeem(c.Ledger, studentID, rewardID, operator)
}

// Snapshot is the persisted shape of a classroom.
type Snapshot struct {
	Info    Info            `json:"info"`
	Ledger  ledger.Snapshot `json:"ledger"`
	Rewards reward.Snapshot `json:"rewards"`
}

// Snapshot copies the classroom. The catalogue lock is held while the
// ledger is copied, so a concurrent redemption is either fully in the
// snapshot or fully out of it.
func (c *Classroom) Snapshot() Snapshot {
	var ls ledger.Snapshot
	rs := c.Rewards.SnapshotWith(func() { ls = c.Ledger.Snapshot() })
	return Snapshot{Info: c.Info, Ledger: ls, Rewards: rs}
}

// Restore rebuilds a classroom from its snapshot.
func Restore(snap Snapshot) (*Classroom, error) {
	if err := ValidateID(snap.Info.ID); err != nil {
		return nil, err
	}
	l, err := ledger.Restore(snap.Info.ID, snap.Ledger)
	if err != nil {
		return nil, err
	}
	r, err := reward.Restore(snap.Rewards)
	if err != nil {
		return nil, err
	}
	return &Classroom{Info: snap.Info, Ledger: l, Rewards: r}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists classroom snapshots. Implementations live in
// infrastructure/persistence.
type Repository interface {
	// Load returns ErrClassNotFound for unknown ids.
	Load(ctx context.Context, id string) (Snapshot, error)

	// Save replaces the stored state of the class atomically.
	Save(ctx context.Context, snap Snapshot) error

	// List returns every stored class ordered by id.
	List(ctx context.Context) ([]Info, error)

	// Delete removes the class with its students, logs and rewards.
	Delete(ctx context.Context, id string) error
}
