// Package reward holds the per-class reward catalogue and exchange
// history. Redeeming a reward spends exchange credit through the ledger's
// currency primitive; the catalogue never edits balances itself.
package reward

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Reward is something students can buy with exchange credit.
type Reward struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Cost          int       `json:"cost"`
	Stock         int       `json:"stock"`
	ExchangeCount int       `json:"exchange_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Exchange records one redemption. Student fields are copied so the
// history survives student deletion.
type Exchange struct {
	ID            string         `json:"id"`
	StudentID     string         `json:"student_id"`
	StudentName   string         `json:"student_name"`
	StudentNumber student.Number `json:"student_number"`
	RewardID      string         `json:"reward_id"`
	RewardName    string         `json:"reward_name"`
	Cost          int            `json:"cost"`
	Operator      string         `json:"operator"`
	At            time.Time      `json:"at"`
}

// Input is the editable part of a reward.
type Input struct {
	Name        string `toml:"name" yaml:"name"`
	Description string `toml:"description" yaml:"description"`
	Cost        int    `toml:"cost" yaml:"cost"`
	Stock       int    `toml:"stock" yaml:"stock"`
}

// Validate requires a name, a positive cost and non-negative stock.
func (in Input) Validate() error {
	if strings.TrimSpace(in.Name) == "" || in.Cost <= 0 || in.Stock < 0 {
		return shared.ErrInvalidReward
	}
	return nil
}

// CurrencyDebitor is the ledger primitive used to pay for rewards.
type CurrencyDebitor interface {
	DebitCurrency(studentID string, amount int, requireFull bool) (int, *student.Student, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog is the reward list and exchange history of one class.
type Catalog struct {
	mu        sync.RWMutex
	rewards   map[string]*Reward
	exchanges []Exchange

	now   func() time.Time
	newID func() string
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(gen func() string) Option {
	return func(c *Catalog) { c.newID = gen }
}

// NewCatalog creates an empty catalogue.
func NewCatalog(opts ...Option) *Catalog {
	c := &Catalog{
		rewards: make(map[string]*Reward),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add creates a reward.
func (c *Catalog) Add(in Input) (Reward, error) {
	if err := in.Validate(); err != nil {
		return Reward{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r := &Reward{
		ID:          c.newID(),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Cost:        in.Cost,
		Stock:       in.Stock,
		CreatedAt:   c.now(),
	}
	c.rewards[r.ID] = r
	return *r, nil
}

// Update edits name, description, cost and stock. The exchange count is kept.
func (c *Catalog) Update(id string, in Input) (Reward, error) {
	if err := in.Validate(); err != nil {
		return Reward{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rewards[id]
	if !ok {
		return Reward{}, shared.ErrRewardNotFound
	}
	r.Name = strings.TrimSpace(in.Name)
	r.Description = strings.TrimSpace(in.Description)
	r.Cost = in.Cost
	r.Stock = in.Stock
	return *r, nil
}

// Remove deletes a reward. Past exchanges keep their copied names.
func (c *Catalog) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rewards[id]; !ok {
		return shared.ErrRewardNotFound
	}
	delete(c.rewards, id)
	return nil
}

// Get returns one reward.
func (c *Catalog) Get(id string) (Reward, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rewards[id]
	if !ok {
		return Reward{}, shared.ErrRewardNotFound
	}
	return *r, nil
}

// List returns rewards ordered by cost, then name.
func (c *Catalog) List() []Reward {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listLocked()
}

func (c *Catalog) listLocked() []Reward {
	out := make([]Reward, 0, len(c.rewards))
	for _, r := range c.rewards {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Exchanges returns the exchange history, newest first.
func (c *Catalog) Exchanges() []Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Exchange, len(c.exchanges))
	for i, e := range c.exchanges {
		out[len(out)-1-i] = e
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Redeem
// ──────────────────────────────────────────────────────────────────────────────

// Redeem spends the reward's cost from the student's exchange credit.
// Stock must be positive and the credit must cover the full cost; on any
// failure neither the catalogue nor the balance changes.
//
// The catalogue lock is held across the debit. The ledger never calls
// back into the catalogue, so the lock order is always catalogue first.
func (c *Catalog) Redeem(debitor CurrencyDebitor, studentID, rewardID, operator string) (Exchange, error) {
	if strings.TrimSpace(operator) == "" {
		return Exchange{}, shared.ErrMissingOperator
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rewards[rewardID]
	if !ok {
		return Exchange{}, shared.ErrRewardNotFound
	}
	if r.Stock <= 0 {
		return Exchange{}, shared.ErrRewardOutOfStock
	}

	_, s, err := debitor.DebitCurrency(studentID, r.Cost, true)
	if err != nil {
		return Exchange{}, err
	}

	r.Stock--
	r.ExchangeCount++
	ex := Exchange{
		ID:            c.newID(),
		StudentID:     s.ID,
		StudentName:   s.Name,
		StudentNumber: s.Number,
		RewardID:      r.ID,
		RewardName:    r.Name,
		Cost:          r.Cost,
		Operator:      operator,
		At:            c.now(),
	}
	c.exchanges = append(c.exchanges, ex)
	return ex, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the persisted shape of a catalogue. Exchanges are oldest first.
type Snapshot struct {
	Rewards   []Reward   `json:"rewards"`
	Exchanges []Exchange `json:"exchanges"`
}

// Snapshot copies the catalogue.
func (c *Catalog) Snapshot() Snapshot {
	return c.SnapshotWith(nil)
}

// SnapshotWith copies the catalogue and runs fn while still holding the
// read lock, so fn observes no redemption half-applied.
func (c *Catalog) SnapshotWith(fn func()) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if fn != nil {
		fn()
	}
	ex := make([]Exchange, len(c.exchanges))
	copy(ex, c.exchanges)
	return Snapshot{Rewards: c.listLocked(), Exchanges: ex}
}

// Restore builds a catalogue from a snapshot.
func Restore(snap Snapshot, opts ...Option) (*Catalog, error) {
	c := NewCatalog(opts...)
	for i := range snap.Rewards {
		r := snap.Rewards[i]
		if r.ID == "" || r.Stock < 0 || r.Cost <= 0 {
			return nil, shared.WrapError("reward", "Restore", shared.ErrInvalidArgument, r.ID, shared.ErrInvalidReward)
		}
		if _, dup := c.rewards[r.ID]; dup {
			return nil, shared.Errorf("reward", "Restore", shared.ErrAlreadyExists, "duplicate reward id %q", r.ID)
		}
		c.rewards[r.ID] = &r
	}
	c.exchanges = append(c.exchanges, snap.Exchanges...)
	return c, nil
}
