package classroom

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/pkg/logger"
	"github.com/classpoints/classpoints-hub/pkg/retry"
)

// Registry keeps loaded classrooms and checkpoints them to a Repository.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Classroom

	repo    Repository
	retrier *retry.Retrier
	log     *logger.Logger
	now     func() time.Time
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Retrier wraps every repository call. Defaults to retry.StorageRetrier
	// retrying shared.IsRetryable errors.
	Retrier *retry.Retrier
	Logger  *logger.Logger
	Now     func() time.Time
}

// NewRegistry creates an empty registry over repo.
func NewRegistry(repo Repository, cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	r := &Registry{
		classes: make(map[string]*Classroom),
		repo:    repo,
		log:     cfg.Logger.With(logger.Component("classroom_registry")),
		now:     cfg.Now,
	}
	r.retrier = cfg.Retrier
	if r.retrier == nil {
		r.retrier = retry.StorageRetrier(shared.IsRetryable, retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			r.log.Warn("storage call failed, retrying", logger.Int("attempt", attempt), logger.Err(err), logger.Duration("delay", delay))
		}))
	}
	return r
}

// Create makes a new class and stores it immediately.
func (r *Registry) Create(ctx context.Context, id, name string) (*Classroom, error) {
	c, err := New(id, name, r.now())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, loaded := r.classes[id]; loaded {
		return nil, shared.ErrClassAlreadyExists
	}
	_, err = r.load(ctx, id)
	switch {
	case err == nil:
		return nil, shared.ErrClassAlreadyExists
	case !shared.IsNotFound(err):
		return nil, err
	}

	if err := r.save(ctx, c.Snapshot()); err != nil {
		return nil, err
	}
	r.classes[id] = c
	r.log.Info("class created", logger.ClassID(id))
	return c, nil
}

// Open returns a loaded class or loads it from the repository.
func (r *Registry) Open(ctx context.Context, id string) (*Classroom, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	r.mu.RLock()
	c, ok := r.classes[id]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.classes[id]; ok {
		return c, nil
	}
	snap, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err = Restore(snap)
	if err != nil {
		return nil, err
	}
	r.classes[id] = c
	r.log.Debug("class loaded", logger.ClassID(id), logger.Count(c.Ledger.Len()))
	return c, nil
}

// Get returns an already loaded class.
func (r *Registry) Get(id string) (*Classroom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.classes[id]
	if !ok {
		return nil, shared.ErrClassNotFound
	}
	return c, nil
}

// Loaded lists the classes currently in memory, ordered by id.
func (r *Registry) Loaded() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns every stored class.
func (r *Registry) List(ctx context.Context) ([]Info, error) {
	var out []Info
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.repo.List(ctx)
		return err
	})
	return out, err
}

// Unload drops a class from memory without touching storage.
func (r *Registry) Unload(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.classes, id)
}

// Checkpoint saves the current state of a loaded class. When the save
// fails the class is unloaded, discarding the unsaved mutations, so the
// next Open sees the last stored state again.
func (r *Registry) Checkpoint(ctx context.Context, id string) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	c.checkpointMu.Lock()
	defer c.checkpointMu.Unlock()

	start := time.Now()
	if err := r.save(ctx, c.Snapshot()); err != nil {
		r.evict(id, c)
		r.log.Error("checkpoint failed, class unloaded", logger.ClassID(id), logger.Err(err))
		return err
	}
	r.log.Debug("checkpoint saved", logger.ClassID(id), logger.Latency(time.Since(start)))
	return nil
}

// evict unloads c unless id was already reopened as another instance.
func (r *Registry) evict(id string, c *Classroom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.classes[id] == c {
		delete(r.classes, id)
	}
}

// Delete removes a class from storage and memory.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	delete(r.classes, id)
	r.log.Info("class deleted", logger.ClassID(id))
	return nil
}

func (r *Registry) load(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, err = r.repo.Load(ctx, id)
		return err
	})
	return snap, err
}

func (r *Registry) save(ctx context.Context, snap Snapshot) error {
	return r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.repo.Save(ctx, snap)
	})
}
