// Package sampler draws distinct students uniformly at random.
package sampler

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// Source yields uniform integers in [0, n).
type Source interface {
	Intn(n int) int
}

// Sampler performs Fisher-Yates draws. It is safe for concurrent use.
// No state other than the random source carries between draws.
type Sampler struct {
	mu  sync.Mutex
	src Source
}

// New creates a sampler seeded with seed. Equal seeds replay equal draws
// over equal pools.
func New(seed int64) *Sampler {
	return &Sampler{src: rand.New(rand.NewSource(seed))}
}

// NewWithSource wraps a custom source.
func NewWithSource(src Source) *Sampler {
	return &Sampler{src: src}
}

// Request selects the pool and the sample size.
type Request struct {
	Count int

	// Group restricts the pool when non-empty. Labels are compared exactly
	// after whitespace normalisation, as in the group reports.
	Group string
}

// Draw returns up to Count distinct students from the pool. Count larger
// than the pool is clamped to the pool size.
func (s *Sampler) Draw(students []*student.Student, req Request) ([]*student.Student, error) {
	if req.Count < 1 {
		return nil, shared.ErrInvalidDrawCount
	}

	pool := make([]*student.Student, 0, len(students))
	group := student.NormalizeText(req.Group)
	for _, st := range students {
		if group != "" && st.Group != group {
			continue
		}
		pool = append(pool, st)
	}
	if len(pool) == 0 {
		return nil, shared.ErrNoEligibleStudents
	}

	// A fixed starting order makes seeded draws reproducible.
	sort.Slice(pool, func(i, j int) bool { return pool[i].Number < pool[j].Number })

	s.shuffle(pool)
	return pool[:min(req.Count, len(pool))], nil
}

// shuffle runs Fisher-Yates: for i from last down to 1, swap i with a
// uniform index in [0, i].
func (s *Sampler) shuffle(pool []*student.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(pool) - 1; i > 0; i-- {
		j := s.src.Intn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}
}
