// Package lore generates the phrases and traits a persona gains when it
// evolves. Selection is uniformly random over category and stage pools; the
// random source is injectable so output can be made deterministic.
package lore

import (
	"math/rand"
	"sync"
	"time"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

// Rand is the random source used to pick from a pool.
type Rand interface {
	Intn(n int) int
}

// NewRand returns a seeded source. A zero seed uses the current time.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Generator produces new phrases and traits.
type Generator struct {
	mu    sync.Mutex
	rnd   Rand
	pools *Pools
}

// Option customizes a Generator.
type Option func(*Generator)

// WithRand overrides the random source.
func WithRand(r Rand) Option {
	return func(g *Generator) {
		if r != nil {
			g.rnd = r
		}
	}
}

// WithSeed seeds the default random source.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rnd = NewRand(seed)
	}
}

// WithPools replaces the embedded template pools.
func WithPools(p *Pools) Option {
	return func(g *Generator) {
		if p != nil {
			g.pools = p
		}
	}
}

// NewGenerator builds a generator over the embedded pools unless WithPools
// is given.
func NewGenerator(opts ...Option) (*Generator, error) {
	g := &Generator{}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.pools == nil {
		pools, err := DefaultPools()
		if err != nil {
			return nil, err
		}
		g.pools = pools
	}
	if g.rnd == nil {
		g.rnd = NewRand(0)
	}
	return g, nil
}

// Phrase renders a phrase from the persona's category pool. Personas without
// a category fall back to name-based inference, unknown categories to the
// generic pool.
func (g *Generator) Phrase(p persona.Persona) (string, error) {
	category := p.Category
	if category == "" {
		category = persona.InferCategory(p.Name)
	}
	pool := g.pools.phrasePool(category)
	if len(pool) == 0 {
		return "", nil
	}
	return render(pool[g.pick(len(pool))], p)
}

// Trait picks a trait for the persona's current stage.
func (g *Generator) Trait(p persona.Persona) string {
	pool := g.pools.traitPool(p.EvolutionStage)
	if len(pool) == 0 {
		return ""
	}
	return pool[g.pick(len(pool))]
}

func (g *Generator) pick(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Intn(n)
}
