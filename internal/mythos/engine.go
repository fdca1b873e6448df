// Package mythos is the evolution engine: it owns the persona store and the
// event log, counts invocations, fires stage transitions at fixed
// thresholds, and flushes every mutation to the configured backend.
package mythos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/harbz07/sanctuary-mythology/internal/chronicle"
	"github.com/harbz07/sanctuary-mythology/internal/logbook"
	"github.com/harbz07/sanctuary-mythology/internal/logging"
	"github.com/harbz07/sanctuary-mythology/internal/lore"
	"github.com/harbz07/sanctuary-mythology/internal/persona"
	"github.com/harbz07/sanctuary-mythology/internal/storage"
)

// MaxStage is the highest evolution stage; one per threshold.
const MaxStage = 5

// EvolutionWeight is the emotional weight stamped on evolution events.
const EvolutionWeight = 10

// Emotional weight bounds enforced by the clamp and reject policies.
const (
	MinWeight     = 1
	MaxWeight     = 10
	DefaultWeight = 5
)

var thresholds = [MaxStage]int{10, 25, 50, 100, 250}

// Thresholds returns the invocation counts at which a persona evolves.
func Thresholds() []int {
	out := make([]int, len(thresholds))
	copy(out, thresholds[:])
	return out
}

var (
	// ErrUnknownPersona is returned for names that were never registered.
	ErrUnknownPersona = errors.New("mythos: unknown persona")
	// ErrInvalidWeight is returned under WeightReject for out-of-range weights.
	ErrInvalidWeight = errors.New("mythos: emotional weight out of range")
)

// WeightPolicy decides what happens to an emotional weight outside 1..10.
type WeightPolicy string

const (
	WeightClamp  WeightPolicy = "clamp"
	WeightReject WeightPolicy = "reject"
	WeightAccept WeightPolicy = "accept"
)

// ParseWeightPolicy maps a config value onto a policy. Empty means clamp.
func ParseWeightPolicy(value string) (WeightPolicy, error) {
	switch policy := WeightPolicy(strings.ToLower(strings.TrimSpace(value))); policy {
	case "":
		return WeightClamp, nil
	case WeightClamp, WeightReject, WeightAccept:
		return policy, nil
	default:
		return "", fmt.Errorf("mythos: unknown weight policy %q", value)
	}
}

// ContentGenerator produces the phrase and trait learned on evolution.
type ContentGenerator interface {
	Phrase(p persona.Persona) (string, error)
	Trait(p persona.Persona) string
}

// Observer receives every event the engine records, after it is persisted.
type Observer interface {
	Observe(event persona.Event)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(persona.Event)

// Observe executes f(event).
func (f ObserverFunc) Observe(event persona.Event) {
	if f != nil {
		f(event)
	}
}

// Evolution describes a stage transition fired by an invocation.
type Evolution struct {
	Stage  int    `json:"stage"`
	Phrase string `json:"phrase,omitempty"`
	Trait  string `json:"trait,omitempty"`
}

// Outcome is the result of a recorded invocation.
type Outcome struct {
	Persona         string     `json:"persona"`
	EventID         string     `json:"event_id"`
	InvocationCount int        `json:"invocation_count"`
	EvolutionStage  int        `json:"evolution_stage"`
	EmotionalWeight int        `json:"emotional_weight"`
	Evolution       *Evolution `json:"evolution,omitempty"`
}

// Engine tracks personas and their evolution. All methods are safe for
// concurrent use; each call runs read, compare, mutate and persist under a
// single lock.
type Engine struct {
	mu        sync.Mutex
	backend   storage.Backend
	store     *persona.Store
	events    *persona.EventLog
	lore      map[string][]string
	generator ContentGenerator
	logger    *log.Logger
	journal   *logbook.Logbook
	now       func() time.Time
	newID     func() string
	policy    WeightPolicy
	observers []Observer
}

// Option customises an Engine.
type Option func(*Engine)

// WithGenerator overrides the content generator.
func WithGenerator(g ContentGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.generator = g
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithJournal records milestones in a logbook.
func WithJournal(journal *logbook.Logbook) Option {
	return func(e *Engine) {
		e.journal = journal
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides how event IDs are minted.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithWeightPolicy selects the emotional weight policy.
func WithWeightPolicy(policy WeightPolicy) Option {
	return func(e *Engine) {
		if policy != "" {
			e.policy = policy
		}
	}
}

// WithObserver registers an observer for recorded events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// New loads state from backend and returns a ready engine. Malformed
// persisted state is an error.
func New(ctx context.Context, backend storage.Backend, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("mythos: storage backend is required")
	}
	e := &Engine{
		backend: backend,
		logger:  logging.Discard(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		policy:  WeightClamp,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if _, err := ParseWeightPolicy(string(e.policy)); err != nil {
		return nil, err
	}
	if e.generator == nil {
		gen, err := lore.NewGenerator()
		if err != nil {
			return nil, fmt.Errorf("mythos: default generator: %w", err)
		}
		e.generator = gen
	}

	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("mythos: load state: %w", err)
	}
	e.store = persona.NewStore()
	for _, p := range snap.Personas {
		e.store.Put(p)
	}
	e.events = persona.NewEventLog(snap.Events)
	e.lore = snap.Lore
	if e.lore == nil {
		e.lore = map[string][]string{}
	}
	e.logger.Debug("state loaded", "personas", e.store.Len(), "events", e.events.Len())
	return e, nil
}

// Register inserts or replaces the persona keyed by its name and flushes.
// A persona without a category gets one inferred from its name.
func (e *Engine) Register(ctx context.Context, p persona.Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	stored := p.Clone()
	stored.Normalize()

	e.mu.Lock()
	defer e.mu.Unlock()
	replaced := e.store.Put(&stored)
	if replaced {
		e.logger.Info("persona replaced", "persona", stored.Name)
		e.journal.Info("%s re-registered (%s)", stored.Name, stored.Role)
	} else {
		e.logger.Info("persona registered", "persona", stored.Name, "category", stored.Category)
		e.journal.Info("%s registered (%s)", stored.Name, stored.Role)
	}
	return e.flush(ctx)
}

// Seed registers every persona whose name is not already present and
// flushes once. It returns the number added.
func (e *Engine) Seed(ctx context.Context, personas []persona.Persona) (int, error) {
	for _, p := range personas {
		if err := p.Validate(); err != nil {
			return 0, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	added := 0
	for _, p := range personas {
		if _, ok := e.store.Get(p.Name); ok {
			continue
		}
		stored := p.Clone()
		stored.Normalize()
		e.store.Put(&stored)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	e.logger.Info("personas seeded", "added", added)
	e.journal.Info("seeded %d personas", added)
	return added, e.flush(ctx)
}

// Get returns a copy of the named persona.
func (e *Engine) Get(name string) (persona.Persona, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.store.Get(name)
	if !ok {
		return persona.Persona{}, false
	}
	return p.Clone(), true
}

// Personas returns copies of every persona in registration order.
func (e *Engine) Personas() []persona.Persona {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.personasLocked()
}

func (e *Engine) personasLocked() []persona.Persona {
	all := e.store.All()
	out := make([]persona.Persona, len(all))
	for i, p := range all {
		out[i] = p.Clone()
	}
	return out
}

// Events returns the event log in append order.
func (e *Engine) Events() []persona.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events.All()
}

// EventsFor returns the events recorded for one persona name.
func (e *Engine) EventsFor(name string) []persona.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events.ForPersona(name)
}

// LogInvocation records one use of the named persona. Unknown names return
// ErrUnknownPersona and change nothing. Otherwise the count is incremented,
// the context accumulated, an invocation event appended, the threshold
// checked and the state flushed. A failed flush is returned, but the
// in-memory mutation stands.
func (e *Engine) LogInvocation(ctx context.Context, name, contextText string, tags []string, weight int) (Outcome, error) {
	outcome, recorded, err := e.logInvocation(ctx, name, contextText, tags, weight)
	e.notify(recorded)
	return outcome, err
}

func (e *Engine) logInvocation(ctx context.Context, name, contextText string, tags []string, weight int) (Outcome, []persona.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.store.Get(name)
	if !ok {
		e.logger.Warn("unknown persona", "persona", name)
		e.journal.Warn("invocation of unknown persona %q skipped", name)
		return Outcome{}, nil, fmt.Errorf("%w: %q", ErrUnknownPersona, name)
	}
	weight, err := e.applyWeight(weight)
	if err != nil {
		return Outcome{}, nil, err
	}

	p.InvocationCount++
	p.AccumulatedContext = append(p.AccumulatedContext, contextText)
	invocation := persona.Event{
		ID:              e.newID(),
		Timestamp:       e.now().UTC(),
		PersonaName:     p.Name,
		Type:            persona.EventInvocation,
		Context:         contextText,
		EmotionalWeight: weight,
		Tags:            append([]string{}, tags...),
	}
	e.events.Append(invocation)
	recorded := []persona.Event{invocation}

	outcome := Outcome{
		Persona:         p.Name,
		EventID:         invocation.ID,
		EmotionalWeight: weight,
	}
	if evo, event, fired := e.checkThresholds(p); fired {
		outcome.Evolution = &evo
		recorded = append(recorded, event)
	}
	outcome.InvocationCount = p.InvocationCount
	outcome.EvolutionStage = p.EvolutionStage

	e.logger.Debug("invocation", "persona", p.Name, "count", p.InvocationCount, "weight", weight)
	if err := e.flush(ctx); err != nil {
		return outcome, nil, err
	}
	return outcome, recorded, nil
}

func (e *Engine) applyWeight(weight int) (int, error) {
	if weight >= MinWeight && weight <= MaxWeight {
		return weight, nil
	}
	switch e.policy {
	case WeightAccept:
		return weight, nil
	case WeightReject:
		return 0, fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidWeight, weight, MinWeight, MaxWeight)
	default:
		return min(max(weight, MinWeight), MaxWeight), nil
	}
}

// checkThresholds fires at most one stage transition, and only when the
// count lands exactly on a threshold. A count that skipped a threshold would
// never fire it; LogInvocation only ever adds one.
func (e *Engine) checkThresholds(p *persona.Persona) (Evolution, persona.Event, bool) {
	for _, threshold := range thresholds {
		if p.InvocationCount == threshold && p.EvolutionStage < MaxStage {
			evo, event := e.triggerEvolution(p)
			return evo, event, true
		}
	}
	return Evolution{}, persona.Event{}, false
}

func (e *Engine) triggerEvolution(p *persona.Persona) (Evolution, persona.Event) {
	p.EvolutionStage++
	evo := Evolution{Stage: p.EvolutionStage}

	phrase, err := e.generator.Phrase(p.Clone())
	if err != nil {
		e.logger.Warn("phrase generation failed", "persona", p.Name, "err", err)
	}
	if phrase != "" {
		p.LearnedPhrases = append(p.LearnedPhrases, phrase)
		evo.Phrase = phrase
	}
	if trait := e.generator.Trait(p.Clone()); trait != "" {
		p.DevelopedTraits = append(p.DevelopedTraits, trait)
		evo.Trait = trait
	}

	event := persona.Event{
		ID:              e.newID(),
		Timestamp:       e.now().UTC(),
		PersonaName:     p.Name,
		Type:            persona.EventEvolution,
		Context:         fmt.Sprintf("Stage %d evolution", evo.Stage),
		EmotionalWeight: EvolutionWeight,
		Tags:            []string{"evolution", fmt.Sprintf("stage_%d", evo.Stage)},
	}
	e.events.Append(event)

	e.logger.Info("persona evolved", "persona", p.Name, "stage", evo.Stage, "invocations", p.InvocationCount)
	e.journal.Info("%s evolved to stage %d after %d invocations", p.Name, evo.Stage, p.InvocationCount)
	return evo, event
}

// GenerateReport renders the chronicle for one persona, or for all personas
// when name is empty.
func (e *Engine) GenerateReport(name string) (string, error) {
	personas, err := e.selectPersonas(name)
	if err != nil {
		return "", err
	}
	return chronicle.Report(personas), nil
}

// GenerateStyledReport is GenerateReport rendered for terminals.
func (e *Engine) GenerateStyledReport(name string) (string, error) {
	personas, err := e.selectPersonas(name)
	if err != nil {
		return "", err
	}
	return chronicle.StyledReport(personas), nil
}

func (e *Engine) selectPersonas(name string) ([]persona.Persona, error) {
	if name == "" {
		return e.Personas(), nil
	}
	p, ok := e.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, name)
	}
	return []persona.Persona{p}, nil
}

// ExportPresets renders every persona into the canonical preset block.
func (e *Engine) ExportPresets() string {
	return chronicle.Export(e.Personas(), e.now())
}

// Flush persists the current state.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush(ctx)
}

// Close releases the backend.
func (e *Engine) Close() error {
	return e.backend.Close()
}

func (e *Engine) flush(ctx context.Context) error {
	snap := storage.Snapshot{
		Personas: e.store.All(),
		Events:   e.events.All(),
		Lore:     e.lore,
	}
	if err := e.backend.Save(ctx, snap); err != nil {
		e.logger.Error("save failed", "err", err)
		e.journal.Error("saving state failed: %v", err)
		return fmt.Errorf("mythos: save state: %w", err)
	}
	return nil
}

func (e *Engine) notify(events []persona.Event) {
	for _, event := range events {
		for _, o := range e.observers {
			o.Observe(event)
		}
	}
}
