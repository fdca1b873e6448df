// Package persona defines the mythology data model: personas, their
// evolving state, and the append-only event log that records how they got
// there.
package persona

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPersona is returned when a persona fails validation.
var ErrInvalidPersona = errors.New("persona: invalid persona")

// Category selects the template pool used when a persona evolves.
type Category string

const (
	CategoryOrion    Category = "orion"
	CategoryRedid    Category = "redid"
	CategoryNova     Category = "nova"
	CategoryFuckface Category = "fuckface"
	CategoryLent     Category = "lent"
	CategoryGeneric  Category = "generic"
)

// legacyCategories is the substring dispatch table used before personas
// carried an explicit category. Order matters: first match wins.
var legacyCategories = []struct {
	needle   string
	category Category
}{
	{"ORION", CategoryOrion},
	{"Redid", CategoryRedid},
	{"Nova", CategoryNova},
	{"The Fuckface", CategoryFuckface},
	{"Lent", CategoryLent},
}

// InferCategory derives a category from a persona name. Only used to
// back-fill personas registered or persisted without a category.
func InferCategory(name string) Category {
	for _, entry := range legacyCategories {
		if strings.Contains(name, entry.needle) {
			return entry.category
		}
	}
	return CategoryGeneric
}

// Persona holds identity plus evolution state for one named entity.
type Persona struct {
	// Identity, fixed at registration.
	Name          string   `json:"name" yaml:"name"`
	Role          string   `json:"role" yaml:"role"`
	Voice         string   `json:"voice" yaml:"voice"`
	Essence       string   `json:"essence" yaml:"essence"`
	Category      Category `json:"category,omitempty" yaml:"category,omitempty"`
	Constraints   []string `json:"constraints" yaml:"constraints"`
	SamplePhrases []string `json:"sample_phrases" yaml:"sample_phrases"`

	// Evolution, mutated only by the engine.
	InvocationCount    int      `json:"invocation_count" yaml:"invocation_count"`
	EvolutionStage     int      `json:"evolution_stage" yaml:"evolution_stage"`
	AccumulatedContext []string `json:"accumulated_context" yaml:"accumulated_context"`
	LearnedPhrases     []string `json:"learned_phrases" yaml:"learned_phrases"`
	DevelopedTraits    []string `json:"developed_traits" yaml:"developed_traits"`
}

// Validate checks the fields required to key a persona.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPersona)
	}
	if p.InvocationCount < 0 {
		return fmt.Errorf("%w: invocation_count must be >= 0", ErrInvalidPersona)
	}
	if p.EvolutionStage < 0 {
		return fmt.Errorf("%w: evolution_stage must be >= 0", ErrInvalidPersona)
	}
	return nil
}

// Normalize fills in a missing category and replaces nil slices with empty
// ones so persisted documents always carry lists.
func (p *Persona) Normalize() {
	if p == nil {
		return
	}
	p.Category = Category(strings.ToLower(strings.TrimSpace(string(p.Category))))
	if p.Category == "" {
		p.Category = InferCategory(p.Name)
	}
	p.Constraints = nonNil(p.Constraints)
	p.SamplePhrases = nonNil(p.SamplePhrases)
	p.AccumulatedContext = nonNil(p.AccumulatedContext)
	p.LearnedPhrases = nonNil(p.LearnedPhrases)
	p.DevelopedTraits = nonNil(p.DevelopedTraits)
}

// Clone returns a deep copy.
func (p Persona) Clone() Persona {
	out := p
	out.Constraints = cloneStrings(p.Constraints)
	out.SamplePhrases = cloneStrings(p.SamplePhrases)
	out.AccumulatedContext = cloneStrings(p.AccumulatedContext)
	out.LearnedPhrases = cloneStrings(p.LearnedPhrases)
	out.DevelopedTraits = cloneStrings(p.DevelopedTraits)
	return out
}

// AllPhrases returns the original sample phrases followed by learned ones.
func (p Persona) AllPhrases() []string {
	out := make([]string, 0, len(p.SamplePhrases)+len(p.LearnedPhrases))
	out = append(out, p.SamplePhrases...)
	return append(out, p.LearnedPhrases...)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
