package lore

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

//go:embed pools.yaml
var defaultPoolsYAML []byte

// DefaultTrait is used when no pool covers a stage.
const DefaultTrait = "Continues development"

// PoolFile models pools.yaml.
type PoolFile struct {
	Phrases map[string][]string `yaml:"phrases"`
	Traits  map[int][]string    `yaml:"traits"`
}

// Pools holds parsed phrase templates per category and traits per stage.
type Pools struct {
	phrases map[persona.Category][]*template.Template
	traits  map[int][]string
	// maxStage is the highest stage with its own trait pool; later stages
	// draw from it.
	maxStage int
}

// phraseData is what phrase templates are rendered against.
type phraseData struct {
	Name        string
	Invocations int
	Stage       int
}

// DefaultPools parses the embedded template set.
func DefaultPools() (*Pools, error) {
	return ParsePools(defaultPoolsYAML)
}

// LoadPools reads a replacement pool file from disk.
func LoadPools(path string) (*Pools, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lore: read %s: %w", path, err)
	}
	pools, err := ParsePools(data)
	if err != nil {
		return nil, fmt.Errorf("lore: %s: %w", path, err)
	}
	return pools, nil
}

// ParsePools decodes and compiles a pool document. A generic phrase pool is
// required because it is the fallback for unknown categories.
func ParsePools(data []byte) (*Pools, error) {
	var file PoolFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("lore: parse pools: %w", err)
	}
	pools := &Pools{
		phrases: map[persona.Category][]*template.Template{},
		traits:  map[int][]string{},
	}
	for key, raw := range file.Phrases {
		category := persona.Category(strings.ToLower(strings.TrimSpace(key)))
		if len(raw) == 0 {
			continue
		}
		compiled := make([]*template.Template, 0, len(raw))
		for i, text := range raw {
			tmpl, err := template.New(fmt.Sprintf("%s/%d", category, i)).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("lore: phrases[%s][%d]: %w", category, i, err)
			}
			compiled = append(compiled, tmpl)
		}
		pools.phrases[category] = compiled
	}
	if len(pools.phrases[persona.CategoryGeneric]) == 0 {
		return nil, fmt.Errorf("lore: phrases.%s pool is required", persona.CategoryGeneric)
	}
	for stage, traits := range file.Traits {
		if len(traits) > 0 {
			pools.traits[stage] = traits
			pools.maxStage = max(pools.maxStage, stage)
		}
	}
	return pools, nil
}

// MaxTraitStage returns the stage whose trait pool later stages share.
func (p *Pools) MaxTraitStage() int {
	return p.maxStage
}

// Categories lists the categories that own a phrase pool.
func (p *Pools) Categories() []persona.Category {
	out := make([]persona.Category, 0, len(p.phrases))
	for c := range p.phrases {
		out = append(out, c)
	}
	return out
}

func (p *Pools) phrasePool(category persona.Category) []*template.Template {
	if pool, ok := p.phrases[category]; ok {
		return pool
	}
	return p.phrases[persona.CategoryGeneric]
}

func (p *Pools) traitPool(stage int) []string {
	if stage > p.maxStage {
		stage = p.maxStage
	}
	if pool, ok := p.traits[stage]; ok {
		return pool
	}
	return []string{DefaultTrait}
}

func render(tmpl *template.Template, p persona.Persona) (string, error) {
	var buf bytes.Buffer
	data := phraseData{Name: p.Name, Invocations: p.InvocationCount, Stage: p.EvolutionStage}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("lore: render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
