package chronicle

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

var plainKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]*$`)

// Export renders personas into the canonical preset block. Every string is
// double-quoted with escapes, so the block is valid YAML and ParseExport can
// read it back.
func Export(personas []persona.Persona, generatedAt time.Time) string {
	lines := []string{
		"# ============================================================",
		"#  SANCTUARY — EVOLVED AVATAR PRESETS",
		"#  Generated: " + generatedAt.Format(time.RFC3339),
		"# ============================================================",
		"",
	}
	for _, p := range personas {
		lines = append(lines,
			fmt.Sprintf("  %s:", exportKey(p.Name)),
			"    role: "+quote(p.Role),
			"    voice: "+quote(p.Voice),
			"    essence: "+quote(p.Essence),
			fmt.Sprintf("    evolution_stage: %d", p.EvolutionStage),
			fmt.Sprintf("    invocation_count: %d", p.InvocationCount),
		)
		lines = appendList(lines, "constraints", p.Constraints)
		lines = appendList(lines, "sample_phrases", p.AllPhrases())
		lines = appendList(lines, "developed_traits", p.DevelopedTraits)
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func appendList(lines []string, key string, values []string) []string {
	if len(values) == 0 {
		return lines
	}
	lines = append(lines, "    "+key+":")
	for _, v := range values {
		lines = append(lines, "      - "+quote(v))
	}
	return lines
}

func exportKey(name string) string {
	if plainKey.MatchString(name) && !strings.HasSuffix(name, " ") {
		return name
	}
	return quote(name)
}

// quote writes a YAML double-quoted scalar. Invalid UTF-8 becomes U+FFFD
// first: strconv.Quote would emit \xNN, which YAML reads as code point
// U+00NN rather than the original byte.
func quote(s string) string {
	return strconv.Quote(strings.ToValidUTF8(s, "\uFFFD"))
}

type exportEntry struct {
	Role            string   `yaml:"role"`
	Voice           string   `yaml:"voice"`
	Essence         string   `yaml:"essence"`
	Category        string   `yaml:"category"`
	EvolutionStage  int      `yaml:"evolution_stage"`
	InvocationCount int      `yaml:"invocation_count"`
	Constraints     []string `yaml:"constraints"`
	SamplePhrases   []string `yaml:"sample_phrases"`
	DevelopedTraits []string `yaml:"developed_traits"`
}

// ParseExport reads an export block back into personas in section order.
// The export merges learned phrases into sample_phrases, so they come back
// as sample phrases.
func ParseExport(data []byte) ([]persona.Persona, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []persona.Persona{}, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("chronicle: parse export: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return []persona.Persona{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("chronicle: export root must be a mapping, got line %d", root.Line)
	}
	out := make([]persona.Persona, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		var entry exportEntry
		if err := value.Decode(&entry); err != nil {
			return nil, fmt.Errorf("chronicle: persona %q (line %d): %w", key.Value, key.Line, err)
		}
		p := persona.Persona{
			Name:            key.Value,
			Role:            entry.Role,
			Voice:           entry.Voice,
			Essence:         entry.Essence,
			Category:        persona.Category(entry.Category),
			Constraints:     entry.Constraints,
			SamplePhrases:   entry.SamplePhrases,
			InvocationCount: entry.InvocationCount,
			EvolutionStage:  entry.EvolutionStage,
			DevelopedTraits: entry.DevelopedTraits,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("chronicle: line %d: %w", key.Line, err)
		}
		p.Normalize()
		out = append(out, p)
	}
	return out, nil
}
