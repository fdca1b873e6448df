package lore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

// fixedRand always returns the same index, clamped to the pool.
type fixedRand struct{ idx int }

func (f fixedRand) Intn(n int) int {
	if f.idx >= n {
		return n - 1
	}
	return f.idx
}

func newTestGenerator(t *testing.T, idx int) *Generator {
	t.Helper()
	g, err := NewGenerator(WithRand(fixedRand{idx: idx}))
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return g
}

func TestPhraseUsesCategoryPool(t *testing.T) {
	g := newTestGenerator(t, 0)
	p := persona.Persona{Name: "ORION", Category: persona.CategoryOrion, InvocationCount: 10}
	got, err := g.Phrase(p)
	if err != nil {
		t.Fatalf("Phrase: %v", err)
	}
	want := "ORION: Fuck. We've been over this 10 times."
	if got != want {
		t.Fatalf("Phrase = %q, want %q", got, want)
	}
}

func TestPhraseExplicitCategoryBeatsName(t *testing.T) {
	g := newTestGenerator(t, 0)
	p := persona.Persona{Name: "ORION", Category: persona.CategoryLent}
	got, err := g.Phrase(p)
	if err != nil {
		t.Fatalf("Phrase: %v", err)
	}
	if got != "ORION: You keep coming back here. That means something." {
		t.Fatalf("explicit category ignored: %q", got)
	}
}

func TestPhraseFallsBackToGeneric(t *testing.T) {
	g := newTestGenerator(t, 1)
	for _, p := range []persona.Persona{
		{Name: "Stranger"},
		{Name: "Stranger", Category: "unmapped"},
	} {
		got, err := g.Phrase(p)
		if err != nil {
			t.Fatalf("Phrase: %v", err)
		}
		if got != "Stranger: This work is shaping me too." {
			t.Fatalf("Phrase(%+v) = %q, want generic pool", p, got)
		}
	}
}

func TestTraitClampsStage(t *testing.T) {
	g := newTestGenerator(t, 2)
	cases := map[int]string{
		0: DefaultTrait,
		1: "Learns contextual flexibility",
		2: "Gains meta-level reasoning",
		3: "Transcends original constraints",
		5: "Transcends original constraints",
	}
	for stage, want := range cases {
		if got := g.Trait(persona.Persona{EvolutionStage: stage}); got != want {
			t.Errorf("Trait(stage %d) = %q, want %q", stage, got, want)
		}
	}
}

func TestSeededGeneratorsAgree(t *testing.T) {
	a, err := NewGenerator(WithSeed(42))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewGenerator(WithSeed(42))
	if err != nil {
		t.Fatal(err)
	}
	p := persona.Persona{Name: "Nova", Category: persona.CategoryNova, EvolutionStage: 2}
	for i := 0; i < 20; i++ {
		pa, _ := a.Phrase(p)
		pb, _ := b.Phrase(p)
		if pa != pb {
			t.Fatalf("iteration %d: seeded phrases differ: %q vs %q", i, pa, pb)
		}
		if a.Trait(p) != b.Trait(p) {
			t.Fatalf("iteration %d: seeded traits differ", i)
		}
	}
}

func TestDefaultPoolsCoverCanonicalCategories(t *testing.T) {
	pools, err := DefaultPools()
	if err != nil {
		t.Fatalf("DefaultPools: %v", err)
	}
	have := map[persona.Category]bool{}
	for _, c := range pools.Categories() {
		have[c] = true
	}
	for _, p := range persona.Canonical() {
		if !have[p.Category] {
			t.Errorf("no phrase pool for %s (%s)", p.Name, p.Category)
		}
	}
	if pools.MaxTraitStage() != 3 {
		t.Fatalf("MaxTraitStage = %d, want 3", pools.MaxTraitStage())
	}
}

func TestLoadPoolsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	doc := strings.TrimSpace(`
phrases:
  generic:
    - "{{.Name}} at stage {{.Stage}}"
traits:
  1:
    - "only trait"
`)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	pools, err := LoadPools(path)
	if err != nil {
		t.Fatalf("LoadPools: %v", err)
	}
	g, err := NewGenerator(WithPools(pools), WithRand(fixedRand{}))
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Phrase(persona.Persona{Name: "Nova", Category: persona.CategoryNova, EvolutionStage: 4})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Nova at stage 4" {
		t.Fatalf("Phrase = %q", got)
	}
	if trait := g.Trait(persona.Persona{EvolutionStage: 4}); trait != "only trait" {
		t.Fatalf("Trait = %q, want stage-1 pool reused", trait)
	}
}

func TestParsePoolsRequiresGeneric(t *testing.T) {
	if _, err := ParsePools([]byte("phrases:\n  nova:\n    - \"x\"\n")); err == nil {
		t.Fatal("expected error without a generic pool")
	}
	if _, err := ParsePools([]byte("phrases:\n  generic:\n    - \"{{.Name\"\n")); err == nil {
		t.Fatal("expected template parse error")
	}
	if _, err := ParsePools([]byte(": not yaml [")); err == nil {
		t.Fatal("expected yaml error")
	}
}
