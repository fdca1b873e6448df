package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harbz07/sanctuary-mythology/internal/config"
	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"-C", dir}, args...))
	require.NoError(t, rootCmd.Execute(), "mythos %s\n%s", strings.Join(args, " "), out.String())
	return out.String()
}

func TestSimulationContextsCoverOneRun(t *testing.T) {
	require.Len(t, simulationContexts, 15)
	for _, c := range simulationContexts {
		require.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSeedSimulateAndExport(t *testing.T) {
	t.Setenv(config.HomeEnv, "")
	t.Setenv("MYTHOS_LORE_SEED", "42")
	dir := t.TempDir()

	out := run(t, dir, "seed")
	require.Contains(t, out, "Seeded 5 personas")

	out = run(t, dir, "simulate", "ORION", "--count", "10")
	require.Contains(t, out, "[10/10] Invoking ORION")
	require.Contains(t, out, "evolved to stage 1")
	require.Contains(t, out, "Invocations: 10")

	out = run(t, dir, "list", "--json")
	listJSON = false
	var personas []persona.Persona
	require.NoError(t, json.Unmarshal([]byte(out), &personas))
	require.Len(t, personas, 5)

	out = run(t, dir, "export", "-o", "presets.yaml")
	require.Contains(t, out, "Exported 5 personas")
	exportOutput = ""
	data, err := os.ReadFile(filepath.Join(dir, config.MythosDir, "exports", "presets.yaml"))
	require.NoError(t, err)
	require.Contains(t, string(data), "evolution_stage: 1")
}

func TestImportRegistersExportedPersonas(t *testing.T) {
	t.Setenv(config.HomeEnv, "")
	src := t.TempDir()
	run(t, src, "seed")
	out := run(t, src, "export")

	file := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(file, []byte(out), 0o644))

	dst := t.TempDir()
	out = run(t, dst, "import", file)
	require.Contains(t, out, "Imported 5 personas")
	require.Contains(t, out, "ORION")
}

func TestInvokeUnknownPersonaFails(t *testing.T) {
	t.Setenv(config.HomeEnv, "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"-C", t.TempDir(), "invoke", "Nobody"})
	err := rootCmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Nobody")
}
