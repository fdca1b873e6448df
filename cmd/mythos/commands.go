package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harbz07/sanctuary-mythology/internal/chronicle"
	"github.com/harbz07/sanctuary-mythology/internal/config"
	"github.com/harbz07/sanctuary-mythology/internal/eventbridge"
	"github.com/harbz07/sanctuary-mythology/internal/mythos"
	"github.com/harbz07/sanctuary-mythology/internal/persona"
	"github.com/harbz07/sanctuary-mythology/internal/tui"
)

// withRuntime opens the runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

var initBackend string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .mythos directory and default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := config.ResolveMythosDir(projectDir)
		if err := config.InitMythosDir(dir); err != nil {
			return err
		}
		if initBackend != "" {
			cfg, err := config.NewConfig(projectDir)
			if err != nil {
				return err
			}
			if err := cfg.SetStorage(initBackend, ""); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", dir)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register the canonical personas that are not yet present",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			added, err := rt.engine.Seed(ctx, persona.Canonical())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d personas (%d total)\n", added, len(rt.engine.Personas()))
			return nil
		})
	},
}

var registerFlags struct {
	role        string
	voice       string
	essence     string
	category    string
	constraints []string
	phrases     []string
}

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register or replace a persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			p := persona.Persona{
				Name:          args[0],
				Role:          registerFlags.role,
				Voice:         registerFlags.voice,
				Essence:       registerFlags.essence,
				Category:      persona.Category(registerFlags.category),
				Constraints:   registerFlags.constraints,
				SamplePhrases: registerFlags.phrases,
			}
			if err := rt.engine.Register(ctx, p); err != nil {
				return err
			}
			stored, _ := rt.engine.Get(p.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (category %s)\n", stored.Name, stored.Category)
			return nil
		})
	},
}

var invokeFlags struct {
	context string
	tags    []string
	weight  int
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <persona>",
	Short: "Record one invocation of a persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			outcome, err := rt.engine.LogInvocation(ctx, args[0], invokeFlags.context, lo.Compact(invokeFlags.tags), invokeFlags.weight)
			if err != nil {
				return err
			}
			printOutcome(cmd, outcome)
			return nil
		})
	},
}

func printOutcome(cmd *cobra.Command, outcome mythos.Outcome) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: invocation %d (stage %d)\n", outcome.Persona, outcome.InvocationCount, outcome.EvolutionStage)
	if evo := outcome.Evolution; evo != nil {
		fmt.Fprintf(out, "  ✨ evolved to stage %d\n", evo.Stage)
		if evo.Phrase != "" {
			fmt.Fprintf(out, "  learned phrase: %s\n", evo.Phrase)
		}
		if evo.Trait != "" {
			fmt.Fprintf(out, "  developed trait: %s\n", evo.Trait)
		}
	}
}

// simulationContexts replays a run of paper critiques.
var simulationContexts = []string{
	"Critiquing theodicy paper structure",
	"Reviewing Husserl-Heidegger analysis",
	"Analyzing epistemology argument flow",
	"Checking logical coherence in intro",
	"Reviewing conclusion strength",
	"Examining counter-argument handling",
	"Assessing citation integration",
	"Evaluating philosophical rigor",
	"Checking premises in theodicy critique",
	"Reviewing empathy framework logic",
	"Analyzing recursive structure",
	"Checking phenomenology accuracy",
	"Reviewing systematic theology critique",
	"Examining applied empathy argument",
	"Final coherence check before submission",
}

var simulateFlags struct {
	count  int
	tags   []string
	weight int
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <persona>",
	Short: "Record a batch of invocations and show the resulting chronicle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFlags.count <= 0 {
			return fmt.Errorf("--count must be positive")
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			out := cmd.OutOrStdout()
			name := args[0]
			for i := 0; i < simulateFlags.count; i++ {
				contextText := simulationContexts[i%len(simulationContexts)]
				fmt.Fprintf(out, "[%d/%d] Invoking %s: %s\n", i+1, simulateFlags.count, name, contextText)
				outcome, err := rt.engine.LogInvocation(ctx, name, contextText, simulateFlags.tags, simulateFlags.weight)
				if err != nil {
					return err
				}
				if outcome.Evolution != nil {
					printOutcome(cmd, outcome)
				}
			}
			report, err := rt.engine.GenerateReport(name)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, report)

			p, _ := rt.engine.Get(name)
			fmt.Fprintln(out, "EVOLUTION TRAJECTORY:")
			fmt.Fprintf(out, "   Invocations: %d\n", p.InvocationCount)
			fmt.Fprintf(out, "   Stage: %d\n", p.EvolutionStage)
			fmt.Fprintf(out, "   Developed Traits: %d\n", len(p.DevelopedTraits))
			fmt.Fprintf(out, "   Learned Phrases: %d\n", len(p.LearnedPhrases))
			return nil
		})
	},
}

var reportStyled bool

var reportCmd = &cobra.Command{
	Use:   "report [persona]",
	Short: "Render the mythological chronicle",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			render := rt.engine.GenerateReport
			if reportStyled {
				render = rt.engine.GenerateStyledReport
			}
			report, err := render(name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export evolved personas in the canonical preset format",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			text := rt.engine.ExportPresets()
			if exportOutput == "" {
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			}
			path := exportOutput
			if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
				path = filepath.Join(rt.cfg.ExportsDir(), path)
			}
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d personas to %s\n", len(rt.engine.Personas()), path)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Register every persona found in an export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		personas, err := chronicle.ParseExport(data)
		if err != nil {
			return err
		}
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			for _, p := range personas {
				if err := rt.engine.Register(ctx, p); err != nil {
					return err
				}
			}
			names := lo.Map(personas, func(p persona.Persona, _ int) string { return p.Name })
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d personas: %s\n", len(personas), strings.Join(names, ", "))
			return nil
		})
	},
}

var emergeCmd = &cobra.Command{
	Use:   "emerge <need>",
	Short: "Suggest a new persona for an unmet need",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			suggestion := rt.engine.SuggestEmergence(strings.Join(args, " "))
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(suggestion)
		})
	},
}

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered personas",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			personas := rt.engine.Personas()
			if listJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(personas)
			}
			for _, p := range personas {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s stage %d  %4d invocations  %s\n", p.Name, p.EvolutionStage, p.InvocationCount, p.Role)
			}
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP event bridge until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := eventbridge.NewServer(rt.bridge, rt.engine,
				eventbridge.WithRouter(rt.router),
				eventbridge.WithLogger(rt.logger),
			)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Event bridge listening on %s\n", srv.BaseURL())
			<-ctx.Done()
			return shutdownBridge(srv)
		})
	},
}

const bridgeShutdownTimeout = 5 * time.Second

func shutdownBridge(srv *eventbridge.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), bridgeShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

var tuiServe bool

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the persona dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			sub := rt.router.Subscribe(eventbridge.AllPersonas)
			defer sub.Close()
			if tuiServe {
				srv := eventbridge.NewServer(rt.bridge, rt.engine,
					eventbridge.WithRouter(rt.router),
					eventbridge.WithLogger(rt.logger),
				)
				if err := srv.Start(ctx); err != nil && !errors.Is(err, eventbridge.ErrServerDisabled) {
					return err
				}
				defer shutdownBridge(srv)
			}
			p := tea.NewProgram(
				tui.NewApp(rt.engine, tui.WithJournal(rt.journal), tui.WithEvents(sub.Events)),
				tea.WithAltScreen(),
			)
			_, err := p.Run()
			return err
		})
	},
}

func init() {
	initCmd.Flags().StringVar(&initBackend, "backend", "", "storage backend to configure (json or sqlite)")

	registerCmd.Flags().StringVar(&registerFlags.role, "role", "", "persona role")
	registerCmd.Flags().StringVar(&registerFlags.voice, "voice", "", "persona voice")
	registerCmd.Flags().StringVar(&registerFlags.essence, "essence", "", "persona essence")
	registerCmd.Flags().StringVar(&registerFlags.category, "category", "", "template category (inferred from the name when empty)")
	registerCmd.Flags().StringArrayVar(&registerFlags.constraints, "constraint", nil, "constraint (repeatable)")
	registerCmd.Flags().StringArrayVar(&registerFlags.phrases, "phrase", nil, "sample phrase (repeatable)")

	invokeCmd.Flags().StringVarP(&invokeFlags.context, "context", "c", "", "what the persona was invoked for")
	invokeCmd.Flags().StringSliceVarP(&invokeFlags.tags, "tag", "t", nil, "tag (repeatable)")
	invokeCmd.Flags().IntVarP(&invokeFlags.weight, "weight", "w", mythos.DefaultWeight, "emotional weight (1-10)")

	simulateCmd.Flags().IntVarP(&simulateFlags.count, "count", "n", len(simulationContexts), "number of invocations")
	simulateCmd.Flags().StringSliceVarP(&simulateFlags.tags, "tag", "t", []string{"academic", "philosophy"}, "tag (repeatable)")
	simulateCmd.Flags().IntVarP(&simulateFlags.weight, "weight", "w", 7, "emotional weight (1-10)")

	reportCmd.Flags().BoolVar(&reportStyled, "styled", false, "render for a terminal")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file (bare names go to .mythos/exports)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	tuiCmd.Flags().BoolVar(&tuiServe, "serve", false, "also run the event bridge so remote invocations show up live")
}
