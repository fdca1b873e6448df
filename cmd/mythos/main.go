// cmd/mythos/main.go
//
// Entry point for the mythos CLI. Every subcommand works on the .mythos
// directory of the project it runs in (or MYTHOS_HOME): it loads the config,
// opens the configured storage backend and builds the engine over it.

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	projectDir string
	verbose    bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "mythos",
	Short: "Track persona invocations and let them evolve",
	Long: `mythos records every invocation of a persona, evolves it when its
invocation count reaches 10, 25, 50, 100 and 250, and renders the
accumulated lore as a chronicle or as re-loadable presets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if projectDir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
			projectDir = cwd
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", "", "project directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror log output to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		initCmd,
		seedCmd,
		registerCmd,
		invokeCmd,
		simulateCmd,
		reportCmd,
		exportCmd,
		importCmd,
		emergeCmd,
		listCmd,
		serveCmd,
		tuiCmd,
	)
}

func main() {
	_ = godotenv.Load() // Load .env file if it exists, ignore errors
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
