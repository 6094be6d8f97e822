// Command bk runs benchmark campaigns described in YAML or TOML files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/campaign/internal/logging"
)

var (
	configFile string
	cfg        *settings
	logs       *logging.Logs
)

var rootCmd = &cobra.Command{
	Use:   "bk",
	Short: "Run parameterized benchmark campaigns",
	Long: `bk executes benchmark campaigns: every record of a parameter space is
fetched, built, run and collected, and each result is appended to a
';'-separated result stream as soon as it is known.

Settings are read from bk.yaml (current directory or $XDG_CONFIG_HOME/bk),
BK_* environment variables and flags, flags taking precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd.Flags(), configFile)
		if err != nil {
			return err
		}
		l, err := logging.Open(s.Log.config(), os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to open log: %w", err)
		}
		cfg, logs = s, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "campaign", Title: "Campaigns:"},
		&cobra.Group{ID: "results", Title: "Results:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Settings file (default bk.yaml)")
	flags.String("results-dir", "", "Directory receiving result streams")
	flags.String("log-file", "", "Also write logs to this file, rotated by size")
	flags.String("color", "auto", "Colored output: auto, always or never")
}

// fatalf reports an error the way every command does and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if logs != nil {
		_ = logs.Close()
	}
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
