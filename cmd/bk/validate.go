package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/campaign/internal/config"
)

var validateCmd = &cobra.Command{
	Use:     "validate <campaign-file>...",
	GroupID: "campaign",
	Short:   "Check definition files without running anything",
	Long: `Parse and validate definition files: parameter spaces, stage
parameters, templates, wrappers and hooks. Remote hosts are not contacted.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		failed := false
		for _, path := range args {
			if err := validateFile(path); err != nil {
				fmt.Printf("✗ %s: %v\n", path, err)
				failed = true
			}
		}
		if failed {
			fatalf("invalid definition files")
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateFile(path string) error {
	file, err := config.Load(path)
	if err != nil {
		return err
	}
	plan, err := file.Plan(context.Background(), config.Options{
		ResultsDir: cfg.ResultsDir,
		Offline:    true,
		Logger:     logs.New("campaign"),
	})
	if err != nil {
		return err
	}
	defer plan.Close()

	fmt.Printf("✓ %s\n", path)
	for _, c := range plan.Campaigns() {
		fmt.Printf("  %s: %d runs, %s\n", c.Name(), c.TotalRuns(), c.ResultPath())
		if n := c.Invalid(); n > 0 {
			fmt.Printf("  %s: %d excluded records\n", c.Name(), n)
		}
	}
	plan.Suite.PrintDurations(os.Stdout)
	return nil
}
