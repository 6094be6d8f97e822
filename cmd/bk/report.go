package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/campaign/internal/report"
)

var reportCmd = &cobra.Command{
	Use:     "report <result-file>",
	GroupID: "results",
	Short:   "Summarize a result stream",
	Long: `Aggregate the repetitions of every record of a result stream.

Each numeric field is reduced to mean and standard deviation (plus min,
median and max in JSON output).

Formats:
  table    - Terminal table (default)
  markdown - Markdown document with the stream metadata
  json     - Full statistics

Examples:
  bk report results/micro.csv
  bk report results/micro.csv --format markdown > micro.md
  bk report results/micro.csv --bars ops`,
	Args: cobra.ExactArgs(1),
	Run:  runReport,
}

func init() {
	reportCmd.Flags().StringP("format", "f", "table", "Output format: table, markdown or json")
	reportCmd.Flags().String("bars", "", "Draw the mean of this field as a bar graph")
	reportCmd.Flags().Int("width", 0, "Width of the table or bars (default terminal width)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) {
	formatName, _ := cmd.Flags().GetString("format")
	bars, _ := cmd.Flags().GetString("bars")
	width, _ := cmd.Flags().GetInt("width")

	format, err := report.ParseFormat(formatName)
	if err != nil {
		fatalf("%v", err)
	}
	r, err := report.Load(args[0])
	if err != nil {
		fatalf("%v", err)
	}

	if bars != "" {
		if err := report.RenderBars(os.Stdout, r, bars, width); err != nil {
			fatalf("%v", err)
		}
		return
	}

	if width == 0 && format == report.FormatTable {
		width = termWidth(os.Stdout)
	}
	opts := report.Options{
		Format: format,
		Color:  cfg.colorOutput(os.Stdout),
		Width:  width,
	}
	if err := report.Render(os.Stdout, r, opts); err != nil {
		fatalf("%v", err)
	}
}
