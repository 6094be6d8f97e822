package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/campaign/internal/store"
)

var mergeCmd = &cobra.Command{
	Use:     "merge <output> <result-file>...",
	GroupID: "results",
	Short:   "Concatenate result streams over the union of their columns",
	Long: `Merge several result streams into one.

The output header is the union of the input headers; cells of columns an
input does not have are left empty.

Example:
  bk merge all.csv results/a_*.csv results/b_*.csv`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := store.MergeCSV(args[0], args[1:]...); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Merged %d streams into %s\n", len(args)-1, args[0])
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
