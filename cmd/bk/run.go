package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/steveyegge/campaign/internal/archive"
	"github.com/steveyegge/campaign/internal/campaign"
	"github.com/steveyegge/campaign/internal/config"
	"github.com/steveyegge/campaign/internal/monitor"
)

var runCmd = &cobra.Command{
	Use:     "run <campaign-file>",
	GroupID: "campaign",
	Short:   "Execute the campaigns of a definition file",
	Long: `Execute every campaign of a YAML or TOML definition file.

Each (record, repetition) pair runs the Fetch, Build, Run and Collect
stages of the benchmark; successful runs are appended to the result stream
of the campaign, failed runs are logged and skipped. With --continue, pairs
already present in the latest result stream are not run again.

With --monitor-port, progress is broadcast to WebSocket clients on
ws://<host>:<port>/ws while the campaigns run. When an archive endpoint is
configured, artifact directories and result streams are uploaded once
written.

Examples:
  bk run micro.yaml
  bk run suite.toml --parallel --results-dir out
  bk run micro.yaml --continue --monitor-port 8089`,
	Args: cobra.ExactArgs(1),
	Run:  runCampaigns,
}

func init() {
	runCmd.Flags().Bool("continue", false, "Resume the latest result stream of each campaign")
	runCmd.Flags().Bool("parallel", false, "Run the campaigns of a suite concurrently")
	runCmd.Flags().Int("monitor-port", 0, "Serve live progress on this port (0 disables)")
	runCmd.Flags().String("monitor-host", "localhost", "Interface of the live progress server")
	rootCmd.AddCommand(runCmd)
}

func runCampaigns(cmd *cobra.Command, args []string) {
	file, err := config.Load(args[0])
	if err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var observers campaign.Observers

	if cfg.Monitor.Port > 0 {
		server := monitor.NewServer(&monitor.Config{
			Port:           cfg.Monitor.Port,
			Host:           cfg.Monitor.Host,
			OriginPatterns: cfg.Monitor.Origins,
			Logger:         logs.New("monitor"),
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start monitor: %v", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "Monitor: ws://%s/ws\n", server.Addr())
		observers = append(observers, monitor.NewObserver(server, logs.New("monitor")))
	}

	var sink *archive.Sink
	if cfg.Archive.Endpoint != "" {
		sink, err = openArchive(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		observers = append(observers, sink)
	}

	plan, err := file.Plan(ctx, config.Options{
		ResultsDir: cfg.ResultsDir,
		Continue:   cfg.Continue,
		Parallel:   cfg.Parallel,
		Observer:   observers,
		Logger:     logs.New("campaign"),
	})
	if err != nil {
		if sink != nil {
			sink.Abort()
		}
		fatalf("%v", err)
	}

	plan.Suite.PrintDurations(os.Stderr)
	summaries, runErr := plan.Suite.Run(ctx)
	if err := plan.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: some artifacts were not archived: %v\n", err)
		}
	}

	printSummaries(os.Stdout, summaries, cfg.colorOutput(os.Stdout))
	if runErr != nil {
		fatalf("%v", runErr)
	}
}

func openArchive(ctx context.Context) (*archive.Sink, error) {
	client, err := archive.NewClient(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to connect archive: %w", err)
	}
	if err := archive.EnsureBucket(ctx, client, cfg.Archive.Bucket, cfg.Archive.Region); err != nil {
		return nil, err
	}
	return archive.NewSink(archive.SinkConfig{
		Client: client,
		Bucket: cfg.Archive.Bucket,
		Prefix: cfg.Archive.Prefix,
		Logger: logs.New("archive"),
	})
}

func printSummaries(w io.Writer, summaries []*campaign.Summary, color bool) {
	re := lipgloss.NewRenderer(w)
	if !color {
		re.SetColorProfile(termenv.Ascii)
	}
	ok := re.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	bad := re.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dim := re.NewStyle().Faint(true)

	for _, s := range summaries {
		if s == nil {
			continue
		}
		mark := ok.Render("✓")
		if s.Failed > 0 || s.Aborted {
			mark = bad.Render("✗")
		}
		fmt.Fprintf(w, "%s %s: %d executed, %d succeeded, %d failed, %d skipped in %s\n",
			mark, s.Name, s.Executed, s.Succeeded, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  %s\n", dim.Render(s.ResultPath))
		for _, r := range s.Failures() {
			fmt.Fprintf(w, "  %s %s rep %d: %s at %s: %v\n", bad.Render("-"), r.Record, r.Rep, r.Kind, r.Stage, r.Err)
		}
		if s.Aborted {
			fmt.Fprintf(w, "  %s\n", bad.Render("aborted"))
		}
	}
}
