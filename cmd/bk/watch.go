package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/campaign/internal/monitor"
)

var watchCmd = &cobra.Command{
	Use:     "watch <result-file>",
	GroupID: "results",
	Short:   "Follow a result stream while a campaign appends to it",
	Long: `Print the rows of a result stream as they are appended.

The stream may not exist yet; it is picked up once created. With
--monitor-port the rows are broadcast to WebSocket clients instead.

Examples:
  bk watch results/micro_host_20260101T120000Z.csv --from-start
  bk watch results/micro.csv --monitor-port 8089`,
	Args: cobra.ExactArgs(1),
	Run:  runWatch,
}

func init() {
	watchCmd.Flags().Bool("from-start", false, "Also print the rows already in the stream")
	watchCmd.Flags().Int("monitor-port", 0, "Broadcast rows on this port instead of printing them")
	watchCmd.Flags().String("monitor-host", "localhost", "Interface of the live progress server")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	fromStart, _ := cmd.Flags().GetBool("from-start")

	w, err := monitor.NewWatcher(monitor.WatcherConfig{
		Path:      args[0],
		FromStart: fromStart,
		Logger:    logs.New("watch"),
	})
	if err != nil {
		fatalf("%v", err)
	}
	if err := w.Start(); err != nil {
		fatalf("%v", err)
	}
	defer w.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

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
		fmt.Fprintf(os.Stderr, "Broadcasting rows of %s on ws://%s/ws\n", w.Path(), server.Addr())
		monitor.Forward(ctx, w, server, logs.New("watch"))
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		return
	}

	printEvents(ctx, w, os.Stdout)
}

// printEvents writes one line per event until ctx is done.
func printEvents(ctx context.Context, w *monitor.Watcher, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case monitor.EventMeta:
				fmt.Fprintf(out, "# %s: %s\n", ev.Meta.Key, ev.Meta.Value)
			case monitor.EventReset:
				fmt.Fprintln(out, "# stream reset")
			case monitor.EventRow:
				fmt.Fprintln(out, formatRow(ev))
			}
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}

// formatRow renders a row as "col=value" pairs in stream order.
func formatRow(ev monitor.Event) string {
	parts := make([]string, 0, len(ev.Header))
	for i, h := range ev.Header {
		if i < len(ev.Values) {
			parts = append(parts, h+"="+ev.Values[i])
		}
	}
	return strings.Join(parts, " ")
}
