package campaign

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/campaign/internal/store"
	"github.com/steveyegge/campaign/internal/sysinfo"
)

// Suite is an ordered group of campaigns.
type Suite struct {
	Campaigns []*Campaign

	// Parallel runs the campaigns concurrently, one goroutine each. Runs
	// of a single campaign are never interleaved.
	Parallel bool

	// MergePath, when set, receives the rows of every campaign once the
	// suite is done, over the union of their columns.
	MergePath string

	Logger *log.Logger
}

// Validate checks that no two campaigns share a result stream or an
// artifact root.
func (s *Suite) Validate() error {
	seen := make(map[string]string, len(s.Campaigns))
	for _, c := range s.Campaigns {
		path, err := filepath.Abs(c.ResultPath())
		if err != nil {
			path = c.ResultPath()
		}
		if other, ok := seen[path]; ok {
			return fmt.Errorf("%w: campaigns %s and %s both write %s", ErrConfiguration, other, c.Name(), path)
		}
		seen[path] = c.Name()
	}
	return nil
}

// PrintDurations writes the number of runs of every campaign and, for
// campaigns whose runs are bounded by a duration, the expected duration.
// The total duration is printed only when every campaign has one.
func (s *Suite) PrintDurations(w io.Writer) {
	var (
		runs    int
		total   time.Duration
		bounded = true
	)
	for i, c := range s.Campaigns {
		runs += c.TotalRuns()
		fmt.Fprintf(w, "Campaign %2d: %8d runs", i+1, c.TotalRuns())
		if d := c.ExpectedDuration(); d > 0 {
			total += d
			fmt.Fprintf(w, " - %12d seconds - %s", int64(d.Seconds()), sysinfo.Pretty(d))
		} else {
			bounded = false
		}
		fmt.Fprintln(w)
	}
	rule := strings.Repeat("-", 64)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total: %14d runs", runs)
	if bounded && total > 0 {
		fmt.Fprintf(w, " - %12d seconds - %s", int64(total.Seconds()), sysinfo.Pretty(total))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
}

// Run executes the campaigns and returns one summary per campaign, in the
// order of Campaigns. A campaign that did not start has a nil summary.
//
// Sequential mode stops at the first campaign returning an error. Parallel
// mode cancels the remaining campaigns when one returns an error.
func (s *Suite) Run(ctx context.Context) ([]*Summary, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[suite] ", log.LstdFlags)
	}

	summaries := make([]*Summary, len(s.Campaigns))
	var runErr error
	if s.Parallel {
		logger.Printf("Running %d campaigns in parallel", len(s.Campaigns))
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range s.Campaigns {
			g.Go(func() error {
				summary, err := c.Run(gctx)
				summaries[i] = summary
				if err != nil {
					return fmt.Errorf("campaign %s: %w", c.Name(), err)
				}
				return nil
			})
		}
		runErr = g.Wait()
	} else {
		for i, c := range s.Campaigns {
			logger.Printf("Campaign %d/%d: %s", i+1, len(s.Campaigns), c.Name())
			summary, err := c.Run(ctx)
			summaries[i] = summary
			if err != nil {
				runErr = fmt.Errorf("campaign %s: %w", c.Name(), err)
				break
			}
		}
	}

	if s.MergePath != "" {
		if err := s.merge(summaries); err != nil {
			if runErr == nil {
				return summaries, err
			}
			logger.Printf("Warning: %v", err)
		} else {
			logger.Printf("Saved suite results in %s", s.MergePath)
		}
	}
	return summaries, runErr
}

func (s *Suite) merge(summaries []*Summary) error {
	var paths []string
	for _, summary := range summaries {
		if summary == nil {
			continue
		}
		if _, err := os.Stat(summary.ResultPath); err == nil {
			paths = append(paths, summary.ResultPath)
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("no result files to merge")
	}
	return store.MergeCSV(s.MergePath, paths...)
}
