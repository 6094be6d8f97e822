package campaign

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/pipeline"
)

// countingBench is safe to share between concurrently running campaigns.
func countingBench(field string, calls *atomic.Int64) *pipeline.Benchmark {
	return &pipeline.Benchmark{
		Name: field,
		Run: pipeline.RunStep{
			Params: pipeline.Params("x"),
			Func: func(ctx *pipeline.RunContext) (*pipeline.RunResult, error) {
				calls.Add(1)
				res := &pipeline.RunResult{}
				res.Attrs.MustSet(field, ctx.Str("x"))
				return res, nil
			},
		},
	}
}

func TestSuiteRunsAndMerges(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			var calls atomic.Int64
			lat := mustCampaign(t, Config{
				Name:       "lat",
				Benchmark:  countingBench("latency", &calls),
				Space:      mustSpace(t, params.Variable{Name: "x", Values: []params.Value{1, 2}}),
				NbRuns:     1,
				ResultPath: filepath.Join(dir, "lat.csv"),
			})
			thr := mustCampaign(t, Config{
				Name:       "thr",
				Benchmark:  countingBench("throughput", &calls),
				Space:      mustSpace(t, params.Variable{Name: "x", Values: []params.Value{3}}),
				NbRuns:     2,
				ResultPath: filepath.Join(dir, "thr.csv"),
			})

			suite := &Suite{
				Campaigns: []*Campaign{lat, thr},
				Parallel:  parallel,
				MergePath: filepath.Join(dir, "all.csv"),
				Logger:    quietLogger(),
			}
			summaries, err := suite.Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(summaries) != 2 || summaries[0].Name != "lat" || summaries[1].Name != "thr" {
				t.Fatalf("summaries out of order: %+v", summaries)
			}
			if summaries[0].Succeeded != 2 || summaries[1].Succeeded != 2 || calls.Load() != 4 {
				t.Errorf("succeeded %d/%d, calls %d", summaries[0].Succeeded, summaries[1].Succeeded, calls.Load())
			}

			merged := readTable(t, suite.MergePath)
			if diff := cmp.Diff([]string{"x", "rep", "benchmark_name", "experiment_name", "latency", "throughput"}, merged.Header); diff != "" {
				t.Errorf("merged header mismatch (-want +got):\n%s", diff)
			}
			want := [][]string{
				{"1", "1", "latency", "lat", "1", ""},
				{"2", "1", "latency", "lat", "2", ""},
				{"3", "1", "throughput", "thr", "", "3"},
				{"3", "2", "throughput", "thr", "", "3"},
			}
			if diff := cmp.Diff(want, merged.Rows); diff != "" {
				t.Errorf("merged rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSuiteRejectsSharedResultPath(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int64
	mk := func(name string) *Campaign {
		return mustCampaign(t, Config{
			Name:       name,
			Benchmark:  countingBench("v", &calls),
			Space:      mustSpace(t, params.Variable{Name: "x", Values: []params.Value{1}}),
			NbRuns:     1,
			ResultPath: filepath.Join(dir, "same.csv"),
		})
	}

	suite := &Suite{Campaigns: []*Campaign{mk("a"), mk("b")}, Parallel: true, Logger: quietLogger()}
	if _, err := suite.Run(context.Background()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Run() error = %v, want ErrConfiguration", err)
	}
	if calls.Load() != 0 {
		t.Errorf("campaigns ran despite the conflict")
	}
}

func TestSuiteSequentialStopsOnError(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int64
	failing := &pipeline.Benchmark{
		Name: "failing",
		Run: pipeline.RunStep{
			Func: func(*pipeline.RunContext) (*pipeline.RunResult, error) {
				return nil, errors.New("nope")
			},
		},
	}
	first := mustCampaign(t, Config{
		Name:       "first",
		Benchmark:  failing,
		Space:      mustSpace(t),
		NbRuns:     1,
		FailFast:   true,
		ResultPath: filepath.Join(dir, "first.csv"),
	})
	second := mustCampaign(t, Config{
		Name:       "second",
		Benchmark:  countingBench("v", &calls),
		Space:      mustSpace(t, params.Variable{Name: "x", Values: []params.Value{1}}),
		NbRuns:     1,
		ResultPath: filepath.Join(dir, "second.csv"),
	})

	suite := &Suite{Campaigns: []*Campaign{first, second}, Logger: quietLogger()}
	summaries, err := suite.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run() error = %v, want ErrAborted", err)
	}
	if summaries[0] == nil || summaries[1] != nil {
		t.Errorf("summaries = %v, want only the first campaign", summaries)
	}
	if calls.Load() != 0 {
		t.Errorf("second campaign ran after the first aborted")
	}
}

func TestSuitePrintDurations(t *testing.T) {
	var calls atomic.Int64
	dir := t.TempDir()
	bounded := mustCampaign(t, Config{
		Name:       "bounded",
		Benchmark:  countingBench("latency", &calls),
		Space:      mustSpace(t, params.Variable{Name: "x", Values: []params.Value{1, 2, 3}}),
		NbRuns:     2,
		Duration:   90 * time.Second,
		ResultPath: filepath.Join(dir, "bounded.csv"),
	})
	open := mustCampaign(t, Config{
		Name:       "open",
		Benchmark:  countingBench("throughput", &calls),
		Space:      mustSpace(t, params.Variable{Name: "x", Values: []params.Value{1}}),
		NbRuns:     5,
		ResultPath: filepath.Join(dir, "open.csv"),
	})

	var buf bytes.Buffer
	(&Suite{Campaigns: []*Campaign{bounded}}).PrintDurations(&buf)
	rule := strings.Repeat("-", 64)
	want := "Campaign  1:        6 runs -          540 seconds - 9m0s\n" +
		rule + "\n" +
		"Total:              6 runs -          540 seconds - 9m0s\n" +
		rule + "\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("PrintDurations() mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	(&Suite{Campaigns: []*Campaign{bounded, open}}).PrintDurations(&buf)
	lines := strings.Split(buf.String(), "\n")
	if lines[1] != "Campaign  2:        5 runs" || lines[3] != "Total:             11 runs" {
		t.Errorf("PrintDurations() without bound:\n%s", buf.String())
	}
	if calls.Load() != 0 {
		t.Errorf("PrintDurations() ran %d benchmarks", calls.Load())
	}
}
