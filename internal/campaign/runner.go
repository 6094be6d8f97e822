package campaign

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/pipeline"
	"github.com/steveyegge/campaign/internal/store"
	"github.com/steveyegge/campaign/internal/sysinfo"
)

// Run executes every pair that the result stream does not hold yet.
//
// Failed runs are recorded in the summary and produce no row. The returned
// error is non-nil only when the campaign stopped early: cancellation,
// fail-fast (ErrAborted) or a result stream that could not be written. The
// summary is returned in every case.
func (c *Campaign) Run(ctx context.Context) (*Summary, error) {
	cfg := c.cfg
	logger := cfg.Logger
	start := time.Now()

	summary := &Summary{
		CampaignID: c.id,
		Name:       cfg.Name,
		ResultPath: c.resultPath,
		Runs:       c.Runs(),
		Start:      start,
	}

	if cfg.Hooks != nil {
		cfg.Hooks.Freeze()
	}

	info := sysinfo.Collect(ctx, cfg.Port, cfg.SourceDir)
	rs, err := c.openStore(c.header(info, start))
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := rs.Close(); err != nil {
			logger.Printf("Warning: failed to close result store: %v", err)
		}
	}()

	executor, err := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Benchmark: cfg.Benchmark,
		Port:      execport.WithRetry(cfg.Port, cfg.Retry, logger),
		Hooks:     cfg.Hooks,
		Constants: cfg.Constants,
		Duration:  cfg.Duration,
		Grace:     cfg.Grace,
		Cache:     !cfg.DisableCache,
		Logger:    logger,
	})
	if err != nil {
		return summary, err
	}

	observer := cfg.Observer
	if observer == nil {
		observer = Observers(nil)
	}
	observer.CampaignStarted(c)

	total := len(summary.Runs)
	logger.Printf("Campaign %s (%s): %d records x %d runs, results in %s",
		cfg.Name, c.id, len(c.records), cfg.NbRuns, c.resultPath)
	if c.invalid > 0 {
		logger.Printf("Campaign %s: %d invalid records left out", cfg.Name, c.invalid)
	}

	var (
		runErr   error
		busyTime time.Duration
	)
	for i := range summary.Runs {
		run := &summary.Runs[i]

		if err := ctx.Err(); err != nil {
			summary.Aborted = true
			runErr = err
			break
		}

		point := cfg.Constants.Merge(run.Record)
		done, err := rs.HasCompleted(point, run.Rep)
		if err != nil {
			summary.Aborted = true
			runErr = fmt.Errorf("continuation lookup: %w", err)
			break
		}
		if done {
			run.Status = StatusSkipped
			summary.Skipped++
			observer.RunFinished(c, *run)
			continue
		}

		run.RecordDir = c.ArtifactDir(run.Record, run.Rep)
		if run.RecordDir != "" {
			if err := os.MkdirAll(run.RecordDir, 0755); err != nil {
				summary.Aborted = true
				runErr = fmt.Errorf("failed to create artifact directory: %w", err)
				break
			}
		}

		run.Status = StatusRunning
		logger.Printf("Run %d/%d: %s rep %d (elapsed %s, %s)",
			i+1, total, run.Record, run.Rep, sysinfo.Pretty(time.Since(start)),
			c.eta(summary, i, busyTime))
		observer.RunStarted(c, *run)

		outcome, err := executor.Execute(ctx, pipeline.Job{
			Record:    run.Record,
			Rep:       run.Rep,
			RecordDir: run.RecordDir,
		})
		if outcome != nil {
			run.Duration = outcome.Duration
		}
		busyTime += run.Duration
		summary.Executed++

		if err != nil {
			run.Status = StatusFailed
			run.Err = err
			run.Stage = pipeline.FailedStage(err)
			run.Kind = FailureKind(err)
			summary.Failed++
			logger.Printf("Run %d/%d: %s rep %d failed (%s): %v", i+1, total, run.Record, run.Rep, run.Kind, err)
			observer.RunFinished(c, *run)

			if ctxErr := ctx.Err(); ctxErr != nil {
				summary.Aborted = true
				runErr = ctxErr
				break
			}
			if cfg.FailFast {
				summary.Aborted = true
				runErr = fmt.Errorf("%w: run %d/%d (%s rep %d): %v", ErrAborted, i+1, total, run.Record, run.Rep, err)
				break
			}
			continue
		}

		fields := c.resultFields(point, outcome)
		if err := rs.Append(point, run.Rep, fields); err != nil {
			run.Status = StatusFailed
			run.Err = err
			run.Kind = FailureKind(err)
			summary.Failed++
			summary.Aborted = true
			observer.RunFinished(c, *run)
			runErr = fmt.Errorf("failed to record run %d/%d: %w", i+1, total, err)
			break
		}
		run.Status = StatusSucceeded
		run.Fields = fields
		summary.Succeeded++

		if run.RecordDir != "" {
			full := point.Map()
			full[store.RepColumn] = run.Rep
			for k, v := range fields {
				if _, isPoint := full[k]; !isPoint {
					full[k] = v
				}
			}
			if err := store.WriteResultsJSON(run.RecordDir, full); err != nil {
				logger.Printf("Warning: %v", err)
			}
		}
		observer.RunFinished(c, *run)
	}

	summary.Duration = time.Since(start)
	footer := []store.Meta{
		store.M("total_duration_seconds", math.Round(summary.Duration.Seconds()*1000)/1000),
		store.M("total_duration_pretty", sysinfo.Pretty(summary.Duration)),
	}
	if err := store.Finish(rs, footer); err != nil {
		logger.Printf("Warning: %v", err)
	}

	logger.Printf("Campaign %s done in %s: %d executed, %d succeeded, %d failed, %d skipped",
		cfg.Name, sysinfo.Pretty(summary.Duration), summary.Executed, summary.Succeeded, summary.Failed, summary.Skipped)
	observer.CampaignFinished(c, summary)
	return summary, runErr
}

func (c *Campaign) openStore(meta []store.Meta) (store.RecordStore, error) {
	csvStore, err := store.OpenCSV(store.CSVConfig{
		Path:     c.resultPath,
		Metadata: meta,
		Continue: c.cfg.Continue,
		Logger:   c.cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", c.cfg.Name, err)
	}
	if c.cfg.SQLitePath == "" {
		return csvStore, nil
	}

	mirror, err := store.OpenSQLite(store.SQLiteConfig{
		Path:     c.cfg.SQLitePath,
		Campaign: c.cfg.Name,
		Metadata: meta,
		Continue: c.cfg.Continue,
		Logger:   c.cfg.Logger,
	})
	if err != nil {
		_ = csvStore.Close()
		return nil, fmt.Errorf("campaign %s: %w", c.cfg.Name, err)
	}
	return store.NewTee(c.cfg.Logger, csvStore, mirror), nil
}

// header is the metadata block of a new result stream.
func (c *Campaign) header(info sysinfo.Info, start time.Time) []store.Meta {
	meta := []store.Meta{
		store.M("benchmark_campaign_name", c.cfg.Name),
		store.M("campaign_id", c.id),
		store.M("benchmark", c.cfg.Benchmark.Name),
	}
	if c.cfg.Duration > 0 {
		meta = append(meta, store.M("benchmark_duration_seconds", c.cfg.Duration.Seconds()))
	}
	meta = append(meta,
		store.M("nb_runs", c.cfg.NbRuns),
		store.M("date", start.Format(time.RFC3339)),
		store.M("date_val", start.Format("20060102_150405")),
	)
	meta = append(meta, info.Meta()...)
	if expected := c.ExpectedDuration(); expected > 0 {
		meta = append(meta,
			store.M("expected_duration_seconds", expected.Seconds()),
			store.M("expected_duration_pretty", sysinfo.Pretty(expected)),
		)
	}
	return append(meta, c.cfg.Metadata...)
}

// eta estimates the remaining time before run i starts. Runs bounded by
// Duration give a fixed estimate; otherwise the mean of executed runs is
// used.
func (c *Campaign) eta(s *Summary, i int, busy time.Duration) string {
	remaining := len(s.Runs) - i
	switch {
	case c.cfg.Duration > 0:
		return "ETA " + sysinfo.Pretty(time.Duration(remaining)*c.cfg.Duration)
	case s.Executed > 0:
		mean := busy / time.Duration(s.Executed)
		return "ETA " + sysinfo.Pretty(time.Duration(remaining)*mean)
	default:
		return "ETA unknown"
	}
}

// resultFields merges the name columns, the pretty columns, the parameters
// that fell back to their default and the collected fields, in increasing
// precedence.
func (c *Campaign) resultFields(point params.Record, outcome *pipeline.Outcome) map[string]any {
	fields := make(map[string]any, len(outcome.Fields)+outcome.Defaults.Len()+len(c.cfg.Pretty)+2)
	fields[ExperimentNameColumn] = c.cfg.Name
	fields[BenchmarkNameColumn] = c.cfg.Benchmark.Name
	for name, names := range c.cfg.Pretty {
		if !point.Has(name) {
			continue
		}
		value := point.Str(name)
		if pretty, ok := names[value]; ok {
			value = pretty
		}
		fields[name+PrettySuffix] = value
	}
	for _, p := range outcome.Defaults.Pairs() {
		fields[p.Name] = p.Value
	}
	for k, v := range outcome.Fields {
		fields[k] = v
	}
	return fields
}
