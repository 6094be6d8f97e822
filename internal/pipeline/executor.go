package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/hooks"
	"github.com/steveyegge/campaign/internal/params"
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Benchmark *Benchmark
	Port      execport.Port
	Hooks     *hooks.Registry
	Constants params.Record

	// Duration is the wall-clock budget of RunContext.RunFor.
	Duration time.Duration
	// Grace is the delay between the stop and kill signals.
	Grace time.Duration

	// Cache reuses fetch and build results across runs whose declared
	// fetch/build parameters are identical.
	Cache bool

	Logger *log.Logger
}

// Executor runs jobs through the stages of one benchmark. It is owned by a
// single campaign and is not safe for concurrent use.
type Executor struct {
	cfg        ExecutorConfig
	logger     *log.Logger
	fetchCache map[string]*FetchResult
	buildCache map[string]*BuildResult
}

// Job is one (record, repetition) to execute.
type Job struct {
	Record params.Record
	Rep    int

	// RecordDir is the local artifact directory of the run, "" for none.
	// It must exist.
	RecordDir string
}

// Outcome is what an executed job produced.
type Outcome struct {
	Fields   RecordResult
	Outputs  []*execport.Output
	Defaults params.Record // parameters that fell back to their default

	FetchCached bool
	BuildCached bool
	Duration    time.Duration
}

// NewExecutor returns an executor for cfg.Benchmark.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Benchmark == nil {
		return nil, params.Configf("no benchmark")
	}
	if cfg.Port == nil {
		return nil, params.Configf("no execution port")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = execport.DefaultGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[pipeline] ", log.LstdFlags)
	}
	return &Executor{
		cfg:        cfg,
		logger:     cfg.Logger,
		fetchCache: make(map[string]*FetchResult),
		buildCache: make(map[string]*BuildResult),
	}, nil
}

// Execute runs job through Fetch, Build, pre-run hooks, Run, Collect and
// post-run hooks. A failure is returned as a StageError naming the stage;
// the partial outcome is returned with it.
func (e *Executor) Execute(ctx context.Context, job Job) (*Outcome, error) {
	start := time.Now()
	bench := e.cfg.Benchmark
	port := e.cfg.Port
	outcome := &Outcome{}
	defaults := make([]params.Pair, 0)

	resolve := func(stage Stage, m Manifest) (params.Record, error) {
		args, def, err := m.Resolve(job.Record, e.cfg.Constants)
		if err != nil {
			return args, &StageError{Stage: stage, Err: err}
		}
		defaults = append(defaults, def.Pairs()...)
		return args, nil
	}
	newBase := func(args params.Record, dir string) base {
		return base{
			localDir:  port.IsLocal() || dir == job.RecordDir,
			ctx:       ctx,
			port:      port,
			args:      args,
			record:    job.Record,
			constants: e.cfg.Constants,
			rep:       job.Rep,
			recordDir: dir,
			logger:    e.logger,
		}
	}
	finish := func(err error) (*Outcome, error) {
		outcome.Defaults = params.NewRecord(defaults...)
		outcome.Duration = time.Since(start)
		return outcome, err
	}

	// Stages write into a scratch directory on remote targets; it is
	// copied back into the local record directory after Run.
	targetDir := job.RecordDir
	if job.RecordDir != "" && !port.IsLocal() {
		dir, err := port.TempDir(ctx)
		if err != nil {
			return finish(&StageError{Stage: StageFetch, Err: fmt.Errorf("create remote record dir: %w", err)})
		}
		targetDir = dir
		defer func() {
			if err := port.RemoveAll(context.WithoutCancel(ctx), dir); err != nil {
				e.logger.Printf("warning: remove %s on %s: %v", dir, port.Name(), err)
			}
		}()
	}

	// Fetch
	fetch := &FetchResult{}
	fetchKey := ""
	if bench.Fetch != nil {
		args, err := resolve(StageFetch, bench.Fetch.Params)
		if err != nil {
			return finish(err)
		}
		fetchKey = args.Key()
		if cached, ok := e.fetchCache[fetchKey]; ok && e.cfg.Cache {
			fetch = cached
			outcome.FetchCached = true
		} else {
			res, err := bench.Fetch.Func(&FetchContext{base: newBase(args, targetDir)})
			if err != nil {
				return finish(&StageError{Stage: StageFetch, Err: err})
			}
			if res != nil {
				fetch = res
			}
			if e.cfg.Cache {
				e.fetchCache[fetchKey] = fetch
			}
		}
	}

	// Build
	build := &BuildResult{}
	if bench.Build != nil {
		args, err := resolve(StageBuild, bench.Build.Params)
		if err != nil {
			return finish(err)
		}
		buildKey := fetchKey + "|" + args.Key()
		if cached, ok := e.buildCache[buildKey]; ok && e.cfg.Cache {
			build = cached
			outcome.BuildCached = true
		} else {
			res, err := bench.Build.Func(&BuildContext{base: newBase(args, targetDir), fetch: fetch})
			if err != nil {
				return finish(&StageError{Stage: StageBuild, Err: err})
			}
			if res != nil {
				build = res
			}
			if e.cfg.Cache {
				e.buildCache[buildKey] = build
			}
		}
	}

	// Pre-run hooks
	err := e.cfg.Hooks.RunPre(ctx, hooks.PreRunEvent{
		Port:      port,
		Record:    job.Record,
		Constants: e.cfg.Constants,
		Rep:       job.Rep,
		RecordDir: targetDir,
	})
	if err != nil {
		return finish(&StageError{Stage: StagePreRun, Err: err})
	}

	// Run
	runArgs, err := resolve(StageRun, bench.Run.Params)
	if err != nil {
		return finish(err)
	}
	rc := &RunContext{
		base:        newBase(runArgs, targetDir),
		fetch:       fetch,
		build:       build,
		chain:       bench.Wrappers,
		attachments: bench.Attachments,
		duration:    e.cfg.Duration,
		grace:       e.cfg.Grace,
	}
	run, runErr := bench.Run.Func(rc)
	if run == nil {
		run = &RunResult{}
	}
	if len(run.Outputs) == 0 {
		run.Outputs = rc.Outputs()
	}
	outcome.Outputs = run.Outputs

	if targetDir != job.RecordDir {
		// Copy back even after a failed run so partial logs stay inspectable.
		if err := port.CopyToLocal(ctx, targetDir, job.RecordDir); err != nil {
			if runErr == nil {
				return finish(&StageError{Stage: StageRun, Err: fmt.Errorf("copy artifacts: %w", err)})
			}
			e.logger.Printf("warning: copy artifacts of failed run: %v", err)
		}
	}
	if runErr != nil {
		return finish(&StageError{Stage: StageRun, Err: runErr})
	}

	// Collect
	fields := RecordResult{}
	if bench.Collect != nil {
		args, err := resolve(StageCollect, bench.Collect.Params)
		if err != nil {
			return finish(err)
		}
		cc := &CollectContext{
			base:  newBase(args, job.RecordDir),
			fetch: fetch,
			build: build,
			run:   run,
		}
		res, err := bench.Collect.Func(cc)
		if err != nil {
			return finish(&StageError{Stage: StageCollect, Err: err})
		}
		for k, v := range res {
			fields[k] = v
		}
	} else {
		for k, v := range run.Attrs.Map() {
			fields[k] = v
		}
	}
	outcome.Fields = fields

	// Post-run: wrapper collectors first, then registered hooks.
	if job.RecordDir != "" {
		for _, col := range bench.Wrappers.Collectors() {
			extra, err := col.Collect(ctx, job.RecordDir)
			if err != nil {
				return finish(&StageError{Stage: StagePostRun, Err: fmt.Errorf("%s: %w", col.Name(), err)})
			}
			for k, v := range extra {
				fields[k] = v
			}
		}
	}
	extra, err := e.cfg.Hooks.RunPost(ctx, hooks.PostRunEvent{
		Port:      port,
		Record:    job.Record,
		Constants: e.cfg.Constants,
		Rep:       job.Rep,
		Outputs:   run.Outputs,
		Fields:    copyFields(fields),
		RecordDir: job.RecordDir,
	})
	if err != nil {
		return finish(&StageError{Stage: StagePostRun, Err: err})
	}
	for k, v := range extra {
		fields[k] = v
	}

	return finish(nil)
}

// CacheSize returns the number of cached fetch and build results.
func (e *Executor) CacheSize() (fetch, build int) {
	return len(e.fetchCache), len(e.buildCache)
}

func copyFields(f RecordResult) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// IsTimeout reports whether a job failed because its duration bound was
// exceeded.
func IsTimeout(err error) bool {
	return errors.Is(err, execport.ErrTimedOut)
}
