// Package campaign drives a benchmark through every (record, repetition)
// pair of a parameter space.
//
// Enumeration order is fixed: records in the order of the space, and for
// each record the repetitions 1..NbRuns. A resumed campaign re-enumerates
// the identical sequence and skips every pair whose row is already in the
// result stream. Runs execute one at a time; a failed run is recorded in the
// summary and the campaign moves on to the next pair unless FailFast is set.
//
// A Suite groups campaigns and runs them one after another or, with
// Parallel, concurrently with one goroutine per campaign.
package campaign

import (
	"fmt"
	"log"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/hooks"
	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/pipeline"
	"github.com/steveyegge/campaign/internal/store"
)

// Config describes one campaign.
type Config struct {
	Name      string
	Benchmark *pipeline.Benchmark
	Space     *params.Space
	NbRuns    int
	Constants params.Record

	// Port runs the benchmark commands. Defaults to the local machine.
	Port  execport.Port
	Hooks *hooks.Registry

	// Host names the target in result file names. Defaults to the local
	// hostname, or the port name for remote ports.
	Host string

	// ResultsDir holds the result stream "<name>_<host>_<timestamp>.csv".
	// ResultPath, when set, is used as is instead.
	ResultsDir string
	ResultPath string

	// SQLitePath, when set, mirrors every row into a SQLite database.
	SQLitePath string

	// Continue resumes the latest result stream of the campaign and skips
	// the pairs it already holds.
	Continue bool

	// ArtifactDirs gives every run its own directory next to the result
	// stream.
	ArtifactDirs bool

	// Duration bounds RunContext.RunFor; Grace is the delay between the
	// stop and kill signals.
	Duration time.Duration
	Grace    time.Duration

	// DisableCache rebuilds for every run even when the build parameters
	// did not change.
	DisableCache bool

	// FailFast aborts the campaign at the first failed run.
	FailFast bool

	// Retry applies to transport failures of the port. Zero disables it.
	Retry execport.RetryPolicy

	// SourceDir is where git details are read for the metadata block.
	SourceDir string

	// Metadata is appended to the environment metadata of the stream.
	Metadata []store.Meta

	// Pretty maps, per variable or constant, canonical values to display
	// names. Each entry adds a "<name>_pretty" column to the rows; values
	// without a display name are copied as is. Pretty columns are not part
	// of the point, so continuation ignores them.
	Pretty map[string]map[string]string

	Observer Observer
	Logger   *log.Logger
}

// Row columns added to every result row.
const (
	ExperimentNameColumn = "experiment_name"
	BenchmarkNameColumn  = "benchmark_name"
	PrettySuffix         = "_pretty"
)

// Campaign is a validated Config. It is immutable once created.
type Campaign struct {
	cfg        Config
	id         string
	host       string
	resultPath string

	// records are the points of the space the benchmark accepts.
	records []params.Record
	invalid int
}

// New validates cfg and resolves where results go. Every problem found here
// is an ErrConfiguration, reported before anything runs.
func New(cfg Config) (*Campaign, error) {
	if cfg.Name == "" {
		return nil, params.Configf("campaign name is required")
	}
	if cfg.Benchmark == nil {
		return nil, params.Configf("campaign %s: benchmark is required", cfg.Name)
	}
	if cfg.Space == nil {
		return nil, params.Configf("campaign %s: parameter space is required", cfg.Name)
	}
	if cfg.NbRuns < 1 {
		return nil, params.Configf("campaign %s: nb_runs must be at least 1, got %d", cfg.Name, cfg.NbRuns)
	}
	for _, name := range cfg.Space.Names() {
		if cfg.Constants.Has(name) {
			return nil, &params.ConfigurationError{
				Index:    -1,
				Variable: name,
				Reason:   "declared both as a constant and as a variable",
			}
		}
	}
	if cfg.Constants.Has(store.RepColumn) {
		return nil, &params.ConfigurationError{Index: -1, Variable: store.RepColumn, Reason: "reserved name"}
	}
	for _, name := range cfg.Space.Names() {
		if name == store.RepColumn {
			return nil, &params.ConfigurationError{Index: -1, Variable: name, Reason: "reserved name"}
		}
	}
	if err := cfg.Benchmark.Validate(cfg.Space.Names(), cfg.Constants.Names()); err != nil {
		return nil, fmt.Errorf("campaign %s: %w", cfg.Name, err)
	}
	for name := range cfg.Pretty {
		if !cfg.Constants.Has(name) && !slices.Contains(cfg.Space.Names(), name) {
			return nil, &params.ConfigurationError{
				Index:    -1,
				Variable: name,
				Reason:   "pretty names given for an undeclared variable",
			}
		}
	}
	if cfg.ResultPath == "" && cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}

	if cfg.Port == nil {
		cfg.Port = execport.NewLocal()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[campaign] ", log.LstdFlags)
	}

	c := &Campaign{cfg: cfg, id: uuid.New().String()}
	for _, record := range cfg.Space.Records() {
		if cfg.Benchmark.Accepts(cfg.Constants.Merge(record)) {
			c.records = append(c.records, record)
		} else {
			c.invalid++
		}
	}

	c.host = cfg.Host
	if c.host == "" {
		if cfg.Port.IsLocal() {
			c.host, _ = os.Hostname()
		} else {
			c.host = cfg.Port.Name()
		}
	}

	c.resultPath = cfg.ResultPath
	if c.resultPath == "" {
		path, err := store.ResultPath(cfg.ResultsDir, cfg.Name, c.host, time.Now(), cfg.Continue)
		if err != nil {
			return nil, fmt.Errorf("campaign %s: %w", cfg.Name, err)
		}
		c.resultPath = path
	}
	return c, nil
}

// ID identifies this execution of the campaign.
func (c *Campaign) ID() string { return c.id }

// Name returns the campaign name.
func (c *Campaign) Name() string { return c.cfg.Name }

// ResultPath returns the result stream path.
func (c *Campaign) ResultPath() string { return c.resultPath }

// Records returns the records of the space the benchmark accepts, in the
// order of the space.
func (c *Campaign) Records() []params.Record {
	return append([]params.Record(nil), c.records...)
}

// Invalid returns the number of records of the space the benchmark rejects.
func (c *Campaign) Invalid() int { return c.invalid }

// TotalRuns returns the number of (record, repetition) pairs. Records the
// benchmark rejects are not counted.
func (c *Campaign) TotalRuns() int {
	return len(c.records) * c.cfg.NbRuns
}

// Runs returns every (record, repetition) pair in execution order, all
// pending.
func (c *Campaign) Runs() []Run {
	runs := make([]Run, 0, c.TotalRuns())
	for _, record := range c.records {
		for rep := 1; rep <= c.cfg.NbRuns; rep++ {
			runs = append(runs, Run{
				Index:  len(runs),
				Record: record,
				Rep:    rep,
			})
		}
	}
	return runs
}

// ArtifactDir returns the artifact directory of (record, rep), or "" when
// artifact directories are disabled.
func (c *Campaign) ArtifactDir(record params.Record, rep int) string {
	if !c.cfg.ArtifactDirs {
		return ""
	}
	return store.ArtifactDir(c.resultPath, record, rep, c.cfg.NbRuns)
}

// ExpectedDuration is the lower bound of the campaign duration when every
// run is bounded by Duration, or 0.
func (c *Campaign) ExpectedDuration() time.Duration {
	return time.Duration(c.TotalRuns()) * c.cfg.Duration
}
