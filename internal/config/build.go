package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/steveyegge/campaign/internal/campaign"
	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/hooks"
	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/shellbench"
	"github.com/steveyegge/campaign/internal/store"
)

// DefaultResultsDir receives the result streams of campaigns that name
// neither a results directory nor a result path.
const DefaultResultsDir = "results"

// Options override the definition file from the command line.
type Options struct {
	// ResultsDir replaces the results directory of every campaign that has
	// no explicit result path.
	ResultsDir string

	// Continue forces continuation for every campaign.
	Continue bool

	// Parallel forces parallel suite execution.
	Parallel bool

	// Offline skips connecting to remote hosts. Campaigns then carry no
	// port, which is enough to validate them.
	Offline bool

	Observer campaign.Observer
	Logger   *log.Logger
}

// Plan is a definition file turned into runnable campaigns. Close releases
// the remote connections it opened.
type Plan struct {
	Suite *campaign.Suite
	ports []execport.Port
}

// Campaigns returns the campaigns of the plan in declaration order.
func (p *Plan) Campaigns() []*campaign.Campaign { return p.Suite.Campaigns }

func (p *Plan) Close() error {
	var errs []error
	for _, port := range p.ports {
		if err := port.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.ports = nil
	return errors.Join(errs...)
}

// Plan builds every campaign of the file. All of them are validated before
// any remote host is contacted.
func (f *File) Plan(ctx context.Context, opts Options) (*Plan, error) {
	defs := f.Definitions()
	configs := make([]campaign.Config, len(defs))
	for i, d := range defs {
		cfg, err := d.Config(opts)
		if err != nil {
			return nil, err
		}
		if _, err := campaign.New(cfg); err != nil {
			return nil, err
		}
		configs[i] = cfg
	}

	plan := &Plan{Suite: &campaign.Suite{
		Parallel:  f.Parallel || opts.Parallel,
		MergePath: f.Merge,
		Logger:    opts.Logger,
	}}
	for i, d := range defs {
		cfg := configs[i]
		if d.Remote != nil && !opts.Offline {
			port, err := d.Remote.Dial(ctx, opts.Logger)
			if err != nil {
				_ = plan.Close()
				return nil, fmt.Errorf("campaign %s: %w", d.Name, err)
			}
			plan.ports = append(plan.ports, port)
			cfg.Port = port
		}
		c, err := campaign.New(cfg)
		if err != nil {
			_ = plan.Close()
			return nil, err
		}
		plan.Suite.Campaigns = append(plan.Suite.Campaigns, c)
	}
	if err := plan.Suite.Validate(); err != nil {
		_ = plan.Close()
		return nil, err
	}
	return plan, nil
}

// Config converts the definition into a campaign configuration without a
// port.
func (d CampaignDef) Config(opts Options) (campaign.Config, error) {
	spec := d.Benchmark
	if spec.Name == "" {
		spec.Name = d.Name
	}
	bench, err := shellbench.Build(spec)
	if err != nil {
		return campaign.Config{}, fmt.Errorf("campaign %s: %w", d.Name, err)
	}
	for i, entry := range d.Exclude {
		if len(entry) == 0 {
			return campaign.Config{}, params.Configf("campaign %s: exclude[%d] is empty", d.Name, i)
		}
	}
	if len(d.Exclude) > 0 {
		bench.Valid = excluded(d.Exclude)
	}
	space, err := d.Space()
	if err != nil {
		return campaign.Config{}, fmt.Errorf("campaign %s: %w", d.Name, err)
	}
	registry, err := d.Hooks.Registry()
	if err != nil {
		return campaign.Config{}, fmt.Errorf("campaign %s: %w", d.Name, err)
	}

	cfg := campaign.Config{
		Name:         d.Name,
		Benchmark:    bench,
		Space:        space,
		NbRuns:       d.NbRuns,
		Constants:    params.FromMap(d.Constants),
		Hooks:        registry,
		ResultsDir:   d.ResultsDir,
		ResultPath:   d.ResultPath,
		SQLitePath:   d.SQLite,
		Continue:     d.Continue || opts.Continue,
		ArtifactDirs: d.ArtifactDirs,
		Duration:     time.Duration(d.Duration),
		Grace:        time.Duration(d.Grace),
		DisableCache: d.DisableCache,
		FailFast:     d.FailFast,
		Retry: execport.RetryPolicy{
			MaxRetries: d.Retry.MaxRetries,
			RetryDelay: time.Duration(d.Retry.Delay),
		},
		SourceDir: d.SourceDir,
		Metadata:  d.metadata(),
		Pretty:    d.Pretty,
		Observer:  opts.Observer,
		Logger:    opts.Logger,
	}
	if opts.ResultsDir != "" && d.ResultPath == "" {
		cfg.ResultsDir = opts.ResultsDir
	}
	if cfg.ResultsDir == "" && cfg.ResultPath == "" {
		cfg.ResultsDir = DefaultResultsDir
	}
	if d.Remote != nil {
		cfg.Host = d.Remote.Host
	}
	return cfg, nil
}

// excluded accepts the points that match none of the entries. Values
// compare in canonical string form.
func excluded(entries []map[string]any) func(params.Record) bool {
	return func(point params.Record) bool {
		for _, entry := range entries {
			match := true
			for name, value := range entry {
				if !point.Has(name) || point.Str(name) != params.Format(value) {
					match = false
					break
				}
			}
			if match {
				return false
			}
		}
		return true
	}
}

// Space builds the parameter space of the campaign.
func (d CampaignDef) Space() (*params.Space, error) {
	strategy := params.StrategyCartesian
	if d.Strategy != "" {
		s, err := params.ParseStrategy(d.Strategy)
		if err != nil {
			return nil, err
		}
		strategy = s
	} else if len(d.Records) > 0 {
		strategy = params.StrategyExplicit
	}
	return params.Build(strategy, d.Variables, d.Records)
}

func (d CampaignDef) metadata() []store.Meta {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	meta := make([]store.Meta, len(keys))
	for i, k := range keys {
		meta[i] = store.M(k, d.Metadata[k])
	}
	return meta
}

// Registry returns a registry holding the shell hooks, or nil
// when none are declared.
func (h HooksDef) Registry() (*hooks.Registry, error) {
	if len(h.PreRun) == 0 && len(h.PostRun) == 0 {
		return nil, nil
	}
	r := hooks.New()
	for i, hook := range h.PreRun {
		name := hook.Name
		if name == "" {
			name = fmt.Sprintf("pre_run[%d]", i)
		}
		if err := r.OnPreRun(name, hooks.ShellPreRun(hook.Script)); err != nil {
			return nil, params.Configf("hook %s: %v", name, err)
		}
	}
	for i, hook := range h.PostRun {
		name := hook.Name
		if name == "" {
			name = fmt.Sprintf("post_run[%d]", i)
		}
		if err := r.OnPostRun(name, hooks.ShellPostRun(hook.Script)); err != nil {
			return nil, params.Configf("hook %s: %v", name, err)
		}
	}
	return r, nil
}

// Dial connects to the remote host.
func (r *RemoteDef) Dial(ctx context.Context, logger *log.Logger) (*execport.SSHPort, error) {
	return execport.DialSSH(ctx, execport.SSHConfig{
		Host:                  r.Host,
		User:                  r.User,
		KeyFile:               r.KeyFile,
		KnownHostsFile:        r.KnownHostsFile,
		InsecureIgnoreHostKey: r.Insecure,
		DialTimeout:           time.Duration(r.DialTimeout),
		ScratchRoot:           r.ScratchRoot,
		Logger:                logger,
	})
}
