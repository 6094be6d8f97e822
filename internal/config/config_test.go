package config

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/campaign/internal/params"
)

const microYAML = `
name: micro
nb_runs: 2
variables:
  threads: [4, 1, 2]
  impl: [b, a]
constants:
  size: 64
duration: 1m30s
grace: 2
retry:
  max_retries: 3
  delay: 500ms
metadata:
  owner: perf
  batch: "7"
hooks:
  pre_run:
    - name: drop-caches
      script: sync
  post_run:
    - script: echo temp=40
benchmark:
  run:
    params: [threads, impl, size]
    command: ./bench -t {{.threads}} -i {{.impl}} -s {{.size}}
  collect:
    key_value: true
`

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func names(vars Variables) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}

func TestParseYAML(t *testing.T) {
	f, err := ParseYAML([]byte(microYAML))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	if f.IsSuite() {
		t.Error("single campaign reported as a suite")
	}
	d := f.Definitions()[0]

	want := Variables{
		{Name: "threads", Values: []params.Value{4, 1, 2}},
		{Name: "impl", Values: []params.Value{"b", "a"}},
	}
	if diff := cmp.Diff(want, d.Variables); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}
	if time.Duration(d.Duration) != 90*time.Second || time.Duration(d.Grace) != 2*time.Second {
		t.Errorf("durations = %v, %v", time.Duration(d.Duration), time.Duration(d.Grace))
	}
	if d.Retry.MaxRetries != 3 || time.Duration(d.Retry.Delay) != 500*time.Millisecond {
		t.Errorf("retry = %+v", d.Retry)
	}

	cfg, err := d.Config(Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.Benchmark.Name != "micro" {
		t.Errorf("benchmark name = %q, want the campaign name", cfg.Benchmark.Name)
	}
	if diff := cmp.Diff([]string{"threads", "impl"}, cfg.Space.Names()); diff != "" {
		t.Errorf("space names mismatch (-want +got):\n%s", diff)
	}
	if cfg.Space.Len() != 6 || cfg.Space.At(0).Str("threads") != "4" || cfg.Space.At(0).Str("impl") != "b" {
		t.Errorf("space = %v", cfg.Space.Records())
	}
	if cfg.Constants.Str("size") != "64" {
		t.Errorf("constants = %v", cfg.Constants)
	}
	pre, post := cfg.Hooks.Names()
	if diff := cmp.Diff([]string{"drop-caches"}, pre); diff != "" {
		t.Errorf("pre-run hooks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"post_run[0]"}, post); diff != "" {
		t.Errorf("post-run hooks mismatch (-want +got):\n%s", diff)
	}
	if len(cfg.Metadata) != 2 || cfg.Metadata[0].Key != "batch" || cfg.Metadata[1].Key != "owner" {
		t.Errorf("metadata = %+v, want sorted by key", cfg.Metadata)
	}
}

func TestParseYAMLVariableList(t *testing.T) {
	f, err := ParseYAML([]byte(`
name: list
nb_runs: 1
variables:
  - name: z
    values: [1, 2]
  - name: a
    values: x
benchmark:
  run:
    command: "true"
`))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	want := Variables{
		{Name: "z", Values: []params.Value{1, 2}},
		{Name: "a", Values: []params.Value{"x"}},
	}
	if diff := cmp.Diff(want, f.Variables); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTOML(t *testing.T) {
	f, err := ParseTOML([]byte(`
name = "micro"
nb_runs = 1
duration = "10s"

[[variables]]
name = "threads"
values = [2, 1]

[[variables]]
name = "impl"
values = ["a"]

[constants]
size = 64

[benchmark.run]
params = ["threads", "impl"]
command = "echo {{.threads}}"
`))
	if err != nil {
		t.Fatalf("ParseTOML() error = %v", err)
	}
	want := Variables{
		{Name: "threads", Values: []params.Value{int64(2), int64(1)}},
		{Name: "impl", Values: []params.Value{"a"}},
	}
	if diff := cmp.Diff(want, f.Variables); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}
	if time.Duration(f.Duration) != 10*time.Second {
		t.Errorf("duration = %v", time.Duration(f.Duration))
	}
	if f.Constants["size"] != int64(64) {
		t.Errorf("constants = %v", f.Constants)
	}
}

func TestParseTOMLVariableTable(t *testing.T) {
	f, err := ParseTOML([]byte(`
name = "micro"
nb_runs = 1

[variables]
threads = [1, 2]
impl = "a"

[benchmark.run]
command = "true"
`))
	if err != nil {
		t.Fatalf("ParseTOML() error = %v", err)
	}
	if diff := cmp.Diff([]string{"impl", "threads"}, names(f.Variables)); diff != "" {
		t.Errorf("a TOML table is enumerated by name (-want +got):\n%s", diff)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "name: a\nnb_runs: 1\nbogus: 1\nbenchmark: {run: {command: x}}\n"},
		{"missing name", "nb_runs: 1\nbenchmark: {run: {command: x}}\n"},
		{"zero runs", "name: a\nbenchmark: {run: {command: x}}\n"},
		{"both forms", "name: a\nnb_runs: 1\ncampaigns: [{name: b, nb_runs: 1}]\n"},
		{"parallel without suite", "name: a\nnb_runs: 1\nparallel: true\n"},
		{"duplicate campaign", "campaigns: [{name: b, nb_runs: 1}, {name: b, nb_runs: 1}]\n"},
		{"bad duration", "name: a\nnb_runs: 1\nduration: soon\n"},
		{"remote without host", "name: a\nnb_runs: 1\nremote: {user: me}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseYAML([]byte(tt.yaml)); !errors.Is(err, params.ErrConfiguration) {
				t.Errorf("ParseYAML() error = %v, want ErrConfiguration", err)
			}
		})
	}

	if _, err := ParseTOML([]byte("name = \"a\"\nnb_runs = 1\nbogus = 2\n")); !errors.Is(err, params.ErrConfiguration) {
		t.Errorf("ParseTOML() unknown key error = %v, want ErrConfiguration", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "micro.yml")
	if err := os.WriteFile(path, []byte(microYAML), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Path() != path || f.Name != "micro" {
		t.Errorf("Load() = %q from %q", f.Name, f.Path())
	}

	other := filepath.Join(dir, "micro.json")
	if err := os.WriteFile(other, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(other); !errors.Is(err, params.ErrConfiguration) {
		t.Errorf("Load(.json) error = %v, want ErrConfiguration", err)
	}
}

func TestPlanSuite(t *testing.T) {
	dir := t.TempDir()
	f, err := ParseYAML([]byte(`
parallel: true
merge: all.csv
campaigns:
  - name: lat
    nb_runs: 1
    variables: {x: [1, 2]}
    benchmark:
      run: {params: [x], command: "echo {{.x}}"}
  - name: thr
    nb_runs: 3
    strategy: explicit
    records:
      - {x: 1}
      - {x: 5}
    result_path: ` + filepath.Join(dir, "thr.csv") + `
    benchmark:
      run: {params: [x], command: "echo {{.x}}"}
`))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}

	plan, err := f.Plan(context.Background(), Options{ResultsDir: dir, Offline: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	defer plan.Close()

	if !plan.Suite.Parallel || plan.Suite.MergePath != "all.csv" {
		t.Errorf("suite = %+v", plan.Suite)
	}
	cs := plan.Campaigns()
	if len(cs) != 2 {
		t.Fatalf("got %d campaigns, want 2", len(cs))
	}
	if cs[0].TotalRuns() != 2 || cs[1].TotalRuns() != 6 {
		t.Errorf("total runs = %d, %d", cs[0].TotalRuns(), cs[1].TotalRuns())
	}
	if filepath.Dir(cs[0].ResultPath()) != dir {
		t.Errorf("results dir override not applied: %s", cs[0].ResultPath())
	}
	if cs[1].ResultPath() != filepath.Join(dir, "thr.csv") {
		t.Errorf("explicit result path replaced: %s", cs[1].ResultPath())
	}
}

func TestPrettyAndExclude(t *testing.T) {
	f, err := ParseYAML([]byte(`
name: filtered
nb_runs: 2
variables:
  threads: [1, 2, 4]
  impl: [a, b]
exclude:
  - {threads: 4, impl: b}
  - {threads: 2}
pretty:
  impl: {a: "Variant A"}
  threads: {1: single}
benchmark:
  run: {params: [threads, impl], command: "echo {{.threads}}"}
`))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	plan, err := f.Plan(context.Background(), Options{ResultsDir: t.TempDir(), Offline: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	defer plan.Close()

	c := plan.Campaigns()[0]
	var got []string
	for _, r := range c.Records() {
		got = append(got, r.Str("threads")+"/"+r.Str("impl"))
	}
	if diff := cmp.Diff([]string{"1/a", "1/b", "4/a"}, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if c.TotalRuns() != 6 || c.Invalid() != 3 {
		t.Errorf("TotalRuns() = %d, Invalid() = %d; want 6 and 3", c.TotalRuns(), c.Invalid())
	}

	cfg, err := f.Definitions()[0].Config(Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	want := map[string]map[string]string{"impl": {"a": "Variant A"}, "threads": {"1": "single"}}
	if diff := cmp.Diff(want, cfg.Pretty); diff != "" {
		t.Errorf("pretty mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanRejectsInvalidCampaign(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"undeclared parameter", "name: a\nnb_runs: 1\nbenchmark: {run: {params: [x], command: \"true\"}}\n"},
		{"constant collides", "name: a\nnb_runs: 1\nvariables: {x: [1]}\nconstants: {x: 2}\nbenchmark: {run: {command: \"true\"}}\n"},
		{"bad template", "name: a\nnb_runs: 1\nbenchmark: {run: {command: \"{{.x\"}}\n"},
		{"bad strategy", "name: a\nnb_runs: 1\nstrategy: random\nbenchmark: {run: {command: \"true\"}}\n"},
		{"empty exclude entry", "name: a\nnb_runs: 1\nvariables: {x: [1]}\nexclude: [{}]\nbenchmark: {run: {command: \"true\"}}\n"},
		{"pretty for undeclared variable", "name: a\nnb_runs: 1\nvariables: {x: [1]}\npretty: {y: {1: one}}\nbenchmark: {run: {command: \"true\"}}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseYAML([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("ParseYAML() error = %v", err)
			}
			_, err = f.Plan(context.Background(), Options{ResultsDir: t.TempDir(), Offline: true, Logger: quietLogger()})
			if !errors.Is(err, params.ErrConfiguration) {
				t.Errorf("Plan() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestDurationText(t *testing.T) {
	tests := map[string]time.Duration{
		"":      0,
		"1.5":   1500 * time.Millisecond,
		"2m":    2 * time.Minute,
		"1h30m": 90 * time.Minute,
	}
	for in, want := range tests {
		var d Duration
		if err := d.UnmarshalText([]byte(in)); err != nil {
			t.Errorf("UnmarshalText(%q) error = %v", in, err)
			continue
		}
		if time.Duration(d) != want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", in, time.Duration(d), want)
		}
	}
}
