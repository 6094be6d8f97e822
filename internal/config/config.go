// Package config reads campaign definition files.
//
// A definition file is YAML (.yaml, .yml) or TOML (.toml). It declares one
// campaign at the top level, or a suite under "campaigns":
//
//	name: micro
//	nb_runs: 3
//	variables:
//	  threads: [1, 2, 4]
//	  impl: [a, b]
//	constants:
//	  size: 64
//	benchmark:
//	  name: micro
//	  run:
//	    params: [threads, impl, size]
//	    command: ./bench -t {{.threads}} -i {{.impl}} -s {{.size}}
//	  collect:
//	    key_value: true
//
// YAML keeps the declaration order of a variables mapping. TOML tables are
// unordered, so a TOML variables table is enumerated by name; use the list
// form (name, values) to fix the order.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/shellbench"
)

// File is a parsed definition file.
type File struct {
	CampaignDef `yaml:",inline"`

	Campaigns []CampaignDef `yaml:"campaigns,omitempty" toml:"campaigns,omitempty"`

	// Parallel runs the suite campaigns concurrently.
	Parallel bool `yaml:"parallel,omitempty" toml:"parallel,omitempty"`

	// Merge is the path of the merged suite result stream.
	Merge string `yaml:"merge,omitempty" toml:"merge,omitempty"`

	path string
}

// CampaignDef declares one campaign.
type CampaignDef struct {
	Name      string           `yaml:"name" toml:"name"`
	NbRuns    int              `yaml:"nb_runs" toml:"nb_runs"`
	Strategy  string           `yaml:"strategy,omitempty" toml:"strategy,omitempty"`
	Variables Variables        `yaml:"variables,omitempty" toml:"variables,omitempty"`
	Records   []map[string]any `yaml:"records,omitempty" toml:"records,omitempty"`
	Constants map[string]any   `yaml:"constants,omitempty" toml:"constants,omitempty"`

	Benchmark shellbench.Spec `yaml:"benchmark" toml:"benchmark"`
	Hooks     HooksDef        `yaml:"hooks,omitempty" toml:"hooks,omitempty"`
	Remote    *RemoteDef      `yaml:"remote,omitempty" toml:"remote,omitempty"`

	Duration Duration `yaml:"duration,omitempty" toml:"duration,omitempty"`
	Grace    Duration `yaml:"grace,omitempty" toml:"grace,omitempty"`

	ResultsDir   string   `yaml:"results_dir,omitempty" toml:"results_dir,omitempty"`
	ResultPath   string   `yaml:"result_path,omitempty" toml:"result_path,omitempty"`
	SQLite       string   `yaml:"sqlite,omitempty" toml:"sqlite,omitempty"`
	Continue     bool     `yaml:"continue,omitempty" toml:"continue,omitempty"`
	ArtifactDirs bool     `yaml:"artifact_dirs,omitempty" toml:"artifact_dirs,omitempty"`
	FailFast     bool     `yaml:"fail_fast,omitempty" toml:"fail_fast,omitempty"`
	DisableCache bool     `yaml:"disable_cache,omitempty" toml:"disable_cache,omitempty"`
	Retry        RetryDef `yaml:"retry,omitempty" toml:"retry,omitempty"`
	SourceDir    string   `yaml:"source_dir,omitempty" toml:"source_dir,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty" toml:"metadata,omitempty"`

	// Pretty gives display names to values; see campaign.Config.Pretty.
	Pretty map[string]map[string]string `yaml:"pretty,omitempty" toml:"pretty,omitempty"`

	// Exclude lists partial points that are not run: a record matching
	// every pair of one entry is invalid.
	Exclude []map[string]any `yaml:"exclude,omitempty" toml:"exclude,omitempty"`
}

// HooksDef declares shell hooks run around every run.
type HooksDef struct {
	PreRun  []HookDef `yaml:"pre_run,omitempty" toml:"pre_run,omitempty"`
	PostRun []HookDef `yaml:"post_run,omitempty" toml:"post_run,omitempty"`
}

// HookDef is a named shell script.
type HookDef struct {
	Name   string `yaml:"name" toml:"name"`
	Script string `yaml:"script" toml:"script"`
}

// RemoteDef runs the campaign on a host reached over SSH.
type RemoteDef struct {
	Host           string   `yaml:"host" toml:"host"`
	User           string   `yaml:"user,omitempty" toml:"user,omitempty"`
	KeyFile        string   `yaml:"key_file,omitempty" toml:"key_file,omitempty"`
	KnownHostsFile string   `yaml:"known_hosts,omitempty" toml:"known_hosts,omitempty"`
	Insecure       bool     `yaml:"insecure_ignore_host_key,omitempty" toml:"insecure_ignore_host_key,omitempty"`
	DialTimeout    Duration `yaml:"dial_timeout,omitempty" toml:"dial_timeout,omitempty"`
	ScratchRoot    string   `yaml:"scratch_root,omitempty" toml:"scratch_root,omitempty"`
}

// RetryDef configures retries of transport failures.
type RetryDef struct {
	MaxRetries int      `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
	Delay      Duration `yaml:"delay,omitempty" toml:"delay,omitempty"`
}

// Duration accepts Go duration strings ("1m30s") and plain numbers of
// seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Variables is the ordered list of campaign variables.
type Variables []params.Variable

// UnmarshalYAML accepts a mapping of name to values, keeping its order, or
// a list of {name, values}. A scalar value is a single-valued variable.
func (v *Variables) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(Variables, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var name string
			if err := node.Content[i].Decode(&name); err != nil {
				return err
			}
			values, err := yamlValues(node.Content[i+1])
			if err != nil {
				return fmt.Errorf("variable %s: %w", name, err)
			}
			out = append(out, params.Variable{Name: name, Values: values})
		}
		*v = out
		return nil

	case yaml.SequenceNode:
		var list []struct {
			Name   string    `yaml:"name"`
			Values yaml.Node `yaml:"values"`
		}
		if err := node.Decode(&list); err != nil {
			return err
		}
		out := make(Variables, 0, len(list))
		for _, item := range list {
			values, err := yamlValues(&item.Values)
			if err != nil {
				return fmt.Errorf("variable %s: %w", item.Name, err)
			}
			out = append(out, params.Variable{Name: item.Name, Values: values})
		}
		*v = out
		return nil

	default:
		return fmt.Errorf("line %d: variables must be a mapping or a list", node.Line)
	}
}

func yamlValues(node *yaml.Node) ([]params.Value, error) {
	if node.Kind == yaml.SequenceNode {
		var values []any
		if err := node.Decode(&values); err != nil {
			return nil, err
		}
		return values, nil
	}
	var one any
	if err := node.Decode(&one); err != nil {
		return nil, err
	}
	return []params.Value{one}, nil
}

// UnmarshalTOML accepts a table of name to values, enumerated by name, or
// an array of {name, values} tables.
func (v *Variables) UnmarshalTOML(data any) error {
	switch data := data.(type) {
	case map[string]any:
		names := make([]string, 0, len(data))
		for name := range data {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make(Variables, 0, len(names))
		for _, name := range names {
			out = append(out, params.Variable{Name: name, Values: tomlValues(data[name])})
		}
		*v = out
		return nil

	case []map[string]any:
		items := make([]any, len(data))
		for i := range data {
			items[i] = data[i]
		}
		return v.UnmarshalTOML(items)

	case []any:
		out := make(Variables, 0, len(data))
		for i, item := range data {
			table, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("variables[%d]: expected a table", i)
			}
			name, _ := table["name"].(string)
			if name == "" {
				return fmt.Errorf("variables[%d]: name is required", i)
			}
			out = append(out, params.Variable{Name: name, Values: tomlValues(table["values"])})
		}
		*v = out
		return nil

	default:
		return fmt.Errorf("variables must be a table or an array of tables")
	}
}

func tomlValues(data any) []params.Value {
	switch data := data.(type) {
	case nil:
		return nil
	case []any:
		return data
	default:
		return []params.Value{data}
	}
}

// Load reads a definition file, choosing the format from its extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	var f *File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		f, err = ParseYAML(data)
	case ".toml":
		f, err = ParseTOML(data)
	default:
		return nil, params.Configf("%s: unsupported definition format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.path = path
	return f, nil
}

// ParseYAML decodes a YAML definition. Unknown keys are errors.
func ParseYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, params.Configf("decode definition: %v", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseTOML decodes a TOML definition. Unknown keys are errors.
func ParseTOML(data []byte) (*File, error) {
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, params.Configf("decode definition: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, params.Configf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Path returns the file the definition was loaded from, "" when parsed
// from memory.
func (f *File) Path() string { return f.path }

// Definitions returns the campaigns of the file in order.
func (f *File) Definitions() []CampaignDef {
	if len(f.Campaigns) > 0 {
		return f.Campaigns
	}
	return []CampaignDef{f.CampaignDef}
}

// IsSuite reports whether the file declares a list of campaigns.
func (f *File) IsSuite() bool { return len(f.Campaigns) > 0 }

// Validate checks the structure of the file. Benchmark templates and the
// parameter space are checked when the campaigns are built.
func (f *File) Validate() error {
	if len(f.Campaigns) > 0 && f.CampaignDef.Name != "" {
		return params.Configf("declare either a top-level campaign or a campaigns list, not both")
	}
	if len(f.Campaigns) == 0 && (f.Parallel || f.Merge != "") {
		return params.Configf("parallel and merge apply to a campaigns list")
	}
	seen := make(map[string]bool)
	for i, d := range f.Definitions() {
		if d.Name == "" {
			return params.Configf("campaign %d: name is required", i)
		}
		if seen[d.Name] {
			return params.Configf("campaign %s declared twice", d.Name)
		}
		seen[d.Name] = true
		if d.NbRuns < 1 {
			return params.Configf("campaign %s: nb_runs must be at least 1", d.Name)
		}
		if d.Remote != nil && d.Remote.Host == "" {
			return params.Configf("campaign %s: remote host is required", d.Name)
		}
	}
	return nil
}
