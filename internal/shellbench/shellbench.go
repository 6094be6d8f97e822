// Package shellbench builds a benchmark out of shell command templates, so
// a campaign can be declared entirely in a definition file.
//
// Each command is a text/template rendered with the parameters the stage
// declares, plus:
//
//	{{.SrcDir}}     directory returned by Fetch
//	{{.BuildDir}}   directory returned by Build
//	{{.RecordDir}}  artifact directory of the run, "" when disabled
//	{{.Rep}}        repetition number, from 1
//
// Referencing a parameter the stage did not declare fails the stage. The
// "quote" function shell-quotes its argument.
package shellbench

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/pipeline"
	"github.com/steveyegge/campaign/internal/wrappers"
)

// Spec declares a shell benchmark.
type Spec struct {
	Name     string        `yaml:"name" toml:"name" json:"name"`
	Fetch    *Step         `yaml:"fetch,omitempty" toml:"fetch,omitempty" json:"fetch,omitempty"`
	Build    *Step         `yaml:"build,omitempty" toml:"build,omitempty" json:"build,omitempty"`
	Run      Step          `yaml:"run" toml:"run" json:"run"`
	Collect  *Collect      `yaml:"collect,omitempty" toml:"collect,omitempty" json:"collect,omitempty"`
	Wrappers []WrapperSpec `yaml:"wrappers,omitempty" toml:"wrappers,omitempty" json:"wrappers,omitempty"`
}

// Step is one templated shell command.
type Step struct {
	// Params are the required parameters of the stage.
	Params []string `yaml:"params,omitempty" toml:"params,omitempty" json:"params,omitempty"`

	// Defaults are optional parameters with their fallback value.
	Defaults map[string]any `yaml:"defaults,omitempty" toml:"defaults,omitempty" json:"defaults,omitempty"`

	Command string `yaml:"command" toml:"command" json:"command"`

	// Dir is the working directory. Build defaults to SrcDir, Run to
	// BuildDir then SrcDir.
	Dir string `yaml:"dir,omitempty" toml:"dir,omitempty" json:"dir,omitempty"`

	// Result is the directory Fetch or Build hands to later stages.
	// Defaults to Dir.
	Result string `yaml:"result,omitempty" toml:"result,omitempty" json:"result,omitempty"`

	// Timed bounds the Run command by the campaign duration.
	Timed bool `yaml:"timed,omitempty" toml:"timed,omitempty" json:"timed,omitempty"`
}

// Collect extracts result fields from the run output.
type Collect struct {
	// Source is "stdout" (default), "stderr", or a file of the artifact
	// directory.
	Source string `yaml:"source,omitempty" toml:"source,omitempty" json:"source,omitempty"`

	// Patterns maps a field to a regular expression. The first capture
	// group, or the whole match, becomes the value.
	Patterns map[string]string `yaml:"patterns,omitempty" toml:"patterns,omitempty" json:"patterns,omitempty"`

	// KeyValue reads "key=value" and "key: value" lines as fields.
	KeyValue bool `yaml:"key_value,omitempty" toml:"key_value,omitempty" json:"key_value,omitempty"`

	// JSON reads the source as a JSON object of fields.
	JSON bool `yaml:"json,omitempty" toml:"json,omitempty" json:"json,omitempty"`
}

// WrapperSpec names a registered wrapper type and its options.
type WrapperSpec struct {
	Type    string           `yaml:"type" toml:"type" json:"type"`
	Options wrappers.Options `yaml:"options,omitempty" toml:"options,omitempty" json:"options,omitempty"`
}

var funcs = template.FuncMap{
	"quote": func(v any) string { return execport.Quote(params.Format(v)) },
}

type compiledStep struct {
	manifest pipeline.Manifest
	command  *template.Template
	dir      *template.Template
	result   *template.Template
	timed    bool
}

type pattern struct {
	field string
	re    *regexp.Regexp
}

// Build compiles spec into a benchmark. Template and pattern errors are
// configuration errors.
func Build(spec Spec) (*pipeline.Benchmark, error) {
	if spec.Name == "" {
		return nil, params.Configf("shell benchmark without name")
	}
	if strings.TrimSpace(spec.Run.Command) == "" {
		return nil, params.Configf("benchmark %s: run command is required", spec.Name)
	}

	b := &pipeline.Benchmark{Name: spec.Name}

	if spec.Fetch != nil {
		step, err := compile(spec.Name, "fetch", *spec.Fetch)
		if err != nil {
			return nil, err
		}
		b.Fetch = &pipeline.FetchStep{Params: step.manifest, Func: step.fetch}
	}
	if spec.Build != nil {
		step, err := compile(spec.Name, "build", *spec.Build)
		if err != nil {
			return nil, err
		}
		b.Build = &pipeline.BuildStep{Params: step.manifest, Func: step.build}
	}

	run, err := compile(spec.Name, "run", spec.Run)
	if err != nil {
		return nil, err
	}
	b.Run = pipeline.RunStep{Params: run.manifest, Func: run.run}

	if spec.Collect != nil {
		collect, err := compileCollect(spec.Name, *spec.Collect)
		if err != nil {
			return nil, err
		}
		b.Collect = &pipeline.CollectStep{Func: collect}
	}

	for i, w := range spec.Wrappers {
		wrapper, err := wrappers.New(w.Type, w.Options)
		if err != nil {
			return nil, fmt.Errorf("benchmark %s: wrapper %d: %w", spec.Name, i, err)
		}
		b.Wrappers = append(b.Wrappers, wrapper)
	}
	return b, nil
}

func compile(bench, stage string, s Step) (*compiledStep, error) {
	parse := func(field, text string) (*template.Template, error) {
		if text == "" {
			return nil, nil
		}
		t, err := template.New(stage + "." + field).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, params.Configf("benchmark %s: %s %s: %v", bench, stage, field, err)
		}
		return t, nil
	}

	c := &compiledStep{timed: s.Timed}
	var err error
	if c.command, err = parse("command", s.Command); err != nil {
		return nil, err
	}
	if c.dir, err = parse("dir", s.Dir); err != nil {
		return nil, err
	}
	if c.result, err = parse("result", s.Result); err != nil {
		return nil, err
	}

	for _, name := range s.Params {
		c.manifest = append(c.manifest, pipeline.Required(name))
	}
	names := make([]string, 0, len(s.Defaults))
	for name := range s.Defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.manifest = append(c.manifest, pipeline.Optional(name, s.Defaults[name]))
	}
	return c, nil
}

type stageData map[string]any

func newData(args params.Record, rep int, recordDir string) stageData {
	d := make(stageData, args.Len()+4)
	for _, p := range args.Pairs() {
		d[p.Name] = p.Value
	}
	d["SrcDir"] = ""
	d["BuildDir"] = ""
	d["RecordDir"] = recordDir
	d["Rep"] = rep
	return d
}

func render(t *template.Template, data stageData) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// prepare renders the step into a shell command and its directories.
func (c *compiledStep) prepare(data stageData, defaultDir string) (execport.Command, string, error) {
	script, err := render(c.command, data)
	if err != nil {
		return execport.Command{}, "", err
	}
	dir, err := render(c.dir, data)
	if err != nil {
		return execport.Command{}, "", err
	}
	if dir == "" {
		dir = defaultDir
	}
	result, err := render(c.result, data)
	if err != nil {
		return execport.Command{}, "", err
	}
	if result == "" {
		result = dir
	}
	cmd := execport.Sh(script)
	cmd.Dir = dir
	return cmd, result, nil
}

func (c *compiledStep) fetch(ctx *pipeline.FetchContext) (*pipeline.FetchResult, error) {
	data := newData(ctx.Args(), ctx.Rep(), ctx.RecordDir())
	cmd, result, err := c.prepare(data, "")
	if err != nil {
		return nil, err
	}
	if len(cmd.Argv) > 0 && strings.TrimSpace(cmd.Argv[len(cmd.Argv)-1]) != "" {
		if _, err := ctx.Exec(cmd); err != nil {
			return nil, err
		}
	}
	return &pipeline.FetchResult{SrcDir: result}, nil
}

func (c *compiledStep) build(ctx *pipeline.BuildContext) (*pipeline.BuildResult, error) {
	data := newData(ctx.Args(), ctx.Rep(), ctx.RecordDir())
	data["SrcDir"] = ctx.Fetch().SrcDir
	cmd, result, err := c.prepare(data, ctx.Fetch().SrcDir)
	if err != nil {
		return nil, err
	}
	if len(cmd.Argv) > 0 && strings.TrimSpace(cmd.Argv[len(cmd.Argv)-1]) != "" {
		if _, err := ctx.Exec(cmd); err != nil {
			return nil, err
		}
	}
	return &pipeline.BuildResult{BuildDir: result}, nil
}

func (c *compiledStep) run(ctx *pipeline.RunContext) (*pipeline.RunResult, error) {
	data := newData(ctx.Args(), ctx.Rep(), ctx.RecordDir())
	data["SrcDir"] = ctx.Fetch().SrcDir
	data["BuildDir"] = ctx.Build().BuildDir
	dir := ctx.Build().BuildDir
	if dir == "" {
		dir = ctx.Fetch().SrcDir
	}
	cmd, _, err := c.prepare(data, dir)
	if err != nil {
		return nil, err
	}

	var out *execport.Output
	if c.timed {
		out, err = ctx.RunFor(cmd)
	} else {
		out, err = ctx.Exec(cmd)
	}
	if out != nil && ctx.RecordDir() != "" {
		if werr := ctx.WriteFile("cmd_stdout.txt", []byte(out.Stdout)); werr != nil {
			ctx.Logger().Printf("Warning: failed to save stdout: %v", werr)
		}
		if werr := ctx.WriteFile("cmd_stderr.txt", []byte(out.Stderr)); werr != nil {
			ctx.Logger().Printf("Warning: failed to save stderr: %v", werr)
		}
	}
	if err != nil {
		return nil, err
	}
	return &pipeline.RunResult{Outputs: []*execport.Output{out}}, nil
}

func compileCollect(bench string, spec Collect) (pipeline.CollectFunc, error) {
	if len(spec.Patterns) == 0 && !spec.KeyValue && !spec.JSON {
		return nil, params.Configf("benchmark %s: collect needs patterns, key_value or json", bench)
	}

	fields := make([]string, 0, len(spec.Patterns))
	for field := range spec.Patterns {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	patterns := make([]pattern, 0, len(fields))
	for _, field := range fields {
		re, err := regexp.Compile(spec.Patterns[field])
		if err != nil {
			return nil, params.Configf("benchmark %s: pattern for %s: %v", bench, field, err)
		}
		patterns = append(patterns, pattern{field: field, re: re})
	}

	return func(ctx *pipeline.CollectContext) (pipeline.RecordResult, error) {
		text, err := source(ctx, spec.Source)
		if err != nil {
			return nil, err
		}

		result := pipeline.RecordResult{}
		if spec.JSON {
			var obj map[string]any
			if err := json.Unmarshal([]byte(text), &obj); err != nil {
				return nil, fmt.Errorf("decode %s as JSON: %w", sourceName(spec.Source), err)
			}
			for k, v := range obj {
				result[k] = v
			}
		}
		if spec.KeyValue {
			for k, v := range parseFields(text) {
				result[k] = Number(v)
			}
		}
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(text)
			if m == nil {
				return nil, fmt.Errorf("pattern for %s did not match %s", p.field, sourceName(spec.Source))
			}
			value := m[0]
			if len(m) > 1 {
				value = m[1]
			}
			result[p.field] = Number(value)
		}
		return result, nil
	}, nil
}

func sourceName(s string) string {
	if s == "" {
		return "stdout"
	}
	return s
}

func source(ctx *pipeline.CollectContext, name string) (string, error) {
	switch name {
	case "", "stdout", "stderr":
		out := ctx.Output()
		if out == nil {
			return "", fmt.Errorf("run produced no output")
		}
		if name == "stderr" {
			return out.Stderr, nil
		}
		return out.Stdout, nil
	default:
		path, err := ctx.RecordPath(name)
		if err != nil {
			return "", fmt.Errorf("collect from %s: %w", name, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("collect from %s: %w", name, err)
		}
		return string(data), nil
	}
}

// parseFields reads "key=value" and "key: value" lines. Other lines are
// ignored.
func parseFields(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range execport.ParseLines([]byte(text)) {
		i := strings.IndexAny(line, "=:")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		if strings.ContainsAny(key, " \t") {
			continue
		}
		out[key] = strings.TrimSpace(line[i+1:])
	}
	return out
}

// Number returns s as an int64 or float64 when it parses as one, else
// the trimmed string.
func Number(s string) any {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
