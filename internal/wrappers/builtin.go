package wrappers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/campaign/internal/execport"
)

func init() {
	Register("prefix", newPrefix)
	Register("taskset", newTaskset)
	Register("numactl", newNumactl)
	Register("nice", newNice)
	Register("env", newEnv)
	Register("preload", newPreload)
	Register("perf-stat", newPerfStat)
	Register("strace", newStrace)
}

// Prefix prepends a fixed argv, e.g. ["sudo"] or ["chrt", "-f", "99"].
type Prefix struct {
	Label string
	Argv  []string
}

func newPrefix(opts Options) (Wrapper, error) {
	argv := opts.Strings("argv")
	if len(argv) == 0 {
		return nil, fmt.Errorf("argv is required")
	}
	return &Prefix{Label: opts.String("name", ""), Argv: argv}, nil
}

func (p *Prefix) Name() string {
	if p.Label != "" {
		return p.Label
	}
	if len(p.Argv) > 0 {
		return p.Argv[0]
	}
	return "prefix"
}

func (p *Prefix) Wrap(ctx context.Context, cmd execport.Command, inv Invocation) (execport.Command, error) {
	if len(p.Argv) == 0 {
		return cmd, nil
	}
	if err := requireBinary(ctx, p.Name(), inv, p.Argv[0]); err != nil {
		return cmd, err
	}
	return prepend(cmd, p.Argv...), nil
}

// Taskset pins the command to a CPU list. The list is either fixed or read
// from a record variable (e.g. a variable "cpus" with values "0", "0-3").
type Taskset struct {
	CPUList  string
	Variable string
}

func newTaskset(opts Options) (Wrapper, error) {
	t := &Taskset{
		CPUList:  opts.String("cpus", ""),
		Variable: opts.String("variable", ""),
	}
	if t.CPUList == "" && t.Variable == "" {
		return nil, fmt.Errorf("one of cpus or variable is required")
	}
	return t, nil
}

func (t *Taskset) Name() string { return "taskset" }

func (t *Taskset) Wrap(ctx context.Context, cmd execport.Command, inv Invocation) (execport.Command, error) {
	cpus := t.CPUList
	if t.Variable != "" {
		if !inv.Params.Has(t.Variable) {
			return cmd, &UnavailableError{Wrapper: t.Name(), Reason: fmt.Sprintf("variable %q is not set", t.Variable)}
		}
		cpus = inv.Params.Str(t.Variable)
	}
	cpus = strings.Trim(strings.ReplaceAll(cpus, " ", ""), "[]")
	if err := requireBinary(ctx, t.Name(), inv, "taskset"); err != nil {
		return cmd, err
	}
	return prepend(cmd, "taskset", "--cpu-list", cpus), nil
}

// Numactl controls NUMA placement of the command's threads and memory.
type Numactl struct {
	CPUNodes   string // --cpunodebind
	PhysCPUs   string // --physcpubind
	Membind    string // --membind
	Interleave string // --interleave
	LocalAlloc bool   // --localalloc
}

func newNumactl(opts Options) (Wrapper, error) {
	local, err := opts.Bool("localalloc", false)
	if err != nil {
		return nil, err
	}
	n := &Numactl{
		CPUNodes:   strings.Join(opts.Strings("cpunodebind"), ","),
		PhysCPUs:   strings.Join(opts.Strings("physcpubind"), ","),
		Membind:    strings.Join(opts.Strings("membind"), ","),
		Interleave: strings.Join(opts.Strings("interleave"), ","),
		LocalAlloc: local,
	}
	if n.LocalAlloc && n.Membind != "" {
		return nil, fmt.Errorf("localalloc and membind are mutually exclusive")
	}
	return n, nil
}

func (n *Numactl) Name() string { return "numactl" }

// Args returns the numactl options.
func (n *Numactl) Args() []string {
	var args []string
	if n.CPUNodes != "" {
		args = append(args, "--cpunodebind="+n.CPUNodes)
	}
	if n.PhysCPUs != "" {
		args = append(args, "--physcpubind="+n.PhysCPUs)
	}
	if n.Membind != "" {
		args = append(args, "--membind="+n.Membind)
	}
	if n.LocalAlloc {
		args = append(args, "--localalloc")
	}
	if n.Interleave != "" {
		args = append(args, "--interleave="+n.Interleave)
	}
	return args
}

func (n *Numactl) Wrap(ctx context.Context, cmd execport.Command, inv Invocation) (execport.Command, error) {
	if err := requireBinary(ctx, n.Name(), inv, "numactl"); err != nil {
		return cmd, err
	}
	return prepend(cmd, append([]string{"numactl"}, n.Args()...)...), nil
}

// Nice runs the command with an adjusted scheduling priority. Negative
// values usually need Prefix ["sudo"].
type Nice struct {
	Value  int
	Prefix []string
}

func newNice(opts Options) (Wrapper, error) {
	v, err := opts.Int("value", 0)
	if err != nil {
		return nil, err
	}
	if v < -20 || v > 19 {
		return nil, fmt.Errorf("niceness %d out of range [-20, 19]", v)
	}
	return &Nice{Value: v, Prefix: opts.Strings("prefix")}, nil
}

func (n *Nice) Name() string { return "nice" }

func (n *Nice) Wrap(ctx context.Context, cmd execport.Command, inv Invocation) (execport.Command, error) {
	if err := requireBinary(ctx, n.Name(), inv, "nice"); err != nil {
		return cmd, err
	}
	prefix := append(append([]string(nil), n.Prefix...), "nice", "-n", strconv.Itoa(n.Value))
	return prepend(cmd, prefix...), nil
}

// Env moves the command environment, plus Vars, onto the argv as
// "env K=V ... cmd". The wrapped command carries no environment of its
// own, which keeps it intact through later prefixes such as sudo.
type Env struct {
	Vars map[string]string
}

func newEnv(opts Options) (Wrapper, error) {
	return &Env{Vars: opts.StringMap("vars")}, nil
}

func (e *Env) Name() string { return "env" }

func (e *Env) Wrap(_ context.Context, cmd execport.Command, _ Invocation) (execport.Command, error) {
	merged := execport.Command{Env: make(map[string]string, len(cmd.Env)+len(e.Vars))}
	for k, v := range cmd.Env {
		merged.Env[k] = v
	}
	for k, v := range e.Vars {
		merged.Env[k] = v
	}

	cmd = prepend(cmd, append([]string{"env"}, merged.EnvList()...)...)
	cmd.Env = nil
	return cmd, nil
}

// Preload adds shared libraries to LD_PRELOAD, keeping any libraries the
// command already preloads.
type Preload struct {
	Libs []string
}

func newPreload(opts Options) (Wrapper, error) {
	libs := opts.Strings("libs")
	if len(libs) == 0 {
		return nil, fmt.Errorf("libs is required")
	}
	return &Preload{Libs: libs}, nil
}

func (p *Preload) Name() string { return "preload" }

func (p *Preload) Wrap(_ context.Context, cmd execport.Command, _ Invocation) (execport.Command, error) {
	cmd = cmd.Clone()
	if cmd.Env == nil {
		cmd.Env = make(map[string]string)
	}
	libs := strings.Join(p.Libs, ":")
	if existing := cmd.Env["LD_PRELOAD"]; existing != "" {
		libs = existing + ":" + libs
	}
	cmd.Env["LD_PRELOAD"] = libs
	return cmd, nil
}
