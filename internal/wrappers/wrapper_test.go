package wrappers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
)

func TestChainOrderIsSignificant(t *testing.T) {
	a := &Prefix{Label: "A", Argv: []string{"a-bin", "--a"}}
	b := &Prefix{Label: "B", Argv: []string{"b-bin"}}
	orig := execport.Command{Argv: []string{"./bench", "-n", "1"}}

	ab, err := Chain{a, b}.Wrap(context.Background(), orig, Invocation{})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	want := []string{"a-bin", "--a", "b-bin", "./bench", "-n", "1"}
	if diff := cmp.Diff(want, ab.Argv); diff != "" {
		t.Errorf("A then B mismatch (-want +got):\n%s", diff)
	}

	ba, err := Chain{b, a}.Wrap(context.Background(), orig, Invocation{})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	want = []string{"b-bin", "a-bin", "--a", "./bench", "-n", "1"}
	if diff := cmp.Diff(want, ba.Argv); diff != "" {
		t.Errorf("B then A mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"./bench", "-n", "1"}, orig.Argv); diff != "" {
		t.Errorf("original command modified (-want +got):\n%s", diff)
	}
}

func TestEmptyChain(t *testing.T) {
	cmd := execport.Command{Argv: []string{"true"}, Env: map[string]string{"K": "V"}}
	got, err := Chain(nil).Wrap(context.Background(), cmd, Invocation{})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if diff := cmp.Diff(cmd, got); diff != "" {
		t.Errorf("empty chain changed the command (-want +got):\n%s", diff)
	}
}

func TestTasksetFromVariable(t *testing.T) {
	w := &Taskset{Variable: "cpus"}
	inv := Invocation{Params: params.NewRecord(params.Pair{Name: "cpus", Value: "0-3"})}
	got, err := w.Wrap(context.Background(), execport.Command{Argv: []string{"./bench"}}, inv)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if diff := cmp.Diff([]string{"taskset", "--cpu-list", "0-3", "./bench"}, got.Argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}

	_, err = w.Wrap(context.Background(), execport.Command{Argv: []string{"./bench"}}, Invocation{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing variable should be ErrUnavailable, got %v", err)
	}
}

func TestEnvWrapperMovesEnvironmentToArgv(t *testing.T) {
	w := &Env{Vars: map[string]string{"OMP_NUM_THREADS": "4"}}
	cmd := execport.Command{Argv: []string{"./bench"}, Env: map[string]string{"A": "1"}}
	got, err := Chain{&Prefix{Argv: []string{"sudo"}}, w}.Wrap(context.Background(), cmd, Invocation{})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	want := []string{"sudo", "env", "A=1", "OMP_NUM_THREADS=4", "./bench"}
	if diff := cmp.Diff(want, got.Argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	if len(got.Env) != 0 {
		t.Errorf("Env = %v, want empty", got.Env)
	}
}

func TestPreloadAppends(t *testing.T) {
	cmd := execport.Command{Argv: []string{"./bench"}, Env: map[string]string{"LD_PRELOAD": "/lib/a.so"}}
	got, err := (&Preload{Libs: []string{"/lib/b.so", "/lib/c.so"}}).Wrap(context.Background(), cmd, Invocation{})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if got.Env["LD_PRELOAD"] != "/lib/a.so:/lib/b.so:/lib/c.so" {
		t.Errorf("LD_PRELOAD = %q", got.Env["LD_PRELOAD"])
	}
	if cmd.Env["LD_PRELOAD"] != "/lib/a.so" {
		t.Error("input command environment modified")
	}
}

func TestNumactlArgs(t *testing.T) {
	w, err := New("numactl", Options{"cpunodebind": 0, "interleave": []any{0, 1}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := w.Wrap(context.Background(), execport.Command{Argv: []string{"x"}}, Invocation{})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	want := []string{"numactl", "--cpunodebind=0", "--interleave=0,1", "x"}
	if diff := cmp.Diff(want, got.Argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
}

func TestNiceRange(t *testing.T) {
	if _, err := New("nice", Options{"value": 40}); !errors.Is(err, params.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	w, err := New("nice", Options{"value": 5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, _ := w.Wrap(context.Background(), execport.Command{Argv: []string{"x"}}, Invocation{})
	if diff := cmp.Diff([]string{"nice", "-n", "5", "x"}, got.Argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
}

func TestUnavailableBinary(t *testing.T) {
	w := &Prefix{Argv: []string{"bk-no-such-profiler"}}
	inv := Invocation{Port: execport.NewLocal()}
	_, err := Chain{w}.Wrap(context.Background(), execport.Command{Argv: []string{"true"}}, inv)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) || unavailable.Wrapper != "bk-no-such-profiler" {
		t.Errorf("error should name the wrapper: %v", err)
	}
}

func TestPerfStatNeedsRecordDir(t *testing.T) {
	_, err := (&PerfStat{}).Wrap(context.Background(), execport.Command{Argv: []string{"x"}}, Invocation{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	got, err := (&PerfStat{Events: []string{"cycles", "instructions"}}).Wrap(
		context.Background(), execport.Command{Argv: []string{"x"}}, Invocation{RecordDir: "/r"})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	want := []string{"perf", "stat", "-x", ";", "-e", "cycles,instructions", "--output", "/r/perf-stat.txt", "x"}
	if diff := cmp.Diff(want, got.Argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	if got.Env["LC_ALL"] != "C" {
		t.Errorf("LC_ALL = %q", got.Env["LC_ALL"])
	}
}

func TestPerfStatCollect(t *testing.T) {
	dir := t.TempDir()
	out := "# started on Mon Jan  1 00:00:00 2024\n\n" +
		"12.50;msec;task-clock;12500000;100.00;0.98;CPUs utilized\n" +
		"123456789;;cycles;12000000;96.00;;\n" +
		"<not counted>;;cpu/branch-misses/;0;0.00;;\n"
	if err := os.WriteFile(filepath.Join(dir, "perf-stat.txt"), []byte(out), 0o644); err != nil {
		t.Fatal(err)
	}

	var col Collector = &PerfStat{}
	got, err := col.Collect(context.Background(), dir)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	want := map[string]any{
		"perf-stat/task-clock":            12.5,
		"perf-stat/task-clock.unit":       "msec",
		"perf-stat/task-clock.rt":         int64(12500000),
		"perf-stat/task-clock.cov":        100.0,
		"perf-stat/cycles":                int64(123456789),
		"perf-stat/cycles.rt":             int64(12000000),
		"perf-stat/cycles.cov":            96.0,
		"perf-stat/cpu/branch-misses":     "<not counted>",
		"perf-stat/cpu/branch-misses.rt":  int64(0),
		"perf-stat/cpu/branch-misses.cov": 0.0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Collect() mismatch (-want +got):\n%s", diff)
	}
}

func TestStraceSummary(t *testing.T) {
	summary := `% time     seconds  usecs/call     calls    errors syscall
------ ----------- ----------- --------- --------- ----------------
 62.50    0.000050          25         2           read
 37.50    0.000030          10         3         1 openat
------ ----------- ----------- --------- --------- ----------------
100.00    0.000080                     5         1 total
`
	got := parseStraceSummary([]byte(summary))
	want := map[string]any{
		"strace/read.calls":    int64(2),
		"strace/openat.calls":  int64(3),
		"strace/total.seconds": 0.00008,
		"strace/total.calls":   int64(5),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseStraceSummary() mismatch (-want +got):\n%s", diff)
	}
}

func TestChainCollectors(t *testing.T) {
	chain := Chain{&Taskset{CPUList: "0"}, &PerfStat{}, &Strace{Summary: true}}
	cols := chain.Collectors()
	if len(cols) != 2 || cols[0].Name() != "perf-stat" || cols[1].Name() != "strace" {
		t.Errorf("Collectors() = %v", cols)
	}
	if diff := cmp.Diff([]string{"taskset", "perf-stat", "strace"}, chain.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry(t *testing.T) {
	for _, kind := range []string{"prefix", "taskset", "numactl", "nice", "env", "preload", "perf-stat", "strace"} {
		if !IsRegistered(kind) {
			t.Errorf("%s not registered", kind)
		}
	}
	if _, err := New("valgrind-magic", nil); !errors.Is(err, params.ErrConfiguration) {
		t.Errorf("unknown type should be a configuration error, got %v", err)
	}
	if _, err := New("taskset", Options{}); !errors.Is(err, params.ErrConfiguration) {
		t.Errorf("taskset without cpus should fail, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("registering a type twice should panic")
		}
	}()
	Register("prefix", newPrefix)
}
