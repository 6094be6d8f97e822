package pipeline

import (
	"errors"
	"testing"

	"github.com/steveyegge/campaign/internal/params"
)

func TestManifestResolvePrecedence(t *testing.T) {
	m := Manifest{Required("threads"), Required("size"), Optional("warmup", 2), Optional("threads_default", 1)}
	record := rec("threads", 8, "impl", "a")
	constants := rec("size", 64, "warmup", 5)

	args, defaults, err := m.Resolve(record, constants)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := args.String(); got != "{threads: 8, size: 64, warmup: 5, threads_default: 1}" {
		t.Errorf("args = %s", got)
	}
	if args.Has("impl") {
		t.Error("undeclared variable must not be passed")
	}
	if got := defaults.String(); got != "{threads_default: 1}" {
		t.Errorf("defaults = %s", got)
	}

	if _, _, err := Params("missing").Resolve(record, constants); err == nil {
		t.Error("expected error for missing parameter")
	}
}

func TestBenchmarkValidate(t *testing.T) {
	run := RunStep{Params: Params("threads"), Func: func(*RunContext) (*RunResult, error) { return nil, nil }}

	ok := &Benchmark{Name: "ok", Run: run}
	if err := ok.Validate([]string{"threads"}, nil); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := ok.Validate(nil, []string{"threads"}); err != nil {
		t.Errorf("constant should satisfy the manifest: %v", err)
	}
	if err := ok.Validate([]string{"impl"}, nil); !errors.Is(err, params.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}

	noRun := &Benchmark{Name: "norun"}
	if err := noRun.Validate(nil, nil); !errors.Is(err, params.ErrConfiguration) {
		t.Errorf("expected configuration error for missing run, got %v", err)
	}

	withDefault := &Benchmark{Name: "def", Run: RunStep{
		Params: Manifest{Optional("threads", 1)},
		Func:   run.Func,
	}}
	if err := withDefault.Validate(nil, nil); err != nil {
		t.Errorf("parameter with default should validate: %v", err)
	}
}

func TestAttrsAppendOnly(t *testing.T) {
	var a Attrs
	if err := a.Set("k", 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := a.Set("k", 2); !errors.Is(err, ErrAttrExists) {
		t.Errorf("expected ErrAttrExists, got %v", err)
	}
	if v, _ := a.Get("k"); v != 1 {
		t.Errorf("Get(k) = %v, want 1", v)
	}
	_ = a.Set("j", "x")
	if keys := a.Keys(); len(keys) != 2 || keys[0] != "k" || keys[1] != "j" {
		t.Errorf("Keys() = %v", keys)
	}
}
