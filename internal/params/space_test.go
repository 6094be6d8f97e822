package params

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestCartesianSizeAndNames(t *testing.T) {
	tests := []struct {
		name string
		vars []Variable
		want int
	}{
		{"no variables", nil, 1},
		{"single", []Variable{{Name: "a", Values: []Value{1, 2, 3}}}, 3},
		{"two", []Variable{
			{Name: "threads", Values: []Value{1, 2}},
			{Name: "impl", Values: []Value{"a", "b"}},
		}, 4},
		{"three", []Variable{
			{Name: "x", Values: []Value{1, 2}},
			{Name: "y", Values: []Value{"p", "q", "r"}},
			{Name: "z", Values: []Value{true, false, 0.5, "s"}},
		}, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space, err := Cartesian(tt.vars...)
			if err != nil {
				t.Fatalf("Cartesian() error = %v", err)
			}
			if space.Len() != tt.want {
				t.Fatalf("Len() = %d, want %d", space.Len(), tt.want)
			}

			var wantNames []string
			for _, v := range tt.vars {
				wantNames = append(wantNames, v.Name)
			}
			seen := make(map[string]bool)
			for i, rec := range space.Records() {
				if diff := cmp.Diff(wantNames, rec.Names(), cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("record %d names mismatch (-want +got):\n%s", i, diff)
				}
				if seen[rec.Key()] {
					t.Errorf("record %d duplicated: %s", i, rec)
				}
				seen[rec.Key()] = true
			}
		})
	}
}

func TestCartesianOrderFirstVariableSlowest(t *testing.T) {
	space, err := Cartesian(
		Variable{Name: "threads", Values: []Value{1, 2}},
		Variable{Name: "impl", Values: []Value{"a", "b"}},
	)
	if err != nil {
		t.Fatalf("Cartesian() error = %v", err)
	}

	var got []string
	for _, rec := range space.Records() {
		got = append(got, rec.String())
	}
	want := []string{
		"{threads: 1, impl: a}",
		"{threads: 1, impl: b}",
		"{threads: 2, impl: a}",
		"{threads: 2, impl: b}",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("enumeration order mismatch (-want +got):\n%s", diff)
	}

	again, _ := Cartesian(
		Variable{Name: "threads", Values: []Value{1, 2}},
		Variable{Name: "impl", Values: []Value{"a", "b"}},
	)
	for i := range space.Records() {
		if !space.At(i).Equal(again.At(i)) {
			t.Errorf("record %d differs between identical builds", i)
		}
	}
}

func TestCartesianEmptyDomain(t *testing.T) {
	_, err := Cartesian(
		Variable{Name: "threads", Values: []Value{1}},
		Variable{Name: "impl", Values: nil},
	)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Variable != "impl" {
		t.Errorf("expected error naming impl, got %v", err)
	}
}

func TestCartesianDuplicateName(t *testing.T) {
	_, err := Cartesian(
		Variable{Name: "a", Values: []Value{1}},
		Variable{Name: "a", Values: []Value{2}},
	)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestExplicit(t *testing.T) {
	space, err := Explicit([]map[string]Value{
		{"threads": 4, "impl": "b"},
		{"impl": "a", "threads": 1},
	})
	if err != nil {
		t.Fatalf("Explicit() error = %v", err)
	}
	if space.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", space.Len())
	}
	if got := space.At(0).String(); got != "{impl: b, threads: 4}" {
		t.Errorf("At(0) = %s", got)
	}
	if diff := cmp.Diff([]string{"impl", "threads"}, space.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestExplicitMismatchedNames(t *testing.T) {
	tests := []struct {
		name    string
		entries []map[string]Value
		index   int
	}{
		{"missing", []map[string]Value{
			{"a": 1, "b": 2},
			{"a": 1, "b": 3},
			{"a": 1},
		}, 2},
		{"extra", []map[string]Value{
			{"a": 1},
			{"a": 2, "c": 3},
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Explicit(tt.entries)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Index != tt.index {
				t.Errorf("Index = %d, want %d", cfgErr.Index, tt.index)
			}
		})
	}
}

func TestExplicitEmpty(t *testing.T) {
	if _, err := Explicit(nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"":          StrategyCartesian,
		"cartesian": StrategyCartesian,
		"Explicit":  StrategyExplicit,
		"list":      StrategyExplicit,
	} {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseStrategy("random"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for unknown strategy, got %v", err)
	}
}
