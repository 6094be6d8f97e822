// Package params generates the parameter space of a campaign: the ordered,
// immutable sequence of records a benchmark is executed against.
//
// Two strategies are supported:
//
//   - Cartesian: every combination of the declared variable domains. The
//     first declared variable varies slowest, the last one fastest.
//   - Explicit: a verbatim list of assignments, each covering the same
//     variable names.
//
// Enumeration order is a pure function of the inputs, which is what lets a
// resumed campaign re-enumerate the identical sequence after a restart.
package params

import (
	"fmt"
	"sort"
	"strings"
)

// Strategy selects how a Space is generated.
type Strategy int

const (
	// StrategyCartesian takes the cartesian product of all variable domains.
	StrategyCartesian Strategy = iota

	// StrategyExplicit uses the supplied list of records verbatim.
	StrategyExplicit
)

// String returns the strategy name used in campaign definition files.
func (s Strategy) String() string {
	switch s {
	case StrategyCartesian:
		return "cartesian"
	case StrategyExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a strategy name. An empty name means cartesian.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cartesian", "product":
		return StrategyCartesian, nil
	case "explicit", "list":
		return StrategyExplicit, nil
	default:
		return 0, Configf("unknown strategy %q", name)
	}
}

// Variable is a named domain of values.
type Variable struct {
	Name   string
	Values []Value
}

// Space is the ordered sequence of records of a campaign.
// It is never mutated after construction.
type Space struct {
	names   []string
	records []Record
}

// Build generates a space using the given strategy. Cartesian uses vars,
// explicit uses entries.
func Build(strategy Strategy, vars []Variable, entries []map[string]Value) (*Space, error) {
	switch strategy {
	case StrategyCartesian:
		return Cartesian(vars...)
	case StrategyExplicit:
		return Explicit(entries)
	default:
		return nil, Configf("unknown strategy %d", strategy)
	}
}

// Cartesian returns the product of all variable domains. With no variables
// the space holds a single empty record.
func Cartesian(vars ...Variable) (*Space, error) {
	names := make([]string, 0, len(vars))
	seen := make(map[string]bool, len(vars))
	total := 1
	for _, v := range vars {
		if v.Name == "" {
			return nil, Configf("variable with empty name")
		}
		if seen[v.Name] {
			return nil, &ConfigurationError{Index: -1, Variable: v.Name, Reason: "declared twice"}
		}
		if len(v.Values) == 0 {
			return nil, &ConfigurationError{Index: -1, Variable: v.Name, Reason: "empty domain"}
		}
		seen[v.Name] = true
		names = append(names, v.Name)
		total *= len(v.Values)
	}

	records := make([]Record, 0, total)
	idx := make([]int, len(vars))
	for {
		pairs := make([]Pair, len(vars))
		for i, v := range vars {
			pairs[i] = Pair{Name: v.Name, Value: v.Values[idx[i]]}
		}
		records = append(records, NewRecord(pairs...))

		// Odometer increment: last variable is the fastest digit.
		i := len(vars) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(vars[i].Values) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			break
		}
	}

	return &Space{names: names, records: records}, nil
}

// Explicit returns a space made of the given assignments in order. Every
// entry must declare the same variable names as the first one.
func Explicit(entries []map[string]Value) (*Space, error) {
	if len(entries) == 0 {
		return nil, Configf("explicit strategy requires at least one record")
	}

	names := sortedKeys(entries[0])
	records := make([]Record, 0, len(entries))
	for i, entry := range entries {
		got := sortedKeys(entry)
		if missing, extra := diffNames(names, got); len(missing) > 0 || len(extra) > 0 {
			var reasons []string
			if len(missing) > 0 {
				reasons = append(reasons, "missing "+strings.Join(missing, ", "))
			}
			if len(extra) > 0 {
				reasons = append(reasons, "unexpected "+strings.Join(extra, ", "))
			}
			return nil, &ConfigurationError{
				Index:  i,
				Reason: fmt.Sprintf("variable names differ from record 0: %s", strings.Join(reasons, "; ")),
			}
		}
		pairs := make([]Pair, len(names))
		for j, name := range names {
			pairs[j] = Pair{Name: name, Value: entry[name]}
		}
		records = append(records, NewRecord(pairs...))
	}

	return &Space{names: names, records: records}, nil
}

// Len returns the number of records.
func (s *Space) Len() int {
	return len(s.records)
}

// Names returns the variable names every record declares.
func (s *Space) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// At returns the i-th record.
func (s *Space) At(i int) Record {
	return s.records[i]
}

// Records returns the records in enumeration order.
func (s *Space) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// diffNames compares two sorted name lists.
func diffNames(want, got []string) (missing, extra []string) {
	i, j := 0, 0
	for i < len(want) || j < len(got) {
		switch {
		case j >= len(got) || (i < len(want) && want[i] < got[j]):
			missing = append(missing, want[i])
			i++
		case i >= len(want) || got[j] < want[i]:
			extra = append(extra, got[j])
			j++
		default:
			i++
			j++
		}
	}
	return missing, extra
}
