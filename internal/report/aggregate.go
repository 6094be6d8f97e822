// Package report summarizes result streams.
//
// Rows are grouped by point (every column before "rep") and each numeric
// field is reduced to mean, standard deviation, min, max and median over
// the repetitions. Reports render as a terminal table, markdown, JSON or
// a bar graph of one field.
package report

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/steveyegge/campaign/internal/store"
)

// Stats summarizes the values of one field for one point.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// ComputeStats calculates statistics from raw values. StdDev is the sample
// standard deviation, 0 for a single value.
func ComputeStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	mean := sum / float64(n)

	var stddev float64
	if n > 1 {
		var sq float64
		for _, v := range sorted {
			sq += (v - mean) * (v - mean)
		}
		stddev = math.Sqrt(sq / float64(n-1))
	}

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return Stats{
		Count:  n,
		Mean:   mean,
		StdDev: stddev,
		Min:    sorted[0],
		Median: median,
		Max:    sorted[n-1],
	}
}

// Group is one point of the parameter space with its aggregated fields.
type Group struct {
	Point  []string         `json:"point"`
	Runs   int              `json:"runs"`
	Fields map[string]Stats `json:"fields"`
}

// Report is an aggregated result stream.
type Report struct {
	Name   string       `json:"name,omitempty"`
	Meta   []store.Meta `json:"meta,omitempty"`
	Points []string     `json:"point_columns"`
	Fields []string     `json:"fields"`
	Groups []Group      `json:"groups"`
}

// Aggregate groups the rows of t by point, in first-seen order. Fields
// with no numeric value in the whole table are left out; empty cells are
// skipped.
func Aggregate(t *store.Table) (*Report, error) {
	rep := t.Column(store.RepColumn)
	if rep < 0 {
		return nil, fmt.Errorf("%w: no %q column", store.ErrMalformed, store.RepColumn)
	}

	r := &Report{
		Meta:   t.Meta,
		Points: append([]string(nil), t.Header[:rep]...),
	}
	if name, ok := t.MetaValue("benchmark_campaign_name"); ok {
		r.Name = name
	}
	fieldCols := t.Header[rep+1:]

	type acc struct {
		point  []string
		runs   int
		values map[string][]float64
	}
	var (
		order  []string
		groups = make(map[string]*acc)
		seen   = make(map[string]bool)
	)
	for _, row := range t.Rows {
		point := make([]string, rep)
		for i := range point {
			if i < len(row) {
				point[i] = row[i]
			}
		}
		key := strings.Join(point, "\x00")
		g, ok := groups[key]
		if !ok {
			g = &acc{point: point, values: make(map[string][]float64)}
			groups[key] = g
			order = append(order, key)
		}
		g.runs++

		for j, name := range fieldCols {
			col := rep + 1 + j
			if col >= len(row) || row[col] == "" {
				continue
			}
			v, err := strconv.ParseFloat(row[col], 64)
			if err != nil {
				continue
			}
			g.values[name] = append(g.values[name], v)
			seen[name] = true
		}
	}

	for _, name := range fieldCols {
		if seen[name] {
			r.Fields = append(r.Fields, name)
		}
	}
	for _, key := range order {
		g := groups[key]
		out := Group{Point: g.point, Runs: g.runs, Fields: make(map[string]Stats, len(g.values))}
		for name, values := range g.values {
			out.Fields[name] = ComputeStats(values)
		}
		r.Groups = append(r.Groups, out)
	}
	return r, nil
}

// Load reads and aggregates a result stream.
func Load(path string) (*Report, error) {
	t, err := store.ReadCSV(path)
	if err != nil {
		return nil, err
	}
	r, err := Aggregate(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}
