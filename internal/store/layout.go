package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/campaign/internal/params"
)

// ResultsJSON is the file every run writes into its artifact directory.
const ResultsJSON = "experiment_results.json"

const timestampLayout = "20060102_150405"

// ResultName returns "<name>_<host>_<UTC timestamp>.csv".
func ResultName(name, host string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", sanitize(name), sanitize(host), at.UTC().Format(timestampLayout))
}

// ResultPath picks the result stream of a campaign inside dir. When
// continuing, the most recent existing stream of the same campaign and host
// is reused; otherwise a new timestamped name is returned.
func ResultPath(dir, name, host string, at time.Time, continuing bool) (string, error) {
	if continuing {
		latest, ok, err := LatestResult(dir, name, host)
		if err != nil {
			return "", err
		}
		if ok {
			return latest, nil
		}
	}
	return filepath.Join(dir, ResultName(name, host, at)), nil
}

// LatestResult returns the most recent "<name>_<host>_*.csv" stream in dir.
func LatestResult(dir, name, host string) (string, bool, error) {
	prefix := sanitize(name) + "_" + sanitize(host) + "_"
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.csv"))
	if err != nil {
		return "", false, fmt.Errorf("failed to list result files: %w", err)
	}

	var candidates []string
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".csv")
		if _, err := time.Parse(timestampLayout, stamp); err == nil {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	// Timestamps sort lexicographically.
	sort.Strings(candidates)
	return candidates[len(candidates)-1], true, nil
}

// ArtifactDir returns the per-run directory of (record, rep) next to the
// result stream: "<stream without .csv>/<var>-<value>/.../run-<NN>", the
// repetition zero-padded to the width of nbRuns.
func ArtifactDir(resultPath string, record params.Record, rep, nbRuns int) string {
	parts := []string{strings.TrimSuffix(resultPath, filepath.Ext(resultPath))}
	for _, p := range record.Pairs() {
		parts = append(parts, sanitize(p.Name)+"-"+sanitize(params.Format(p.Value)))
	}
	width := len(strconv.Itoa(nbRuns))
	parts = append(parts, fmt.Sprintf("run-%0*d", width, rep))
	return filepath.Join(parts...)
}

// WriteResultsJSON writes v, indented, to dir/experiment_results.json.
func WriteResultsJSON(dir string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, ResultsJSON)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// sanitize makes s usable as a single path element.
func sanitize(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '\t', '\n', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
