package wrappers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/steveyegge/campaign/internal/execport"
)

const perfStatSeparator = ";"

// PerfStat runs the command under "perf stat" and folds the counters into
// the result as "perf-stat/<event>" fields, with ".unit", ".rt" and ".cov"
// companions when perf reports them.
type PerfStat struct {
	Perf   string   // perf binary, "perf" by default
	Events []string // -e list; perf's default set when empty
	Output string   // file name inside the record directory
}

func newPerfStat(opts Options) (Wrapper, error) {
	return &PerfStat{
		Perf:   opts.String("perf", "perf"),
		Events: opts.Strings("events"),
		Output: opts.String("output", "perf-stat.txt"),
	}, nil
}

func (p *PerfStat) Name() string { return "perf-stat" }

func (p *PerfStat) output() string {
	if p.Output == "" {
		return "perf-stat.txt"
	}
	return p.Output
}

func (p *PerfStat) Wrap(ctx context.Context, cmd execport.Command, inv Invocation) (execport.Command, error) {
	if err := requireRecordDir(p.Name(), inv); err != nil {
		return cmd, err
	}
	bin := p.Perf
	if bin == "" {
		bin = "perf"
	}
	if err := requireBinary(ctx, p.Name(), inv, bin); err != nil {
		return cmd, err
	}

	prefix := []string{bin, "stat", "-x", perfStatSeparator}
	if len(p.Events) > 0 {
		prefix = append(prefix, "-e", strings.Join(p.Events, ","))
	}
	prefix = append(prefix, "--output", inv.RecordDir+"/"+p.output())

	cmd = prepend(cmd.Clone(), prefix...)
	// perf prints locale-dependent decimal separators otherwise.
	if cmd.Env == nil {
		cmd.Env = make(map[string]string)
	}
	cmd.Env["LC_ALL"] = "C"
	return cmd, nil
}

func (p *PerfStat) Collect(_ context.Context, recordDir string) (map[string]any, error) {
	path := filepath.Join(recordDir, p.output())
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read perf stat output: %w", err)
	}
	return parsePerfStat(data, perfStatSeparator), nil
}

// parsePerfStat parses "perf stat -x" output:
//
//	counter-value;unit;event;run-time;pcnt-running;metric;metric-unit
func parsePerfStat(data []byte, sep string) map[string]any {
	fields := make(map[string]any)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, sep)
		if len(cols) < 3 {
			continue
		}
		event := strings.TrimSuffix(strings.TrimSpace(cols[2]), "/")
		if event == "" {
			continue
		}
		key := "perf-stat/" + event

		fields[key] = number(cols[0])
		if unit := strings.TrimSpace(cols[1]); unit != "" {
			fields[key+".unit"] = unit
		}
		if len(cols) > 3 && strings.TrimSpace(cols[3]) != "" {
			fields[key+".rt"] = number(cols[3])
		}
		if len(cols) > 4 && strings.TrimSpace(cols[4]) != "" {
			fields[key+".cov"] = number(cols[4])
		}
	}
	return fields
}

// number returns s as an int64 or float64 when it parses as one, else the
// trimmed string (perf prints "<not counted>" for missing counters).
func number(s string) any {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
