package wrappers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/campaign/internal/execport"
)

// Strace traces the system calls of the command into the record directory.
// With Summary set, the call-count table is folded into the result as
// "strace/<syscall>.calls" plus "strace/total.seconds".
type Strace struct {
	Summary     bool // -C: summary after the trace
	SummaryOnly bool // -c: summary, no trace
	FollowForks bool
	Output      string
}

func newStrace(opts Options) (Wrapper, error) {
	s := &Strace{Output: opts.String("output", "strace.txt")}
	var err error
	if s.Summary, err = opts.Bool("summary", true); err != nil {
		return nil, err
	}
	if s.SummaryOnly, err = opts.Bool("summary_only", false); err != nil {
		return nil, err
	}
	if s.FollowForks, err = opts.Bool("follow_forks", false); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Strace) Name() string { return "strace" }

func (s *Strace) output() string {
	if s.Output == "" {
		return "strace.txt"
	}
	return s.Output
}

func (s *Strace) Wrap(ctx context.Context, cmd execport.Command, inv Invocation) (execport.Command, error) {
	if err := requireRecordDir(s.Name(), inv); err != nil {
		return cmd, err
	}
	if err := requireBinary(ctx, s.Name(), inv, "strace"); err != nil {
		return cmd, err
	}

	prefix := []string{"strace"}
	switch {
	case s.SummaryOnly:
		prefix = append(prefix, "-c")
	case s.Summary:
		prefix = append(prefix, "-C")
	}
	if s.FollowForks {
		prefix = append(prefix, "-f")
	}
	prefix = append(prefix, "-o", inv.RecordDir+"/"+s.output())
	return prepend(cmd, prefix...), nil
}

func (s *Strace) Collect(_ context.Context, recordDir string) (map[string]any, error) {
	if !s.Summary && !s.SummaryOnly {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(recordDir, s.output()))
	if err != nil {
		return nil, fmt.Errorf("read strace output: %w", err)
	}
	return parseStraceSummary(data), nil
}

// parseStraceSummary reads the table printed by strace -c:
//
//	% time     seconds  usecs/call     calls    errors syscall
//	------ ----------- ----------- --------- --------- ----------------
//	 62.50    0.000050          25         2           read
//	------ ----------- ----------- --------- --------- ----------------
//	100.00    0.000080                     5         1 total
//
// The errors column is blank when a syscall never failed.
func parseStraceSummary(data []byte) map[string]any {
	fields := make(map[string]any)
	inTable := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "% time"):
			inTable = true
			continue
		case !inTable, trimmed == "", strings.HasPrefix(trimmed, "---"):
			continue
		}

		cols := strings.Fields(trimmed)
		if len(cols) < 4 {
			continue
		}
		name := cols[len(cols)-1]
		if name == "total" {
			// The total row has no usecs/call column.
			fields["strace/total.seconds"] = number(cols[1])
			fields["strace/total.calls"] = number(cols[2])
			continue
		}
		fields["strace/"+name+".calls"] = number(cols[3])
	}
	return fields
}
