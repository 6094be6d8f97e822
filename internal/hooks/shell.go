package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/campaign/internal/execport"
)

// ShellPreRun returns a pre-run hook running script on the event's port
// with the record and constants exported as environment variables.
// A non-zero exit fails the run.
func ShellPreRun(script string) PreRunHook {
	return func(ctx context.Context, ev PreRunEvent) error {
		if ev.Port == nil {
			return fmt.Errorf("no port")
		}
		cmd := execport.Sh(script)
		cmd.Env = hookEnv(ev.Constants.Strings(), ev.Record.Strings(), ev.RecordDir)
		_, err := ev.Port.Exec(ctx, cmd)
		return err
	}
}

// ShellPostRun returns a post-run hook running script and turning each
// "key=value" line of its stdout into a result field. Other lines are
// ignored.
func ShellPostRun(script string) PostRunHook {
	return func(ctx context.Context, ev PostRunEvent) (map[string]any, error) {
		if ev.Port == nil {
			return nil, fmt.Errorf("no port")
		}
		cmd := execport.Sh(script)
		cmd.Env = hookEnv(ev.Constants.Strings(), ev.Record.Strings(), "")
		out, err := ev.Port.Exec(ctx, cmd)
		if err != nil {
			return nil, err
		}

		fields := make(map[string]any)
		for _, line := range out.Lines() {
			key, value, ok := strings.Cut(line, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		return fields, nil
	}
}

// hookEnv exports values as BK_<NAME> variables, upper-cased with
// non-alphanumerics replaced by underscores.
func hookEnv(constants, record map[string]string, recordDir string) map[string]string {
	env := make(map[string]string, len(constants)+len(record)+1)
	for k, v := range constants {
		env[EnvName(k)] = v
	}
	for k, v := range record {
		env[EnvName(k)] = v
	}
	if recordDir != "" {
		env["BK_RECORD_DIR"] = recordDir
	}
	return env
}

// EnvName maps a variable name to its environment variable name,
// e.g. "nb_threads" to "BK_NB_THREADS".
func EnvName(name string) string {
	var b strings.Builder
	b.WriteString("BK_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
