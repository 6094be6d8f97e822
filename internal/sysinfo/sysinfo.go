// Package sysinfo captures the environment a campaign runs in, for the
// metadata block of result streams.
package sysinfo

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/store"
)

// NotAvailable stands for a value that could not be gathered.
const NotAvailable = "N/A"

// Info captures system details for reproducibility.
type Info struct {
	Hostname  string `json:"hostname"`
	Kernel    string `json:"kernel"`
	BootArgs  string `json:"kernel_boot_args"`
	CPUs      int    `json:"cpus"`
	GitBranch string `json:"git_branch"`
	GitSHA    string `json:"git_sha"`

	// Orchestrator side.
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
}

// Collect gathers Info through port, so a remote target reports its own
// kernel and host. Git details are read from srcDir when it is set. Probes
// that fail leave NotAvailable behind; Collect itself never fails.
func Collect(ctx context.Context, port execport.Port, srcDir string) Info {
	info := Info{
		Hostname:  NotAvailable,
		Kernel:    NotAvailable,
		BootArgs:  NotAvailable,
		GitBranch: NotAvailable,
		GitSHA:    NotAvailable,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
	}

	probe := func(dir string, argv ...string) string {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		out, err := port.Exec(pctx, execport.Command{Argv: argv, Dir: dir})
		if err != nil {
			return NotAvailable
		}
		if s := strings.TrimSpace(out.Text()); s != "" {
			return s
		}
		return NotAvailable
	}

	if port.IsLocal() {
		if h, err := os.Hostname(); err == nil {
			info.Hostname = h
		}
		info.CPUs = runtime.NumCPU()
	} else {
		info.Hostname = probe("", "hostname")
		if n, err := strconv.Atoi(probe("", "nproc")); err == nil {
			info.CPUs = n
		}
	}
	info.Kernel = probe("", "uname", "-a")
	info.BootArgs = probe("", "cat", "/proc/cmdline")

	if srcDir != "" {
		info.GitBranch = probe(srcDir, "git", "rev-parse", "--abbrev-ref", "HEAD")
		info.GitSHA = probe(srcDir, "git", "rev-parse", "HEAD")
	}
	return info
}

// Meta renders Info as result stream metadata.
func (i Info) Meta() []store.Meta {
	return []store.Meta{
		store.M("hostname", i.Hostname),
		store.M("git_branch", i.GitBranch),
		store.M("git_sha", i.GitSHA),
		store.M("kernel", i.Kernel),
		store.M("kernel_boot_args", i.BootArgs),
		store.M("cpus", i.CPUs),
		store.M("os", i.OS),
		store.M("arch", i.Arch),
		store.M("go_version", i.GoVersion),
	}
}

// Pretty renders d rounded to the second, e.g. "1h2m3s".
func Pretty(d time.Duration) string {
	return d.Round(time.Second).String()
}
