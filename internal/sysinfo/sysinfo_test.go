package sysinfo

import (
	"context"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/steveyegge/campaign/internal/execport"
)

func TestCollectLocal(t *testing.T) {
	info := Collect(context.Background(), execport.NewLocal(), "")

	if host, err := os.Hostname(); err == nil && info.Hostname != host {
		t.Errorf("Hostname = %q, want %q", info.Hostname, host)
	}
	if info.CPUs != runtime.NumCPU() {
		t.Errorf("CPUs = %d, want %d", info.CPUs, runtime.NumCPU())
	}
	if info.GitSHA != NotAvailable {
		t.Errorf("GitSHA without source dir = %q, want %q", info.GitSHA, NotAvailable)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
}

func TestCollectMissingSourceDir(t *testing.T) {
	info := Collect(context.Background(), execport.NewLocal(), "/nonexistent/source/dir")
	if info.GitBranch != NotAvailable || info.GitSHA != NotAvailable {
		t.Errorf("git details = %q/%q, want %s", info.GitBranch, info.GitSHA, NotAvailable)
	}
}

func TestMetaKeys(t *testing.T) {
	meta := Info{Hostname: "h", CPUs: 8}.Meta()
	seen := make(map[string]string)
	for _, m := range meta {
		seen[m.Key] = m.Value
	}
	if seen["hostname"] != "h" || seen["cpus"] != "8" {
		t.Errorf("Meta() = %v", meta)
	}
	for _, key := range []string{"git_branch", "git_sha", "kernel", "go_version"} {
		if _, ok := seen[key]; !ok {
			t.Errorf("Meta() lacks %q", key)
		}
	}
}

func TestPretty(t *testing.T) {
	if got := Pretty(3723*time.Second + 400*time.Millisecond); got != "1h2m3s" {
		t.Errorf("Pretty() = %q", got)
	}
}
