package execport

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "''"},
		{"plain", "plain"},
		{"/usr/bin/perf", "/usr/bin/perf"},
		{"a b", "'a b'"},
		{"it's", `'it'"'"'s'`},
		{"$HOME", "'$HOME'"},
		{"K=V", "K=V"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{
		Argv: []string{"./bench", "--name", "two words"},
		Env:  map[string]string{"B": "2", "A": "1"},
		Dir:  "/tmp/build dir",
	}
	want := "cd '/tmp/build dir' && A=1 B=2 ./bench --name 'two words'"
	if got := cmd.String(); got != want {
		t.Errorf("String() = %s\nwant       %s", got, want)
	}
}

func TestSSHScript(t *testing.T) {
	cmd := Command{
		Argv: []string{"./bench", "-t", "4"},
		Env:  map[string]string{"OMP_NUM_THREADS": "4"},
		Dir:  "/srv/bench",
	}
	got := script(cmd, "/tmp/bk-1.pid")
	want := "sh -c " + Quote("echo $$ > /tmp/bk-1.pid && cd /srv/bench && exec env OMP_NUM_THREADS=4 ./bench -t 4")
	if got != want {
		t.Errorf("script() = %s\nwant       %s", got, want)
	}
}

func TestCommandClone(t *testing.T) {
	orig := Command{Argv: []string{"a"}, Env: map[string]string{"K": "V"}}
	c := orig.Clone()
	c.Argv[0] = "b"
	c.Env["K"] = "W"
	if orig.Argv[0] != "a" || orig.Env["K"] != "V" {
		t.Errorf("Clone() shares state with original: %+v", orig)
	}
}

func TestParseKeyValue(t *testing.T) {
	got := ParseKeyValue([]byte("Architecture:  x86_64\nCPU(s): 8\n\nnoise\nModel name: AMD EPYC: 7B13\n"))
	want := map[string]string{
		"Architecture": "x86_64",
		"CPU(s)":       "8",
		"Model name":   "AMD EPYC: 7B13",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseKeyValue() mismatch (-want +got):\n%s", diff)
	}
}
