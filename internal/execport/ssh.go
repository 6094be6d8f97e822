package execport

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures an SSH port.
type SSHConfig struct {
	// Host is "host" or "host:port". Port 22 is assumed when missing.
	Host string
	User string

	// KeyFile is a private key used for public key authentication.
	KeyFile string
	// Password enables password authentication when set.
	Password string

	// KnownHostsFile verifies the server key. Defaults to ~/.ssh/known_hosts.
	KnownHostsFile string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	DialTimeout time.Duration

	// ScratchRoot is where TempDir and pid files are created on the host.
	// Defaults to /tmp.
	ScratchRoot string

	Logger *log.Logger
}

// SSHPort runs commands on a remote host over one SSH connection. Each
// command gets its own session.
type SSHPort struct {
	cfg    SSHConfig
	addr   string
	client *ssh.Client
	logger *log.Logger

	mu     sync.Mutex
	closed bool
}

// DialSSH connects to cfg.Host.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHPort, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh: host is required")
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = "/tmp"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[ssh] ", log.LstdFlags)
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Port: "ssh://" + addr, Op: "dial", Err: err}
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, &TransportError{Port: "ssh://" + addr, Op: "handshake", Err: err}
	}

	p := &SSHPort{
		cfg:    cfg,
		addr:   addr,
		client: ssh.NewClient(c, chans, reqs),
		logger: cfg.Logger,
	}
	p.logger.Printf("connected to %s as %s", addr, cfg.User)
	return p, nil
}

func clientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("ssh: read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("ssh: parse key %s: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh: no authentication method configured for %s", cfg.Host)
	}

	var hostKey ssh.HostKeyCallback
	if cfg.InsecureIgnoreHostKey {
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		file := cfg.KnownHostsFile
		if file == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("ssh: locate known_hosts: %w", err)
			}
			file = filepath.Join(home, ".ssh", "known_hosts")
		}
		cb, err := knownhosts.New(file)
		if err != nil {
			return nil, fmt.Errorf("ssh: load known hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}, nil
}

func (p *SSHPort) Name() string { return "ssh://" + p.addr }

func (p *SSHPort) IsLocal() bool { return false }

func (p *SSHPort) Exec(ctx context.Context, cmd Command) (*Output, error) {
	return run(ctx, p, cmd)
}

func (p *SSHPort) newSession(op string) (*ssh.Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	s, err := p.client.NewSession()
	if err != nil {
		return nil, &TransportError{Port: p.Name(), Op: op, Err: err}
	}
	return s, nil
}

// script builds the remote shell line for cmd. The shell records its pid
// before exec'ing the command so the process can be signalled later.
func script(cmd Command, pidFile string) string {
	var b strings.Builder
	if pidFile != "" {
		b.WriteString("echo $$ > ")
		b.WriteString(Quote(pidFile))
		b.WriteString(" && ")
	}
	if cmd.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(Quote(cmd.Dir))
		b.WriteString(" && ")
	}
	b.WriteString("exec ")
	if env := cmd.EnvList(); len(env) > 0 {
		b.WriteString("env ")
		b.WriteString(Join(env))
		b.WriteByte(' ')
	}
	b.WriteString(Join(cmd.Argv))
	return "sh -c " + Quote(b.String())
}

func (p *SSHPort) Start(ctx context.Context, cmd Command) (Handle, error) {
	if len(cmd.Argv) == 0 {
		return nil, ErrEmptyCommand
	}
	session, err := p.newSession("new session")
	if err != nil {
		return nil, err
	}

	h := &sshHandle{
		port:    p,
		argv:    append([]string(nil), cmd.Argv...),
		session: session,
		pidFile: p.cfg.ScratchRoot + "/bk-" + uuid.NewString() + ".pid",
		done:    make(chan struct{}),
	}
	session.Stdout = &h.stdout
	session.Stderr = &h.stderr
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	h.start = time.Now()
	if err := session.Start(script(cmd, h.pidFile)); err != nil {
		session.Close()
		return nil, &TransportError{Port: p.Name(), Op: "start", Err: err}
	}

	go h.wait()
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Signal(SignalKill)
			session.Close()
		case <-h.done:
		}
	}()
	return h, nil
}

// control runs a short housekeeping command and returns its combined output.
func (p *SSHPort) control(line string) ([]byte, error) {
	session, err := p.newSession("control session")
	if err != nil {
		return nil, err
	}
	defer session.Close()
	out, err := session.CombinedOutput("sh -c " + Quote(line))
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
		}
		return out, &TransportError{Port: p.Name(), Op: "control", Err: err}
	}
	return out, nil
}

func (p *SSHPort) LookPath(_ context.Context, name string) (string, error) {
	out, err := p.control("command -v " + Quote(name))
	if err != nil {
		if IsRetryable(err) {
			return "", err
		}
		return "", fmt.Errorf("%s: executable not found on %s", name, p.Name())
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *SSHPort) MkdirAll(_ context.Context, dir string) error {
	_, err := p.control("mkdir -p " + Quote(dir))
	return err
}

func (p *SSHPort) RemoveAll(_ context.Context, dir string) error {
	_, err := p.control("rm -rf " + Quote(dir))
	return err
}

func (p *SSHPort) TempDir(ctx context.Context) (string, error) {
	dir := p.cfg.ScratchRoot + "/bk-" + uuid.NewString()
	if err := p.MkdirAll(ctx, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// CopyToLocal streams dir as a tar archive and unpacks it under localDir.
func (p *SSHPort) CopyToLocal(_ context.Context, dir, localDir string) error {
	session, err := p.newSession("copy session")
	if err != nil {
		return err
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return &TransportError{Port: p.Name(), Op: "copy", Err: err}
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr
	if err := session.Start("tar -C " + Quote(dir) + " -cf - ."); err != nil {
		return &TransportError{Port: p.Name(), Op: "copy", Err: err}
	}
	if err := untar(stdout, localDir); err != nil {
		return fmt.Errorf("copy %s from %s: %w", dir, p.Name(), err)
	}
	if err := session.Wait(); err != nil {
		return fmt.Errorf("copy %s from %s: %w: %s", dir, p.Name(), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (p *SSHPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.client.Close()
}

type sshHandle struct {
	port    *SSHPort
	argv    []string
	session *ssh.Session
	pidFile string
	start   time.Time
	stdout  bytes.Buffer
	stderr  bytes.Buffer

	done chan struct{}

	mu  sync.Mutex
	pid int
	out *Output
	err error
}

func (h *sshHandle) wait() {
	err := h.session.Wait()
	out := &Output{
		Argv:     h.argv,
		Stdout:   h.stdout.String(),
		Stderr:   h.stderr.String(),
		Duration: time.Since(h.start),
	}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitStatus()
		if exitErr.Signal() != "" {
			out.ExitCode = -1
		}
		err = nil
	default:
		err = &TransportError{Port: h.port.Name(), Op: "wait", Err: err}
	}

	h.mu.Lock()
	h.out, h.err = out, err
	h.mu.Unlock()
	h.session.Close()
	close(h.done)

	_, _ = h.port.control("rm -f " + Quote(h.pidFile))
}

func (h *sshHandle) result() (*Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out, h.err
}

// Pid reads the pid file written by the remote shell.
func (h *sshHandle) Pid() int {
	h.mu.Lock()
	pid := h.pid
	h.mu.Unlock()
	if pid != 0 {
		return pid
	}

	for i := 0; i < 50 && h.Alive(); i++ {
		out, err := h.port.control("cat " + Quote(h.pidFile) + " 2>/dev/null || true")
		if err != nil {
			return 0
		}
		if n, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil && n > 0 {
			h.mu.Lock()
			h.pid = n
			h.mu.Unlock()
			return n
		}
		time.Sleep(20 * time.Millisecond)
	}
	return 0
}

func (h *sshHandle) Wait(timeout time.Duration) (*Output, error) {
	return waitDone(h.done, timeout, h.result)
}

// Signal delivers sig with kill(1) on the host. The kill signal is also
// sent to direct children since the remote command has no process group
// of its own.
func (h *sshHandle) Signal(sig Signal) error {
	if isDone(h.done) {
		return nil
	}
	pid := h.Pid()
	if pid == 0 {
		if isDone(h.done) {
			return nil
		}
		return fmt.Errorf("signal %s: pid of %s unknown", sig, commandName(h.argv))
	}
	name := sig.String()
	line := fmt.Sprintf("kill -s %s %d 2>/dev/null || true", name, pid)
	if sig == SignalKill {
		line = fmt.Sprintf("pkill -KILL -P %d 2>/dev/null; %s", pid, line)
	}
	_, err := h.port.control(line)
	return err
}

func (h *sshHandle) Alive() bool {
	return !isDone(h.done)
}

func (h *sshHandle) Done() <-chan struct{} {
	return h.done
}

func untar(r io.Reader, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	root, err := filepath.Abs(dst)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, dst)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}
