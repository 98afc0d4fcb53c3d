package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nimbusedge/fleetctl/internal/domain"
	"github.com/nimbusedge/fleetctl/internal/outcome"
	"github.com/nimbusedge/fleetctl/internal/results"
)

const sshHandshakeTimeout = 10 * time.Second

// SSHRunner executes a command on one instance over SSH, streaming stdout
// and stderr line-by-line to the log and the result sink.
type SSHRunner struct {
	sink   *results.Sink
	logger *slog.Logger
}

// NewSSHRunner creates a runner that records output through sink.
func NewSSHRunner(sink *results.Sink, logger *slog.Logger) *SSHRunner {
	return &SSHRunner{sink: sink, logger: logger}
}

// Run connects to the instance's SSH target, executes command, and returns
// the remote exit code. The context bounds the whole attempt: dial,
// handshake, streaming, and wait. Cancellation tears down the connection.
func (r *SSHRunner) Run(ctx context.Context, inst domain.Instance, command string) (int, error) {
	target := inst.SSH
	if target == nil {
		return -1, fmt.Errorf("instance %s has no ssh target", inst.ID)
	}
	addr := target.Addr()

	cfg := &ssh.ClientConfig{
		User: target.User,
		// The control plane hands out ephemeral hosts; there is no
		// known-hosts baseline to verify against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshHandshakeTimeout,
	}
	if target.Password != "" {
		cfg.Auth = append(cfg.Auth, ssh.Password(target.Password))
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, outcome.ConnectError{Addr: addr, Err: err}
	}

	// Cancellation must unblock any pending read or wait on this host
	// without touching the other hosts' sessions.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchdogDone:
		}
	}()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, outcome.ConnectError{Addr: addr, Err: err}
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	rc, err := r.runSession(ctx, client, inst.ID, target.Host, command)
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return rc, err
}

func (r *SSHRunner) runSession(ctx context.Context, client *ssh.Client, instanceID, host, command string) (int, error) {
	session, err := client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := session.Start(command); err != nil {
		return -1, fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.streamLines(stdout, "stdout", instanceID, host)
	}()
	go func() {
		defer wg.Done()
		r.streamLines(stderr, "stderr", instanceID, host)
	}()
	wg.Wait()

	err = session.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		// The remote never reported a status; the command may not have
		// completed at all. Distinguishable from success on purpose.
		r.logger.Warn("remote exit status missing", "instance", instanceID, "host", host)
		return -1, fmt.Errorf("remote exit status missing: %w", err)
	}
	return -1, err
}

func (r *SSHRunner) streamLines(pipe io.Reader, key, instanceID, host string) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		r.logger.Info(key, "host", abbrev(host), "line", line)
		if r.sink != nil {
			if err := r.sink.Write(key, line, instanceID); err != nil {
				r.logger.Warn("result log write failed", "err", err)
			}
		}
	}
}

func abbrev(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
