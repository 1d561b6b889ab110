package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
	"github.com/streamforge/media_orchestrator/internal/telemetry"
)

// Host identifies a remote streaming host and how to authenticate against it.
type Host struct {
	Addr           string
	User           string
	Password       string
	PrivateKeyPath string
}

// Result carries the outcome of a single remote command execution.
type Result struct {
	Success bool
	Stdout  string
	Stderr  string
}

// Executor runs one-shot commands on a remote host. Each call owns its whole
// connection lifecycle: open, run, close.
type Executor interface {
	Execute(ctx context.Context, commandLine string) (Result, error)
}

// Uploader copies a local file to a path on the remote host.
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// SSHExecutor is the production Executor. It dials a fresh connection per
// command so the orchestrator never holds a control channel open across the
// lifetime of a relay.
type SSHExecutor struct {
	host      Host
	timeout   time.Duration
	telemetry *telemetry.Telemetry
}

func NewSSHExecutor(host Host, timeout time.Duration, tel *telemetry.Telemetry) *SSHExecutor {
	return &SSHExecutor{host: host, timeout: timeout, telemetry: tel}
}

func (e *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if e.host.PrivateKeyPath != "" {
		key, err := os.ReadFile(e.host.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if e.host.Password != "" {
		methods = append(methods, ssh.Password(e.host.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH auth method configured for %s", e.host.Addr)
	}

	return &ssh.ClientConfig{
		User:            e.host.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // hosts are provisioned by the same operator
		Timeout:         e.timeout,
	}, nil
}

func (e *SSHExecutor) dial(ctx context.Context) (*ssh.Client, error) {
	cfg, err := e.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: e.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", e.host.Addr)
	if err != nil {
		return nil, &job.RemoteError{Host: e.host.Addr, Operation: "dial", Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, e.host.Addr, cfg)
	if err != nil {
		conn.Close()

		return nil, &job.RemoteError{Host: e.host.Addr, Operation: "handshake", Err: err}
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Execute runs a single command with a bounded timeout. A non-zero remote exit
// status is not an error here; it is reported through Result.Success so
// callers can treat "grep found nothing" as a normal outcome.
func (e *SSHExecutor) Execute(ctx context.Context, commandLine string) (Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	client, err := e.dial(ctx)
	if err != nil {
		e.telemetry.RecordRemoteCommand(ctx, "execute", err)

		return Result{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		wrapped := &job.RemoteError{Host: e.host.Addr, Operation: "session", Err: err}
		e.telemetry.RecordRemoteCommand(ctx, "execute", wrapped)

		return Result{}, wrapped
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	// The ssh package has no context support on Run, so a watcher closes the
	// session when the deadline fires.
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	runErr := session.Run(commandLine)

	if ctx.Err() == context.DeadlineExceeded {
		err := &job.TimeoutError{Operation: "remote_command", Limit: e.timeout.String()}
		e.telemetry.RecordRemoteCommand(ctx, "execute", err)

		return Result{}, err
	}

	result := Result{
		Success: runErr == nil,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	if runErr != nil {
		if _, ok := runErr.(*ssh.ExitError); !ok {
			wrapped := &job.RemoteError{Host: e.host.Addr, Operation: "run", Err: runErr}
			e.telemetry.RecordRemoteCommand(ctx, "execute", wrapped)

			return Result{}, wrapped
		}

		logger.Debug("remote command exited non-zero", "stderr", result.Stderr)
	}

	e.telemetry.RecordRemoteCommand(ctx, "execute", nil)

	return result, nil
}

// Upload copies a local file to remotePath over sftp, creating parent
// directories as needed.
func (e *SSHExecutor) Upload(ctx context.Context, localPath, remotePath string) error {
	client, err := e.dial(ctx)
	if err != nil {
		e.telemetry.RecordRemoteCommand(ctx, "upload", err)

		return err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		wrapped := &job.RemoteError{Host: e.host.Addr, Operation: "sftp", Err: err}
		e.telemetry.RecordRemoteCommand(ctx, "upload", wrapped)

		return wrapped
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return &job.RemoteError{Host: e.host.Addr, Operation: "mkdir", Err: err}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local artifact: %w", err)
	}
	defer src.Close()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return &job.RemoteError{Host: e.host.Addr, Operation: "create", Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &job.RemoteError{Host: e.host.Addr, Operation: "copy", Err: err}
	}

	e.telemetry.RecordRemoteCommand(ctx, "upload", nil)

	return nil
}
