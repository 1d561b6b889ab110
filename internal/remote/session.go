package remote

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
)

// sessionNamePattern restricts session names to what screen and our shell
// construction can carry safely. Names are derived from owner logins.
var sessionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// SessionController manages named, detached processes on a remote host. A
// detached session outlives the control connection that started it, which is
// what lets the orchestrator restart without killing running relays.
type SessionController struct {
	exec Executor
}

func NewSessionController(exec Executor) *SessionController {
	return &SessionController{exec: exec}
}

// ValidateSessionName rejects names that cannot be embedded in a remote
// command line.
func ValidateSessionName(name string) error {
	if !sessionNamePattern.MatchString(name) {
		return &job.ValidationError{Field: "session name", Reason: "contains unsafe characters"}
	}

	return nil
}

// QuoteArg wraps an interpolated value in single quotes, escaping embedded
// quotes, for the one command-line channel SSH gives us.
func QuoteArg(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// StartDetached launches commandLine inside a named screen session. There is
// no synchronous acknowledgment that the inner process survived; callers must
// follow up with IsAlive after a settle delay.
func (c *SessionController) StartDetached(ctx context.Context, sessionName, commandLine string) error {
	if err := ValidateSessionName(sessionName); err != nil {
		return err
	}

	logger := logctx.LoggerFromContext(ctx)

	screenCmd := fmt.Sprintf("screen -dmS %s bash -c %s", sessionName, QuoteArg(commandLine+"; exec sh"))

	logger.Debug("starting detached session", "session", sessionName)

	result, err := c.exec.Execute(ctx, "echo OK;"+screenCmd)
	if err != nil {
		return err
	}

	if !result.Success {
		return &job.RemoteError{Operation: "start_detached", Err: fmt.Errorf("screen launch failed: %s", result.Stderr)}
	}

	return nil
}

// IsAlive lists the remote host's sessions and checks membership by name.
func (c *SessionController) IsAlive(ctx context.Context, sessionName string) (bool, error) {
	if err := ValidateSessionName(sessionName); err != nil {
		return false, err
	}

	// screen -ls exits non-zero when no sessions exist, which is a normal
	// "not alive" answer rather than a failure.
	result, err := c.exec.Execute(ctx, "screen -ls")
	if err != nil {
		return false, err
	}

	return strings.Contains(result.Stdout, "."+sessionName), nil
}

// Stop terminates the named session. Stopping a session that does not exist
// is not an error.
func (c *SessionController) Stop(ctx context.Context, sessionName string) error {
	if err := ValidateSessionName(sessionName); err != nil {
		return err
	}

	logger := logctx.LoggerFromContext(ctx)

	killCmd := fmt.Sprintf(
		`screen -ls | grep -o '[0-9]*\.%s' | xargs -I{} screen -X -S {} quit`,
		sessionName,
	)

	result, err := c.exec.Execute(ctx, "echo OK;"+killCmd)
	if err != nil {
		return err
	}

	if !result.Success {
		logger.Warn("session stop reported failure", "session", sessionName, "stderr", result.Stderr)
	}

	return nil
}
