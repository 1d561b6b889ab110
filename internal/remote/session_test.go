package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockExecutor records the command lines it receives and replays canned
// results.
type mockExecutor struct {
	commands []string
	result   Result
	err      error
}

func (m *mockExecutor) Execute(_ context.Context, commandLine string) (Result, error) {
	m.commands = append(m.commands, commandLine)

	return m.result, m.err
}

func TestQuoteArg(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "https://example.com/stream.m3u8", "'https://example.com/stream.m3u8'"},
		{"embedded quote", "it's live", `'it'\''s live'`},
		{"shell metacharacters stay inert", "a;rm -rf /|$HOME", "'a;rm -rf /|$HOME'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, QuoteArg(tt.in))
		})
	}
}

func TestValidateSessionName(t *testing.T) {
	require.NoError(t, ValidateSessionName("channel42_relay"))
	require.NoError(t, ValidateSessionName("user.name-1"))

	require.Error(t, ValidateSessionName(""))
	require.Error(t, ValidateSessionName("bad name"))
	require.Error(t, ValidateSessionName("a;b"))
	require.Error(t, ValidateSessionName("a'b"))
	require.Error(t, ValidateSessionName("a$b"))
}

func TestStartDetached_CommandShape(t *testing.T) {
	exec := &mockExecutor{result: Result{Success: true}}
	c := NewSessionController(exec)

	err := c.StartDetached(context.Background(), "tv1_relay", "/usr/local/bin/ffmpeg -i 'src' -f flv 'dst'")
	require.NoError(t, err)

	require.Len(t, exec.commands, 1)
	require.Contains(t, exec.commands[0], "echo OK;")
	require.Contains(t, exec.commands[0], "screen -dmS tv1_relay bash -c ")
	// the inner shell must stay alive after ffmpeg exits so screen keeps the
	// session listed
	require.Contains(t, exec.commands[0], "; exec sh")
}

func TestStartDetached_RejectsUnsafeName(t *testing.T) {
	exec := &mockExecutor{result: Result{Success: true}}
	c := NewSessionController(exec)

	err := c.StartDetached(context.Background(), "tv1 relay", "ffmpeg")
	require.Error(t, err)
	require.Empty(t, exec.commands, "no command must reach the remote host")
}

func TestStartDetached_ReportsLaunchFailure(t *testing.T) {
	exec := &mockExecutor{result: Result{Success: false, Stderr: "screen: command not found"}}
	c := NewSessionController(exec)

	err := c.StartDetached(context.Background(), "tv1_relay", "ffmpeg")
	require.Error(t, err)
	require.Contains(t, err.Error(), "screen launch failed")
}

func TestIsAlive(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   bool
	}{
		{
			name:   "session listed",
			stdout: "There is a screen on:\n\t12345.tv1_relay\t(Detached)\n1 Socket in /run/screen.\n",
			want:   true,
		},
		{
			name:   "no sessions",
			stdout: "No Sockets found in /run/screen.\n",
			want:   false,
		},
		{
			name:   "other owner's session",
			stdout: "There is a screen on:\n\t999.tv2_relay\t(Detached)\n",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{result: Result{Success: true, Stdout: tt.stdout}}
			c := NewSessionController(exec)

			alive, err := c.IsAlive(context.Background(), "tv1_relay")
			require.NoError(t, err)
			require.Equal(t, tt.want, alive)
		})
	}
}

func TestIsAlive_TransportError(t *testing.T) {
	exec := &mockExecutor{err: errors.New("dial tcp: connection refused")}
	c := NewSessionController(exec)

	_, err := c.IsAlive(context.Background(), "tv1_relay")
	require.Error(t, err)
}

func TestStop_IsIdempotent(t *testing.T) {
	// screen prints nothing useful when the session doesn't exist; the stop
	// must still succeed.
	exec := &mockExecutor{result: Result{Success: true}}
	c := NewSessionController(exec)

	require.NoError(t, c.Stop(context.Background(), "tv1_relay"))
	require.NoError(t, c.Stop(context.Background(), "tv1_relay"))

	require.Len(t, exec.commands, 2)
	require.Contains(t, exec.commands[0], `grep -o '[0-9]*\.tv1_relay'`)
	require.Contains(t, exec.commands[0], "screen -X -S {} quit")
}
