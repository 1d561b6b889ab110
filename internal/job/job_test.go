package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusTransferring, false},
		{StatusCompleted, true},
		{StatusError, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestJob_SetProgressClamps(t *testing.T) {
	j := New(1, KindDownload, time.Now())

	j.SetProgress(-5)
	require.Equal(t, float64(0), j.Progress())

	j.SetProgress(42.5)
	require.Equal(t, 42.5, j.Progress())

	j.SetProgress(150)
	require.Equal(t, float64(100), j.Progress())

	// yt-dlp restarts its counter per format; the latest value wins.
	j.SetProgress(3)
	require.Equal(t, float64(3), j.Progress())
}

func TestJob_Fail(t *testing.T) {
	j := New(7, KindRelay, time.Now())

	j.Fail("relay did not start")

	require.Equal(t, StatusError, j.Status())
	require.Equal(t, "relay did not start", j.ErrorMessage())
	require.True(t, j.Status().IsTerminal())
}

func TestJob_TerminateWithoutTerminator(t *testing.T) {
	j := New(1, KindDownload, time.Now())

	// must not panic before a terminator is registered
	j.Terminate()

	var fired int

	j.SetTerminator(func() { fired++ })
	j.Terminate()
	j.Terminate()

	require.Equal(t, 2, fired)
}

func TestJob_Snapshot(t *testing.T) {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	j := New(9, KindDownload, started)

	j.SetStatus(StatusRunning)
	j.SetProgress(55)
	j.SetHandle("12345")

	snap := j.Snapshot()

	require.Equal(t, j.ID, snap.ID)
	require.Equal(t, int64(9), snap.OwnerID)
	require.Equal(t, KindDownload, snap.Kind)
	require.Equal(t, StatusRunning, snap.Status)
	require.Equal(t, started, snap.StartedAt)
	require.Equal(t, float64(55), snap.Progress)
	require.Equal(t, "12345", snap.Handle)
}
