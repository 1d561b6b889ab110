package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
)

const (
	ytdlpBin  = "yt-dlp"
	ffmpegBin = "ffmpeg"
)

// progressPattern matches the informal "NN.N%" progress lines yt-dlp prints
// with --newline. The tool can jump backwards between formats, so the latest
// match simply overwrites the previous value.
var progressPattern = regexp.MustCompile(`(\d+\.?\d*)%`)

// Runner spawns and supervises local media-tool subprocesses.
type Runner struct {
	lookPath func(file string) (string, error)
}

func New() *Runner {
	return &Runner{lookPath: exec.LookPath}
}

// CheckTools fails fast with a ToolUnavailableError when any of the given
// binaries is missing from PATH.
func (r *Runner) CheckTools(tools ...string) error {
	for _, tool := range tools {
		if _, err := r.lookPath(tool); err != nil {
			return &job.ToolUnavailableError{Tool: tool, Err: err}
		}
	}

	return nil
}

// CheckDownloadTools verifies both binaries a download job depends on.
func (r *Runner) CheckDownloadTools() error {
	return r.CheckTools(ytdlpBin, ffmpegBin)
}

// Metadata describes a source video as reported by the probe.
type Metadata struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	SanitizedTitle string `json:"-"`
	Duration       int64  `json:"duration"`
	Filesize       int64  `json:"filesize"`
	FilesizeApprox int64  `json:"filesize_approx"`
	Ext            string `json:"ext"`
	Uploader       string `json:"uploader"`
	WebpageURL     string `json:"webpage_url"`
}

// EstimatedSizeMB returns the probe's size estimate rounded up to megabytes,
// falling back to 50MB when the source reports none.
func (m *Metadata) EstimatedSizeMB() int64 {
	size := m.Filesize
	if size == 0 {
		size = m.FilesizeApprox
	}

	if size == 0 {
		size = 50 * 1024 * 1024
	}

	return (size + 1024*1024 - 1) / (1024 * 1024)
}

var nonFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeTitle reduces a video title to a safe file name fragment.
func SanitizeTitle(title string) string {
	if title == "" {
		title = "video"
	}

	s := nonFilenameChars.ReplaceAllString(title, "")
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), "_")

	if len(s) > 100 {
		s = s[:100]
	}

	if s == "" {
		s = "video"
	}

	return s
}

// FetchMetadata probes the source without downloading. The whole probe is
// bounded by timeout; failures are classified from the tool's stderr.
func (r *Runner) FetchMetadata(ctx context.Context, url string, timeout time.Duration) (*Metadata, error) {
	if err := r.CheckTools(ytdlpBin); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ytdlpBin, "--print-json", "--no-download", "--no-playlist", url)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, &job.TimeoutError{Operation: "metadata_fetch", Limit: timeout.String()}
	}

	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}

		return nil, &job.ProcessError{
			ExitCode: exitCode,
			Cause:    ClassifyStderr(stderr.String()),
			Stderr:   stderr.String(),
		}
	}

	var meta Metadata
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse video metadata: %w", err)
	}

	if meta.Ext == "" {
		meta.Ext = "mp4"
	}

	meta.SanitizedTitle = SanitizeTitle(meta.Title)

	return &meta, nil
}

// DownloadArgs builds the yt-dlp invocation that produces an mp4 artifact at
// tempPath.
func DownloadArgs(url, tempPath string) []string {
	return []string{
		"-f", "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]",
		"--merge-output-format", "mp4",
		"--remux-video", "mp4",
		"--output", tempPath,
		"--no-playlist",
		"--embed-metadata",
		"--no-warnings",
		"--newline",
		url,
	}
}

// Run spawns the download subprocess and blocks until it exits. Each output
// chunk is scanned for a percentage and reported through onProgress. The
// process is killed when it produces no output for outputTimeout, or when ctx
// is cancelled.
func (r *Runner) Run(ctx context.Context, args []string, outputTimeout time.Duration, onProgress func(float64)) error {
	if err := r.CheckTools(ytdlpBin); err != nil {
		return err
	}

	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, ytdlpBin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", ytdlpBin, err)
	}

	logger.Debug("subprocess started", "tool", ytdlpBin, "pid", cmd.Process.Pid)

	var lastOutput atomic.Int64

	lastOutput.Store(time.Now().UnixNano())

	var timedOut atomic.Bool

	// Watchdog kills the process when output stalls past the limit.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-watchdogDone:
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, lastOutput.Load()))
				if idle > outputTimeout {
					timedOut.Store(true)
					cancel()

					return
				}
			}
		}
	}()

	var stderrTail strings.Builder

	var wg sync.WaitGroup

	scan := func(pipe interface{ Read([]byte) (int, error) }, keepTail bool) {
		defer wg.Done()

		scanner := bufio.NewScanner(pipe)
		for scanner.Scan() {
			line := scanner.Text()
			lastOutput.Store(time.Now().UnixNano())

			if m := progressPattern.FindStringSubmatch(line); m != nil && onProgress != nil {
				if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
					onProgress(pct)
				}
			}

			if keepTail && stderrTail.Len() < 8192 {
				stderrTail.WriteString(line)
				stderrTail.WriteByte('\n')
			}
		}
	}

	wg.Add(2)

	go scan(stdout, false)
	go scan(stderrPipe, true)

	wg.Wait()

	err = cmd.Wait()

	if timedOut.Load() {
		return &job.TimeoutError{Operation: "download", Limit: outputTimeout.String()}
	}

	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}

	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}

		return &job.ProcessError{
			ExitCode: exitCode,
			Cause:    ClassifyStderr(stderrTail.String()),
			Stderr:   stderrTail.String(),
		}
	}

	return nil
}
