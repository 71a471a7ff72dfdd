// Package runner executes external render processes, streams their combined
// output line by line and classifies it into job progress.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultGrace            = 10 * time.Second
	DefaultProgressInterval = 10 * time.Second
	maxLineSize             = 1024 * 1024
)

// ErrCancelled is returned when the context ended the process
var ErrCancelled = errors.New("process cancelled")

// ExitError reports a non-zero exit status
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("Process exited with code %d", e.Code)
}

// Command is one external invocation
type Command struct {
	Path string
	Args []string
	Dir  string
	// FFmpegProgress translates `-progress pipe:1` key=value output into
	// "Progress: NN.N%" lines against ExpectedSeconds of output.
	FFmpegProgress  bool
	ExpectedSeconds float64
}

// Result describes a finished process
type Result struct {
	PID      int
	ExitCode int
	Duration time.Duration
}

// Runner starts processes in their own process group. On cancellation the
// group gets SIGTERM, then SIGKILL once Grace has passed.
type Runner struct {
	Grace            time.Duration
	ProgressInterval time.Duration
}

// NewRunner creates a runner, zero durations fall back to the defaults
func NewRunner(grace, progressInterval time.Duration) *Runner {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if progressInterval <= 0 {
		progressInterval = DefaultProgressInterval
	}
	return &Runner{Grace: grace, ProgressInterval: progressInterval}
}

// Run executes c and blocks until it exits. onStart receives the pid right
// after the process started; onLine receives every non-empty output line in
// emission order and is never called after Run returns.
func (r *Runner) Run(ctx context.Context, c Command, onStart func(pid int), onLine func(line string)) (*Result, error) {
	if onLine == nil {
		onLine = func(string) {}
	}
	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	setProcessGroup(cmd)

	// One pipe for stdout and stderr keeps the two streams in emission order
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %v", err)
	}
	defer pr.Close()
	cmd.Stdout = pw
	cmd.Stderr = pw

	started := time.Now()
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", c.Path, err)
	}
	pw.Close()

	pid := cmd.Process.Pid
	if onStart != nil {
		onStart(pid)
	}

	var translator *FFmpegProgress
	if c.FFmpegProgress {
		translator = NewFFmpegProgress(c.ExpectedSeconds, r.ProgressInterval)
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		scanner.Split(scanLinesWithCR)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), " \t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if translator != nil {
				if out, ok := translator.Feed(line); ok {
					if out != "" {
						onLine(out)
					}
					continue
				}
			}
			onLine(line)
		}
	}()

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	var waitErr error
	cancelled := false
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		cancelled = true
		log.Printf("[Runner] Sending SIGTERM to process group %d", pid)
		_ = terminateGroup(pid)
		select {
		case waitErr = <-waitDone:
		case <-time.After(grace):
			log.Printf("[Runner] Process group %d ignored SIGTERM for %s, killing", pid, grace)
			_ = KillGroup(pid)
			waitErr = <-waitDone
		}
	}

	// Children that inherited the pipe can keep it open past the leader's exit
	select {
	case <-readDone:
	case <-time.After(grace):
		log.Printf("[Runner] Output of process group %d still open after exit, killing", pid)
		_ = KillGroup(pid)
		pr.Close()
		<-readDone
	}

	res := &Result{PID: pid, ExitCode: -1, Duration: time.Since(started)}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if cancelled {
		return res, ErrCancelled
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, &ExitError{Code: exitErr.ExitCode()}
		}
		return res, fmt.Errorf("failed to wait for process: %w", waitErr)
	}
	return res, nil
}

// scanLinesWithCR splits on \n and \r so carriage-return progress updates
// arrive as separate lines.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
