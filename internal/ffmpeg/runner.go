// Package ffmpeg provides the subprocess boundary to the ffmpeg and ffprobe
// binaries: process execution with captured output, stream probing, and
// parsing of the structured data ffmpeg interleaves into its stderr log.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// defaultStderrTailLines bounds how much stderr is attached to errors.
const defaultStderrTailLines = 12

// Runner executes an external tool and returns its captured output. It is
// the single choke point for subprocess execution so pipeline stages can be
// tested against a fake.
type Runner interface {
	// Run blocks until the command exits or ctx is cancelled. Cancellation
	// kills the child process. stdout and stderr are always returned, even
	// on failure, because ffmpeg reports structured data on stderr.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s: %w", name, ctxErr)
		} else {
			err = fmt.Errorf("%s: %w (stderr: %s)", name, err, StderrTail(stderr.String(), defaultStderrTailLines))
		}
	}

	return stdout.String(), stderr.String(), err
}

// StderrTail returns the last n non-empty lines of a stderr capture,
// joined with " | ", for compact inclusion in error messages and logs.
func StderrTail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var kept []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, " | ")
}
