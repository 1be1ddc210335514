package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Prober queries stream metadata via ffprobe using single-value textual
// output. Failures are reported as ErrProbeFailed; callers treat them as
// "no audio stream" or "unknown duration", never as fatal conditions.
type Prober struct {
	ffprobePath string
	runner      Runner
	timeout     time.Duration
}

// NewProber creates a new stream prober. An empty ffprobePath yields a
// prober whose every query fails with ErrProbeFailed.
func NewProber(ffprobePath string, runner Runner) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		runner:      runner,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// HasAudioStream reports whether the file contains at least one audio stream.
func (p *Prober) HasAudioStream(ctx context.Context, path string) (bool, error) {
	out, err := p.query(ctx,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "audio"), nil
}

// Duration returns the container duration in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.query(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	dur, perr := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if perr != nil {
		return 0, fmt.Errorf("%w: unparsable duration %q", ErrProbeFailed, strings.TrimSpace(out))
	}
	return dur, nil
}

func (p *Prober) query(ctx context.Context, args ...string) (string, error) {
	if p.ffprobePath == "" {
		return "", fmt.Errorf("%w: ffprobe not available", ErrProbeFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stdout, _, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return stdout, nil
}
