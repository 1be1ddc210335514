package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"

	"github.com/clipforge/clipforge/internal/capability"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/ffmpeg"
)

// Encoder normalizes one clip per call to the configured geometry and frame
// rate. It is stateless between calls and safe for concurrent use.
type Encoder struct {
	bins   ffmpeg.Binaries
	runner ffmpeg.Runner
	prober *ffmpeg.Prober
	render config.RenderConfig
	logger *slog.Logger
	goos   string // injectable for the Windows-specific probe check
}

// New creates an Encoder.
func New(bins ffmpeg.Binaries, runner ffmpeg.Runner, prober *ffmpeg.Prober, render config.RenderConfig, logger *slog.Logger) *Encoder {
	return &Encoder{
		bins:   bins,
		runner: runner,
		prober: prober,
		render: render,
		logger: logger.With(slog.String("component", "encoder")),
		goos:   runtime.GOOS,
	}
}

// WithGOOS overrides the platform the encoder believes it runs on.
func (e *Encoder) WithGOOS(goos string) *Encoder {
	e.goos = goos
	return e
}

// strategy is one node of the fallback chain.
type strategy struct {
	name    string
	profile Profile
	// minimal drops the scale/pad chain entirely (last-resort node).
	minimal bool
}

// Encode transcodes input to outputPath at the canonical geometry. keepAudio
// retains the source audio stream; when the source has no audio stream the
// flag is cleared with a warning, never an error. The fallback chain is
// linear and stops at the first success; exhausting it returns
// ErrEncodeFailed naming the input.
func (e *Encoder) Encode(ctx context.Context, input, outputPath string, keepAudio bool, capd *capability.Descriptor) (string, error) {
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("%w: %s", ffmpeg.ErrSourceNotFound, input)
	}

	if keepAudio {
		has, err := e.prober.HasAudioStream(ctx, input)
		if err != nil || !has {
			e.logger.Warn("audio retention requested but no audio stream found",
				slog.String("input", input))
			keepAudio = false
		}
	}

	chain := e.buildChain(ctx, input, capd)

	var lastErr error
	for _, s := range chain {
		args := e.buildArgs(input, outputPath, keepAudio, s)
		if _, _, err := e.runner.Run(ctx, e.bins.FFmpeg, args...); err != nil {
			lastErr = err
			e.logger.Warn("encode attempt failed",
				slog.String("strategy", s.name),
				slog.String("input", input),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		e.logger.Debug("segment encoded",
			slog.String("strategy", s.name),
			slog.String("output", outputPath))
		return outputPath, nil
	}

	return "", fmt.Errorf("%w: %s: %v", ffmpeg.ErrEncodeFailed, input, lastErr)
}

// buildChain assembles the ordered strategy list: selected hardware path,
// then software with the full filter chain, then minimal ultrafast.
func (e *Encoder) buildChain(ctx context.Context, input string, capd *capability.Descriptor) []strategy {
	chain := make([]strategy, 0, 3)

	if capd != nil && capd.HardwareEncode() && e.trustHardware(ctx, input) {
		chain = append(chain, strategy{name: "hw-" + string(capd.Method), profile: ProfileFromDescriptor(capd)})
	}
	chain = append(chain,
		strategy{name: "software", profile: SoftwareProfile},
		strategy{name: "ultrafast", profile: UltrafastProfile, minimal: true},
	)
	return chain
}

// trustHardware applies the Windows-specific sanity check: probe the source
// before engaging a hardware path and silently downgrade to software when
// the probe itself fails.
func (e *Encoder) trustHardware(ctx context.Context, input string) bool {
	if e.goos != "windows" {
		return true
	}
	if _, err := e.prober.Duration(ctx, input); err != nil {
		e.logger.Debug("pre-encode probe failed, downgrading to software",
			slog.String("input", input))
		return false
	}
	return true
}

// buildArgs constructs the full ffmpeg argument vector for one strategy.
// Bitrate ceiling and buffer size are applied uniformly across encoders for
// predictable output size.
func (e *Encoder) buildArgs(input, outputPath string, keepAudio bool, s strategy) []string {
	args := []string{"-hide_banner", "-v", "error", "-y"}
	args = append(args, s.profile.AccelArgs...)
	args = append(args, "-i", input)

	if s.minimal {
		args = append(args, "-vf", "format="+s.profile.PixelFormat)
	} else {
		args = append(args, "-vf", e.filterChain(s.profile.ExtraFilter))
		args = append(args, "-r", strconv.Itoa(e.render.FrameRate))
		if s.profile.PixelFormat != "" {
			args = append(args, "-pix_fmt", s.profile.PixelFormat)
		}
	}

	args = append(args, "-c:v", s.profile.Encoder)
	args = append(args, s.profile.Preset...)
	args = append(args,
		"-b:v", e.render.VideoBitrate,
		"-maxrate", e.render.VideoBitrate,
		"-bufsize", e.render.BufferSize,
	)

	if keepAudio {
		args = append(args, "-c:a", "aac", "-b:a", e.render.AudioBitrate)
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-movflags", "+faststart", outputPath)
	return args
}

// filterChain builds the scale-then-pad chain mapping arbitrary source
// aspect ratios onto the canonical geometry without cropping.
func (e *Encoder) filterChain(extra string) string {
	w, h := e.render.Width, e.render.Height
	chain := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black",
		w, h, w, h,
	)
	if extra != "" {
		chain += "," + extra
	}
	return chain
}
