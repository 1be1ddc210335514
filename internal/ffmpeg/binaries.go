package ffmpeg

import (
	"context"
	"fmt"
	"strings"

	"github.com/clipforge/clipforge/internal/util"
)

// Binaries holds resolved paths to the external tools.
type Binaries struct {
	FFmpeg  string `json:"ffmpeg_path"`
	FFprobe string `json:"ffprobe_path"` // empty when ffprobe was not found
}

// FindBinaries locates ffmpeg and ffprobe. Explicit paths from configuration
// take precedence; otherwise the search order is environment variable,
// current directory, then PATH.
//
// ffmpeg is required: its absence returns ErrToolMissing and makes every
// downstream operation unavailable. ffprobe is optional; probing degrades
// gracefully without it.
func FindBinaries(ffmpegPath, ffprobePath string) (Binaries, error) {
	bins := Binaries{FFmpeg: ffmpegPath, FFprobe: ffprobePath}

	if bins.FFmpeg == "" {
		path, err := util.FindBinary("ffmpeg", "CLIPFORGE_FFMPEG_BINARY")
		if err != nil {
			return Binaries{}, fmt.Errorf("%w: %v", ErrToolMissing, err)
		}
		bins.FFmpeg = path
	}

	if bins.FFprobe == "" {
		if path, err := util.FindBinary("ffprobe", "CLIPFORGE_FFPROBE_BINARY"); err == nil {
			bins.FFprobe = path
		}
	}

	return bins, nil
}

// Verify confirms the ffmpeg binary is reachable by running a version query.
// Returns ErrToolMissing if the binary cannot be executed, along with the
// parsed version string on success.
func Verify(ctx context.Context, runner Runner, bins Binaries) (string, error) {
	stdout, _, err := runner.Run(ctx, bins.FFmpeg, "-version")
	if err != nil {
		return "", fmt.Errorf("%w: version query failed: %v", ErrToolMissing, err)
	}

	// First line looks like "ffmpeg version 6.0 Copyright ...".
	line, _, _ := strings.Cut(stdout, "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" {
		return fields[2], nil
	}
	return strings.TrimSpace(line), nil
}
