package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/capability"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/encoder"
	"github.com/clipforge/clipforge/internal/ffmpeg"
	"github.com/clipforge/clipforge/internal/loudness"
	"github.com/clipforge/clipforge/internal/observability"
)

// handlerRunner delegates every invocation to a test-provided function and
// records the joined command lines.
type handlerRunner struct {
	handler func(line string) (string, string, error)
	calls   []string
}

func (r *handlerRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	line := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, line)
	if r.handler != nil {
		return r.handler(line)
	}
	return "", "", nil
}

func (r *handlerRunner) find(substr string) (string, bool) {
	for _, c := range r.calls {
		if strings.Contains(c, substr) {
			return c, true
		}
	}
	return "", false
}

type fixture struct {
	orch    *Orchestrator
	runner  *handlerRunner
	tempDir string
	cfg     *config.Config
}

func newFixture(t *testing.T, handler func(line string) (string, string, error)) *fixture {
	t.Helper()

	logger := observability.NewLoggerWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, io.Discard)
	runner := &handlerRunner{handler: handler}
	bins := ffmpeg.Binaries{FFmpeg: "/usr/bin/ffmpeg", FFprobe: "/usr/bin/ffprobe"}

	tempDir := t.TempDir()
	cfg := &config.Config{
		Render: config.RenderConfig{
			Width: 1080, Height: 1920, FrameRate: 30,
			VideoBitrate: "8M", BufferSize: "16M", AudioBitrate: "192k",
		},
		Volume: config.VolumeConfig{Narration: 1.0, Original: 1.0},
		Merge:  config.MergeConfig{Workers: 1, TempDir: tempDir},
	}

	prober := ffmpeg.NewProber(bins.FFprobe, runner)
	enc := encoder.New(bins, runner, prober, cfg.Render, logger)
	caps := capability.NewService(bins, runner, logger,
		capability.WithPlatformProbe(func() capability.Platform { return capability.PlatformOther }),
		capability.WithVendorProbe(func(context.Context) (capability.Vendor, bool) {
			return capability.VendorUnknown, false
		}),
	)
	analyzer := loudness.NewAnalyzer(bins, runner, logger, -16)

	return &fixture{
		orch:    New(cfg, bins, runner, prober, enc, caps, analyzer, logger).WithGOOS("linux"),
		runner:  runner,
		tempDir: tempDir,
		cfg:     cfg,
	}
}

func writeSources(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("stub"), 0o644))
	}
	return paths
}

// scenarioHandler models three processed segments of 10s/15s/20s whose
// sources all carry audio.
func scenarioHandler(line string) (string, string, error) {
	switch {
	case strings.Contains(line, "codec_type"):
		return "audio\n", "", nil
	case strings.Contains(line, "format=duration"):
		switch {
		case strings.Contains(line, "seg_000"):
			return "10.0\n", "", nil
		case strings.Contains(line, "seg_001"):
			return "15.0\n", "", nil
		case strings.Contains(line, "seg_002"):
			return "20.0\n", "", nil
		}
		return "1.0\n", "", nil
	}
	return "", "", nil
}

func scratchDirsIn(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCombineEndToEnd(t *testing.T) {
	f := newFixture(t, scenarioHandler)
	sources := writeSources(t, "a.mp4", "b.mp4", "c.mp4")
	output := filepath.Join(t.TempDir(), "out", "final.mp4")

	res, err := f.orch.Combine(context.Background(), Request{
		OutputPath: output,
		Sources:    sources,
		AudioModes: []AudioMode{AudioKeepOnly, AudioDrop, AudioKeepPlusNarration},
	})
	require.NoError(t, err)
	assert.Equal(t, output, res.OutputPath)

	concat, ok := f.runner.find("-f concat")
	require.True(t, ok)
	assert.Contains(t, concat, "-c copy -an")

	mix, ok := f.runner.find("-filter_complex")
	require.True(t, ok)
	assert.Contains(t, mix, "adelay=0|0")
	assert.Contains(t, mix, "adelay=25000|25000")
	assert.Contains(t, mix, "amix=inputs=3:duration=longest")
	assert.NotContains(t, mix, "normalize")
	assert.Contains(t, mix, "volume=3[a1]")
	assert.Contains(t, mix, "-t 45.000")

	mux, ok := f.runner.find("-shortest")
	require.True(t, ok)
	assert.Contains(t, mux, "-map 0:v -map 1:a")
	assert.Contains(t, mux, output)

	// Scratch directory released on the success path.
	assert.Empty(t, scratchDirsIn(t, f.tempDir))
}

// loudnormStderrFor fabricates the analysis-pass report loudnorm prints on
// stderr with the given integrated loudness.
func loudnormStderrFor(inputI string) string {
	return fmt.Sprintf(`[Parsed_loudnorm_0 @ 0x55f]
{
	"input_i" : %q,
	"input_tp" : "-1.20",
	"input_lra" : "4.00",
	"input_thresh" : "-30.00",
	"output_i" : "-16.00",
	"target_offset" : "0.00"
}
`, inputI)
}

func TestCombineSmartVolume(t *testing.T) {
	// Narration measures at -10 LUFS (6 dB above the -16 target), so its
	// smart factor is about 0.5. Source audio measures at -40 LUFS; its raw
	// factor of ~15.9 clamps to 3, and layering the configured volume of 2
	// on top must re-clamp to 3 rather than hand the mix a gain of 6.
	f := newFixture(t, func(line string) (string, string, error) {
		if strings.Contains(line, "loudnorm") && strings.Contains(line, "print_format=json") {
			if strings.Contains(line, "voice.m4a") {
				return "", loudnormStderrFor("-10.00"), nil
			}
			return "", loudnormStderrFor("-40.00"), nil
		}
		return scenarioHandler(line)
	})
	f.cfg.Volume.Smart = true
	f.cfg.Volume.Narration = 1.0
	f.cfg.Volume.Original = 2.0

	sources := writeSources(t, "a.mp4")
	output := filepath.Join(t.TempDir(), "final.mp4")

	res, err := f.orch.Combine(context.Background(), Request{
		OutputPath:    output,
		Sources:       sources,
		AudioModes:    []AudioMode{AudioKeepPlusNarration},
		NarrationPath: "voice.m4a",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.501, res.NarrationGain, 0.001)

	// One retained track plus the silence base: dilution 2 times the
	// clamped original gain 3.
	mix, ok := f.runner.find("-filter_complex")
	require.True(t, ok)
	assert.Contains(t, mix, "volume=6[a1]")
}

func TestCombineDegradedNoAudio(t *testing.T) {
	// Retention is requested but the probe reports no audio stream: the run
	// completes without audio for that slice instead of failing.
	f := newFixture(t, func(line string) (string, string, error) {
		if strings.Contains(line, "codec_type") {
			return "\n", "", nil
		}
		if strings.Contains(line, "format=duration") {
			return "10.0\n", "", nil
		}
		return "", "", nil
	})
	sources := writeSources(t, "a.mp4")
	output := filepath.Join(t.TempDir(), "final.mp4")

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath: output,
		Sources:    sources,
		AudioModes: []AudioMode{AudioKeepOnly},
	})
	require.NoError(t, err)

	_, mixed := f.runner.find("-filter_complex")
	assert.False(t, mixed)
	copyCall, ok := f.runner.find("-c copy -an -movflags")
	require.True(t, ok)
	assert.Contains(t, copyCall, output)
}

func TestCombineMixFailureFallsBackToVideoOnly(t *testing.T) {
	f := newFixture(t, func(line string) (string, string, error) {
		if strings.Contains(line, "-filter_complex") {
			return "", "", errors.New("exit status 1")
		}
		return scenarioHandler(line)
	})
	sources := writeSources(t, "a.mp4")
	output := filepath.Join(t.TempDir(), "final.mp4")

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath: output,
		Sources:    sources,
		AudioModes: []AudioMode{AudioKeepOnly},
	})
	require.NoError(t, err)

	backup, ok := f.runner.find("-c copy -an -movflags")
	require.True(t, ok)
	assert.Contains(t, backup, output)
	assert.Empty(t, scratchDirsIn(t, f.tempDir))
}

func TestCombineConcatFailureIsFatalAndCleansUp(t *testing.T) {
	f := newFixture(t, func(line string) (string, string, error) {
		if strings.Contains(line, "-f concat") {
			return "", "", errors.New("exit status 1")
		}
		return scenarioHandler(line)
	})
	sources := writeSources(t, "a.mp4")

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath: filepath.Join(t.TempDir(), "final.mp4"),
		Sources:    sources,
		AudioModes: []AudioMode{AudioKeepOnly},
	})
	assert.ErrorIs(t, err, ffmpeg.ErrMuxFailed)

	// Scratch directory released on the failure path too.
	assert.Empty(t, scratchDirsIn(t, f.tempDir))
}

func TestCombineAllEncodesFailing(t *testing.T) {
	f := newFixture(t, func(line string) (string, string, error) {
		if strings.Contains(line, "-c:v") {
			return "", "", errors.New("exit status 1")
		}
		return scenarioHandler(line)
	})
	sources := writeSources(t, "a.mp4", "b.mp4")

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath: filepath.Join(t.TempDir(), "final.mp4"),
		Sources:    sources,
		AudioModes: []AudioMode{AudioKeepOnly, AudioDrop},
	})
	assert.ErrorIs(t, err, ffmpeg.ErrNoValidSegments)
	assert.Empty(t, scratchDirsIn(t, f.tempDir))
}

func TestCombineMissingSourcesDropped(t *testing.T) {
	f := newFixture(t, scenarioHandler)
	sources := writeSources(t, "a.mp4")
	sources = append(sources, "/no/such/clip.mp4")
	output := filepath.Join(t.TempDir(), "final.mp4")

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath: output,
		Sources:    sources,
		AudioModes: []AudioMode{AudioKeepOnly, AudioKeepOnly},
	})
	require.NoError(t, err)

	// Only the surviving source is encoded.
	encodes := 0
	for _, c := range f.runner.calls {
		if strings.Contains(c, "-c:v") {
			encodes++
		}
	}
	assert.Equal(t, 1, encodes)
}

func TestCombineAllSourcesMissing(t *testing.T) {
	f := newFixture(t, scenarioHandler)

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath: filepath.Join(t.TempDir(), "final.mp4"),
		Sources:    []string{"/no/such/a.mp4", "/no/such/b.mp4"},
		AudioModes: []AudioMode{AudioDrop, AudioDrop},
	})
	assert.ErrorIs(t, err, ffmpeg.ErrNoValidSegments)
}

func TestCombineTruncatesMismatchedLists(t *testing.T) {
	f := newFixture(t, scenarioHandler)
	sources := writeSources(t, "a.mp4", "b.mp4")
	output := filepath.Join(t.TempDir(), "final.mp4")

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath: output,
		Sources:    sources,
		AudioModes: []AudioMode{AudioDrop},
	})
	require.NoError(t, err)

	encodes := 0
	for _, c := range f.runner.calls {
		if strings.Contains(c, "-c:v") {
			encodes++
		}
	}
	assert.Equal(t, 1, encodes)
}

func TestCombineForceSoftware(t *testing.T) {
	f := newFixture(t, scenarioHandler)
	sources := writeSources(t, "a.mp4")
	output := filepath.Join(t.TempDir(), "final.mp4")

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath:    output,
		Sources:       sources,
		AudioModes:    []AudioMode{AudioDrop},
		ForceSoftware: true,
	})
	require.NoError(t, err)

	enc, ok := f.runner.find("-c:v")
	require.True(t, ok)
	assert.Contains(t, enc, "-c:v libx264")
	_, hw := f.runner.find("h264_nvenc")
	assert.False(t, hw)
}

func TestCombineMissingTool(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.bins = ffmpeg.Binaries{}

	_, err := f.orch.Combine(context.Background(), Request{
		OutputPath: "out.mp4",
		Sources:    []string{"a.mp4"},
		AudioModes: []AudioMode{AudioDrop},
	})
	assert.ErrorIs(t, err, ffmpeg.ErrToolMissing)
}

func TestSweepOrphans(t *testing.T) {
	logger := observability.NewLoggerWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, io.Discard)
	base := t.TempDir()

	old := filepath.Join(base, "clipforge-old")
	require.NoError(t, os.Mkdir(old, 0o755))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	fresh := filepath.Join(base, "clipforge-fresh")
	require.NoError(t, os.Mkdir(fresh, 0o755))

	unrelated := filepath.Join(base, "other-dir")
	require.NoError(t, os.Mkdir(unrelated, 0o755))

	removed := SweepOrphans(base, 24*time.Hour, logger)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, unrelated)
}
