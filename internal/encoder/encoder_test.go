package encoder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/capability"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/ffmpeg"
	"github.com/clipforge/clipforge/internal/observability"
)

type scriptedRunner struct {
	rules []runnerRule
	calls []string
}

type runnerRule struct {
	contains string
	stdout   string
	err      error
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	line := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, line)
	for _, rule := range r.rules {
		if strings.Contains(line, rule.contains) {
			return rule.stdout, "", rule.err
		}
	}
	return "", "", nil
}

func (r *scriptedRunner) encodeCalls() []string {
	var out []string
	for _, c := range r.calls {
		if strings.Contains(c, "-c:v") {
			out = append(out, c)
		}
	}
	return out
}

var testRender = config.RenderConfig{
	Width:        1080,
	Height:       1920,
	FrameRate:    30,
	VideoBitrate: "8M",
	BufferSize:   "16M",
	AudioBitrate: "192k",
}

func newTestEncoder(runner *scriptedRunner) *Encoder {
	logger := observability.NewLoggerWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, io.Discard)
	bins := ffmpeg.Binaries{FFmpeg: "/usr/bin/ffmpeg", FFprobe: "/usr/bin/ffprobe"}
	prober := ffmpeg.NewProber(bins.FFprobe, runner)
	return New(bins, runner, prober, testRender, logger)
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(path, []byte("stub"), 0o644))
	return path
}

func audioRules() []runnerRule {
	return []runnerRule{{contains: "codec_type", stdout: "audio\n"}}
}

func hwDescriptor() *capability.Descriptor {
	return &capability.Descriptor{
		Available: true,
		Method:    capability.MethodCUDA,
		Encoder:   "h264_nvenc",
	}
}

func TestEncodeSourceNotFound(t *testing.T) {
	enc := newTestEncoder(&scriptedRunner{})

	_, err := enc.Encode(context.Background(), "/no/such/file.mp4", "/tmp/out.mp4", false, nil)
	assert.ErrorIs(t, err, ffmpeg.ErrSourceNotFound)
}

func TestEncodeHardwareFirst(t *testing.T) {
	runner := &scriptedRunner{rules: audioRules()}
	enc := newTestEncoder(runner)
	input := writeInput(t)

	out, err := enc.Encode(context.Background(), input, "/tmp/out.mp4", true, hwDescriptor())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.mp4", out)

	encodes := runner.encodeCalls()
	require.Len(t, encodes, 1)
	assert.Contains(t, encodes[0], "-c:v h264_nvenc")
	// Hardware decode is never requested on the NVENC path.
	assert.NotContains(t, encodes[0], "-hwaccel")
	assert.Contains(t, encodes[0], "scale=1080:1920:force_original_aspect_ratio=decrease")
	assert.Contains(t, encodes[0], "pad=1080:1920:(ow-iw)/2:(oh-ih)/2:black")
	assert.Contains(t, encodes[0], "-b:v 8M -maxrate 8M -bufsize 16M")
	assert.Contains(t, encodes[0], "-c:a aac")
}

func TestEncodeFallsBackToSoftware(t *testing.T) {
	runner := &scriptedRunner{rules: append(audioRules(),
		runnerRule{contains: "h264_nvenc", err: errors.New("exit status 1")},
	)}
	enc := newTestEncoder(runner)
	input := writeInput(t)

	_, err := enc.Encode(context.Background(), input, "/tmp/out.mp4", false, hwDescriptor())
	require.NoError(t, err)

	encodes := runner.encodeCalls()
	require.Len(t, encodes, 2)
	assert.Contains(t, encodes[0], "h264_nvenc")
	assert.Contains(t, encodes[1], "-c:v libx264")
	assert.Contains(t, encodes[1], "-preset fast")
	assert.Contains(t, encodes[1], "scale=1080:1920")
}

func TestEncodeChainExhausted(t *testing.T) {
	runner := &scriptedRunner{rules: append(audioRules(),
		runnerRule{contains: "-c:v", err: errors.New("exit status 1")},
	)}
	enc := newTestEncoder(runner)
	input := writeInput(t)

	_, err := enc.Encode(context.Background(), input, "/tmp/out.mp4", false, hwDescriptor())
	assert.ErrorIs(t, err, ffmpeg.ErrEncodeFailed)
	assert.Contains(t, err.Error(), input)

	// hw, software, then ultrafast minimal.
	encodes := runner.encodeCalls()
	require.Len(t, encodes, 3)
	assert.Contains(t, encodes[2], "-preset ultrafast")
	assert.NotContains(t, encodes[2], "scale=")
}

func TestEncodeNoAudioStreamClearsKeepAudio(t *testing.T) {
	runner := &scriptedRunner{rules: []runnerRule{
		{contains: "codec_type", stdout: "\n"},
	}}
	enc := newTestEncoder(runner)
	input := writeInput(t)

	_, err := enc.Encode(context.Background(), input, "/tmp/out.mp4", true, nil)
	require.NoError(t, err)

	encodes := runner.encodeCalls()
	require.Len(t, encodes, 1)
	assert.Contains(t, encodes[0], "-an")
	assert.NotContains(t, encodes[0], "-c:a")
}

func TestEncodeSoftwareWhenNoCapability(t *testing.T) {
	runner := &scriptedRunner{}
	enc := newTestEncoder(runner)
	input := writeInput(t)

	_, err := enc.Encode(context.Background(), input, "/tmp/out.mp4", false, nil)
	require.NoError(t, err)

	encodes := runner.encodeCalls()
	require.Len(t, encodes, 1)
	assert.Contains(t, encodes[0], "-c:v libx264")
}

func TestEncodeDecodeOnlyDescriptorUsesSoftware(t *testing.T) {
	runner := &scriptedRunner{}
	enc := newTestEncoder(runner)
	input := writeInput(t)

	d := &capability.Descriptor{
		Available: true,
		Method:    capability.MethodD3D11VA,
		Encoder:   capability.SoftwareEncoder,
		AccelArgs: []string{"-hwaccel", "d3d11va"},
	}
	_, err := enc.Encode(context.Background(), input, "/tmp/out.mp4", false, d)
	require.NoError(t, err)

	encodes := runner.encodeCalls()
	require.Len(t, encodes, 1)
	assert.Contains(t, encodes[0], "-c:v libx264")
	assert.NotContains(t, encodes[0], "-hwaccel")
}

func TestEncodeWindowsProbeDowngrade(t *testing.T) {
	runner := &scriptedRunner{rules: []runnerRule{
		{contains: "format=duration", err: errors.New("probe exploded")},
	}}
	enc := newTestEncoder(runner).WithGOOS("windows")
	input := writeInput(t)

	_, err := enc.Encode(context.Background(), input, "/tmp/out.mp4", false, hwDescriptor())
	require.NoError(t, err)

	encodes := runner.encodeCalls()
	require.Len(t, encodes, 1)
	assert.Contains(t, encodes[0], "-c:v libx264")
	assert.NotContains(t, encodes[0], "h264_nvenc")
}

func TestProfileFromDescriptor(t *testing.T) {
	t.Run("nil descriptor is software", func(t *testing.T) {
		assert.Equal(t, SoftwareProfile, ProfileFromDescriptor(nil))
	})

	t.Run("hardware descriptor", func(t *testing.T) {
		p := ProfileFromDescriptor(hwDescriptor())
		assert.Equal(t, "h264_nvenc", p.Encoder)
		assert.True(t, p.HWAccelEnabled)
		assert.Equal(t, []string{"-preset", "p4", "-rc", "vbr"}, p.Preset)
	})

	t.Run("vaapi carries hwupload filter", func(t *testing.T) {
		p := ProfileFromDescriptor(&capability.Descriptor{
			Available:   true,
			Method:      capability.MethodVAAPI,
			Encoder:     "h264_vaapi",
			ExtraFilter: "format=nv12,hwupload",
		})
		assert.Equal(t, "format=nv12,hwupload", p.ExtraFilter)
		assert.Empty(t, p.PixelFormat)
	})
}
