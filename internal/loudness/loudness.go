// Package loudness measures and normalizes audio loudness by driving
// ffmpeg's loudnorm and volumedetect filters and parsing the structured
// data they print to stderr.
package loudness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"

	"github.com/clipforge/clipforge/internal/ffmpeg"
)

// Loudnorm target parameters shared by measurement and normalization.
const (
	defaultTargetLUFS = -16.0
	truePeakCeiling   = -1.5
	loudnessRange     = 11.0

	// silenceFloorDB substitutes for negative infinity when a stream is
	// silent (zero RMS).
	silenceFloorDB = -90.0
)

// Gain clamp ranges. Source audio is allowed a larger boost because it is
// typically recorded quieter than narration.
const (
	narrationGainMin = 0.1
	narrationGainMax = 2.0
	originalGainMin  = 0.1
	originalGainMax  = 3.0

	defaultNarrationGain = 0.7
	defaultOriginalGain  = 1.0
)

// Measurement is the outcome of one loudness analysis.
type Measurement struct {
	IntegratedLUFS float64 `json:"integrated_lufs"`
	TruePeakDB     float64 `json:"true_peak_db"`
	RangeLU        float64 `json:"range_lu"`
	ThresholdLUFS  float64 `json:"threshold_lufs"`
	Offset         float64 `json:"offset"`
	// Source records which analysis produced the value: "loudnorm" or the
	// RMS fallback "volumedetect".
	Source string `json:"source"`
}

// Analyzer measures and normalizes audio streams.
type Analyzer struct {
	bins       ffmpeg.Binaries
	runner     ffmpeg.Runner
	logger     *slog.Logger
	targetLUFS float64
}

// NewAnalyzer creates an Analyzer normalizing toward targetLUFS (0 selects
// the -16 LUFS default).
func NewAnalyzer(bins ffmpeg.Binaries, runner ffmpeg.Runner, logger *slog.Logger, targetLUFS float64) *Analyzer {
	if targetLUFS == 0 {
		targetLUFS = defaultTargetLUFS
	}
	return &Analyzer{
		bins:       bins,
		runner:     runner,
		logger:     logger.With(slog.String("component", "loudness")),
		targetLUFS: targetLUFS,
	}
}

// loudnormReport mirrors the JSON block loudnorm prints on stderr. All
// fields are strings in ffmpeg's output.
type loudnormReport struct {
	InputI      string `json:"input_i"`
	InputTP     string `json:"input_tp"`
	InputLRA    string `json:"input_lra"`
	InputThresh string `json:"input_thresh"`
	Offset      string `json:"target_offset"`
}

// Measure analyzes integrated loudness. It first runs the loudnorm analysis
// pass; if the report cannot be parsed it falls back to RMS power via
// volumedetect. A nil Measurement with error means no method succeeded.
func (a *Analyzer) Measure(ctx context.Context, audioPath string) (*Measurement, error) {
	if m, err := a.measureLoudnorm(ctx, audioPath); err == nil {
		return m, nil
	} else {
		a.logger.Debug("loudnorm analysis failed, trying RMS fallback",
			slog.String("input", audioPath),
			slog.String("error", err.Error()))
	}

	m, err := a.measureRMS(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("loudness unmeasurable for %s: %w", audioPath, err)
	}
	return m, nil
}

func (a *Analyzer) measureLoudnorm(ctx context.Context, audioPath string) (*Measurement, error) {
	report, err := a.analysisReport(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	m := &Measurement{Source: "loudnorm"}
	m.IntegratedLUFS, _ = strconv.ParseFloat(report.InputI, 64)
	m.TruePeakDB, _ = strconv.ParseFloat(report.InputTP, 64)
	m.RangeLU, _ = strconv.ParseFloat(report.InputLRA, 64)
	m.ThresholdLUFS, _ = strconv.ParseFloat(report.InputThresh, 64)
	m.Offset, _ = strconv.ParseFloat(report.Offset, 64)
	return m, nil
}

var meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?[\d.]+)\s*dB`)

// measureRMS derives a decibel-scale level from volumedetect's mean volume.
// Silence reports no finite mean volume and maps to the floor value.
func (a *Analyzer) measureRMS(ctx context.Context, audioPath string) (*Measurement, error) {
	_, stderr, err := a.runner.Run(ctx, a.bins.FFmpeg,
		"-hide_banner", "-i", audioPath, "-af", "volumedetect", "-f", "null", "-")
	if err != nil {
		return nil, err
	}

	match := meanVolumeRe.FindStringSubmatch(stderr)
	if match == nil {
		// volumedetect ran but reported nothing finite: silent stream.
		return &Measurement{IntegratedLUFS: silenceFloorDB, Source: "volumedetect"}, nil
	}

	level, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil, fmt.Errorf("unparsable mean_volume %q", match[1])
	}
	return &Measurement{IntegratedLUFS: level, Source: "volumedetect"}, nil
}

// Normalize re-encodes input to output at the target loudness using
// two-pass loudnorm; when the analysis pass cannot be parsed it falls back
// to a single blind pass. The returned bool reports whether the precise
// two-pass path was used.
func (a *Analyzer) Normalize(ctx context.Context, input, output string) (bool, error) {
	report, err := a.analysisReport(ctx, input)
	if err != nil {
		a.logger.Warn("two-pass analysis failed, using blind normalization",
			slog.String("input", input),
			slog.String("error", err.Error()))

		filter := fmt.Sprintf("loudnorm=I=%g:TP=%g:LRA=%g",
			a.targetLUFS, truePeakCeiling, loudnessRange)
		_, _, err := a.runner.Run(ctx, a.bins.FFmpeg,
			"-hide_banner", "-v", "error", "-y",
			"-i", input, "-af", filter, output)
		if err != nil {
			return false, fmt.Errorf("%w: blind normalization: %v", ffmpeg.ErrMixFailed, err)
		}
		return false, nil
	}

	filter := fmt.Sprintf(
		"loudnorm=I=%g:TP=%g:LRA=%g:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		a.targetLUFS, truePeakCeiling, loudnessRange,
		report.InputI, report.InputTP, report.InputLRA, report.InputThresh, report.Offset)

	_, _, err = a.runner.Run(ctx, a.bins.FFmpeg,
		"-hide_banner", "-v", "error", "-y",
		"-i", input, "-af", filter, output)
	if err != nil {
		return false, fmt.Errorf("%w: two-pass normalization: %v", ffmpeg.ErrMixFailed, err)
	}
	return true, nil
}

// analysisReport runs the loudnorm analysis pass and returns the raw report
// for use in the second pass.
func (a *Analyzer) analysisReport(ctx context.Context, input string) (*loudnormReport, error) {
	filter := fmt.Sprintf("loudnorm=I=%g:TP=%g:LRA=%g:print_format=json",
		a.targetLUFS, truePeakCeiling, loudnessRange)

	_, stderr, err := a.runner.Run(ctx, a.bins.FFmpeg,
		"-hide_banner", "-i", input, "-af", filter, "-f", "null", "-")
	if err != nil {
		return nil, err
	}

	block, ok := ffmpeg.ExtractJSONBlock(stderr)
	if !ok {
		return nil, fmt.Errorf("no loudnorm report in output")
	}
	var report loudnormReport
	if err := json.Unmarshal([]byte(block), &report); err != nil {
		return nil, err
	}
	if _, err := strconv.ParseFloat(report.InputI, 64); err != nil {
		return nil, fmt.Errorf("unparsable input_i %q", report.InputI)
	}
	return &report, nil
}

// ComputeAdjustment measures narration and source audio and derives a linear
// gain per stream toward the target loudness. When either stream cannot be
// measured by any method, fixed neutral defaults are returned instead of an
// error.
func (a *Analyzer) ComputeAdjustment(ctx context.Context, narrationPath, originalPath string) (narrationGain, originalGain float64) {
	narration, nerr := a.Measure(ctx, narrationPath)
	original, oerr := a.Measure(ctx, originalPath)
	if nerr != nil || oerr != nil {
		a.logger.Warn("loudness adjustment unavailable, using defaults")
		return defaultNarrationGain, defaultOriginalGain
	}

	narrationGain = ClampNarrationGain(linearGain(a.targetLUFS, narration.IntegratedLUFS))
	originalGain = ClampOriginalGain(linearGain(a.targetLUFS, original.IntegratedLUFS))

	a.logger.Debug("computed volume adjustment",
		slog.Float64("narration_lufs", narration.IntegratedLUFS),
		slog.Float64("original_lufs", original.IntegratedLUFS),
		slog.Float64("narration_gain", narrationGain),
		slog.Float64("original_gain", originalGain))
	return narrationGain, originalGain
}

// ClampNarrationGain bounds a narration gain to its allowed range. Callers
// layering gains (user volume times smart adjustment) clamp each layered
// result with this too.
func ClampNarrationGain(v float64) float64 {
	return clamp(v, narrationGainMin, narrationGainMax)
}

// ClampOriginalGain bounds a source-audio gain to its allowed range.
func ClampOriginalGain(v float64) float64 {
	return clamp(v, originalGainMin, originalGainMax)
}

// linearGain converts a loudness delta in dB to a linear amplitude factor.
func linearGain(target, measured float64) float64 {
	return math.Pow(10, (target-measured)/20)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
