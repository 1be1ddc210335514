package merge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clipforge/clipforge/internal/capability"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/encoder"
	"github.com/clipforge/clipforge/internal/ffmpeg"
	"github.com/clipforge/clipforge/internal/loudness"
)

// silenceSource is the lavfi base layer under every audio mix.
const silenceSource = "anullsrc=channel_layout=stereo:sample_rate=44100"

// Orchestrator runs the full combine pipeline. All intermediate artifacts
// live in one scratch directory per Combine call and are removed on every
// exit path.
type Orchestrator struct {
	cfg      *config.Config
	bins     ffmpeg.Binaries
	runner   ffmpeg.Runner
	prober   *ffmpeg.Prober
	encoder  *encoder.Encoder
	caps     *capability.Service
	analyzer *loudness.Analyzer
	logger   *slog.Logger
	goos     string
}

// New creates an Orchestrator.
func New(
	cfg *config.Config,
	bins ffmpeg.Binaries,
	runner ffmpeg.Runner,
	prober *ffmpeg.Prober,
	enc *encoder.Encoder,
	caps *capability.Service,
	analyzer *loudness.Analyzer,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		bins:     bins,
		runner:   runner,
		prober:   prober,
		encoder:  enc,
		caps:     caps,
		analyzer: analyzer,
		logger:   logger.With(slog.String("component", "merge")),
		goos:     runtime.GOOS,
	}
}

// WithGOOS overrides the platform used for concat-list path escaping.
func (o *Orchestrator) WithGOOS(goos string) *Orchestrator {
	o.goos = goos
	return o
}

// Request describes one combine job.
type Request struct {
	OutputPath    string
	Sources       []string
	AudioModes    []AudioMode
	ForceSoftware bool
	// NarrationPath optionally enables smart-volume balancing against the
	// narration track. The narration itself is mixed downstream; its gain
	// is derived here and reported on the Result.
	NarrationPath string
}

// Result is the outcome of one combine job.
type Result struct {
	OutputPath string
	// NarrationGain is the gain the downstream narration mix should apply:
	// the configured narration volume, multiplied by the smart-volume
	// adjustment when enabled, with the layered result clamped.
	NarrationGain float64
}

// Combine assembles the segments into one video at OutputPath. Segment
// failures degrade (segments are dropped, audio stages fall back to a
// video-only output); only a missing tool or an empty surviving segment set
// is fatal.
func (o *Orchestrator) Combine(ctx context.Context, req Request) (*Result, error) {
	if o.bins.FFmpeg == "" {
		return nil, ffmpeg.ErrToolMissing
	}

	sources, modes := truncateToShorter(req.Sources, req.AudioModes, o.logger)

	var (
		capd *capability.Descriptor
		err  error
	)
	if req.ForceSoftware {
		capd = o.caps.ForceSoftware()
	} else {
		capd, err = o.caps.Detect(ctx)
		if err != nil {
			return nil, err
		}
	}

	dir, cleanup, err := o.acquireScratchDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	plan := o.plan(ctx, sources, modes)
	if len(plan) == 0 {
		return nil, ffmpeg.ErrNoValidSegments
	}

	processed, err := o.encodeAll(ctx, plan, capd, dir)
	if err != nil {
		return nil, err
	}
	if len(processed) == 0 {
		return nil, ffmpeg.ErrNoValidSegments
	}

	videoPath, err := o.concatVideo(ctx, processed, dir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	res := &Result{OutputPath: req.OutputPath, NarrationGain: o.cfg.Volume.Narration}

	timings, total := ComputeOffsets(processed)
	if len(timings) == 0 {
		o.logger.Info("no segment kept audio, producing silent output")
		if err := o.copyVideoOnly(ctx, videoPath, req.OutputPath); err != nil {
			return nil, err
		}
		return res, nil
	}

	narrationGain, err := o.reconstructAudio(ctx, req, videoPath, timings, total, dir)
	if err != nil {
		o.logger.Warn("audio reconstruction failed, falling back to video-only output",
			slog.String("error", err.Error()))
		if berr := o.copyVideoOnly(ctx, videoPath, req.OutputPath); berr != nil {
			return nil, fmt.Errorf("backup path failed: %w (after %v)", berr, err)
		}
		return res, nil
	}
	res.NarrationGain = narrationGain

	return res, nil
}

// truncateToShorter reconciles the source and mode lists, warning (never
// failing) when their lengths differ.
func truncateToShorter(sources []string, modes []AudioMode, logger *slog.Logger) ([]string, []AudioMode) {
	if len(sources) == len(modes) {
		return sources, modes
	}
	n := len(sources)
	if len(modes) < n {
		n = len(modes)
	}
	logger.Warn("segment and audio-mode lists differ in length, truncating",
		slog.Int("sources", len(sources)),
		slog.Int("modes", len(modes)),
		slog.Int("kept", n))
	return sources[:n], modes[:n]
}

// acquireScratchDir creates the per-call temporary workspace and returns
// its guaranteed-release function.
func (o *Orchestrator) acquireScratchDir() (string, func(), error) {
	base := o.cfg.Merge.TempDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "clipforge-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	cleanup := func() {
		if o.cfg.Merge.KeepTemp {
			o.logger.Info("keeping scratch directory", slog.String("dir", dir))
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			o.logger.Warn("scratch cleanup failed", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}
	return dir, cleanup, nil
}

// plan probes every source and decides audio retention. Missing sources are
// dropped with a warning; a retention request against a silent source is
// logged, not failed.
func (o *Orchestrator) plan(ctx context.Context, sources []string, modes []AudioMode) []VideoSegment {
	plan := make([]VideoSegment, 0, len(sources))
	for i, src := range sources {
		if _, err := os.Stat(src); err != nil {
			o.logger.Warn("segment source missing, dropping",
				slog.Int("index", i), slog.String("source", src))
			continue
		}

		hasAudio, err := o.prober.HasAudioStream(ctx, src)
		if err != nil {
			hasAudio = false
		}

		seg := VideoSegment{Index: i, SourcePath: src, Mode: modes[i], HasAudio: hasAudio}
		if seg.Mode != AudioDrop && !seg.HasAudio {
			o.logger.Warn("audio retention requested but segment has no audio stream",
				slog.Int("index", i),
				slog.String("mode", seg.Mode.String()))
		}
		plan = append(plan, seg)
	}
	return plan
}

// encodeAll runs the segment encoder across the plan with a bounded worker
// pool. Encode failures drop the segment; results are re-sorted by index
// via ComputeOffsets later, so slot order here just mirrors the plan.
func (o *Orchestrator) encodeAll(ctx context.Context, plan []VideoSegment, capd *capability.Descriptor, dir string) ([]ProcessedSegment, error) {
	results := make([]*ProcessedSegment, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EncodeWorkers())

	for i, seg := range plan {
		g.Go(func() error {
			out := filepath.Join(dir, fmt.Sprintf("seg_%03d.mp4", seg.Index))
			if _, err := o.encoder.Encode(gctx, seg.SourcePath, out, seg.KeepAudio(), capd); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn("segment dropped after encode failure",
					slog.Int("index", seg.Index),
					slog.String("error", err.Error()))
				return nil
			}

			dur, err := o.prober.Duration(gctx, out)
			if err != nil {
				dur = 0
			}
			results[i] = &ProcessedSegment{
				Index:       seg.Index,
				EncodedPath: out,
				KeepAudio:   seg.KeepAudio(),
				Duration:    dur,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	processed := make([]ProcessedSegment, 0, len(results))
	for _, r := range results {
		if r != nil {
			processed = append(processed, *r)
		}
	}
	return processed, nil
}

// concatVideo losslessly concatenates the processed clips into one silent
// video track.
func (o *Orchestrator) concatVideo(ctx context.Context, processed []ProcessedSegment, dir string) (string, error) {
	paths := make([]string, len(processed))
	for i, p := range processed {
		paths[i] = p.EncodedPath
	}

	listPath := filepath.Join(dir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(BuildConcatList(paths, o.goos)), 0o644); err != nil {
		return "", fmt.Errorf("writing concat list: %w", err)
	}

	videoPath := filepath.Join(dir, "video.mp4")
	_, _, err := o.runner.Run(ctx, o.bins.FFmpeg,
		"-hide_banner", "-v", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy", "-an",
		videoPath,
	)
	if err != nil {
		return "", fmt.Errorf("%w: video concat: %v", ffmpeg.ErrMuxFailed, err)
	}
	return videoPath, nil
}

// reconstructAudio extracts retained tracks, mixes them over a silence base
// at their timeline offsets, and muxes the result under the concatenated
// video. It returns the narration gain for the Result. Any failure here is
// reported to the caller for the backup path.
func (o *Orchestrator) reconstructAudio(ctx context.Context, req Request, videoPath string, timings []AudioTiming, total float64, dir string) (float64, error) {
	extracts := make([]string, 0, len(timings))
	kept := make([]AudioTiming, 0, len(timings))
	for _, timing := range timings {
		out := filepath.Join(dir, fmt.Sprintf("audio_%03d.m4a", timing.Index))
		_, _, err := o.runner.Run(ctx, o.bins.FFmpeg,
			"-hide_banner", "-v", "error", "-y",
			"-i", timing.SourceFile,
			"-vn", "-c:a", "aac", "-b:a", o.cfg.Render.AudioBitrate,
			out,
		)
		if err != nil {
			o.logger.Warn("audio extraction failed, excluding track",
				slog.Int("index", timing.Index),
				slog.String("error", err.Error()))
			continue
		}
		extracts = append(extracts, out)
		kept = append(kept, timing)
	}
	if len(kept) == 0 {
		return 0, fmt.Errorf("%w: no audio track could be extracted", ffmpeg.ErrMixFailed)
	}

	// Gain layering: user-configured volumes first, then the smart
	// adjustment multiplied on top, with each layered result re-clamped.
	narrationGain := o.cfg.Volume.Narration
	originalGain := o.cfg.Volume.Original
	if o.cfg.Volume.Smart && req.NarrationPath != "" {
		smartNarration, smartOriginal := o.analyzer.ComputeAdjustment(ctx, req.NarrationPath, extracts[0])
		narrationGain = loudness.ClampNarrationGain(narrationGain * smartNarration)
		originalGain = loudness.ClampOriginalGain(originalGain * smartOriginal)
		o.logger.Info("smart volume adjustment applied",
			slog.Float64("narration_gain", narrationGain),
			slog.Float64("original_gain", originalGain))
	}

	tracks := make([]MixTrack, len(kept))
	for i, timing := range kept {
		tracks[i] = MixTrack{OffsetSeconds: timing.StartOffset, Gain: originalGain}
	}

	mixedPath := filepath.Join(dir, "mixed.m4a")
	mixArgs := []string{
		"-hide_banner", "-v", "error", "-y",
		"-f", "lavfi", "-t", fmt.Sprintf("%.3f", total), "-i", silenceSource,
	}
	for _, e := range extracts {
		mixArgs = append(mixArgs, "-i", e)
	}
	mixArgs = append(mixArgs,
		"-filter_complex", BuildMixFilter(tracks),
		"-map", "[aout]",
		"-c:a", "aac", "-b:a", o.cfg.Render.AudioBitrate,
		mixedPath,
	)
	if _, _, err := o.runner.Run(ctx, o.bins.FFmpeg, mixArgs...); err != nil {
		return 0, fmt.Errorf("%w: %v", ffmpeg.ErrMixFailed, err)
	}

	_, _, err := o.runner.Run(ctx, o.bins.FFmpeg,
		"-hide_banner", "-v", "error", "-y",
		"-i", videoPath,
		"-i", mixedPath,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "copy", "-c:a", "copy",
		"-shortest",
		"-movflags", "+faststart",
		req.OutputPath,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ffmpeg.ErrMuxFailed, err)
	}
	return narrationGain, nil
}

// copyVideoOnly stream-copies the silent concatenated video to the final
// output. It serves both the no-audio skip path and the backup path.
func (o *Orchestrator) copyVideoOnly(ctx context.Context, videoPath, outputPath string) error {
	_, _, err := o.runner.Run(ctx, o.bins.FFmpeg,
		"-hide_banner", "-v", "error", "-y",
		"-i", videoPath,
		"-c", "copy", "-an",
		"-movflags", "+faststart",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("%w: video-only copy: %v", ffmpeg.ErrMuxFailed, err)
	}
	return nil
}
