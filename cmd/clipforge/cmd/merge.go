package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/capability"
	"github.com/clipforge/clipforge/internal/encoder"
	"github.com/clipforge/clipforge/internal/ffmpeg"
	"github.com/clipforge/clipforge/internal/loudness"
	"github.com/clipforge/clipforge/internal/merge"
)

var mergeFlags struct {
	output        string
	inputs        []string
	audioModes    []int
	aspect        string
	narration     string
	forceSoftware bool
	workers       int
}

// aspectGeometries maps the aspect flag to canonical output geometry.
var aspectGeometries = map[string][2]int{
	"9:16": {1080, 1920},
	"16:9": {1920, 1080},
	"1:1":  {1080, 1080},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge input clips into one normalized video",
	Long: `merge encodes every input clip to the canonical geometry and frame rate,
concatenates them in order, and reconstructs a mixed audio track from the
segments whose audio mode requests retention.

Audio modes are given per input, in order: 0 drops the segment's original
audio, 1 keeps it, 2 keeps it for mixing under a narration track. A missing
mode list keeps every segment's audio.`,
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeFlags.output, "output", "o", "", "output file path (required)")
	mergeCmd.Flags().StringArrayVarP(&mergeFlags.inputs, "input", "i", nil, "input clip, repeatable, in order (required)")
	mergeCmd.Flags().IntSliceVar(&mergeFlags.audioModes, "audio-modes", nil, "per-input audio mode (0=drop, 1=keep, 2=keep+narration)")
	mergeCmd.Flags().StringVar(&mergeFlags.aspect, "aspect", "9:16", "output aspect ratio (9:16, 16:9, 1:1)")
	mergeCmd.Flags().StringVar(&mergeFlags.narration, "narration", "", "narration track for smart volume balancing")
	mergeCmd.Flags().BoolVar(&mergeFlags.forceSoftware, "force-software", false, "skip hardware detection, encode in software")
	mergeCmd.Flags().IntVar(&mergeFlags.workers, "workers", 0, "concurrent segment encodes (0 = auto)")

	_ = mergeCmd.MarkFlagRequired("output")
	_ = mergeCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, _ []string) error {
	geometry, ok := aspectGeometries[mergeFlags.aspect]
	if !ok {
		return fmt.Errorf("unknown aspect ratio %q", mergeFlags.aspect)
	}
	cfg.Render.Width, cfg.Render.Height = geometry[0], geometry[1]
	if mergeFlags.workers > 0 {
		cfg.Merge.Workers = mergeFlags.workers
	}

	modes, err := resolveAudioModes(len(mergeFlags.inputs), mergeFlags.audioModes)
	if err != nil {
		return err
	}

	bins, err := ffmpeg.FindBinaries(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	runner := ffmpeg.NewRunner()
	prober := ffmpeg.NewProber(bins.FFprobe, runner).WithTimeout(cfg.FFmpeg.ProbeTimeout)

	merge.SweepOrphans(cfg.Merge.TempDir, cfg.Merge.TempDirMaxAge, logger)

	enc := encoder.New(bins, runner, prober, cfg.Render, logger)
	caps := capability.NewService(bins, runner, logger, capabilityOptions()...)
	analyzer := loudness.NewAnalyzer(bins, runner, logger, cfg.Volume.TargetLUFS)
	orch := merge.New(cfg, bins, runner, prober, enc, caps, analyzer, logger)

	res, err := orch.Combine(ctx, merge.Request{
		OutputPath:    mergeFlags.output,
		Sources:       mergeFlags.inputs,
		AudioModes:    modes,
		ForceSoftware: mergeFlags.forceSoftware,
		NarrationPath: mergeFlags.narration,
	})
	if err != nil {
		return err
	}

	logger.Info("merge complete",
		slog.String("output", res.OutputPath),
		slog.Float64("narration_gain", res.NarrationGain))
	fmt.Println(res.OutputPath)
	return nil
}

// resolveAudioModes validates the ordinal list; an empty list keeps every
// segment's audio.
func resolveAudioModes(inputs int, ordinals []int) ([]merge.AudioMode, error) {
	if len(ordinals) == 0 {
		modes := make([]merge.AudioMode, inputs)
		for i := range modes {
			modes[i] = merge.AudioKeepOnly
		}
		return modes, nil
	}

	modes := make([]merge.AudioMode, 0, len(ordinals))
	for i, n := range ordinals {
		mode, err := merge.AudioModeFromOrdinal(n)
		if err != nil {
			return nil, fmt.Errorf("audio mode %d: %w", i, err)
		}
		modes = append(modes, mode)
	}
	return modes, nil
}
