package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/capability"
	"github.com/clipforge/clipforge/internal/ffmpeg"
)

var detectFlags struct {
	json          bool
	forceSoftware bool
	timeout       time.Duration
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe hardware acceleration capabilities",
	Long: `detect verifies the ffmpeg installation, identifies the platform and GPU
vendor, and runs trial encodes to find the best working hardware
acceleration method. The same detection runs implicitly before a merge;
this command exposes the result for inspection.`,
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().BoolVar(&detectFlags.json, "json", false, "print the descriptor as JSON")
	detectCmd.Flags().BoolVar(&detectFlags.forceSoftware, "force-software", false, "skip hardware trials, report the software state")
	detectCmd.Flags().DurationVar(&detectFlags.timeout, "timeout", 0, "override the per-trial timeout")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, _ []string) error {
	bins, err := ffmpeg.FindBinaries(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	if err != nil {
		return err
	}

	runner := ffmpeg.NewRunner()
	ctx := cmd.Context()

	ffVersion, err := ffmpeg.Verify(ctx, runner, bins)
	if err != nil {
		return err
	}
	slog.Info("ffmpeg found",
		slog.String("path", bins.FFmpeg),
		slog.String("version", ffVersion))
	if bins.FFprobe == "" {
		slog.Warn("ffprobe not found, stream probing will be degraded")
	}

	opts := capabilityOptions()
	if detectFlags.timeout > 0 {
		opts = append(opts, capability.WithTrialTimeout(detectFlags.timeout))
	}

	svc := capability.NewService(bins, runner, slog.Default(), opts...)

	var desc *capability.Descriptor
	if detectFlags.forceSoftware {
		desc = svc.ForceSoftware()
	} else {
		desc, err = svc.Detect(ctx)
		if err != nil {
			return err
		}
	}

	if detectFlags.json {
		out, err := desc.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, out)
		return nil
	}

	fmt.Printf("Platform:       %s\n", desc.Platform)
	fmt.Printf("GPU vendor:     %s (dedicated: %v)\n", desc.GPUVendor, desc.IsDedicatedGPU)
	fmt.Printf("Hardware:       %v\n", desc.Available)
	fmt.Printf("Method:         %s\n", desc.Method)
	fmt.Printf("Encoder:        %s\n", desc.Encoder)
	if len(desc.TestedMethods) > 0 {
		fmt.Printf("Tested:         %v\n", desc.TestedMethods)
	}
	if desc.Message != "" {
		fmt.Printf("Note:           %s\n", desc.Message)
	}
	return nil
}

// capabilityOptions translates configuration into capability service options.
func capabilityOptions() []capability.Option {
	opts := []capability.Option{
		capability.WithTrialTimeout(cfg.FFmpeg.TrialTimeout),
	}

	if len(cfg.FFmpeg.HWAccelPriority) > 0 {
		var methods []capability.Method
		for _, name := range cfg.FFmpeg.HWAccelPriority {
			m, ok := capability.ParseMethod(name)
			if !ok {
				slog.Warn("ignoring unknown hwaccel method in priority override",
					slog.String("method", name))
				continue
			}
			methods = append(methods, m)
		}
		if len(methods) > 0 {
			opts = append(opts, capability.WithPriority(methods))
		}
	}
	return opts
}
