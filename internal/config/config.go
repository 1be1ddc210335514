// Package config provides configuration management for clipforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultTargetWidth   = 1080
	defaultTargetHeight  = 1920
	defaultFrameRate     = 30
	defaultVideoBitrate  = "8M"
	defaultBufferSize    = "16M"
	defaultAudioBitrate  = "192k"
	defaultTrialTimeout  = 10 * time.Second
	defaultProbeTimeout  = 30 * time.Second
	defaultTargetLUFS    = -16.0
	defaultNarrationVol  = 1.0
	defaultOriginalVol   = 1.0
	defaultTempDirMaxAge = 24 * time.Hour
	maxDefaultWorkers    = 4
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg"`
	Render  RenderConfig  `mapstructure:"render"`
	Volume  VolumeConfig  `mapstructure:"volume"`
	Merge   MergeConfig   `mapstructure:"merge"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary and detection configuration.
type FFmpegConfig struct {
	BinaryPath      string        `mapstructure:"binary_path"`      // Path to ffmpeg binary (empty = auto-detect)
	ProbePath       string        `mapstructure:"probe_path"`       // Path to ffprobe binary (empty = auto-detect)
	HWAccelPriority []string      `mapstructure:"hwaccel_priority"` // Override detection order: cuda, nvenc, qsv, vaapi, ...
	TrialTimeout    time.Duration `mapstructure:"trial_timeout"`    // Timeout for a single hardware trial encode
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`    // Timeout for ffprobe invocations
}

// RenderConfig holds the canonical output geometry and encoding parameters.
type RenderConfig struct {
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	FrameRate    int    `mapstructure:"frame_rate"`
	VideoBitrate string `mapstructure:"video_bitrate"` // Passed verbatim to ffmpeg (e.g. "8M")
	BufferSize   string `mapstructure:"buffer_size"`
	AudioBitrate string `mapstructure:"audio_bitrate"`
}

// VolumeConfig holds audio level configuration.
type VolumeConfig struct {
	Narration  float64 `mapstructure:"narration"`   // User gain for the narration track
	Original   float64 `mapstructure:"original"`    // User gain for retained original audio
	Smart      bool    `mapstructure:"smart"`       // Enable loudness-based auto balancing
	TargetLUFS float64 `mapstructure:"target_lufs"` // Normalization target
}

// MergeConfig holds merge pipeline configuration.
type MergeConfig struct {
	Workers       int           `mapstructure:"workers"`  // Concurrent segment encodes (0 = auto)
	TempDir       string        `mapstructure:"temp_dir"` // Base for scratch dirs (empty = os.TempDir)
	KeepTemp      bool          `mapstructure:"keep_temp"`
	TempDirMaxAge time.Duration `mapstructure:"temp_dir_max_age"` // Age before orphaned scratch dirs are swept
}

// bitrateRe matches ffmpeg-style bitrate/size values like "8M", "192k", "500000".
var bitrateRe = regexp.MustCompile(`^\d+(\.\d+)?[kKmMgG]?$`)

// Load reads configuration from the given file (optional) and environment.
// Environment variables use the CLIPFORGE_ prefix with underscores, e.g.
// CLIPFORGE_RENDER_WIDTH=720.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("CLIPFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{})
	v.SetDefault("ffmpeg.trial_timeout", defaultTrialTimeout)
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)

	v.SetDefault("render.width", defaultTargetWidth)
	v.SetDefault("render.height", defaultTargetHeight)
	v.SetDefault("render.frame_rate", defaultFrameRate)
	v.SetDefault("render.video_bitrate", defaultVideoBitrate)
	v.SetDefault("render.buffer_size", defaultBufferSize)
	v.SetDefault("render.audio_bitrate", defaultAudioBitrate)

	v.SetDefault("volume.narration", defaultNarrationVol)
	v.SetDefault("volume.original", defaultOriginalVol)
	v.SetDefault("volume.smart", false)
	v.SetDefault("volume.target_lufs", defaultTargetLUFS)

	v.SetDefault("merge.workers", 0)
	v.SetDefault("merge.temp_dir", "")
	v.SetDefault("merge.keep_temp", false)
	v.SetDefault("merge.temp_dir_max_age", defaultTempDirMaxAge)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		errs = append(errs, fmt.Errorf("render geometry must be positive, got %dx%d", c.Render.Width, c.Render.Height))
	}
	if c.Render.Width%2 != 0 || c.Render.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("render geometry must be even for yuv420p, got %dx%d", c.Render.Width, c.Render.Height))
	}
	if c.Render.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("render frame_rate must be positive, got %d", c.Render.FrameRate))
	}
	for key, val := range map[string]string{
		"render.video_bitrate": c.Render.VideoBitrate,
		"render.buffer_size":   c.Render.BufferSize,
		"render.audio_bitrate": c.Render.AudioBitrate,
	} {
		if !bitrateRe.MatchString(val) {
			errs = append(errs, fmt.Errorf("%s %q is not a valid bitrate value", key, val))
		}
	}
	if c.Volume.Narration < 0 || c.Volume.Original < 0 {
		errs = append(errs, errors.New("volume gains must not be negative"))
	}
	if c.Merge.Workers < 0 {
		errs = append(errs, errors.New("merge.workers must not be negative"))
	}
	if c.FFmpeg.TrialTimeout <= 0 {
		errs = append(errs, errors.New("ffmpeg.trial_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// EncodeWorkers returns the effective segment-encode concurrency.
func (c *Config) EncodeWorkers() int {
	if c.Merge.Workers > 0 {
		return c.Merge.Workers
	}
	n := runtime.NumCPU()
	if n > maxDefaultWorkers {
		n = maxDefaultWorkers
	}
	return n
}
