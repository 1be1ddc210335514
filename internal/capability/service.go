package capability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/ffmpeg"
)

const defaultTrialTimeout = 10 * time.Second

// testClipSource is the lavfi description of the synthetic trial clip.
const testClipSource = "testsrc2=duration=1:size=320x240:rate=30"

// Service detects hardware capabilities and caches the result for the
// process lifetime. The cached descriptor is safe for concurrent readers;
// population is single-flight, so concurrent first callers share one
// detection pass instead of racing hardware trials.
type Service struct {
	bins         ffmpeg.Binaries
	runner       ffmpeg.Runner
	logger       *slog.Logger
	trialTimeout time.Duration

	// priority overrides the (platform, vendor) table when non-empty.
	priority []Method

	// injectable for tests
	platformFn func() Platform
	vendorFn   func(ctx context.Context) (Vendor, bool)

	mu     sync.RWMutex
	cached *Descriptor
}

// Option configures a Service.
type Option func(*Service)

// WithTrialTimeout bounds each hardware trial encode.
func WithTrialTimeout(d time.Duration) Option {
	return func(s *Service) { s.trialTimeout = d }
}

// WithPriority overrides the detection order with an explicit method list.
func WithPriority(methods []Method) Option {
	return func(s *Service) { s.priority = methods }
}

// WithPlatformProbe replaces the platform probe.
func WithPlatformProbe(fn func() Platform) Option {
	return func(s *Service) { s.platformFn = fn }
}

// WithVendorProbe replaces the GPU vendor probe.
func WithVendorProbe(fn func(ctx context.Context) (Vendor, bool)) Option {
	return func(s *Service) { s.vendorFn = fn }
}

// NewService creates a capability detection service.
func NewService(bins ffmpeg.Binaries, runner ffmpeg.Runner, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		bins:         bins,
		runner:       runner,
		logger:       logger.With(slog.String("component", "capability")),
		trialTimeout: defaultTrialTimeout,
	}
	s.platformFn = hostPlatform
	s.vendorFn = func(ctx context.Context) (Vendor, bool) {
		return detectVendor(ctx, s.runner, s.platformFn())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect returns the capability descriptor, running the hardware trial loop
// on first call and returning the identical cached value afterwards until
// Reset or ForceSoftware. The only hard failure is an ffmpeg binary that is
// missing or cannot run a version query.
func (s *Service) Detect(ctx context.Context) (*Descriptor, error) {
	s.mu.RLock()
	if d := s.cached; d != nil {
		s.mu.RUnlock()
		return d, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}

	if s.bins.FFmpeg == "" {
		return nil, ffmpeg.ErrToolMissing
	}

	// Fail fast on a broken binary before any hardware trial. The cache
	// stays empty so a later Detect retries once the tool is repaired.
	vctx, cancel := context.WithTimeout(ctx, s.trialTimeout)
	_, err := ffmpeg.Verify(vctx, s.runner, s.bins)
	cancel()
	if err != nil {
		return nil, err
	}

	d := s.probe(ctx)
	s.cached = d
	return d, nil
}

// ForceSoftware overwrites the cache with the software-only state.
func (s *Service) ForceSoftware() *Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &Descriptor{
		Available:       false,
		Method:          MethodSoftware,
		Encoder:         SoftwareEncoder,
		Platform:        s.platformFn(),
		GPUVendor:       VendorUnknown,
		FallbackEncoder: SoftwareEncoder,
		Message:         "software encoding forced",
	}
	s.cached = d
	return d
}

// Reset clears the cache so the next Detect re-probes the hardware.
func (s *Service) Reset() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// probe runs the full detection pass: platform and vendor identification,
// advertised-method query, then ordered hardware trials.
func (s *Service) probe(ctx context.Context) *Descriptor {
	platform := s.platformFn()
	vendor, dedicated := s.vendorFn(ctx)

	d := &Descriptor{
		Method:          MethodNone,
		Encoder:         SoftwareEncoder,
		IsDedicatedGPU:  dedicated,
		Platform:        platform,
		GPUVendor:       vendor,
		FallbackEncoder: SoftwareEncoder,
	}

	candidates := s.priority
	if len(candidates) == 0 {
		candidates = priorityFor(platform, vendor)
	}
	if len(candidates) == 0 {
		d.Method = MethodSoftware
		d.Message = fmt.Sprintf("no hardware candidates for %s/%s", platform, vendor)
		s.logger.Info("capability detection complete", slog.String("result", "software"), slog.String("reason", d.Message))
		return d
	}

	advertised := s.queryHWAccels(ctx)

	clipArgs, cleanup := s.makeTestClip(ctx)
	defer cleanup()

	for _, method := range candidates {
		d.TestedMethods = append(d.TestedMethods, method)

		if !advertised[method] && !probeValidated[method] {
			s.logger.Debug("method not advertised, skipping", slog.String("method", string(method)))
			continue
		}

		if err := s.trial(ctx, method, clipArgs); err != nil {
			s.logger.Debug("hardware trial failed",
				slog.String("method", string(method)),
				slog.String("error", err.Error()))
			continue
		}

		d.Available = true
		d.Method = method
		d.Encoder = encoderFor(method)
		d.AccelArgs = methodAccelArgs[method]
		d.ExtraFilter = methodFilterSuffix[method]
		s.logger.Info("capability detection complete",
			slog.String("method", string(method)),
			slog.String("encoder", d.Encoder),
			slog.String("vendor", string(vendor)))
		return d
	}

	d.Method = MethodNone
	d.Message = fmt.Sprintf("all %d hardware trials failed", len(d.TestedMethods))
	s.logger.Warn("capability detection complete",
		slog.String("result", "software"),
		slog.Int("trials", len(d.TestedMethods)))
	return d
}

// queryHWAccels parses `ffmpeg -hwaccels` into a method set. Failures yield
// an empty set; probe-validated methods are still tried.
func (s *Service) queryHWAccels(ctx context.Context) map[Method]bool {
	ctx, cancel := context.WithTimeout(ctx, s.trialTimeout)
	defer cancel()

	stdout, _, err := s.runner.Run(ctx, s.bins.FFmpeg, "-hide_banner", "-hwaccels")
	if err != nil {
		s.logger.Warn("hwaccel query failed", slog.String("error", err.Error()))
		return map[Method]bool{}
	}

	set := make(map[Method]bool)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Hardware acceleration methods") {
			continue
		}
		set[Method(line)] = true
	}
	return set
}

// makeTestClip writes a 1-second synthetic clip for the trials and returns
// the input arguments referencing it plus a cleanup function. If the clip
// cannot be written, trials fall back to reading the lavfi source directly.
func (s *Service) makeTestClip(ctx context.Context) ([]string, func()) {
	lavfi := []string{"-f", "lavfi", "-i", testClipSource}

	dir, err := os.MkdirTemp("", "clipforge-probe-*")
	if err != nil {
		return lavfi, func() {}
	}
	cleanup := func() { os.RemoveAll(dir) }

	clip := filepath.Join(dir, "probe.mp4")
	ctx, cancel := context.WithTimeout(ctx, s.trialTimeout)
	defer cancel()

	_, _, err = s.runner.Run(ctx, s.bins.FFmpeg,
		"-hide_banner", "-v", "error", "-y",
		"-f", "lavfi", "-i", testClipSource,
		"-pix_fmt", "yuv420p",
		clip,
	)
	if err != nil {
		s.logger.Debug("test clip creation failed, using lavfi source", slog.String("error", err.Error()))
		cleanup()
		return lavfi, func() {}
	}
	return []string{"-i", clip}, cleanup
}

// trial runs one timed encode (or, for decode-only methods, decode) against
// the test clip. Any failure or timeout means the method is unavailable.
func (s *Service) trial(ctx context.Context, method Method, clipArgs []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.trialTimeout)
	defer cancel()

	args := []string{"-hide_banner", "-v", "error"}
	args = append(args, methodAccelArgs[method]...)
	args = append(args, clipArgs...)

	if decodeOnly[method] {
		args = append(args, "-f", "null", "-")
	} else {
		if suffix := methodFilterSuffix[method]; suffix != "" {
			args = append(args, "-vf", suffix)
		}
		args = append(args, "-t", "1", "-c:v", encoderFor(method), "-f", "null", "-")
	}

	_, _, err := s.runner.Run(ctx, s.bins.FFmpeg, args...)
	return err
}
