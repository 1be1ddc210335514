package ffmpeg

import "errors"

// Failure conditions surfaced by the transcode-and-merge core.
//
// Low-level subprocess failures are converted into fallback attempts or
// warnings at the smallest possible scope; only these conditions escalate
// to callers, and callers match them with errors.Is.
var (
	// ErrToolMissing indicates the ffmpeg binary is absent. Fatal; no
	// downstream operation can proceed without it.
	ErrToolMissing = errors.New("ffmpeg binary not found")

	// ErrSourceNotFound indicates an input file does not exist. Fatal for
	// that segment only; the batch drops the segment and continues.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrEncodeFailed indicates a segment encode failed even after the
	// full fallback chain was exhausted.
	ErrEncodeFailed = errors.New("encode failed after all fallbacks")

	// ErrProbeFailed indicates ffprobe could not produce usable metadata.
	// Callers treat it as "no audio stream" or "unknown duration", never
	// as a fatal condition.
	ErrProbeFailed = errors.New("probe failed")

	// ErrMixFailed indicates the audio reconstruction stage failed. It
	// triggers the video-only backup path before becoming fatal.
	ErrMixFailed = errors.New("audio mix failed")

	// ErrMuxFailed indicates the final mux stage failed. It triggers the
	// video-only backup path before becoming fatal.
	ErrMuxFailed = errors.New("mux failed")

	// ErrNoValidSegments indicates every input segment was dropped and no
	// usable output can be produced.
	ErrNoValidSegments = errors.New("no valid segments remain")
)
