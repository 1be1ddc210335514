// Package merge assembles encoded segments into one final video: plan,
// per-segment encode, lossless video concat, audio reconstruction with
// offset timing and dilution-compensated mixing, and the final mux, with a
// video-only backup path when audio stages fail.
package merge

import "fmt"

// AudioMode selects what happens to a segment's original audio.
type AudioMode int

const (
	// AudioDrop strips the segment's original audio.
	AudioDrop AudioMode = iota
	// AudioKeepOnly retains the original audio with no narration overlay.
	AudioKeepOnly
	// AudioKeepPlusNarration retains the original audio for mixing under a
	// narration track.
	AudioKeepPlusNarration
)

// AudioModeFromOrdinal converts the external ordinal (0=drop, 1=keep,
// 2=keep+narration) used by callers.
func AudioModeFromOrdinal(n int) (AudioMode, error) {
	if n < int(AudioDrop) || n > int(AudioKeepPlusNarration) {
		return AudioDrop, fmt.Errorf("invalid audio mode ordinal %d", n)
	}
	return AudioMode(n), nil
}

func (m AudioMode) String() string {
	switch m {
	case AudioDrop:
		return "drop"
	case AudioKeepOnly:
		return "keepOnly"
	case AudioKeepPlusNarration:
		return "keepPlusNarration"
	default:
		return fmt.Sprintf("AudioMode(%d)", int(m))
	}
}

// VideoSegment is one planned input clip. Index is the stable ordering key;
// output order is always by Index, never by processing completion order.
type VideoSegment struct {
	Index      int
	SourcePath string
	Mode       AudioMode
	HasAudio   bool // probed
}

// KeepAudio reports whether the segment's original audio survives into the
// mix: the mode must request retention and the stream must actually exist.
func (s VideoSegment) KeepAudio() bool {
	return s.Mode != AudioDrop && s.HasAudio
}

// ProcessedSegment is one encoded clip at the canonical geometry.
type ProcessedSegment struct {
	Index       int
	EncodedPath string
	KeepAudio   bool
	// Duration is probed from the processed clip, which already has the
	// fixed frame rate, so downstream offsets are exact.
	Duration float64
}

// AudioTiming places one extracted audio track on the output timeline.
type AudioTiming struct {
	SourceFile  string
	StartOffset float64 // seconds; cumulative duration of all preceding segments
	Index       int
}
