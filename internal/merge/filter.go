package merge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EscapeConcatPath escapes a path for the concat demuxer list format.
// Windows path separators are normalized to forward slashes, which ffmpeg
// accepts on every platform, and single quotes use the '\'' idiom.
func EscapeConcatPath(path, goos string) string {
	if goos == "windows" {
		path = strings.ReplaceAll(path, `\`, "/")
	}
	return strings.ReplaceAll(path, "'", `'\''`)
}

// BuildConcatList renders the ordered concat demuxer list referencing the
// processed clips by absolute path.
func BuildConcatList(paths []string, goos string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\n", EscapeConcatPath(p, goos))
	}
	return b.String()
}

// ComputeOffsets places each audio-retaining segment on the output
// timeline. Segments are re-sorted by Index first; every segment's duration
// counts toward subsequent offsets whether or not its own audio is kept.
// The second return value is the total timeline duration.
func ComputeOffsets(segments []ProcessedSegment) ([]AudioTiming, float64) {
	ordered := make([]ProcessedSegment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var timings []AudioTiming
	var elapsed float64
	for _, seg := range ordered {
		if seg.KeepAudio {
			timings = append(timings, AudioTiming{
				SourceFile:  seg.EncodedPath,
				StartOffset: elapsed,
				Index:       seg.Index,
			})
		}
		elapsed += seg.Duration
	}
	return timings, elapsed
}

// MixTrack is one extracted audio input to the mix stage. Gain carries the
// user and smart-volume layers; dilution compensation is applied on top by
// BuildMixFilter.
type MixTrack struct {
	OffsetSeconds float64
	Gain          float64
}

// BuildMixFilter constructs the filter_complex graph for the audio
// reconstruction mix. Input 0 is the silence base layer and is explicitly
// muted; inputs 1..N are the extracted tracks, each delayed to its offset
// and boosted by the dilution compensation factor, which equals the total
// number of mixed inputs: amix averages its N inputs, dividing each one's
// amplitude by N, and the boost cancels that so retained audio exits at
// its authored level. The mix spans the longest input.
func BuildMixFilter(tracks []MixTrack) string {
	total := len(tracks) + 1
	dilution := float64(total)

	var b strings.Builder
	b.WriteString("[0:a]volume=0[base]")

	labels := []string{"[base]"}
	for i, track := range tracks {
		label := fmt.Sprintf("[a%d]", i+1)
		delayMS := int64(track.OffsetSeconds * 1000)
		gain := dilution * track.Gain
		fmt.Fprintf(&b, ";[%d:a]adelay=%d|%d,volume=%s%s",
			i+1, delayMS, delayMS, formatGain(gain), label)
		labels = append(labels, label)
	}

	fmt.Fprintf(&b, ";%samix=inputs=%d:duration=longest[aout]",
		strings.Join(labels, ""), total)
	return b.String()
}

func formatGain(g float64) string {
	return strconv.FormatFloat(g, 'f', -1, 64)
}
