package ffmpeg

import "strings"

// ExtractJSONBlock extracts a JSON object from interleaved log text, such as
// the summary the loudnorm filter prints to stderr. The block is delimited
// by a standalone "{" line and its matching standalone "}" line; nested
// braces inside the block are tolerated as long as they are also standalone
// lines. When several blocks are present the last complete one wins, since
// ffmpeg emits its final measurements at the end of the run.
func ExtractJSONBlock(text string) (string, bool) {
	var (
		block []string
		last  string
		depth int
		found bool
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		// ffmpeg prefixes loudnorm output with "[Parsed_loudnorm_0 @ 0x...]"
		// on the opening line; strip any bracketed prefix before matching.
		if idx := strings.LastIndex(line, "]"); idx != -1 && strings.HasPrefix(line, "[") {
			line = strings.TrimSpace(line[idx+1:])
		}

		switch {
		case line == "{":
			if depth == 0 {
				block = block[:0]
			}
			depth++
			block = append(block, line)
		case line == "}" && depth > 0:
			depth--
			block = append(block, line)
			if depth == 0 {
				last = strings.Join(block, "\n")
				found = true
			}
		case depth > 0:
			block = append(block, line)
		}
	}

	return last, found
}
