package runner

import "strings"

// stderrCauses maps known yt-dlp error phrases to actionable messages. Order
// matters: the first phrase found wins.
var stderrCauses = []struct {
	phrase  string
	message string
}{
	{"Video unavailable", "video is unavailable or has been removed"},
	{"Private video", "video is private"},
	{"Sign in to confirm", "video requires age confirmation"},
	{"not available", "video is not available in this region"},
	{"Requested format", "requested format is not available"},
}

const genericCause = "failed to access the source video"

// ClassifyStderr collapses raw tool stderr into a small set of human-readable
// causes. Unmatched output yields a generic message.
func ClassifyStderr(stderr string) string {
	for _, c := range stderrCauses {
		if strings.Contains(stderr, c.phrase) {
			return c.message
		}
	}

	return genericCause
}
