package download

import (
	"regexp"

	"github.com/streamforge/media_orchestrator/internal/job"
)

// Accepted source URL shapes. Only single-video YouTube references are
// downloadable; playlists and channels are rejected up front.
var sourcePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/watch\?v=[a-zA-Z0-9_-]{11}`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtu\.be/[a-zA-Z0-9_-]{11}`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/embed/[a-zA-Z0-9_-]{11}`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/v/[a-zA-Z0-9_-]{11}`),
}

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/)([a-zA-Z0-9_-]{11})`)

// ValidateSourceURL rejects anything that is not a recognized single-video
// reference.
func ValidateSourceURL(url string) error {
	for _, p := range sourcePatterns {
		if p.MatchString(url) {
			return nil
		}
	}

	return &job.ValidationError{Field: "source url", Reason: "not a recognized video URL"}
}

// ExtractVideoID pulls the 11-character video id out of a source URL, or
// returns an empty string.
func ExtractVideoID(url string) string {
	if m := videoIDPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}

	return ""
}
