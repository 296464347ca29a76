package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/voicebox/internal/domain/track"
)

// DuplicateTrackFilter checks for duplicate tracks in the queue.
// Detects:
// - Same source URL
// - Same song under a different upload (normalized title match)
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already playing or queued, including remasters and re-uploads"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(
	ctx context.Context,
	req TrackRequest,
	requestedTrack track.Track,
	q QueueView,
) Result {
	candidates := q.Queued
	if q.Current != nil {
		candidates = append([]track.Track{*q.Current}, candidates...)
	}

	requestedName := normalizeTrackName(requestedTrack.Title)
	for _, queued := range candidates {
		if queued.SameSource(requestedTrack) {
			return Reject("duplicate_track")
		}
		if requestedName != "" && normalizeTrackName(queued.Title) == requestedName {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}

	// Upload decorations common on video sites
	uploadPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[]\s*official\s+(music\s+)?(video|audio|lyric video|visualizer)\s*[\)\]]`),
		regexp.MustCompile(`\s*[\(\[]\s*(lyrics?|audio|hd|4k|mv)\s*[\)\]]`),
		regexp.MustCompile(`\s*[\(\[].*?version[\)\]]`), // "(Single Version)"
		regexp.MustCompile(`\s*[\(\[].*?edit[\)\]]`),    // "(Radio Edit)"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),      // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`),  // "- Single Version"
	}

	whitespace = regexp.MustCompile(`\s+`)
)

// normalizeTrackName removes remaster information and version details.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range uploadPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = whitespace.ReplaceAllString(normalized, " ")

	// Remove trailing dashes
	normalized = strings.TrimRight(normalized, " -")

	return normalized
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
