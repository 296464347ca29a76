// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies how a SourceRef is turned into audio.
type Provider string

const (
	ProviderYouTube Provider = "youtube" // Needs stream URL extraction
	ProviderDirect  Provider = "direct"  // URL is fed to the decoder as-is
)

// SourceRef is the opaque reference a transport opens a stream for.
type SourceRef struct {
	Provider Provider
	URL      string
}

// String returns the URL of the reference.
func (r SourceRef) String() string {
	return r.URL
}

// IsZero reports whether the reference is empty.
func (r SourceRef) IsZero() bool {
	return r.URL == ""
}

// Requester represents the user who requested the track.
type Requester struct {
	ID   string // Platform user ID
	Name string // Display name
}

// Track is a resolved, playable item. Tracks are values and never mutated
// after creation.
type Track struct {
	Title       string
	Source      SourceRef
	Duration    time.Duration // Zero if unknown
	RequestedBy Requester
	AddedAt     time.Time
}

// New creates a track requested by the given user.
func New(title string, ref SourceRef, duration time.Duration, requester Requester) Track {
	title = strings.TrimSpace(title)
	if title == "" {
		title = ref.URL
	}
	return Track{
		Title:       title,
		Source:      ref,
		Duration:    duration,
		RequestedBy: requester,
		AddedAt:     time.Now(),
	}
}

// WithRequester returns a copy of the track attributed to the given user.
func (t Track) WithRequester(r Requester) Track {
	t.RequestedBy = r
	return t
}

// SameSource reports whether two tracks point at the same source.
func (t Track) SameSource(other Track) bool {
	return t.Source.URL != "" && t.Source.URL == other.Source.URL
}

// DisplayDuration formats the duration as m:ss, or "live" when unknown.
func (t Track) DisplayDuration() string {
	if t.Duration <= 0 {
		return "live"
	}
	d := t.Duration.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
