package playback

import "github.com/osa030/voicebox/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted  EventType = iota // Stream opened and playing
	EventTrackSkipped                   // Current track skipped by a user
	EventTrackFailed                    // Stream could not be opened, advanced past
	EventQueueEmpty                     // Queue drained, session went idle
	EventStopped                        // Session stopped by a user or shutdown
	EventDisconnected                   // Voice connection lost, session stopped
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackFailed:
		return "track_failed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventStopped:
		return "stopped"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event represents a playback event published by a session.
type Event struct {
	Type      EventType
	GuildID   string
	SessionID string       // Instance that published the event
	Track     *track.Track // Track concerned (nil for some events)
	State     State        // Session state after the event
	Err       error        // Cause for failure events
	Autoplay  bool         // Track started by the queue advancing, not by its own request
}

// Closing reports whether the event ends the session.
func (e Event) Closing() bool {
	return e.Type == EventQueueEmpty || e.Type == EventStopped || e.Type == EventDisconnected
}
