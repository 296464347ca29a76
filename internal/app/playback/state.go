// Package playback provides the per-guild playback session state machine.
package playback

// State represents the playback state of a session.
type State int

const (
	StateIdle       State = iota // No transport, no current track
	StateConnecting              // Acquiring the transport or opening a stream for the current track
	StatePlaying                 // Stream is feeding the transport
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Active reports whether a track is current in this state.
func (s State) Active() bool {
	return s == StateConnecting || s == StatePlaying
}
