package playback

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/domain/track"
)

// Errors
var (
	ErrNothingPlaying        = errors.New("nothing is playing")
	ErrSessionClosed         = errors.New("session is closed")
	ErrStreamUnavailable     = errors.New("stream unavailable")
	ErrTransportDisconnected = errors.New("transport disconnected")
)

// Transport acquires voice connections. Acquire is idempotent per guild:
// acquiring for an already connected guild returns the existing handle.
type Transport interface {
	Acquire(ctx context.Context, guildID, channelID string) (Handle, error)
}

// Handle is a live voice connection with an audio player.
type Handle interface {
	// Open opens an audio stream for the reference. Failures wrap
	// ErrStreamUnavailable.
	Open(ctx context.Context, ref track.SourceRef) (io.ReadCloser, error)

	// Play starts feeding the stream and takes ownership of it. onEnded is
	// called at most once, from a goroutine owned by the handle, when the
	// stream finishes or fails. It is never called synchronously from
	// StopCurrent, and may or may not be called after StopCurrent.
	// A lost connection is reported as ErrTransportDisconnected.
	Play(stream io.ReadCloser, onEnded func(err error))

	// StopCurrent stops the active stream without waiting for it.
	StopCurrent()

	// Release destroys the connection. Safe without an active stream.
	Release() error
}
