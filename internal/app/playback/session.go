package playback

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

// Config holds session configuration.
type Config struct {
	Transport   Transport      // Voice transport used to acquire connections
	Events      chan<- Event   // Event sink (optional, sends never block)
	OnClosed    func(*Session) // Called under the session lock when the session closes
	OpenTimeout time.Duration  // Bound on acquire+open for one attempt (0 = none)

	// OnDisconnected is called under the session lock when a lost voice
	// connection stops the session. Unlike Events it is never dropped.
	OnDisconnected func(guildID string, cause error)
}

// snapshot is an immutable view published after every mutation.
type snapshot struct {
	state   State
	current *track.Track
	queue   []track.Track
}

// Session is the playback state machine of one guild. All mutating
// operations are serialized by mu; blocking transport calls run outside of
// it and are applied only if the attempt token is still current.
type Session struct {
	mu sync.Mutex

	id        string
	guildID   string
	channelID string

	// Queue management
	queue   []track.Track
	current *track.Track

	// Transport state
	handle        Handle
	state         State
	token         uint64 // Attempt token, bumped on every advance/skip/stop
	cancelAttempt context.CancelFunc
	closed        bool

	config Config

	view atomic.Pointer[snapshot]
}

// NewSession creates an idle session for the guild.
func NewSession(guildID string, config Config) *Session {
	s := &Session{
		id:      uuid.New().String(),
		guildID: guildID,
		queue:   make([]track.Track, 0),
		state:   StateIdle,
		config:  config,
	}
	s.view.Store(&snapshot{state: StateIdle})
	return s
}

// ID returns the session instance ID.
func (s *Session) ID() string {
	return s.id
}

// GuildID returns the guild the session belongs to.
func (s *Session) GuildID() string {
	return s.guildID
}

// Enqueue appends a track to the queue. If the session is idle, playback of
// the queue head starts immediately and started is true.
func (s *Session) Enqueue(t track.Track, channelID string) (started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrSessionClosed
	}

	s.queue = append(s.queue, t)

	if s.state != StateIdle {
		zlog.Info().Msgf("playback: track queued: guild=%s title=%s position=%d", s.guildID, t.Title, len(s.queue))
		s.publishLocked()
		return false, nil
	}

	if channelID != "" {
		s.channelID = channelID
	}
	s.advanceLocked(false)
	return true, nil
}

// Skip stops the current track and advances to the next one.
// Returns the skipped track, or ErrNothingPlaying when idle.
func (s *Session) Skip() (track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Active() || s.current == nil {
		return track.Track{}, ErrNothingPlaying
	}

	skipped := *s.current

	// Invalidate the pending end signal before stopping the stream
	s.bumpLocked()
	if s.handle != nil {
		s.handle.StopCurrent()
	}

	zlog.Info().Msgf("playback: track skipped: guild=%s title=%s", s.guildID, skipped.Title)
	s.emitLocked(Event{Type: EventTrackSkipped, Track: &skipped})

	s.advanceLocked(true)
	return skipped, nil
}

// Stop clears the queue, releases the transport and closes the session.
// Valid in any state.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.stopLocked(EventStopped, nil)
}

// State returns the current state. Never blocks.
func (s *Session) State() State {
	return s.view.Load().state
}

// Current returns the current track. Never blocks.
func (s *Session) Current() (track.Track, bool) {
	snap := s.view.Load()
	if snap.current == nil {
		return track.Track{}, false
	}
	return *snap.current, true
}

// Queue returns a copy of the queued tracks. Never blocks.
func (s *Session) Queue() []track.Track {
	return slices.Clone(s.view.Load().queue)
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// onPlaybackEnded is called by the handle when the stream of the attempt
// identified by token finishes.
func (s *Session) onPlaybackEnded(token uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token {
		zlog.Debug().Msgf("playback: ignoring stale end signal: guild=%s token=%d current=%d", s.guildID, token, s.token)
		return
	}

	if errors.Is(err, ErrTransportDisconnected) {
		zlog.Warn().Msgf("playback: transport disconnected: guild=%s error=%v", s.guildID, err)
		s.stopLocked(EventDisconnected, err)
		return
	}

	if err != nil {
		zlog.Warn().Msgf("playback: stream ended with error: guild=%s error=%v", s.guildID, err)
	} else if s.current != nil {
		zlog.Debug().Msgf("playback: track ended: guild=%s title=%s", s.guildID, s.current.Title)
	}

	s.advanceLocked(true)
}

// advanceLocked pops the queue head into current and starts an attempt for
// it, or closes the session when the queue is empty. autoplay is false only
// when the request that enqueued the track starts it.
// Must be called with lock held.
func (s *Session) advanceLocked(autoplay bool) {
	s.bumpLocked()

	if len(s.queue) == 0 {
		s.current = nil
		zlog.Info().Msgf("playback: queue empty, going idle: guild=%s", s.guildID)
		s.closeLocked(EventQueueEmpty, nil, nil)
		return
	}

	next := s.queue[0]
	s.queue[0] = track.Track{}
	s.queue = s.queue[1:]

	s.current = &next
	s.state = StateConnecting
	s.publishLocked()

	var ctx context.Context
	if s.config.OpenTimeout > 0 {
		ctx, s.cancelAttempt = context.WithTimeout(context.Background(), s.config.OpenTimeout)
	} else {
		ctx, s.cancelAttempt = context.WithCancel(context.Background())
	}

	zlog.Debug().Msgf("playback: starting attempt: guild=%s token=%d title=%s", s.guildID, s.token, next.Title)
	go s.connect(ctx, s.token, next, s.channelID, s.handle, autoplay)
}

// connect acquires the transport if needed and opens the stream for one
// attempt. Runs without the lock.
func (s *Session) connect(ctx context.Context, token uint64, t track.Track, channelID string, h Handle, autoplay bool) {
	if h == nil {
		acquired, err := s.config.Transport.Acquire(ctx, s.guildID, channelID)
		if !s.adoptHandle(token, acquired, err) {
			return
		}
		h = acquired
	}

	stream, err := h.Open(ctx, t.Source)

	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token {
		zlog.Debug().Msgf("playback: discarding superseded attempt: guild=%s title=%s", s.guildID, t.Title)
		if stream != nil {
			_ = stream.Close()
		}
		return
	}

	if err != nil {
		if errors.Is(err, ErrTransportDisconnected) {
			s.stopLocked(EventDisconnected, err)
			return
		}
		if !errors.Is(err, ErrStreamUnavailable) {
			err = errors.Mark(err, ErrStreamUnavailable)
		}
		zlog.Warn().Msgf("playback: failed to open stream, skipping: guild=%s title=%s error=%v", s.guildID, t.Title, err)
		s.emitLocked(Event{Type: EventTrackFailed, Track: &t, Err: err})
		s.advanceLocked(true)
		return
	}

	s.state = StatePlaying
	s.publishLocked()
	h.Play(stream, func(err error) {
		s.onPlaybackEnded(token, err)
	})

	zlog.Info().Msgf("playback: track started: guild=%s title=%s", s.guildID, t.Title)
	s.emitLocked(Event{Type: EventTrackStarted, Track: &t, Autoplay: autoplay})
}

// adoptHandle stores a freshly acquired handle. Returns true if the attempt
// identified by token should go on to open its stream.
func (s *Session) adoptHandle(token uint64, h Handle, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if token != s.token {
			return false
		}
		zlog.Error().Msgf("playback: failed to acquire transport: guild=%s error=%v", s.guildID, err)
		s.stopLocked(EventDisconnected, errors.Mark(err, ErrTransportDisconnected))
		return false
	}

	switch {
	case s.closed:
		// Session went idle while connecting
		releaseHandle(s.guildID, h)
		return false
	case s.handle == nil:
		s.handle = h
	default:
		// Another attempt already holds a reference
		releaseHandle(s.guildID, h)
	}

	return token == s.token
}

// stopLocked clears everything and closes the session.
// Must be called with lock held.
func (s *Session) stopLocked(eventType EventType, cause error) {
	s.bumpLocked()

	var last *track.Track
	if s.current != nil {
		c := *s.current
		last = &c
	}

	s.queue = nil
	s.current = nil
	if s.handle != nil {
		s.handle.StopCurrent()
	}

	zlog.Info().Msgf("playback: session stopped: guild=%s reason=%s", s.guildID, eventType)
	s.closeLocked(eventType, last, cause)

	if eventType == EventDisconnected && s.config.OnDisconnected != nil {
		if cause == nil {
			cause = ErrTransportDisconnected
		}
		s.config.OnDisconnected(s.guildID, cause)
	}
}

// closeLocked releases the transport, moves to idle and asks the owner to
// forget this session. Must be called with lock held.
func (s *Session) closeLocked(eventType EventType, t *track.Track, cause error) {
	if s.handle != nil {
		releaseHandle(s.guildID, s.handle)
		s.handle = nil
	}

	s.state = StateIdle
	s.closed = true
	s.publishLocked()
	s.emitLocked(Event{Type: eventType, Track: t, Err: cause})

	if s.config.OnClosed != nil {
		s.config.OnClosed(s)
	}
}

// bumpLocked invalidates the in-flight attempt.
// Must be called with lock held.
func (s *Session) bumpLocked() {
	s.token++
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}
}

// publishLocked stores a fresh snapshot for lock-free readers.
// Must be called with lock held.
func (s *Session) publishLocked() {
	snap := &snapshot{
		state: s.state,
		queue: slices.Clone(s.queue),
	}
	if s.current != nil {
		c := *s.current
		snap.current = &c
	}
	s.view.Store(snap)
}

// emitLocked sends an event without blocking.
// Must be called with lock held.
func (s *Session) emitLocked(e Event) {
	if s.config.Events == nil {
		return
	}
	e.GuildID = s.guildID
	e.SessionID = s.id
	e.State = s.state
	select {
	case s.config.Events <- e:
	default:
		zlog.Warn().Msgf("playback: event dropped (channel full): guild=%s type=%s", s.guildID, e.Type)
	}
}

func releaseHandle(guildID string, h Handle) {
	if err := h.Release(); err != nil {
		zlog.Warn().Msgf("playback: failed to release transport: guild=%s error=%v", guildID, err)
	}
}
