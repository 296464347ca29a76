// Package session provides the session manager.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/filter"
	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/resolver"
	"github.com/osa030/voicebox/internal/app/session/registry"
	"github.com/osa030/voicebox/internal/domain/track"
)

var (
	ErrUserNotInChannel = errors.New("user is not in a voice channel")
	ErrTrackNotFound    = errors.New("track not found")
	ErrRequestRejected  = errors.New("request rejected")
	ErrManagerClosed    = errors.New("manager is closed")
)

// maxEnqueueAttempts bounds retries against sessions that close between
// lookup and enqueue.
const maxEnqueueAttempts = 3

const defaultEventBuffer = 64

// RejectedError is returned when a filter rejects a request. It matches
// ErrRequestRejected.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return "request rejected: " + e.Code
}

// Is reports whether target is ErrRequestRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRequestRejected
}

// ManagerConfig holds manager dependencies.
type ManagerConfig struct {
	Transport   playback.Transport
	Resolver    resolver.Resolver
	Filters     *filter.Chain         // Optional
	Notifier    *notification.Manager // Optional
	OpenTimeout time.Duration
	EventBuffer int
}

// PlayRequest represents a play command.
type PlayRequest struct {
	GuildID       string
	ChannelID     string // Requester's voice channel, empty if not connected
	TextChannelID string
	Requester     track.Requester
	Query         string
	Sink          notification.Sink // Receives playback events of the guild (optional)
}

// PlayResult represents the outcome of an accepted play command.
type PlayResult struct {
	Track    track.Track
	Started  bool // Playback started with this track
	Position int  // Queue position when queued, 1-based
}

// Manager routes chat commands to per-guild playback sessions.
type Manager struct {
	registry *registry.GuildRegistry
	resolver resolver.Resolver
	filters  *filter.Chain
	notifier *notification.Manager
	events   chan playback.Event

	noticesMu sync.Mutex
	notices   map[string]error

	// lifecycleMu orders session creation against Close
	lifecycleMu sync.RWMutex
	closed      atomic.Bool
	closeOnce   sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager and starts its event loop.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan playback.Event, cfg.EventBuffer)

	m := &Manager{
		resolver: cfg.Resolver,
		filters:  cfg.Filters,
		notifier: cfg.Notifier,
		events:   events,
		notices:  make(map[string]error),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.registry = registry.NewGuildRegistry(playback.Config{
		Transport:      cfg.Transport,
		Events:         events,
		OpenTimeout:    cfg.OpenTimeout,
		OnDisconnected: m.recordNotice,
	})

	go m.eventLoop()
	return m, nil
}

// Play resolves the query and enqueues the track in the requester's guild.
// Resolution and filtering happen before any session is created, so a
// request that resolves to nothing or is rejected leaves no trace.
func (m *Manager) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if m.closed.Load() {
		return PlayResult{}, ErrManagerClosed
	}
	if req.ChannelID == "" {
		return PlayResult{}, ErrUserNotInChannel
	}

	t, err := m.resolver.Resolve(ctx, req.Query, req.Requester)
	if err != nil {
		zlog.Info().Msgf("session: track not found: guild=%s query=%q error=%v", req.GuildID, req.Query, err)
		return PlayResult{}, errors.Mark(err, ErrTrackNotFound)
	}

	for attempt := 1; attempt <= maxEnqueueAttempts; attempt++ {
		if err := m.checkFilters(ctx, req, t); err != nil {
			return PlayResult{}, err
		}

		result, err := m.enqueue(req, t)
		if errors.Is(err, playback.ErrSessionClosed) {
			zlog.Debug().Msgf("session: session closed before enqueue, retrying: guild=%s attempt=%d", req.GuildID, attempt)
			continue
		}
		if err != nil {
			return PlayResult{}, err
		}
		zlog.Info().Msgf("session: track requested: guild=%s user=%s title=%s started=%t", req.GuildID, req.Requester.Name, t.Title, result.Started)
		return result, nil
	}

	return PlayResult{}, errors.Newf("guild %s: session closed on every attempt", req.GuildID)
}

// checkFilters runs the filter chain against the guild's live session, or
// an empty queue if there is none. It never creates a session.
func (m *Manager) checkFilters(ctx context.Context, req PlayRequest, t track.Track) error {
	if m.filters == nil {
		return nil
	}

	var view filter.QueueView
	if s, ok := m.registry.Get(req.GuildID); ok {
		view = queueView(s)
	}
	result := m.filters.Execute(ctx, filter.TrackRequest{
		GuildID:   req.GuildID,
		Requester: req.Requester,
	}, t, view)
	if !result.Accepted {
		zlog.Info().Msgf("session: request rejected: guild=%s user=%s title=%s code=%s", req.GuildID, req.Requester.Name, t.Title, result.Code)
		return &RejectedError{Code: result.Code}
	}
	return nil
}

// enqueue hands an accepted track to the guild's session, creating it if
// needed. Returns playback.ErrSessionClosed if the session closed first.
func (m *Manager) enqueue(req PlayRequest, t track.Track) (PlayResult, error) {
	m.lifecycleMu.RLock()
	defer m.lifecycleMu.RUnlock()

	// Close has already collected the sessions it stops
	if m.closed.Load() {
		return PlayResult{}, ErrManagerClosed
	}

	s := m.registry.GetOrCreate(req.GuildID)
	m.subscribe(s, req)

	started, err := s.Enqueue(t, req.ChannelID)
	if errors.Is(err, playback.ErrSessionClosed) {
		if m.notifier != nil {
			m.notifier.UnsubscribeOwner(s.ID())
		}
		return PlayResult{}, err
	}
	if err != nil {
		return PlayResult{}, errors.Wrap(err, "enqueue failed")
	}

	result := PlayResult{Track: t, Started: started}
	if !started {
		result.Position = len(s.Queue())
	}
	return result, nil
}

// Skip skips the current track of the guild.
func (m *Manager) Skip(guildID string) (track.Track, error) {
	s, ok := m.registry.Get(guildID)
	if !ok {
		return track.Track{}, playback.ErrNothingPlaying
	}
	return s.Skip()
}

// Stop stops playback in the guild. Stopping an idle guild is not an error.
func (m *Manager) Stop(guildID string) {
	if s, ok := m.registry.Get(guildID); ok {
		s.Stop()
	}
}

// Queue returns the queued tracks of the guild, excluding the current one.
func (m *Manager) Queue(guildID string) []track.Track {
	if s, ok := m.registry.Get(guildID); ok {
		return s.Queue()
	}
	return nil
}

// NowPlaying returns the current track of the guild.
func (m *Manager) NowPlaying(guildID string) (track.Track, bool) {
	if s, ok := m.registry.Get(guildID); ok {
		return s.Current()
	}
	return track.Track{}, false
}

// TakeNotice returns and clears the pending notice of the guild, such as a
// lost voice connection.
func (m *Manager) TakeNotice(guildID string) error {
	m.noticesMu.Lock()
	defer m.noticesMu.Unlock()

	err := m.notices[guildID]
	delete(m.notices, guildID)
	return err
}

// ActiveSessions returns the number of guilds with a live session.
func (m *Manager) ActiveSessions() int {
	return m.registry.Count()
}

// Close stops every session and the event loop.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.lifecycleMu.Lock()
		m.closed.Store(true)
		m.lifecycleMu.Unlock()

		sessions := m.registry.All()
		for _, s := range sessions {
			s.Stop()
		}
		zlog.Info().Msgf("session: manager closed: stopped=%d", len(sessions))

		m.cancel()
		<-m.done

		if m.notifier != nil {
			m.notifier.Close()
		}
	})
}

func (m *Manager) subscribe(s *playback.Session, req PlayRequest) {
	if m.notifier == nil || req.Sink == nil {
		return
	}
	m.notifier.Subscribe(req.GuildID, req.TextChannelID, s.ID(), req.Sink)
}

// eventLoop forwards session events to the notifier.
func (m *Manager) eventLoop() {
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			// Deliver what sessions published while stopping
			for {
				select {
				case e := <-m.events:
					m.handleEvent(e)
				default:
					return
				}
			}
		case e := <-m.events:
			m.handleEvent(e)
		}
	}
}

func (m *Manager) handleEvent(e playback.Event) {
	zlog.Debug().Msgf("session: playback event: guild=%s type=%s state=%s", e.GuildID, e.Type, e.State)

	if m.notifier == nil {
		return
	}
	m.notifier.Dispatch(e)
}

// recordNotice keeps the cause of a lost voice connection for TakeNotice.
// Called by the session under its lock.
func (m *Manager) recordNotice(guildID string, cause error) {
	m.noticesMu.Lock()
	defer m.noticesMu.Unlock()
	m.notices[guildID] = cause
}

func queueView(s *playback.Session) filter.QueueView {
	view := filter.QueueView{Queued: s.Queue()}
	if cur, ok := s.Current(); ok {
		view.Current = &cur
	}
	return view
}
