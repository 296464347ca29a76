package registry

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
)

// GuildRegistry maps guild IDs to their playback sessions with thread-safe
// access. It never takes a session lock; sessions call Remove while holding
// their own lock.
type GuildRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*playback.Session
	config   playback.Config
}

// NewGuildRegistry creates a registry whose sessions share the given
// configuration. config.OnClosed is wired to Remove and must be left empty.
func NewGuildRegistry(config playback.Config) *GuildRegistry {
	return &GuildRegistry{
		sessions: make(map[string]*playback.Session),
		config:   config,
	}
}

// GetOrCreate returns the live session of the guild, creating an idle one if
// none exists.
func (r *GuildRegistry) GetOrCreate(guildID string) *playback.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok {
		return s
	}

	cfg := r.config
	cfg.OnClosed = func(s *playback.Session) {
		r.Remove(s.GuildID(), s)
	}
	s := playback.NewSession(guildID, cfg)
	r.sessions[guildID] = s

	zlog.Debug().Msgf("registry: session created: guild=%s session=%s", guildID, s.ID())
	return s
}

// Get returns the session of the guild, if any.
func (r *GuildRegistry) Get(guildID string) (*playback.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove deletes the entry only if it still maps to the given session.
// Returns true if the entry was removed.
func (r *GuildRegistry) Remove(guildID string, s *playback.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sessions[guildID]
	if !ok || cur != s {
		return false
	}
	delete(r.sessions, guildID)

	zlog.Debug().Msgf("registry: session removed: guild=%s session=%s", guildID, s.ID())
	return true
}

// All returns all live sessions.
func (r *GuildRegistry) All() []*playback.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*playback.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	return result
}

// Count returns the number of live sessions.
func (r *GuildRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
