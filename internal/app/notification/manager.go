// Package notification provides the notification manager for broadcasting
// playback events to per-guild sinks.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
)

// DefaultSendTimeout bounds a single sink send.
const DefaultSendTimeout = 500 * time.Millisecond

// Notification is a playback event addressed to one guild.
type Notification struct {
	SequenceNo uint64
	GuildID    string
	Event      playback.Event
}

// Sink receives notifications, e.g. a chat text channel.
type Sink interface {
	Send(ctx context.Context, n *Notification) error
}

// subscription represents a sink's subscription to one guild.
type subscription struct {
	id      string
	guildID string
	key     string
	owner   string // Session instance the subscription belongs to
	sink    Sink
}

// pendingEvents holds the undelivered events of one guild.
type pendingEvents struct {
	events []playback.Event
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	timeout       time.Duration

	pendingMu sync.Mutex
	pending   map[string]*pendingEvents // Guilds with a running delivery goroutine
	delivery  sync.WaitGroup
}

// NewManager creates a new notification manager. A zero timeout uses
// DefaultSendTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Manager{
		subscriptions: make(map[string]*subscription),
		timeout:       timeout,
		pending:       make(map[string]*pendingEvents),
	}
}

// Subscribe adds a sink for the guild and returns the subscription ID.
// Subscribing again with the same guild and key replaces the sink and the
// owner and keeps the ID.
func (m *Manager) Subscribe(guildID, key, owner string, sink Sink) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		if sub.guildID == guildID && sub.key == key {
			sub.owner = owner
			sub.sink = sink
			return sub.id
		}
	}

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:      id,
		guildID: guildID,
		key:     key,
		owner:   owner,
		sink:    sink,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// UnsubscribeOwner removes every subscription still owned by owner.
// Subscriptions taken over by a newer owner are kept.
func (m *Manager) UnsubscribeOwner(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sub := range m.subscriptions {
		if sub.owner == owner {
			delete(m.subscriptions, id)
			removed++
		}
	}
	return removed
}

// nextSequenceNo returns the next sequence number.
func (m *Manager) nextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Broadcast sends the event to all sinks subscribed to its guild.
// Each send runs in its own goroutine bounded by the send timeout.
func (m *Manager) Broadcast(event playback.Event) {
	n := &Notification{
		SequenceNo: m.nextSequenceNo(),
		GuildID:    event.GuildID,
		Event:      event,
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]subscription, 0)
	for _, sub := range m.subscriptions {
		if sub.guildID == n.GuildID {
			subs = append(subs, *sub)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.sink.Send(ctx, n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Warn().Msgf("notification: send failed: guild=%s subscription=%s error=%v", s.guildID, s.id, err)
				}
			case <-ctx.Done():
				zlog.Warn().Msgf("notification: send timed out: guild=%s subscription=%s", s.guildID, s.id)
			}
		}(sub)
	}

	wg.Wait()
}

// Dispatch queues the event for delivery and returns immediately. Events of
// one guild are broadcast in order by a goroutine of that guild, so a slow
// sink never delays other guilds. After a closing event is delivered the
// subscriptions owned by its session are removed.
func (m *Manager) Dispatch(event playback.Event) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if p, ok := m.pending[event.GuildID]; ok {
		p.events = append(p.events, event)
		return
	}
	p := &pendingEvents{events: []playback.Event{event}}
	m.pending[event.GuildID] = p
	m.delivery.Add(1)
	go m.deliver(event.GuildID, p)
}

// deliver broadcasts the pending events of a guild until none are left.
func (m *Manager) deliver(guildID string, p *pendingEvents) {
	defer m.delivery.Done()

	for {
		m.pendingMu.Lock()
		if len(p.events) == 0 {
			delete(m.pending, guildID)
			m.pendingMu.Unlock()
			return
		}
		event := p.events[0]
		p.events = p.events[1:]
		m.pendingMu.Unlock()

		m.Broadcast(event)
		if event.Closing() {
			m.UnsubscribeOwner(event.SessionID)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close waits for dispatched events to be delivered and removes all
// subscriptions.
func (m *Manager) Close() {
	m.delivery.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
