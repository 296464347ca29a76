package discord

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/audio"
)

const defaultSendTimeout = 2 * time.Second

var errStopped = errors.New("playback stopped")

// StreamLocator turns a source reference into a URL the decoder can read.
type StreamLocator interface {
	StreamURL(ctx context.Context, ref track.SourceRef) (string, error)
}

// PCMDecoder opens a PCM stream for a media URL.
type PCMDecoder interface {
	Open(ctx context.Context, inputURL string) (io.ReadCloser, error)
}

// TransportConfig holds voice transport configuration.
type TransportConfig struct {
	Locator     StreamLocator
	Decoder     PCMDecoder
	Encoder     audio.EncoderConfig
	SendTimeout time.Duration // Bound on handing one frame to the voice connection
}

// voiceConnection is the part of a discordgo voice connection the transport
// drives.
type voiceConnection interface {
	Speaking(b bool) error
	Disconnect() error
	Opus() chan<- []byte
}

type discordVoice struct {
	*discordgo.VoiceConnection
}

func (v discordVoice) Opus() chan<- []byte {
	return v.OpusSend
}

type joinFunc func(guildID, channelID string) (voiceConnection, error)

type pumpFunc func(pcm io.Reader, send func([]byte) error) error

// VoiceTransport implements playback.Transport on Discord voice connections.
// Connections are shared per guild and reference counted; the last Release
// leaves the channel.
type VoiceTransport struct {
	join        joinFunc
	pump        pumpFunc
	locator     StreamLocator
	decoder     PCMDecoder
	sendTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*voiceConn
}

// voiceConn is the shared connection of one guild.
type voiceConn struct {
	guildID   string
	channelID string

	// Guarded by VoiceTransport.mu
	refs    int
	vc      voiceConnection
	err     error
	closing bool

	ready    chan struct{} // Closed when the join finished
	done     chan struct{} // Closed when the connection is gone
	lost     chan struct{} // Closed when Discord dropped the bot from the channel
	lostOnce sync.Once

	playMu sync.Mutex
	stop   chan struct{} // Stop signal of the active stream
}

// NewVoiceTransport creates a transport on the given Discord session.
func NewVoiceTransport(s *discordgo.Session, cfg TransportConfig) *VoiceTransport {
	join := func(guildID, channelID string) (voiceConnection, error) {
		vc, err := s.ChannelVoiceJoin(guildID, channelID, false, true)
		if err != nil {
			return nil, err
		}
		return discordVoice{vc}, nil
	}

	encoder := cfg.Encoder
	pump := func(pcm io.Reader, send func([]byte) error) error {
		enc, err := audio.NewEncoder(encoder)
		if err != nil {
			return err
		}
		return enc.Pump(pcm, send)
	}

	return newVoiceTransport(join, pump, cfg)
}

func newVoiceTransport(join joinFunc, pump pumpFunc, cfg TransportConfig) *VoiceTransport {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &VoiceTransport{
		join:        join,
		pump:        pump,
		locator:     cfg.Locator,
		decoder:     cfg.Decoder,
		sendTimeout: cfg.SendTimeout,
		conns:       make(map[string]*voiceConn),
	}
}

// Acquire joins the voice channel, or shares the guild's existing connection.
func (t *VoiceTransport) Acquire(ctx context.Context, guildID, channelID string) (playback.Handle, error) {
	var c *voiceConn
	for c == nil {
		t.mu.Lock()
		existing, ok := t.conns[guildID]
		switch {
		case ok && existing.closing:
			// Wait for the previous connection to leave before joining again
			t.mu.Unlock()
			select {
			case <-existing.done:
				continue
			case <-ctx.Done():
				return nil, errors.Mark(errors.Wrap(ctx.Err(), "voice connection still closing"), playback.ErrTransportDisconnected)
			}
		case ok:
			c = existing
			if c.channelID != channelID {
				zlog.Debug().Msgf("discord: sharing voice connection on another channel: guild=%s channel=%s requested=%s", guildID, c.channelID, channelID)
			}
		default:
			c = &voiceConn{
				guildID:   guildID,
				channelID: channelID,
				ready:     make(chan struct{}),
				done:      make(chan struct{}),
				lost:      make(chan struct{}),
			}
			t.conns[guildID] = c
			go t.connect(c)
		}
		if c != nil {
			c.refs++
		}
		t.mu.Unlock()
	}

	select {
	case <-c.ready:
	case <-ctx.Done():
		t.unref(c)
		return nil, errors.Mark(errors.Wrap(ctx.Err(), "voice join timed out"), playback.ErrTransportDisconnected)
	}

	if c.err != nil {
		t.unref(c)
		return nil, c.err
	}
	return &voiceHandle{transport: t, conn: c}, nil
}

// connect joins the channel for c and tears it down again if every
// reference was dropped meanwhile.
func (t *VoiceTransport) connect(c *voiceConn) {
	vc, err := t.join(c.guildID, c.channelID)

	t.mu.Lock()
	if err != nil {
		c.err = errors.Mark(errors.Wrapf(err, "failed to join voice channel %s", c.channelID), playback.ErrTransportDisconnected)
		if t.conns[c.guildID] == c {
			delete(t.conns, c.guildID)
		}
		t.mu.Unlock()
		close(c.ready)
		close(c.done)
		zlog.Error().Msgf("discord: failed to join voice channel: guild=%s channel=%s error=%v", c.guildID, c.channelID, err)
		return
	}

	c.vc = vc
	orphaned := c.refs == 0
	if orphaned {
		c.closing = true
	}
	t.mu.Unlock()
	close(c.ready)

	zlog.Info().Msgf("discord: joined voice channel: guild=%s channel=%s", c.guildID, c.channelID)
	if orphaned {
		t.teardown(c)
	}
}

// unref drops one reference to c. The last one leaves the channel in the
// background; Acquire for the guild waits until that finished.
func (t *VoiceTransport) unref(c *voiceConn) {
	t.mu.Lock()
	c.refs--
	if c.refs > 0 || c.vc == nil || c.closing {
		// Still shared, or connect will tear down once the join finishes
		t.mu.Unlock()
		return
	}
	c.closing = true
	t.mu.Unlock()

	go t.teardown(c)
}

func (t *VoiceTransport) teardown(c *voiceConn) {
	c.stopCurrent()
	if err := c.vc.Disconnect(); err != nil {
		zlog.Warn().Msgf("discord: failed to leave voice channel: guild=%s error=%v", c.guildID, err)
	} else {
		zlog.Info().Msgf("discord: left voice channel: guild=%s channel=%s", c.guildID, c.channelID)
	}

	t.mu.Lock()
	if t.conns[c.guildID] == c {
		delete(t.conns, c.guildID)
	}
	t.mu.Unlock()
	close(c.done)
}

// HandleVoiceStateUpdate marks the guild's connection as lost when the bot
// was disconnected from its channel by someone else.
func (t *VoiceTransport) HandleVoiceStateUpdate(botUserID string, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil || vs.UserID != botUserID || vs.ChannelID != "" {
		return
	}

	t.mu.Lock()
	c, ok := t.conns[vs.GuildID]
	live := ok && c.vc != nil && !c.closing
	t.mu.Unlock()
	if !live {
		return
	}

	zlog.Warn().Msgf("discord: removed from voice channel: guild=%s channel=%s", c.guildID, c.channelID)
	c.markLost()
}

// Connections returns the number of guilds with a voice connection.
func (t *VoiceTransport) Connections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Drain waits until every voice connection has left, or ctx is done.
func (t *VoiceTransport) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for t.Connections() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%d voice connections still open", t.Connections())
		}
	}
	return nil
}

func (c *voiceConn) markLost() {
	c.lostOnce.Do(func() {
		close(c.lost)
	})
}

func (c *voiceConn) isLost() bool {
	return isDone(c.lost)
}

func (c *voiceConn) stopCurrent() {
	c.playMu.Lock()
	defer c.playMu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// voiceHandle is one reference to a guild's voice connection.
type voiceHandle struct {
	transport *VoiceTransport
	conn      *voiceConn
	released  atomic.Bool
}

// Open locates and starts decoding the source.
func (h *voiceHandle) Open(ctx context.Context, ref track.SourceRef) (io.ReadCloser, error) {
	if h.conn.isLost() {
		return nil, errConnectionLost()
	}

	streamURL, err := h.transport.locator.StreamURL(ctx, ref)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to locate stream for %s", ref), playback.ErrStreamUnavailable)
	}

	stream, err := h.transport.decoder.Open(ctx, streamURL)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to decode %s", ref), playback.ErrStreamUnavailable)
	}
	return stream, nil
}

// Play pumps the stream into the voice connection on its own goroutine.
func (h *voiceHandle) Play(stream io.ReadCloser, onEnded func(err error)) {
	c := h.conn
	stop := make(chan struct{})

	c.playMu.Lock()
	if c.stop != nil {
		close(c.stop)
	}
	c.stop = stop
	c.playMu.Unlock()

	go h.transport.run(c, stream, stop, onEnded)
}

// StopCurrent signals the active stream to stop. It does not wait.
func (h *voiceHandle) StopCurrent() {
	h.conn.stopCurrent()
}

// Release drops this handle's reference. Only the first call counts.
func (h *voiceHandle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	h.transport.unref(h.conn)
	return nil
}

func (t *VoiceTransport) run(c *voiceConn, stream io.ReadCloser, stop <-chan struct{}, onEnded func(error)) {
	// Closing the stream unblocks a pump waiting on a stalled decoder
	finished := make(chan struct{})
	go func() {
		select {
		case <-stop:
		case <-c.lost:
		case <-finished:
			return
		}
		_ = stream.Close()
	}()

	vc := c.vc
	if err := vc.Speaking(true); err != nil {
		zlog.Debug().Msgf("discord: failed to set speaking: guild=%s error=%v", c.guildID, err)
	}

	timer := time.NewTimer(t.sendTimeout)
	defer timer.Stop()

	err := t.pump(stream, func(frame []byte) error {
		timer.Reset(t.sendTimeout)
		select {
		case vc.Opus() <- frame:
			return nil
		case <-stop:
			return errStopped
		case <-c.lost:
			return errConnectionLost()
		case <-timer.C:
			return errors.Mark(errors.Newf("voice send blocked for %s", t.sendTimeout), playback.ErrTransportDisconnected)
		}
	})

	close(finished)
	_ = stream.Close()

	if err := vc.Speaking(false); err != nil {
		zlog.Debug().Msgf("discord: failed to clear speaking: guild=%s error=%v", c.guildID, err)
	}

	c.playMu.Lock()
	if c.stop == stop {
		c.stop = nil
	}
	c.playMu.Unlock()

	switch {
	case isDone(stop):
		err = nil
	case c.isLost():
		err = errConnectionLost()
	}
	onEnded(err)
}

func errConnectionLost() error {
	return errors.Mark(errors.New("voice connection lost"), playback.ErrTransportDisconnected)
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
