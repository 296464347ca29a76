package discord

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fakeVoice struct {
	opus        chan []byte
	disconnects atomic.Int32
}

func newFakeVoice(buffer int) *fakeVoice {
	return &fakeVoice{opus: make(chan []byte, buffer)}
}

func (v *fakeVoice) Speaking(bool) error { return nil }

func (v *fakeVoice) Opus() chan<- []byte { return v.opus }

func (v *fakeVoice) Disconnect() error {
	v.disconnects.Add(1)
	return nil
}

func (v *fakeVoice) frames() int {
	return len(v.opus)
}

type fakeJoiner struct {
	mu    sync.Mutex
	voice *fakeVoice
	err   error
	gate  chan struct{}
	joins int
}

func (j *fakeJoiner) join(guildID, channelID string) (voiceConnection, error) {
	j.mu.Lock()
	j.joins++
	gate := j.gate
	j.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if j.err != nil {
		return nil, j.err
	}
	return j.voice, nil
}

func (j *fakeJoiner) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.joins
}

type fakeLocator struct{}

func (fakeLocator) StreamURL(ctx context.Context, ref track.SourceRef) (string, error) {
	if strings.Contains(ref.URL, "broken") {
		return "", errors.New("video unavailable")
	}
	return ref.URL + "?stream", nil
}

type fakeDecoder struct {
	data string
	err  error
}

func (d fakeDecoder) Open(ctx context.Context, inputURL string) (io.ReadCloser, error) {
	if d.err != nil {
		return nil, d.err
	}
	return io.NopCloser(strings.NewReader(d.data)), nil
}

// chunkPump forwards the input in 4 byte frames.
func chunkPump(pcm io.Reader, send func([]byte) error) error {
	buf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(pcm, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if err := send(append([]byte(nil), buf...)); err != nil {
			return err
		}
	}
}

type endRecorder struct {
	ch chan error
}

func newEndRecorder() *endRecorder {
	return &endRecorder{ch: make(chan error, 1)}
}

func (r *endRecorder) onEnded(err error) {
	r.ch <- err
}

func (r *endRecorder) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.ch:
		return err
	case <-time.After(waitFor):
		t.Fatal("stream did not end")
		return nil
	}
}

func newTestTransport(j *fakeJoiner, decoder PCMDecoder) *VoiceTransport {
	return newVoiceTransport(j.join, chunkPump, TransportConfig{
		Locator:     fakeLocator{},
		Decoder:     decoder,
		SendTimeout: 50 * time.Millisecond,
	})
}

var ref = track.SourceRef{Provider: track.ProviderDirect, URL: "https://media.example.com/a.mp3"}

func TestVoiceTransport_AcquireIsSharedAndRefCounted(t *testing.T) {
	voice := newFakeVoice(8)
	j := &fakeJoiner{voice: voice}
	tr := newTestTransport(j, fakeDecoder{})

	h1, err := tr.Acquire(context.Background(), "g1", "voice-1")
	require.NoError(t, err)
	h2, err := tr.Acquire(context.Background(), "g1", "voice-1")
	require.NoError(t, err)

	assert.Equal(t, 1, j.count())
	assert.Equal(t, 1, tr.Connections())

	require.NoError(t, h1.Release())
	require.NoError(t, h1.Release())
	assert.Equal(t, int32(0), voice.disconnects.Load())

	require.NoError(t, h2.Release())
	require.Eventually(t, func() bool {
		return tr.Connections() == 0
	}, waitFor, tick)
	assert.Equal(t, int32(1), voice.disconnects.Load())

	// A later acquire joins again
	h3, err := tr.Acquire(context.Background(), "g1", "voice-1")
	require.NoError(t, err)
	assert.Equal(t, 2, j.count())
	require.NoError(t, h3.Release())
}

func TestVoiceTransport_JoinFailure(t *testing.T) {
	j := &fakeJoiner{err: errors.New("missing permissions")}
	tr := newTestTransport(j, fakeDecoder{})

	_, err := tr.Acquire(context.Background(), "g1", "voice-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, playback.ErrTransportDisconnected))
	assert.Equal(t, 0, tr.Connections())
}

func TestVoiceTransport_AcquireTimeoutLeavesAfterJoin(t *testing.T) {
	voice := newFakeVoice(8)
	gate := make(chan struct{})
	j := &fakeJoiner{voice: voice, gate: gate}
	tr := newTestTransport(j, fakeDecoder{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Acquire(ctx, "g1", "voice-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, playback.ErrTransportDisconnected))

	close(gate)

	require.Eventually(t, func() bool {
		return voice.disconnects.Load() == 1 && tr.Connections() == 0
	}, waitFor, tick)
}

func TestVoiceTransport_PlayToEnd(t *testing.T) {
	voice := newFakeVoice(8)
	tr := newTestTransport(&fakeJoiner{voice: voice}, fakeDecoder{data: "aaaabbbb"})

	h, err := tr.Acquire(context.Background(), "g1", "voice-1")
	require.NoError(t, err)
	defer h.Release()

	stream, err := h.Open(context.Background(), ref)
	require.NoError(t, err)

	rec := newEndRecorder()
	h.Play(stream, rec.onEnded)

	assert.NoError(t, rec.wait(t))
	assert.Equal(t, 2, voice.frames())
	assert.Equal(t, []byte("aaaa"), <-voice.opus)
}

func TestVoiceTransport_OpenFailures(t *testing.T) {
	voice := newFakeVoice(8)

	t.Run("locator", func(t *testing.T) {
		tr := newTestTransport(&fakeJoiner{voice: voice}, fakeDecoder{})
		h, err := tr.Acquire(context.Background(), "g1", "voice-1")
		require.NoError(t, err)
		defer h.Release()

		_, err = h.Open(context.Background(), track.SourceRef{Provider: track.ProviderYouTube, URL: "https://youtu.be/broken"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, playback.ErrStreamUnavailable))
	})

	t.Run("decoder", func(t *testing.T) {
		tr := newTestTransport(&fakeJoiner{voice: voice}, fakeDecoder{err: errors.New("ffmpeg produced no audio")})
		h, err := tr.Acquire(context.Background(), "g1", "voice-1")
		require.NoError(t, err)
		defer h.Release()

		_, err = h.Open(context.Background(), ref)
		require.Error(t, err)
		assert.True(t, errors.Is(err, playback.ErrStreamUnavailable))
	})
}

func TestVoiceTransport_StopCurrentUnblocksStalledStream(t *testing.T) {
	voice := newFakeVoice(8)
	tr := newTestTransport(&fakeJoiner{voice: voice}, fakeDecoder{})

	h, err := tr.Acquire(context.Background(), "g1", "voice-1")
	require.NoError(t, err)
	defer h.Release()

	pr, pw := io.Pipe()
	defer pw.Close()

	rec := newEndRecorder()
	h.Play(pr, rec.onEnded)

	done := make(chan struct{})
	go func() {
		h.StopCurrent()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("StopCurrent blocked")
	}

	assert.NoError(t, rec.wait(t))
}

func TestVoiceTransport_RemovedFromChannel(t *testing.T) {
	voice := newFakeVoice(8)
	tr := newTestTransport(&fakeJoiner{voice: voice}, fakeDecoder{})

	h, err := tr.Acquire(context.Background(), "g1", "voice-1")
	require.NoError(t, err)
	defer h.Release()

	pr, pw := io.Pipe()
	defer pw.Close()

	rec := newEndRecorder()
	h.Play(pr, rec.onEnded)

	// Updates for other users and channel moves are ignored
	tr.HandleVoiceStateUpdate("bot", &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "someone", GuildID: "g1"},
	})
	tr.HandleVoiceStateUpdate("bot", &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "bot", GuildID: "g1", ChannelID: "voice-2"},
	})
	select {
	case err := <-rec.ch:
		t.Fatalf("stream ended early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	tr.HandleVoiceStateUpdate("bot", &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "bot", GuildID: "g1"},
	})

	err = rec.wait(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, playback.ErrTransportDisconnected))

	_, err = h.Open(context.Background(), ref)
	assert.True(t, errors.Is(err, playback.ErrTransportDisconnected))
}

func TestVoiceTransport_BlockedSendDisconnects(t *testing.T) {
	voice := newFakeVoice(0)
	tr := newTestTransport(&fakeJoiner{voice: voice}, fakeDecoder{data: "aaaa"})

	h, err := tr.Acquire(context.Background(), "g1", "voice-1")
	require.NoError(t, err)
	defer h.Release()

	stream, err := h.Open(context.Background(), ref)
	require.NoError(t, err)

	rec := newEndRecorder()
	h.Play(stream, rec.onEnded)

	err = rec.wait(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, playback.ErrTransportDisconnected))
}

func TestVoiceTransport_Drain(t *testing.T) {
	voice := newFakeVoice(8)
	gate := make(chan struct{})
	tr := newTestTransport(&fakeJoiner{voice: voice, gate: gate}, fakeDecoder{})

	// Nothing to wait for
	require.NoError(t, tr.Drain(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.Acquire(ctx, "g1", "voice-1")
	require.Error(t, err)

	// The join is still pending
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.Error(t, tr.Drain(short))

	close(gate)
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), waitFor)
	defer cancelDrain()
	require.NoError(t, tr.Drain(drainCtx))
	assert.Equal(t, int32(1), voice.disconnects.Load())
}
