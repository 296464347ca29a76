// Package audio decodes media URLs to PCM with ffmpeg and encodes PCM to Opus
// frames for voice transmission.
package audio

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const (
	readBufferSize = 32 * 1024
	stderrLimit    = 4 * 1024
)

// DecoderConfig represents ffmpeg decoding settings.
type DecoderConfig struct {
	FFmpegPath string // ffmpeg executable (default "ffmpeg")
	SampleRate int    // Output sample rate (default 48000)
	Channels   int    // Output channel count (default 2)
}

// Decoder starts ffmpeg processes that turn a media URL into signed 16-bit
// little-endian PCM.
type Decoder struct {
	config DecoderConfig
}

// NewDecoder creates a decoder.
func NewDecoder(cfg DecoderConfig) *Decoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	return &Decoder{config: cfg}
}

// Open starts decoding inputURL and waits until the first PCM bytes arrive or
// ctx is done. The returned stream is not bound to ctx; closing it stops the
// process.
func (d *Decoder) Open(ctx context.Context, inputURL string) (io.ReadCloser, error) {
	cmd := exec.Command(d.config.FFmpegPath, d.args(inputURL)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe error")
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}

	s := &pcmStream{cmd: cmd, reader: bufio.NewReaderSize(stdout, readBufferSize)}

	peeked := make(chan error, 1)
	go func() {
		_, err := s.reader.Peek(1)
		peeked <- err
	}()

	select {
	case err = <-peeked:
	case <-ctx.Done():
		s.kill()
		<-peeked
		_ = s.Close()
		return nil, errors.Wrap(ctx.Err(), "ffmpeg produced no audio in time")
	}

	if err != nil {
		_ = s.Close()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, errors.Wrap(err, "ffmpeg produced no audio")
		}
		return nil, errors.Newf("ffmpeg produced no audio: %s", msg)
	}

	zlog.Debug().Msgf("audio: ffmpeg started: pid=%d", cmd.Process.Pid)
	return s, nil
}

func (d *Decoder) args(inputURL string) []string {
	var args []string
	if strings.HasPrefix(inputURL, "http://") || strings.HasPrefix(inputURL, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	return append(args,
		"-i", inputURL,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(d.config.SampleRate),
		"-ac", strconv.Itoa(d.config.Channels),
		"-loglevel", "warning",
		"pipe:1",
	)
}

// pcmStream is the stdout of a running ffmpeg process.
type pcmStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	once   sync.Once
}

func (s *pcmStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close kills the process and reaps it. Safe to call more than once.
func (s *pcmStream) Close() error {
	s.once.Do(func() {
		s.kill()
		_ = s.cmd.Wait()
	})
	return nil
}

func (s *pcmStream) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
