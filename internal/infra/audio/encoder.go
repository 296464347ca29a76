package audio

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"layeh.com/gopus"
)

// EncoderConfig represents Opus framing settings.
type EncoderConfig struct {
	SampleRate int // Input sample rate (default 48000)
	Channels   int // Input channel count (default 2)
	FrameSize  int // Samples per channel per frame (default 960, 20ms at 48kHz)
	Bitrate    int // Target bitrate in kbps (0 = encoder default)
}

// Encoder converts a PCM stream into Opus frames. An Encoder is not safe for
// concurrent use; create one per stream.
type Encoder struct {
	enc       *gopus.Encoder
	frameSize int
	pcm       []byte
	samples   []int16
}

// NewEncoder creates an encoder.
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.FrameSize == 0 {
		cfg.FrameSize = 960
	}

	enc, err := gopus.NewEncoder(cfg.SampleRate, cfg.Channels, gopus.Audio)
	if err != nil {
		return nil, errors.Wrap(err, "encoder error")
	}
	if cfg.Bitrate > 0 {
		enc.SetBitrate(cfg.Bitrate * 1000)
	}

	return &Encoder{
		enc:       enc,
		frameSize: cfg.FrameSize,
		pcm:       make([]byte, cfg.FrameSize*cfg.Channels*2),
		samples:   make([]int16, cfg.FrameSize*cfg.Channels),
	}, nil
}

// Pump reads PCM frames from r and hands each encoded frame to send until r
// is exhausted (nil) or send or a read fails. A trailing partial frame is
// dropped.
func (e *Encoder) Pump(r io.Reader, send func([]byte) error) error {
	for {
		if err := readFrame(r, e.pcm, e.samples); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return errors.Wrap(err, "read error")
		}

		opus, err := e.enc.Encode(e.samples, e.frameSize, len(e.pcm))
		if err != nil {
			return errors.Wrap(err, "encode error")
		}

		if err := send(opus); err != nil {
			return err
		}
	}
}

// readFrame fills buf from r and converts it to little-endian samples.
func readFrame(r io.Reader, buf []byte, out []int16) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return nil
}
