package youtube

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kkdai/youtube/v2"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

// LocatorConfig represents stream URL extraction settings.
type LocatorConfig struct {
	YtDlpPath string // yt-dlp executable (default "yt-dlp")
	Proxy     string
}

// Locator turns source references into URLs the decoder can read.
// YouTube pages go through yt-dlp first and the native client second.
type Locator struct {
	ytdlpPath string
	proxy     string
	client    *youtube.Client
}

// NewLocator creates a stream locator.
func NewLocator(cfg LocatorConfig) (*Locator, error) {
	httpClient, err := newHTTPClient(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	path := cfg.YtDlpPath
	if path == "" {
		path = "yt-dlp"
	}
	return &Locator{
		ytdlpPath: path,
		proxy:     cfg.Proxy,
		client:    &youtube.Client{HTTPClient: httpClient},
	}, nil
}

// StreamURL returns a direct media URL for the reference.
func (l *Locator) StreamURL(ctx context.Context, ref track.SourceRef) (string, error) {
	switch ref.Provider {
	case track.ProviderDirect:
		return ref.URL, nil
	case track.ProviderYouTube:
	default:
		return "", errors.Newf("unsupported provider: %s", ref.Provider)
	}

	streamURL, err := l.ytdlpURL(ctx, ref.URL)
	if err == nil {
		return streamURL, nil
	}
	if ctx.Err() != nil {
		return "", errors.Wrap(ctx.Err(), "stream lookup cancelled")
	}
	zlog.Warn().Msgf("youtube: yt-dlp failed, trying native client: url=%s error=%v", ref.URL, err)

	streamURL, nativeErr := l.nativeURL(ctx, ref.URL)
	if nativeErr != nil {
		return "", errors.CombineErrors(err, nativeErr)
	}
	return streamURL, nil
}

func (l *Locator) ytdlpURL(ctx context.Context, pageURL string) (string, error) {
	cmd := ytdlp.New().
		SetExecutable(l.ytdlpPath).
		Quiet().
		NoWarnings().
		IgnoreConfig().
		Format("bestaudio/best").
		Print("%(url)s")

	if l.proxy != "" {
		cmd.Proxy(l.proxy)
	}

	res, err := cmd.Run(ctx, "--no-playlist", pageURL)
	if err != nil {
		return "", errors.Wrap(err, "yt-dlp failed")
	}

	line := firstLine(res.Stdout)
	if !strings.HasPrefix(line, "http") {
		return "", errors.Wrapf(ErrNoResults, "yt-dlp printed no url for %s", pageURL)
	}
	return line, nil
}

func (l *Locator) nativeURL(ctx context.Context, pageURL string) (string, error) {
	id, ok := ExtractVideoID(pageURL)
	if !ok {
		return "", errors.Wrapf(ErrNoResults, "not a video link: %s", pageURL)
	}

	video, err := l.client.GetVideoContext(ctx, id)
	if err != nil {
		return "", errors.Wrap(err, "failed to get video")
	}

	format, ok := bestAudioFormat(video.Formats)
	if !ok {
		return "", errors.Wrapf(ErrNoResults, "no audio formats for %s", id)
	}

	streamURL, err := l.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return "", errors.Wrap(err, "failed to get stream url")
	}
	return streamURL, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
