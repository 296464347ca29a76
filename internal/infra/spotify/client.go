// Package spotify provides a client for the Spotify API.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// TrackInfo is the metadata of a Spotify track.
type TrackInfo struct {
	ID       string
	Name     string
	Artists  []string
	Duration time.Duration
	URL      string
}

// New creates a new Spotify client using the client credentials flow.
// No user authorization is needed to read public track metadata.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	// Fetch once to fail fast on bad credentials
	if _, err := creds.Token(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to get spotify token")
	}

	// HTTP client with auto-refresh capability
	return newClient(creds.Client(ctx), cfg.Market), nil
}

func newClient(httpClient *http.Client, market string, opts ...spotify.ClientOption) *Client {
	if market == "" {
		market = "JP"
	}
	return &Client{
		client:     spotify.New(httpClient, opts...),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*TrackInfo, error) {
	id, _ := extractTrackID(trackID)
	if id == "" {
		return nil, errors.New("track id is required")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	return c.convertTrack(result), nil
}

// IsTrackURL reports whether the query is a Spotify track link or URI.
func (c *Client) IsTrackURL(query string) bool {
	_, ok := extractTrackID(query)
	return ok
}

// SearchQuery returns an "artist - title" query for a Spotify track link.
func (c *Client) SearchQuery(ctx context.Context, trackURL string) (string, error) {
	info, err := c.GetTrack(ctx, trackURL)
	if err != nil {
		return "", err
	}
	return info.SearchQuery(), nil
}

// SearchQuery returns "main artist - name", or just the name.
func (t *TrackInfo) SearchQuery() string {
	if len(t.Artists) == 0 || t.Artists[0] == "" {
		return t.Name
	}
	return t.Artists[0] + " - " + t.Name
}

// convertTrack converts a Spotify FullTrack to TrackInfo.
func (c *Client) convertTrack(t *spotify.FullTrack) *TrackInfo {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return &TrackInfo{
		ID:       string(t.ID),
		Name:     t.Name,
		Artists:  artists,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		URL:      GetTrackURL(string(t.ID)),
	}
}

// GetTrackURL returns the Spotify URL for a track.
func GetTrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry cancelled")
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
// ok is false when the input is not a track link, in which case the trimmed
// input is returned as-is.
func extractTrackID(input string) (id string, ok bool) {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		id = strings.TrimPrefix(input, "spotify:track:")
		return id, id != ""
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id = strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id, id != ""
		}
	}

	// Assume it's already a track ID
	return input, false
}
