// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig           `yaml:"discord"`
	Playback PlaybackConfig          `yaml:"playback"`
	Commands CommandsConfig          `yaml:"commands"`
	Audio    AudioConfig             `yaml:"audio"`
	YouTube  YouTubeConfig           `yaml:"youtube"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	Resolver ResolverConfig          `yaml:"resolver"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
}

// DiscordConfig represents the bot connection configuration.
type DiscordConfig struct {
	Token            string `yaml:"token" env:"DISCORD_TOKEN" validate:"required"`
	GuildID          string `yaml:"guild_id" env:"DISCORD_GUILD_ID"` // Register commands for this guild only
	RegisterCommands *bool  `yaml:"register_commands" default:"true"`
	UnregisterOnExit bool   `yaml:"unregister_on_exit"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	OpenTimeoutMs         int   `yaml:"open_timeout_ms" default:"15000" validate:"gte=0,lte=120000"`
	EventBuffer           int   `yaml:"event_buffer" default:"64" validate:"gte=1,lte=4096"`
	NotifyTrackFailures   *bool `yaml:"notify_track_failures" default:"true"`
	NotificationTimeoutMs int   `yaml:"notification_timeout_ms" default:"500" validate:"gte=0,lte=10000"`
}

// CommandsConfig represents per-user command rate limiting.
type CommandsConfig struct {
	CooldownMs int `yaml:"cooldown_ms" default:"3000" validate:"gte=0"`
	Burst      int `yaml:"burst" default:"2" validate:"gte=1"`
}

// AudioConfig represents decoder and framing settings.
type AudioConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH" default:"ffmpeg"`
	SampleRate int    `yaml:"sample_rate" default:"48000" validate:"oneof=8000 12000 16000 24000 48000"`
	Channels   int    `yaml:"channels" default:"2" validate:"oneof=1 2"`
	FrameSize  int    `yaml:"frame_size" default:"960" validate:"oneof=120 240 480 960 1920 2880"`
	Bitrate    int    `yaml:"bitrate_kbps" default:"128" validate:"gte=6,lte=510"`
}

// YouTubeConfig represents YouTube lookup and extraction settings.
type YouTubeConfig struct {
	YtDlpPath string `yaml:"ytdlp_path" env:"YTDLP_PATH" default:"yt-dlp"`
	Proxy     string `yaml:"proxy" env:"YOUTUBE_PROXY" validate:"omitempty,url"`
}

// SpotifyConfig represents Spotify API configuration. Spotify links are
// only resolved when both credentials are set.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"SPOTIFY_CLIENT_SECRET" validate:"required_with=ClientID"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Enabled reports whether Spotify credentials are configured.
func (c SpotifyConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// ResolverConfig represents the order of query sources.
type ResolverConfig struct {
	Sources []string `yaml:"sources" default:"[\"spotify\",\"youtube\",\"direct\",\"search\"]" validate:"min=1,dive,oneof=spotify youtube direct search"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing replies. {title} is replaced with the
// track title where it applies.
type MessagesConfig struct {
	NowPlaying            string `yaml:"now_playing" default:"Now playing: {title}"`
	Queued                string `yaml:"queued" default:"Queued: {title}"`
	Skipped               string `yaml:"skipped" default:"Skipped: {title}"`
	Stopped               string `yaml:"stopped" default:"Stopped playback and cleared the queue."`
	NothingPlaying        string `yaml:"nothing_playing" default:"Nothing is playing."`
	QueueEmpty            string `yaml:"queue_empty" default:"The queue is empty."`
	UserNotInChannel      string `yaml:"user_not_in_channel" default:"Join a voice channel first."`
	TrackNotFound         string `yaml:"track_not_found" default:"Could not find a playable track for that query."`
	TrackFailed           string `yaml:"track_failed" default:"Could not play {title}, skipping."`
	Disconnected          string `yaml:"disconnected" default:"Lost the voice connection, playback stopped."`
	Cooldown              string `yaml:"cooldown" default:"Slow down, try again in a moment."`
	GuildOnly             string `yaml:"guild_only" default:"This command only works in a server."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That track is already in the queue."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That track is too long or too short."`
	LiveNotAllowed        string `yaml:"live_not_allowed" default:"Live streams are not allowed."`
	QueueFull             string `yaml:"queue_full" default:"The queue is full."`
	UserPending           string `yaml:"user_pending" default:"You already have enough tracks waiting."`
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applies environment overrides
// and defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "now_playing":
		return c.Messages.NowPlaying
	case "queued":
		return c.Messages.Queued
	case "skipped":
		return c.Messages.Skipped
	case "stopped":
		return c.Messages.Stopped
	case "nothing_playing":
		return c.Messages.NothingPlaying
	case "queue_empty":
		return c.Messages.QueueEmpty
	case "user_not_in_channel":
		return c.Messages.UserNotInChannel
	case "track_not_found":
		return c.Messages.TrackNotFound
	case "track_failed":
		return c.Messages.TrackFailed
	case "disconnected":
		return c.Messages.Disconnected
	case "cooldown":
		return c.Messages.Cooldown
	case "guild_only":
		return c.Messages.GuildOnly
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "live_not_allowed":
		return c.Messages.LiveNotAllowed
	case "queue_full":
		return c.Messages.QueueFull
	case "user_pending":
		return c.Messages.UserPending
	default:
		return c.Messages.DefaultError
	}
}

// FormatMessage returns the message for code with {title} filled in.
func (c *Config) FormatMessage(code, title string) string {
	return strings.ReplaceAll(c.GetMessage(code), "{title}", title)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// EnabledFilters returns the settings of every enabled filter keyed by name.
func (c *Config) EnabledFilters() map[string]map[string]any {
	enabled := make(map[string]map[string]any)
	for name, f := range c.Filters {
		if f.Enabled {
			enabled[name] = f.Settings
		}
	}
	return enabled
}

// OpenTimeout returns the playback open timeout.
func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.Playback.OpenTimeoutMs) * time.Millisecond
}

// NotificationTimeout returns the per-sink notification send timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Playback.NotificationTimeoutMs) * time.Millisecond
}

// Cooldown returns the per-user command interval.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Commands.CooldownMs) * time.Millisecond
}
