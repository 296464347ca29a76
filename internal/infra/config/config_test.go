package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
discord:
  token: file-token
`

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{Discord: DiscordConfig{Token: "test-token"}}
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Discord.Token)
	require.NotNil(t, cfg.Discord.RegisterCommands)
	assert.True(t, *cfg.Discord.RegisterCommands)
	assert.Equal(t, 15*time.Second, cfg.OpenTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.NotificationTimeout())
	assert.Equal(t, 3*time.Second, cfg.Cooldown())
	assert.Equal(t, 64, cfg.Playback.EventBuffer)
	assert.Equal(t, "ffmpeg", cfg.Audio.FFmpegPath)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 960, cfg.Audio.FrameSize)
	assert.Equal(t, []string{"spotify", "youtube", "direct", "search"}, cfg.Resolver.Sources)
	assert.False(t, cfg.Spotify.Enabled())
	assert.Equal(t, "Queued: {title}", cfg.Messages.Queued)
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("DISCORD_GUILD_ID", "123456789")
	t.Setenv("SPOTIFY_CLIENT_ID", "env-client")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "env-secret")
	t.Setenv("YOUTUBE_PROXY", "http://proxy.local:3128")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "123456789", cfg.Discord.GuildID)
	assert.True(t, cfg.Spotify.Enabled())
	assert.Equal(t, "http://proxy.local:3128", cfg.YouTube.Proxy)
}

func TestParse_FileValuesKept(t *testing.T) {
	data := `
discord:
  token: file-token
  register_commands: false
playback:
  open_timeout_ms: 2000
resolver:
  sources: [youtube, search]
filters:
  queue_limit_filter:
    enabled: true
    settings:
      max_queued: 10
  duplicate_track_filter:
    enabled: false
messages:
  queued: "Added {title}"
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.False(t, *cfg.Discord.RegisterCommands)
	assert.Equal(t, 2*time.Second, cfg.OpenTimeout())
	assert.Equal(t, []string{"youtube", "search"}, cfg.Resolver.Sources)
	assert.True(t, cfg.IsFilterEnabled("queue_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("duplicate_track_filter"))
	assert.False(t, cfg.IsFilterEnabled("unknown"))
	assert.Equal(t, map[string]map[string]any{
		"queue_limit_filter": {"max_queued": 10},
	}, cfg.EnabledFilters())
	assert.Equal(t, "Added Song", cfg.FormatMessage("queued", "Song"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Discord.Token)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Parse([]byte("discord: [broken"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing discord token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "spotify client id without secret",
			mutate:  func(c *Config) { c.Spotify.ClientID = "id" },
			wantErr: true,
			errMsg:  "ClientSecret",
		},
		{
			name:    "invalid market length",
			mutate:  func(c *Config) { c.Spotify.Market = "JAPAN" },
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name:    "unsupported sample rate",
			mutate:  func(c *Config) { c.Audio.SampleRate = 44100 },
			wantErr: true,
			errMsg:  "SampleRate",
		},
		{
			name:    "unknown resolver source",
			mutate:  func(c *Config) { c.Resolver.Sources = []string{"soundcloud"} },
			wantErr: true,
			errMsg:  "Sources",
		},
		{
			name:    "negative open timeout",
			mutate:  func(c *Config) { c.Playback.OpenTimeoutMs = -1 },
			wantErr: true,
			errMsg:  "OpenTimeoutMs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestConfig_GetMessage(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, cfg.Messages.NothingPlaying, cfg.GetMessage("nothing_playing"))
	assert.Equal(t, cfg.Messages.QueueFull, cfg.GetMessage("queue_full"))
	assert.Equal(t, cfg.Messages.DefaultError, cfg.GetMessage("no_such_code"))
	assert.Equal(t, "Now playing: Song", cfg.FormatMessage("now_playing", "Song"))
}
