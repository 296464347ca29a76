// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/filter"
	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/resolver"
	"github.com/osa030/voicebox/internal/app/session"
	"github.com/osa030/voicebox/internal/infra/audio"
	"github.com/osa030/voicebox/internal/infra/config"
	"github.com/osa030/voicebox/internal/infra/discord"
	"github.com/osa030/voicebox/internal/infra/logger"
	"github.com/osa030/voicebox/internal/infra/spotify"
	"github.com/osa030/voicebox/internal/infra/youtube"
)

var (
	app        = kingpin.New("voicebox", "Discord voice channel music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/voicebox.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// run wires the components and blocks until a shutdown signal.
func run(cfg *config.Config) error {
	ctx := context.Background()

	resolverChain, err := newResolver(ctx, cfg)
	if err != nil {
		return err
	}

	filters, err := filter.Build(cfg.EnabledFilters())
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	locator, err := youtube.NewLocator(youtube.LocatorConfig{
		YtDlpPath: cfg.YouTube.YtDlpPath,
		Proxy:     cfg.YouTube.Proxy,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create stream locator")
	}

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return errors.Wrap(err, "failed to create discord session")
	}

	transport := discord.NewVoiceTransport(dg, discord.TransportConfig{
		Locator: locator,
		Decoder: audio.NewDecoder(audio.DecoderConfig{
			FFmpegPath: cfg.Audio.FFmpegPath,
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		}),
		Encoder: audio.EncoderConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			FrameSize:  cfg.Audio.FrameSize,
			Bitrate:    cfg.Audio.Bitrate,
		},
	})

	manager, err := session.NewManager(session.ManagerConfig{
		Transport:   transport,
		Resolver:    resolverChain,
		Filters:     filters,
		Notifier:    notification.NewManager(cfg.NotificationTimeout()),
		OpenTimeout: cfg.OpenTimeout(),
		EventBuffer: cfg.Playback.EventBuffer,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}

	bot := discord.NewBot(dg, cfg, manager, transport)
	if err := bot.Start(); err != nil {
		manager.Close()
		return err
	}
	zlog.Info().Msg("Bot is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	// Stop sessions while the gateway is still up so the bot leaves its
	// voice channels cleanly
	manager.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := transport.Drain(drainCtx); err != nil {
		zlog.Warn().Msgf("Voice connections did not close: %v", err)
	}

	if err := bot.Close(); err != nil {
		zlog.Error().Msgf("Failed to close discord session: %v", err)
	}

	zlog.Info().Msg("Bot stopped")
	return nil
}

// newResolver builds the query resolver chain from the configured sources.
func newResolver(ctx context.Context, cfg *config.Config) (*resolver.Chain, error) {
	videos, err := youtube.NewVideoSource(cfg.YouTube.Proxy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create youtube video source")
	}
	search, err := youtube.NewSearchSource(cfg.YouTube.Proxy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create youtube search source")
	}

	deps := resolver.Dependencies{
		Videos:     videos,
		IsVideoURL: youtube.IsVideoURL,
		Search:     search,
	}

	if cfg.Spotify.Enabled() {
		client, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Spotify client")
		}
		deps.Spotify = client
	}

	return resolver.NewChainFromConfig(cfg, deps)
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registered := filter.GetRegistered()
	for _, name := range filter.Names() {
		f := registered[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
