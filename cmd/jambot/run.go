package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gofrs/flock"
	"github.com/ppalone/ytsearch"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"jambot/internal/catalog"
	"jambot/internal/config"
	"jambot/internal/discord"
	"jambot/internal/music/player"
	"jambot/internal/music/resolver"
	"jambot/internal/music/session"
	"jambot/internal/music/stream"
	"jambot/pkg/retrylimit"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			return runBot(cmd.Context(), ctx, cfg)
		},
	}
}

func runBot(parent context.Context, cc *commandContext, cfg *config.Config) error {
	log, flush, err := cc.logger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	lock := flock.New(cfg.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another jambot is running (lock %s)", cfg.LockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("failed to release lock")
		}
	}()

	if err := os.MkdirAll(cfg.FilesDir, 0o755); err != nil {
		return fmt.Errorf("create files dir: %w", err)
	}

	store, err := catalog.Open(cfg.CatalogDriver, cfg.CatalogPath, log)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	yt, err := stream.NewYouTubeClient(cfg.Proxy)
	if err != nil {
		return fmt.Errorf("youtube client: %w", err)
	}
	runner := &resolver.YTDLP{Binary: cfg.YTDLPPath, Proxy: cfg.Proxy}

	res := resolver.New(resolver.Options{
		Videos: yt,
		Searchers: []resolver.Searcher{
			resolver.MusicSearcher{},
			resolver.VideoSearcher{Client: ytsearch.NewClient(yt.HTTPClient)},
			resolver.YTDLPSearcher{Runner: runner},
		},
		Runner:             runner,
		UnsupportedDomains: cfg.UnsupportedDomains,
		FilesDir:           cfg.FilesDir,
		Limiter:            retrylimit.NewAdaptiveLimiter(5, 0.5, 10, rate.Limit(0.5), 0.5),
		Logger:             log,
	})

	persister := resolver.NewPersister(resolver.PersisterOptions{
		Runner:    runner,
		Catalog:   store,
		FilesDir:  cfg.FilesDir,
		PerMinute: cfg.PersistRate,
		Logger:    log,
	})
	defer persister.Close()

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	opener := stream.NewOpener(log.With().Str("component", "stream").Logger(),
		&stream.KKDAIStreamer{Client: yt, FFmpeg: cfg.FFmpegPath},
		&stream.YTDLPStreamer{Binary: cfg.YTDLPPath, FFmpeg: cfg.FFmpegPath, Proxy: cfg.Proxy},
		&stream.FileStreamer{FFmpeg: cfg.FFmpegPath},
	)
	registry := session.NewRegistry(&player.Joiner{DG: dg, Opener: opener, Log: log}, session.Options{
		Catalog:       store,
		FileTrack:     res.FileTrack,
		DefaultVolume: cfg.DefaultVolume,
		Logger:        log,
	})
	defer registry.CloseAll()

	bot := discord.New(dg, &discord.Handler{
		Sessions:  registry,
		Resolver:  res,
		Persister: persister,
		Catalog:   store,
		SeekStep:  cfg.SeekStep.Std(),
		Log:       log.With().Str("component", "discord").Logger(),
	}, discord.Options{
		CommandsGuildID: cfg.CommandsGuildID,
		CacheDir:        "data",
		BeforeClose:     registry.CloseAll,
		Logger:          log,
	})

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("catalog", cfg.CatalogDriver).
		Str("files_dir", cfg.FilesDir).
		Int("default_volume", cfg.DefaultVolume).
		Msg("starting jambot")

	start := time.Now()
	if err := bot.Run(ctx); err != nil {
		return err
	}
	log.Info().Dur("uptime", time.Since(start)).Msg("jambot exited cleanly")
	return nil
}
