package proc

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/leeineian/kurime/archive"
	"github.com/leeineian/kurime/pool"
	"github.com/leeineian/kurime/resolver"
	"github.com/leeineian/kurime/sys"
	"golang.org/x/time/rate"
)

var (
	voiceManager *VoiceSystem
	resolverSvc  *resolver.Service
	archiveSvc   *archive.Fetcher
	workerPool   *pool.Pool
)

func GetVoiceManager() *VoiceSystem  { return voiceManager }
func GetResolver() *resolver.Service { return resolverSvc }
func GetPool() *pool.Pool             { return workerPool }

// GetArchive returns nil when no archive directory is configured.
func GetArchive() *archive.Fetcher { return archiveSvc }

// Setup builds the playback stack and registers its daemons. It must run
// before the gateway opens.
func Setup(cfg *sys.Config, client *bot.Client) (*VoiceSystem, error) {
	workers := pool.New(cfg.Workers, sys.ComponentLogger("pool"))
	workerPool = workers

	resolverSvc = resolver.NewService(workers,
		&resolver.YTDLP{CacheDir: cfg.AudioCacheDir, Proxy: cfg.YoutubeProxy},
		resolver.WithLogger(sys.ComponentLogger("resolver")),
	)

	opts := Options{
		Pool:          workers,
		Resolver:      resolverSvc,
		MaxDuration:   cfg.MaxSongLength,
		SkipsRequired: cfg.SkipsRequired,
		SkipRatio:     cfg.SkipRatio,
	}

	var local LocalArchive
	if cfg.ArchiveEnabled() {
		f, err := archive.New(archive.Config{
			Root:          cfg.ArchiveDir,
			BaseURL:       cfg.OsuBaseURL,
			Username:      cfg.OsuUsername,
			Password:      cfg.OsuPassword,
			APIKey:        cfg.OsuAPIKey,
			FallbackAudio: cfg.FallbackAudio,
			Prober:        MediaProber{},
			Limiter:       rate.NewLimiter(rate.Every(time.Second), 2),
			Logger:        sys.ComponentLogger("archive"),
		})
		if err != nil {
			workers.Close()
			return nil, err
		}
		archiveSvc = f
		opts.Archive = f
		local = f
	}

	if cfg.AutoPlaylist || cfg.ArchiveAutoplay {
		ap := NewAutoPlaylist(cfg.AutoPlaylistFile, local, cfg.ArchiveAutoplay)
		if err := ap.Load(); err != nil {
			sys.LogPlaylist(sys.MsgGenericError, err)
		}
		opts.AutoPlaylist = ap

		sys.RegisterDaemon(sys.LogPlaylist, func(ctx context.Context) (bool, func(), func()) {
			return true, func() {
				if err := ap.Watch(ctx); err != nil {
					sys.LogPlaylist(sys.MsgAutoplayWatchFail, err)
				}
			}, nil
		})
	}

	vm := NewVoiceSystem(opts, NewDiscordConnector(client))
	voiceManager = vm

	sys.RegisterVoiceStateUpdateHandler(vm.onVoiceStateUpdate)
	sys.RegisterDaemon(sys.LogVoice, func(ctx context.Context) (bool, func(), func()) {
		rotator := NewPresenceRotator(client, vm)
		return true, func() { rotator.Run(ctx) }, nil
	})
	sys.RegisterDaemon(sys.LogVoice, func(ctx context.Context) (bool, func(), func()) {
		return true, func() {}, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			vm.Shutdown(ctx)
			workers.Close()
		}
	})
	return vm, nil
}

