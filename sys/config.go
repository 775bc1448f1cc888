package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	OwnerIDs     []snowflake.ID
	Silent       bool

	Workers       int
	AudioCacheDir string
	YoutubeProxy  string

	ArchiveDir    string
	OsuUsername   string
	OsuPassword   string
	OsuAPIKey     string
	OsuBaseURL    string
	FallbackAudio string

	SkipsRequired    int
	SkipRatio        float64
	MaxSongsPerUser  int
	MaxSongLength    time.Duration
	AutoPlaylistFile string
	AutoPlaylist     bool
	ArchiveAutoplay  bool
}

var GlobalConfig *Config

// LoadConfig reads .env and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	ownerIDs, err := parseIDList(os.Getenv("OWNER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid OWNER_IDS: %w", err)
	}

	cfg := &Config{
		Token:        os.Getenv("DISCORD_TOKEN"),
		GuildID:      os.Getenv("GUILD_ID"),
		DatabasePath: dbPath,
		OwnerIDs:     ownerIDs,
		Silent:       silent,

		Workers:       envInt("WORKERS", 4),
		AudioCacheDir: envString("AUDIO_CACHE_DIR", ".tracks"),
		YoutubeProxy:  os.Getenv("YOUTUBE_PROXY"),

		ArchiveDir:    os.Getenv("ARCHIVE_DIR"),
		OsuUsername:   os.Getenv("OSU_USERNAME"),
		OsuPassword:   os.Getenv("OSU_PASSWORD"),
		OsuAPIKey:     os.Getenv("OSU_API_KEY"),
		OsuBaseURL:    envString("OSU_BASE_URL", "https://osu.ppy.sh"),
		FallbackAudio: envString("FALLBACK_AUDIO", "File_not_found.wav"),

		SkipsRequired:    envInt("SKIPS_REQUIRED", 4),
		SkipRatio:        envFloat("SKIP_RATIO", 0.5),
		MaxSongsPerUser:  envInt("MAX_SONGS_PER_USER", 0),
		MaxSongLength:    time.Duration(envInt("MAX_SONG_LENGTH", 0)) * time.Second,
		AutoPlaylistFile: envString("AUTOPLAYLIST_FILE", "autoplaylist.txt"),
		AutoPlaylist:     envBool("AUTOPLAYLIST", true),
		ArchiveAutoplay:  envBool("ARCHIVE_AUTOPLAY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	if c.Workers < 4 || c.Workers > 7 {
		return fmt.Errorf(MsgConfigWorkersRange, c.Workers)
	}
	if c.SkipsRequired < 1 {
		return fmt.Errorf("SKIPS_REQUIRED must be at least 1")
	}
	if c.SkipRatio <= 0 || c.SkipRatio > 1 {
		return fmt.Errorf("SKIP_RATIO must be in (0, 1]")
	}
	if c.ArchiveAutoplay && c.ArchiveDir == "" {
		return fmt.Errorf("ARCHIVE_AUTOPLAY requires ARCHIVE_DIR")
	}
	return nil
}

// ArchiveEnabled reports whether beatmap archive features are configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveDir != ""
}

func (c *Config) IsOwner(id snowflake.ID) bool {
	for _, o := range c.OwnerIDs {
		if o == id {
			return true
		}
	}
	return false
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "kurime"
	if err == nil {
		projectName = strings.TrimSuffix(filepath.Base(exePath), ".exe")
		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			projectName = "kurime"
		}
	}
	return projectName
}

func parseIDList(s string) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := snowflake.Parse(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
