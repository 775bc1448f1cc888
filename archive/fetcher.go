package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mholt/archives"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://osu.ppy.sh"
	TitlePrefix    = "[osu!譜面]"
)

// Stage names a step of the fetch state machine.
type Stage string

const (
	StageLookup          Stage = "lookup"
	StageCheckCache      Stage = "check-cache"
	StageEnsureSession   Stage = "ensure-session"
	StageDownload        Stage = "download"
	StageExtract         Stage = "extract"
	StageParseDescriptor Stage = "parse-descriptor"
)

// FetchError reports which stage of a fetch failed.
type FetchError struct {
	SetID string
	Stage Stage
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("beatmap set %s: %s failed: %v", e.SetID, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Beatmap is a playable difficulty of a cached beatmap set.
type Beatmap struct {
	SetID     string
	BeatmapID string
	Mode      string
	Title     string
	AudioPath string
	Duration  time.Duration
	Dir       string
}

// URL links to the set, or to the difficulty when one was requested.
func (b *Beatmap) URL(base string) string {
	u := strings.TrimRight(base, "/") + "/beatmapsets/" + b.SetID
	if b.BeatmapID != "" {
		mode := b.Mode
		if mode == "" {
			mode = "osu"
		}
		u += "#" + mode + "/" + b.BeatmapID
	}
	return u
}

// EntryTitle is the title shown in the playlist.
func (b *Beatmap) EntryTitle() string {
	return TitlePrefix + b.Title
}

type Config struct {
	Root          string
	BaseURL       string
	Username      string
	Password      string
	APIKey        string
	FallbackAudio string
	Prober        Prober
	HTTPClient    *http.Client
	Limiter       *rate.Limiter
	Logger        *slog.Logger
}

// Fetcher downloads, unpacks and caches beatmap sets under Root.
type Fetcher struct {
	cfg     Config
	sess    *session
	api     *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
}

func New(cfg Config) (*Fetcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("archive root is not configured")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Prober == nil {
		cfg.Prober = noProber{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Every(time.Second), 2)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	if cfg.HTTPClient != nil {
		cp := *cfg.HTTPClient
		client = &cp
	}
	client.Jar = jar

	return &Fetcher{
		cfg:     cfg,
		sess:    &session{client: client},
		api:     &http.Client{Timeout: 10 * time.Second, Transport: client.Transport},
		limiter: cfg.Limiter,
		logger:  cfg.Logger.With(slog.String("component", "archive")),
	}, nil
}

func (f *Fetcher) Root() string    { return f.cfg.Root }
func (f *Fetcher) BaseURL() string { return f.cfg.BaseURL }

// Fetch returns the requested difficulty, downloading and unpacking the set
// unless it is already cached. Concurrent fetches of one set share a single
// download.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Beatmap, error) {
	if req.BeatmapID != "" && req.Hash == "" {
		looked, err := f.Lookup(ctx, req)
		switch {
		case err == nil:
			req = looked
		case req.SetID != "" && errors.Is(err, ErrNoAPIKey):
			f.logger.Warn(fmt.Sprintf("No API key, using the first difficulty of set %s", req.SetID))
		default:
			return nil, &FetchError{SetID: req.SetID, Stage: StageLookup, Err: err}
		}
	}
	if !isNumeric(req.SetID) {
		return nil, &FetchError{SetID: req.SetID, Stage: StageCheckCache, Err: fmt.Errorf("invalid set id %q", req.SetID)}
	}

	dir, err := f.setDir(ctx, req.SetID)
	if err != nil {
		return nil, err
	}

	bm, err := f.Load(ctx, dir, req.Hash)
	if err != nil {
		return nil, &FetchError{SetID: req.SetID, Stage: StageParseDescriptor, Err: err}
	}
	bm.BeatmapID = req.BeatmapID
	bm.Mode = req.Mode
	return bm, nil
}

// CheckCache returns the cached directory for a set: the first directory
// under Root named "<id>" or "<id> ...".
func (f *Fetcher) CheckCache(setID string) (string, bool) {
	entries, err := os.ReadDir(f.cfg.Root)
	if err != nil {
		return "", false
	}
	prefix := setID + " "
	for _, e := range entries {
		if e.IsDir() && (e.Name() == setID || strings.HasPrefix(e.Name(), prefix)) {
			return filepath.Join(f.cfg.Root, e.Name()), true
		}
	}
	return "", false
}

// Local lists the cached set directories.
func (f *Fetcher) Local() []string {
	entries, err := os.ReadDir(f.cfg.Root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && isNumeric(SetIDFromDir(e.Name())) {
			dirs = append(dirs, filepath.Join(f.cfg.Root, e.Name()))
		}
	}
	return dirs
}

// RandomLocal picks a cached set directory at random.
func (f *Fetcher) RandomLocal() (string, bool) {
	dirs := f.Local()
	if len(dirs) == 0 {
		return "", false
	}
	return dirs[rand.IntN(len(dirs))], true
}

// Load reads the descriptor of a set directory. A missing audio file is
// replaced by the fallback asset and an unreadable duration becomes zero.
func (f *Fetcher) Load(ctx context.Context, dir, hash string) (*Beatmap, error) {
	path, err := SelectDescriptor(dir, hash)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	desc, err := ParseDescriptor(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	audio := filepath.Join(dir, desc.AudioFilename)
	if _, err := os.Stat(audio); err != nil {
		f.logger.Warn(fmt.Sprintf("Audio file %s missing, using fallback", audio))
		audio = f.cfg.FallbackAudio
	}

	var dur time.Duration
	if audio != "" {
		if d, err := f.cfg.Prober.Duration(ctx, audio); err == nil {
			dur = d
		} else {
			f.logger.Warn(fmt.Sprintf("Could not probe %s: %v", audio, err))
		}
	}

	return &Beatmap{
		SetID:     SetIDFromDir(dir),
		Title:     desc.DisplayTitle(),
		AudioPath: audio,
		Duration:  dur,
		Dir:       dir,
	}, nil
}

func (f *Fetcher) setDir(ctx context.Context, setID string) (string, error) {
	if dir, ok := f.CheckCache(setID); ok {
		f.logger.Debug(fmt.Sprintf("Cache hit for set %s", setID))
		return dir, nil
	}

	ch := f.group.DoChan(setID, func() (any, error) {
		return f.fetchSet(context.WithoutCancel(ctx), setID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *Fetcher) fetchSet(ctx context.Context, setID string) (string, error) {
	if dir, ok := f.CheckCache(setID); ok {
		return dir, nil
	}

	archivePath, existing, err := f.downloadWithRetry(ctx, setID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	dir, err := f.extract(ctx, archivePath)
	if err != nil {
		_ = os.Remove(archivePath)
		return "", &FetchError{SetID: setID, Stage: StageExtract, Err: err}
	}
	f.logger.Info(fmt.Sprintf("Unpacked set %s into %s", setID, filepath.Base(dir)))
	return dir, nil
}

func (f *Fetcher) downloadWithRetry(ctx context.Context, setID string) (string, string, error) {
	for attempt := 0; ; attempt++ {
		if err := f.ensureSession(ctx); err != nil {
			return "", "", &FetchError{SetID: setID, Stage: StageEnsureSession, Err: err}
		}
		path, existing, err := f.download(ctx, setID)
		if errors.Is(err, ErrSessionExpired) && attempt == 0 {
			f.logger.Warn("Session expired, logging in again")
			f.sess.invalidate()
			continue
		}
		if err != nil {
			return "", "", &FetchError{SetID: setID, Stage: StageDownload, Err: err}
		}
		return path, existing, nil
	}
}

// download streams the set archive into Root. When a directory for the
// archive's name already exists it is returned instead.
func (f *Fetcher) download(ctx context.Context, setID string) (string, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/beatmapsets/"+setID+"/download", nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Referer", f.cfg.BaseURL+"/beatmapsets/"+setID)
	resp, err := f.sess.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	// A signed-out download answers 200 with the login page.
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", "", fmt.Errorf("%w: status %d", ErrSessionExpired, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", "", fmt.Errorf("download returned status %d", resp.StatusCode)
	case !isArchiveResponse(resp):
		return "", "", fmt.Errorf("%w: content type %q", ErrSessionExpired, resp.Header.Get("Content-Type"))
	}

	name := dispositionFilename(resp.Header.Get("Content-Disposition"), setID+".osz")
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if info, err := os.Stat(filepath.Join(f.cfg.Root, stem)); err == nil && info.IsDir() {
		f.logger.Info(fmt.Sprintf("%s is already unpacked", stem))
		return "", filepath.Join(f.cfg.Root, stem), nil
	}

	part := filepath.Join(f.cfg.Root, "."+uuid.NewString()+".part")
	out, err := os.Create(part)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(part)
		return "", "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(part)
		return "", "", err
	}

	final := filepath.Join(f.cfg.Root, name)
	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		return "", "", err
	}
	f.logger.Info(fmt.Sprintf("Downloaded %s", name))
	return final, "", nil
}

func isArchiveResponse(resp *http.Response) bool {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	switch mt {
	case "application/download", "application/x-osu-beatmap-archive", "application/octet-stream", "application/zip":
		return true
	}
	return false
}

func dispositionFilename(header, fallback string) string {
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return fallback
	}
	name := filepath.Base(strings.ReplaceAll(params["filename"], "\\", ""))
	if name == "" || name == "." || name == "/" || strings.HasPrefix(name, ".") {
		return fallback
	}
	return name
}

// extract unpacks archivePath into a directory named after it and removes
// the archive. The directory is published with a rename so a concurrent
// extractor of the same set loses cleanly.
func (f *Fetcher) extract(ctx context.Context, archivePath string) (string, error) {
	name := filepath.Base(archivePath)
	final := filepath.Join(f.cfg.Root, strings.TrimSuffix(name, filepath.Ext(name)))
	tmp := filepath.Join(f.cfg.Root, "."+uuid.NewString()+".extract")
	if err := os.Mkdir(tmp, 0755); err != nil {
		return "", err
	}

	if err := unpack(ctx, archivePath, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return "", err
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.RemoveAll(tmp)
		if info, statErr := os.Stat(final); statErr != nil || !info.IsDir() {
			return "", err
		}
		f.logger.Debug(fmt.Sprintf("%s was unpacked concurrently", filepath.Base(final)))
	}
	_ = os.Remove(archivePath)
	return final, nil
}

func unpack(ctx context.Context, archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	format, reader, err := archives.Identify(ctx, archivePath, file)
	if err != nil {
		return fmt.Errorf("cannot identify archive format: %w", err)
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return errors.New("format does not support extraction")
	}

	var input io.Reader = reader
	switch format.(type) {
	case archives.Zip, archives.SevenZip:
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		input = file
	}

	root := filepath.Clean(dest)
	return extractor.Extract(ctx, input, func(ctx context.Context, fi archives.FileInfo) error {
		target := filepath.Join(root, filepath.Clean(fi.NameInArchive))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("invalid file path: %s", fi.NameInArchive)
		}
		if fi.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		src, err := fi.Open()
		if err != nil {
			return err
		}
		defer src.Close()

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
