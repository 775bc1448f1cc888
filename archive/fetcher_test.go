package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeProber struct{ d time.Duration }

func (p fakeProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	return p.d, nil
}

const sampleOsu = "osu file format v14\r\n\r\n[General]\r\nAudioFilename: audio.mp3\r\nAudioLeadIn: 0\r\n\r\n[Metadata]\r\nTitle:Song\r\nTitleUnicode:ソング\r\nArtist:Someone\r\n\r\n[Difficulty]\r\nHPDrainRate:5\r\n"

// beatmapSite imitates the login and download endpoints.
type beatmapSite struct {
	t          *testing.T
	mu         sync.Mutex
	sessions   map[string]bool
	archives   map[string][]byte
	names      map[string]string
	logins     atomic.Int32
	downloads  atomic.Int32
	expireNext atomic.Bool
	signedOut  atomic.Bool
	delay      time.Duration
}

func newBeatmapSite(t *testing.T) (*beatmapSite, *httptest.Server) {
	site := &beatmapSite{
		t:        t,
		sessions: map[string]bool{},
		archives: map[string][]byte{},
		names:    map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/community/forums", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "xsrf", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("_token") != "xsrf" || r.PostForm.Get("password") != "hunter2" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		n := site.logins.Add(1)
		id := fmt.Sprintf("sess-%d", n)
		site.mu.Lock()
		site.sessions[id] = true
		site.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "osu_session", Value: id, Path: "/"})
	})
	mux.HandleFunc("/beatmapsets/", func(w http.ResponseWriter, r *http.Request) {
		setID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/beatmapsets/"), "/download")
		c, err := r.Cookie("osu_session")
		site.mu.Lock()
		ok := err == nil && site.sessions[c.Value] && !site.signedOut.Load()
		if ok && site.expireNext.CompareAndSwap(true, false) {
			site.sessions = map[string]bool{}
			ok = false
		}
		data, found := site.archives[setID]
		name := site.names[setID]
		site.mu.Unlock()

		if !ok {
			w.Header().Set("Content-Type", "text/html; charset=UTF-8")
			_, _ = w.Write([]byte("<html>please sign in</html>"))
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		site.downloads.Add(1)
		time.Sleep(site.delay)
		w.Header().Set("Content-Type", "application/download")
		if name != "" {
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment;filename="%s"`, name))
		}
		_, _ = w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return site, srv
}

func (s *beatmapSite) addSet(setID, name string, files map[string]string) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for n, body := range files {
		w, err := zw.Create(n)
		require.NoError(s.t, err)
		_, err = w.Write([]byte(body))
		require.NoError(s.t, err)
	}
	require.NoError(s.t, zw.Close())
	s.mu.Lock()
	s.archives[setID] = buf.Bytes()
	s.names[setID] = name
	s.mu.Unlock()
}

func newTestFetcher(t *testing.T, baseURL string) *Fetcher {
	t.Helper()
	root := t.TempDir()
	fallback := filepath.Join(t.TempDir(), "File_not_found.wav")
	require.NoError(t, os.WriteFile(fallback, []byte("RIFF"), 0644))

	f, err := New(Config{
		Root:          root,
		BaseURL:       baseURL,
		Username:      "player",
		Password:      "hunter2",
		FallbackAudio: fallback,
		Prober:        fakeProber{d: 90 * time.Second},
		Limiter:       rate.NewLimiter(rate.Inf, 1),
	})
	require.NoError(t, err)
	return f
}

func TestFetchCacheHitSkipsNetwork(t *testing.T) {
	site, srv := newBeatmapSite(t)
	f := newTestFetcher(t, srv.URL)

	dir := filepath.Join(f.Root(), "123 Someone - Song")
	require.NoError(t, os.Mkdir(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.osu"), []byte(sampleOsu), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audio.mp3"), []byte("mp3"), 0644))

	bm, err := f.Fetch(context.Background(), Request{SetID: "123"})
	require.NoError(t, err)
	assert.Equal(t, "ソング", bm.Title)
	assert.Equal(t, "123", bm.SetID)
	assert.Equal(t, filepath.Join(dir, "audio.mp3"), bm.AudioPath)
	assert.Equal(t, 90*time.Second, bm.Duration)
	assert.Zero(t, site.logins.Load())
	assert.Zero(t, site.downloads.Load())
}

func TestFetchDownloadsAndExtracts(t *testing.T) {
	site, srv := newBeatmapSite(t)
	site.addSet("456", "456 Someone - Song.osz", map[string]string{
		"diff.osu":  sampleOsu,
		"audio.mp3": "mp3",
	})
	f := newTestFetcher(t, srv.URL)

	bm, err := f.Fetch(context.Background(), Request{SetID: "456"})
	require.NoError(t, err)
	assert.Equal(t, "456", bm.SetID)
	assert.Equal(t, filepath.Join(f.Root(), "456 Someone - Song"), bm.Dir)
	assert.Equal(t, TitlePrefix+"ソング", bm.EntryTitle())
	assert.EqualValues(t, 1, site.logins.Load())

	_, err = os.Stat(filepath.Join(f.Root(), "456 Someone - Song.osz"))
	assert.True(t, os.IsNotExist(err), "archive should be removed after extraction")

	dir, ok := f.CheckCache("456")
	assert.True(t, ok)
	assert.Equal(t, bm.Dir, dir)
}

func TestFetchReloginOnExpiredSession(t *testing.T) {
	site, srv := newBeatmapSite(t)
	site.addSet("7", "7 A - B.osz", map[string]string{"x.osu": sampleOsu, "audio.mp3": "mp3"})
	f := newTestFetcher(t, srv.URL)

	require.NoError(t, f.Relogin(context.Background()))
	site.expireNext.Store(true)

	_, err := f.Fetch(context.Background(), Request{SetID: "7"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, site.logins.Load())
	assert.EqualValues(t, 1, site.downloads.Load())
}

func TestFetchFailsAfterSecondExpiry(t *testing.T) {
	site, srv := newBeatmapSite(t)
	site.addSet("5", "5 A - B.osz", map[string]string{"x.osu": sampleOsu, "audio.mp3": "mp3"})
	site.signedOut.Store(true)
	f := newTestFetcher(t, srv.URL)

	_, err := f.Fetch(context.Background(), Request{SetID: "5"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageDownload, fe.Stage)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.EqualValues(t, 2, site.logins.Load())
}

func TestFetchMissingSetIsNotSessionExpiry(t *testing.T) {
	site, srv := newBeatmapSite(t)
	f := newTestFetcher(t, srv.URL)

	_, err := f.Fetch(context.Background(), Request{SetID: "999"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageDownload, fe.Stage)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Contains(t, err.Error(), "status 404")
	assert.EqualValues(t, 1, site.logins.Load())
}

func TestFetchWithoutFilenameIsCached(t *testing.T) {
	site, srv := newBeatmapSite(t)
	site.addSet("55", "", map[string]string{"x.osu": sampleOsu, "audio.mp3": "mp3"})
	f := newTestFetcher(t, srv.URL)

	bm, err := f.Fetch(context.Background(), Request{SetID: "55"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.Root(), "55"), bm.Dir)

	dir, ok := f.CheckCache("55")
	require.True(t, ok)
	assert.Equal(t, bm.Dir, dir)

	_, err = f.Fetch(context.Background(), Request{SetID: "55"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, site.downloads.Load())
}

func TestConcurrentFetchesShareDownload(t *testing.T) {
	site, srv := newBeatmapSite(t)
	site.delay = 50 * time.Millisecond
	site.addSet("88", "88 X - Y.osz", map[string]string{"x.osu": sampleOsu, "audio.mp3": "mp3"})
	f := newTestFetcher(t, srv.URL)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.Fetch(context.Background(), Request{SetID: "88"})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, site.downloads.Load())
}

func TestLoadSelectsDifficultyByHash(t *testing.T) {
	f := newTestFetcher(t, "http://127.0.0.1:1")
	dir := filepath.Join(f.Root(), "5 Set")
	require.NoError(t, os.Mkdir(dir, 0755))

	easy := "AudioFilename: audio.mp3\nTitle:Easy\n[Difficulty]\n"
	hard := "AudioFilename: audio.mp3\nTitle:Hard\n[Difficulty]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.osu"), []byte(easy), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.osu"), []byte(hard), 0644))

	sum := md5.Sum([]byte(hard))
	bm, err := f.Load(context.Background(), dir, hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	assert.Equal(t, "Hard", bm.Title)

	_, err = f.Load(context.Background(), dir, "ffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrHashNotFound)
}

func TestLoadFallsBackWhenAudioMissing(t *testing.T) {
	f := newTestFetcher(t, "http://127.0.0.1:1")
	dir := filepath.Join(f.Root(), "6 Set")
	require.NoError(t, os.Mkdir(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.osu"), []byte(sampleOsu), 0644))

	bm, err := f.Load(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, f.cfg.FallbackAudio, bm.AudioPath)
}

func TestRandomLocal(t *testing.T) {
	f := newTestFetcher(t, "http://127.0.0.1:1")
	_, ok := f.RandomLocal()
	assert.False(t, ok)

	require.NoError(t, os.Mkdir(filepath.Join(f.Root(), "1 One"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(f.Root(), ".tmp"), 0755))
	dir, ok := f.RandomLocal()
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(f.Root(), "1 One"), dir)
}

func TestBeatmapURL(t *testing.T) {
	bm := &Beatmap{SetID: "10"}
	assert.Equal(t, "https://osu.ppy.sh/beatmapsets/10", bm.URL(DefaultBaseURL))
	bm.BeatmapID, bm.Mode = "20", "fruits"
	assert.Equal(t, "https://osu.ppy.sh/beatmapsets/10#fruits/20", bm.URL(DefaultBaseURL))
}

func TestDispositionFilename(t *testing.T) {
	assert.Equal(t, "1 A - B.osz", dispositionFilename(`attachment;filename="1 A - B.osz"`, "x"))
	assert.Equal(t, "x", dispositionFilename("", "x"))
	assert.Equal(t, "evil.osz", dispositionFilename(`attachment; filename="../../evil.osz"`, "x"))
}
