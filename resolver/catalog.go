package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

const (
	MusicPrefix   = "[YTM]"
	YoutubePrefix = "[YT]"

	catalogTimeout = 2600 * time.Millisecond
	catalogLimit   = 25
)

// Hit is one interactive search result.
type Hit struct {
	Title  string
	Artist string
	URL    string
	Music  bool
}

// Label is the result as shown in a select menu.
func (h Hit) Label() string {
	prefix := YoutubePrefix
	if h.Music {
		prefix = MusicPrefix
	}
	s := prefix + " " + h.Title
	if h.Artist != "" {
		s += " - " + h.Artist
	}
	if len(s) > 100 {
		s = s[:97] + "..."
	}
	return s
}

// Catalog queries YouTube Music and YouTube concurrently. A query starting
// with YoutubePrefix ranks plain YouTube results first.
func Catalog(ctx context.Context, q string) []Hit {
	youtubeFirst := false
	switch up := strings.ToUpper(q); {
	case strings.HasPrefix(up, YoutubePrefix):
		youtubeFirst, q = true, strings.TrimSpace(q[len(YoutubePrefix):])
	case strings.HasPrefix(up, MusicPrefix):
		q = strings.TrimSpace(q[len(MusicPrefix):])
	}

	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		ytm, yt []Hit
		seen    = make(map[string]bool)
		wg      sync.WaitGroup
	)
	keep := func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		if id == "" || seen[id] {
			return false
		}
		seen[id] = true
		return true
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(q)
		r, err := s.Next()
		if err != nil {
			return
		}
		for _, v := range r.Tracks {
			if !keep(v.VideoID) {
				continue
			}
			h := Hit{Title: v.Title, URL: "https://music.youtube.com/watch?v=" + v.VideoID, Music: true}
			if len(v.Artists) > 0 {
				h.Artist = v.Artists[0].Name
			}
			mu.Lock()
			ytm = append(ytm, h)
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		r, err := ytsearch.NewClient(nil).Search(ctx, q)
		if err != nil {
			return
		}
		for _, v := range r.Results {
			if !keep(v.VideoID) {
				continue
			}
			mu.Lock()
			yt = append(yt, Hit{Title: v.Title, URL: "https://www.youtube.com/watch?v=" + v.VideoID})
			mu.Unlock()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	var out []Hit
	if youtubeFirst {
		out = append(append(out, yt...), ytm...)
	} else {
		out = append(append(out, ytm...), yt...)
	}
	if len(out) > catalogLimit {
		out = out[:catalogLimit]
	}
	return out
}
