package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

const audioFormat = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"

// YTDLP extracts and downloads media through the yt-dlp binary.
type YTDLP struct {
	CacheDir string
	Proxy    string
}

type ytdlpInfo struct {
	Type       string      `json:"_type"`
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Uploader   string      `json:"uploader"`
	Duration   float64     `json:"duration"`
	WebpageURL string      `json:"webpage_url"`
	URL        string      `json:"url"`
	Extractor  string      `json:"extractor"`
	IEKey      string      `json:"ie_key"`
	Entries    []ytdlpInfo `json:"entries"`
}

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if y.Proxy != "" {
		cmd.Proxy(y.Proxy)
	}
	return cmd
}

// Extract returns metadata for ref without downloading. Collections are
// extracted flat so entries carry only their own reference and title.
func (y *YTDLP) Extract(ctx context.Context, ref string) (*Info, error) {
	res, err := y.command().
		FlatPlaylist().
		Run(ctx, "--dump-single-json", "--no-check-certificates", ref)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return nil, err
	}

	var raw ytdlpInfo
	if err := json.Unmarshal([]byte(res.Stdout), &raw); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	info := raw.toInfo(ref)
	return &info, nil
}

// Download fetches the best audio stream into CacheDir and returns its path.
// A previously downloaded file for the same extractor and id is reused.
func (y *YTDLP) Download(ctx context.Context, info *Info) (string, error) {
	if err := os.MkdirAll(y.CacheDir, 0755); err != nil {
		return "", err
	}
	if info.ID != "" {
		pattern := filepath.Join(y.CacheDir, cacheStem(info)+".*")
		if matches, _ := filepath.Glob(pattern); len(matches) > 0 {
			return matches[0], nil
		}
	}

	target := info.WebpageURL
	if target == "" {
		target = info.Ref
	}
	res, err := y.command().
		Format(audioFormat).
		Output(filepath.Join(y.CacheDir, "%(extractor)s-%(id)s.%(ext)s")).
		NoPlaylist().
		NoPart().
		Print("after_move:filepath").
		NoSimulate().
		Run(ctx, "--no-check-certificates", target)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return "", err
	}

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	path := strings.TrimSpace(lines[len(lines)-1])
	if path == "" {
		return "", errors.New("yt-dlp reported no output file")
	}
	return path, nil
}

func cacheStem(info *Info) string {
	ex := strings.ToLower(info.Extractor)
	if ex == "" {
		ex = "generic"
	}
	return sanitize(ex) + "-" + sanitize(info.ID)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

func (r ytdlpInfo) toInfo(ref string) Info {
	info := Info{
		Ref:        ref,
		ID:         r.ID,
		Title:      r.Title,
		Uploader:   r.Uploader,
		Duration:   time.Duration(r.Duration * float64(time.Second)),
		WebpageURL: r.WebpageURL,
		Extractor:  r.Extractor,
		Kind:       KindSingle,
	}
	if info.WebpageURL == "" {
		info.WebpageURL = r.URL
	}
	if info.Extractor == "" {
		info.Extractor = r.IEKey
	}
	if r.Type == "playlist" || len(r.Entries) > 0 {
		info.Kind = KindCollection
		if strings.Contains(strings.ToLower(info.Extractor), "search") {
			info.Kind = KindSearch
		}
		info.Entries = make([]Info, 0, len(r.Entries))
		for _, e := range r.Entries {
			entryRef := e.WebpageURL
			if entryRef == "" {
				entryRef = e.URL
			}
			if entryRef == "" {
				continue
			}
			info.Entries = append(info.Entries, e.toInfo(entryRef))
		}
	}
	return info
}
