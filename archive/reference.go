package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Request identifies a beatmap set and, optionally, one difficulty in it.
type Request struct {
	SetID     string
	BeatmapID string
	Hash      string
	Mode      string
}

var (
	ErrNotArchiveURL = errors.New("not a beatmap url")
	ErrNoAPIKey      = errors.New("difficulty links need an API key")
)

// IsArchiveURL reports whether raw points at the beatmap site.
func IsArchiveURL(raw, base string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, b.Host)
}

// ParseReference understands /beatmapsets/<set>[#<mode>/<id>], /s/<set>,
// /d/<set> and /b/<id>. A difficulty reference comes back with BeatmapID
// set and SetID empty when the set cannot be read from the URL.
func ParseReference(raw string) (Request, error) {
	u, err := url.Parse(strings.Trim(strings.TrimSpace(raw), "<>"))
	if err != nil || u.Host == "" {
		return Request{}, ErrNotArchiveURL
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || !isNumeric(parts[1]) {
		return Request{}, fmt.Errorf("%w: %s", ErrNotArchiveURL, raw)
	}

	switch parts[0] {
	case "beatmapsets":
		req := Request{SetID: parts[1]}
		if frag := strings.Split(u.Fragment, "/"); len(frag) == 2 && isNumeric(frag[1]) {
			req.Mode = frag[0]
			req.BeatmapID = frag[1]
		}
		return req, nil
	case "s", "d":
		return Request{SetID: parts[1]}, nil
	case "b", "beatmaps":
		return Request{BeatmapID: parts[1]}, nil
	}
	return Request{}, fmt.Errorf("%w: %s", ErrNotArchiveURL, raw)
}

type apiBeatmap struct {
	SetID   string `json:"beatmapset_id"`
	FileMD5 string `json:"file_md5"`
	Mode    string `json:"mode"`
}

// Lookup fills the set id, file hash and mode of a difficulty reference.
func (f *Fetcher) Lookup(ctx context.Context, req Request) (Request, error) {
	if req.BeatmapID == "" {
		return req, nil
	}
	if f.cfg.APIKey == "" {
		return req, ErrNoAPIKey
	}

	q := url.Values{"k": {f.cfg.APIKey}, "b": {req.BeatmapID}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/api/get_beatmaps?"+q.Encode(), nil)
	if err != nil {
		return req, err
	}
	resp, err := f.api.Do(httpReq)
	if err != nil {
		return req, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return req, fmt.Errorf("beatmap lookup returned status %d", resp.StatusCode)
	}

	var found []apiBeatmap
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		return req, fmt.Errorf("decode beatmap lookup: %w", err)
	}
	if len(found) == 0 {
		return req, fmt.Errorf("beatmap %s not found", req.BeatmapID)
	}

	req.SetID = found[0].SetID
	req.Hash = found[0].FileMD5
	req.Mode = modeName(found[0].Mode)
	return req, nil
}

func modeName(m string) string {
	switch m {
	case "1":
		return "taiko"
	case "2":
		return "fruits"
	case "3":
		return "mania"
	default:
		return "osu"
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
