package proc

import (
	"bufio"
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/leeineian/kurime/playlist"
	"github.com/leeineian/kurime/resolver"
	"github.com/leeineian/kurime/sys"
)

var (
	ErrAutoplayExhausted = errors.New("autoplaylist has no playable entries")
	ErrNoLocalArchive    = errors.New("no beatmap archive to autoplay from")
)

// LocalArchive lists beatmap sets already on disk.
type LocalArchive interface {
	RandomLocal() (string, bool)
}

// AutoPlaylist refills idle players from a line-per-reference file, or from
// the cached beatmap sets in archive mode.
type AutoPlaylist struct {
	path    string
	archive LocalArchive

	mu          sync.Mutex
	lines       []string
	refs        []string
	enabled     bool
	exhausted   bool
	archiveMode bool
}

func NewAutoPlaylist(path string, archive LocalArchive, archiveMode bool) *AutoPlaylist {
	return &AutoPlaylist{path: path, archive: archive, archiveMode: archiveMode && archive != nil}
}

// Load reads the file. A missing file leaves autoplay disabled.
func (a *AutoPlaylist) Load() error {
	lines, refs, err := readRefs(a.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	a.mu.Lock()
	a.lines = lines
	a.refs = refs
	a.enabled = len(refs) > 0 || a.archiveMode
	a.mu.Unlock()

	sys.LogPlaylist(sys.MsgAutoplayLoaded, len(refs), a.path)
	return nil
}

// readRefs returns the raw lines of the file and the references among them.
func readRefs(path string) ([]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var lines, refs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if ref, ok := refOf(sc.Text()); ok {
			refs = append(refs, ref)
		}
	}
	return lines, refs, sc.Err()
}

func refOf(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	return line, true
}

func (a *AutoPlaylist) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *AutoPlaylist) SetEnabled(on bool) {
	a.mu.Lock()
	a.enabled = on
	a.exhausted = false
	a.mu.Unlock()
}

func (a *AutoPlaylist) ArchiveMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archiveMode
}

// SetArchiveMode switches between the file and the cached beatmap sets.
// Switching re-enables autoplay when the new source has anything to offer.
func (a *AutoPlaylist) SetArchiveMode(on bool) error {
	if on && a.archive == nil {
		return ErrNoLocalArchive
	}
	a.mu.Lock()
	a.archiveMode = on
	a.exhausted = false
	a.enabled = on || len(a.refs) > 0
	a.mu.Unlock()
	return nil
}

func (a *AutoPlaylist) Refs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.refs)
}

func (a *AutoPlaylist) pick() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.refs) == 0 {
		return "", false
	}
	return a.refs[rand.IntN(len(a.refs))], true
}

// Remove drops ref and rewrites the file, keeping comments and blank lines.
func (a *AutoPlaylist) Remove(ref string) error {
	a.mu.Lock()
	a.refs = slices.DeleteFunc(a.refs, func(r string) bool { return r == ref })
	a.lines = slices.DeleteFunc(a.lines, func(l string) bool {
		r, ok := refOf(l)
		return ok && r == ref
	})
	lines := slices.Clone(a.lines)
	a.mu.Unlock()

	sys.LogPlaylist(sys.MsgAutoplayRemoved, ref)
	return writeLines(a.path, lines)
}

func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"
	data := strings.Join(lines, "\n")
	if len(lines) > 0 {
		data += "\n"
	}
	if err := os.WriteFile(tmp, []byte(data), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Next enqueues one random entry into pl. Unplayable references are removed
// from the file. Autoplay turns itself off once nothing is left.
func (a *AutoPlaylist) Next(ctx context.Context, pl *playlist.Playlist) (*playlist.Entry, error) {
	if a.ArchiveMode() {
		return a.nextLocal(ctx, pl)
	}

	for attempts := len(a.Refs()); attempts > 0; attempts-- {
		ref, ok := a.pick()
		if !ok {
			break
		}
		e, _, err := pl.AddSingle(ctx, ref, nil)
		var wrong *playlist.WrongEntryKindError
		var extract *resolver.ExtractionError
		switch {
		case err == nil:
			return e, nil
		case errors.As(err, &wrong):
			res, err := pl.AddBulk(ctx, wrong.CorrectedRef, nil)
			if err == nil {
				return res.Entries[0], nil
			}
		case errors.As(err, &extract):
			if err := a.Remove(ref); err != nil {
				sys.LogPlaylist(sys.MsgAutoplayRewriteFail, err)
			}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			sys.LogPlaylist(sys.MsgGenericError, err)
		}
	}

	a.mu.Lock()
	if len(a.refs) == 0 {
		sys.LogPlaylist(sys.MsgAutoplayEmpty)
		a.enabled = false
		a.exhausted = true
	}
	a.mu.Unlock()
	return nil, ErrAutoplayExhausted
}

func (a *AutoPlaylist) nextLocal(ctx context.Context, pl *playlist.Playlist) (*playlist.Entry, error) {
	if a.archive == nil {
		return nil, ErrAutoplayExhausted
	}
	dir, ok := a.archive.RandomLocal()
	if !ok {
		sys.LogArchive(sys.MsgAutoplayArchiveEmpty)
		return nil, ErrAutoplayExhausted
	}
	e, _, err := pl.AddLocal(ctx, dir, nil)
	return e, err
}

// Watch reloads the file whenever it changes on disk, until ctx is done.
func (a *AutoPlaylist) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory so atomic replacements are seen.
	if err := w.Add(filepath.Dir(a.path)); err != nil {
		return err
	}
	name := filepath.Clean(a.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := a.reload(); err != nil {
				sys.LogPlaylist(sys.MsgAutoplayWatchFail, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			sys.LogPlaylist(sys.MsgAutoplayWatchFail, err)
		}
	}
}

// reload picks up edits to the file. Autoplay only comes back on by itself
// when it was turned off for running out of entries.
func (a *AutoPlaylist) reload() error {
	lines, refs, err := readRefs(a.path)
	if err != nil {
		return err
	}
	a.mu.Lock()
	changed := !slices.Equal(refs, a.refs)
	a.lines = lines
	a.refs = refs
	if len(refs) > 0 && a.exhausted {
		a.enabled = true
		a.exhausted = false
	}
	a.mu.Unlock()
	if changed {
		sys.LogPlaylist(sys.MsgAutoplayReloaded, len(refs))
	}
	return nil
}
