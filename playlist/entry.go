package playlist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/leeineian/kurime/archive"
	"github.com/leeineian/kurime/pool"
	"github.com/leeineian/kurime/resolver"
)

type Kind int

const (
	KindGeneric Kind = iota
	KindArchive
)

type Status int32

const (
	StatusPending Status = iota
	StatusResolving
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusResolving:
		return "resolving"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Requester records who queued an entry and where.
type Requester struct {
	ChannelID snowflake.ID
	AuthorID  snowflake.ID
}

// Entry is one queued item. Its ready future is created at most once and
// resolves to the local media path.
type Entry struct {
	ID        uuid.UUID
	Kind      Kind
	SourceRef string
	URL       string
	Title     string
	Duration  time.Duration
	Requester *Requester

	info      *resolver.Info
	audioPath string

	status atomic.Int32
	ready  atomic.Pointer[pool.Future[string]]

	mu        sync.Mutex
	localPath string
}

// Preparer produces the local media file for an entry.
type Preparer interface {
	Prepare(ctx context.Context, e *Entry) (string, error)
}

func NewGenericEntry(info *resolver.Info, req *Requester) *Entry {
	return &Entry{
		ID:        uuid.New(),
		Kind:      KindGeneric,
		SourceRef: info.Ref,
		URL:       info.URL(),
		Title:     info.Title,
		Duration:  info.Duration,
		Requester: req,
		info:      info,
	}
}

func NewArchiveEntry(bm *archive.Beatmap, baseURL string, req *Requester) *Entry {
	return &Entry{
		ID:        uuid.New(),
		Kind:      KindArchive,
		SourceRef: bm.Dir,
		URL:       bm.URL(baseURL),
		Title:     bm.EntryTitle(),
		Duration:  bm.Duration,
		Requester: req,
		audioPath: bm.AudioPath,
	}
}

func (e *Entry) EntryID() string      { return e.ID.String() }
func (e *Entry) DisplayTitle() string { return e.Title }

func (e *Entry) Status() Status { return Status(e.status.Load()) }

// Info returns the extractor metadata of a generic entry.
func (e *Entry) Info() *resolver.Info { return e.info }

// LocalPath is set once the entry is ready.
func (e *Entry) LocalPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localPath
}

// RequestedBy reports whether author queued this entry.
func (e *Entry) RequestedBy(author snowflake.ID) bool {
	return e.Requester != nil && e.Requester.AuthorID == author
}

// Ready returns the ready future, or nil when EnsureReady was never called.
func (e *Entry) Ready() *pool.Future[string] { return e.ready.Load() }

// EnsureReady starts preparation on p unless it was already started and
// returns the single shared future. Concurrent callers observe the same one.
func (e *Entry) EnsureReady(p *pool.Pool, prep Preparer, priority int) *pool.Future[string] {
	f, _ := e.ensureReady(p, prep, priority)
	return f
}

// ensureReady also reports whether this call started preparation.
func (e *Entry) ensureReady(p *pool.Pool, prep Preparer, priority int) (*pool.Future[string], bool) {
	if f := e.ready.Load(); f != nil {
		return f, false
	}
	f := pool.NewFuture[string]()
	if !e.ready.CompareAndSwap(nil, f) {
		return e.ready.Load(), false
	}

	e.status.Store(int32(StatusResolving))
	err := p.Submit(priority, func(ctx context.Context) {
		path, err := e.prepare(ctx, prep)
		e.finish(f, path, err)
	}, func() {
		e.finish(f, "", pool.ErrClosed)
	})
	if err != nil {
		e.finish(f, "", err)
	}
	return f, true
}

func (e *Entry) prepare(ctx context.Context, prep Preparer) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prepare panicked: %v", r)
		}
	}()
	return prep.Prepare(ctx, e)
}

func (e *Entry) finish(f *pool.Future[string], path string, err error) {
	if err != nil {
		e.status.Store(int32(StatusFailed))
	} else {
		e.mu.Lock()
		e.localPath = path
		e.mu.Unlock()
		e.status.Store(int32(StatusReady))
	}
	f.Complete(path, err)
}

var errMissingAudio = errors.New("audio file is missing")

// archiveReady verifies the unpacked audio still exists.
func (e *Entry) archiveReady() (string, error) {
	if e.audioPath == "" {
		return "", errMissingAudio
	}
	if _, err := os.Stat(e.audioPath); err != nil {
		return "", fmt.Errorf("%w: %v", errMissingAudio, err)
	}
	return e.audioPath, nil
}
