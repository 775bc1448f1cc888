package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leeineian/kurime/pool"
)

type Kind int

const (
	KindSingle Kind = iota
	KindCollection
	KindSearch
)

func (k Kind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindSearch:
		return "search"
	default:
		return "single"
	}
}

// Info is the metadata the extractor reports for a reference.
type Info struct {
	Ref        string
	ID         string
	Title      string
	Uploader   string
	Duration   time.Duration
	WebpageURL string
	Extractor  string
	Kind       Kind
	Entries    []Info
}

// URL returns the canonical page URL, falling back to the original reference.
func (i *Info) URL() string {
	if i.WebpageURL != "" {
		return i.WebpageURL
	}
	return i.Ref
}

// Extractor is the media extraction backend.
type Extractor interface {
	Extract(ctx context.Context, ref string) (*Info, error)
	Download(ctx context.Context, info *Info) (string, error)
}

// ExtractionError reports a strict-mode resolution failure.
type ExtractionError struct {
	Ref string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract information from %s: %v", e.Ref, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

var (
	ErrNoResults          = errors.New("search returned no results")
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// Service resolves references on a bounded worker pool.
type Service struct {
	pool      *pool.Pool
	extractor Extractor
	http      *http.Client
	logger    *slog.Logger
}

type Option func(*Service)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.http = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l.With(slog.String("component", "resolver")) }
}

func NewService(p *pool.Pool, ex Extractor, opts ...Option) *Service {
	s := &Service{
		pool:      p,
		extractor: ex,
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    slog.Default().With(slog.String("component", "resolver")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Pool() *pool.Pool { return s.pool }

// Resolve extracts ref strictly. Failures are returned as *ExtractionError.
func (s *Service) Resolve(ctx context.Context, ref string) (*Info, error) {
	return s.ResolveAsync(ref).Await(ctx)
}

// ResolveAsync submits a strict resolution and returns its future.
func (s *Service) ResolveAsync(ref string) *pool.Future[*Info] {
	return pool.Go(s.pool, 0, func(ctx context.Context) (*Info, error) {
		info, err := s.extract(ctx, ref)
		if err != nil {
			var ee *ExtractionError
			if errors.As(err, &ee) {
				return nil, err
			}
			return nil, &ExtractionError{Ref: ref, Err: err}
		}
		return info, nil
	})
}

// ResolveLenient extracts ref and returns nil on failure. The reason is logged.
func (s *Service) ResolveLenient(ctx context.Context, ref string) *Info {
	info, _ := s.ResolveLenientAsync(ref).Await(ctx)
	return info
}

// ResolveLenientAsync never completes with an error: failures yield nil.
func (s *Service) ResolveLenientAsync(ref string) *pool.Future[*Info] {
	return pool.Go(s.pool, 0, func(ctx context.Context) (*Info, error) {
		info, err := s.extract(ctx, ref)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("Dropped %s: %v", ref, err))
			return nil, nil
		}
		return info, nil
	})
}

// Download fetches the media for info. It runs on the caller's goroutine and
// is meant to be called from a pool job.
func (s *Service) Download(ctx context.Context, info *Info) (string, error) {
	return s.extractor.Download(ctx, info)
}

// Search returns up to n flat results for query.
func (s *Service) Search(ctx context.Context, query string, n int) ([]Info, error) {
	if n <= 0 {
		n = 5
	}
	return pool.Go(s.pool, 0, func(ctx context.Context) ([]Info, error) {
		info, err := s.extractor.Extract(ctx, fmt.Sprintf("ytsearch%d:%s", n, query))
		if err != nil {
			return nil, &ExtractionError{Ref: query, Err: err}
		}
		return info.Entries, nil
	}).Await(ctx)
}

func (s *Service) extract(ctx context.Context, ref string) (*Info, error) {
	target := ref
	if !IsURL(ref) {
		target = "ytsearch1:" + ref
	}

	info, err := s.extractor.Extract(ctx, target)
	if err != nil {
		return nil, err
	}

	if info.Kind == KindSearch {
		if len(info.Entries) == 0 {
			return nil, ErrNoResults
		}
		hit := info.Entries[0].URL()
		s.logger.Debug(fmt.Sprintf("Search %q resolved to %s", ref, hit))
		info, err = s.extractor.Extract(ctx, hit)
		if err != nil {
			return nil, err
		}
	}
	info.Ref = ref

	if info.Kind == KindSingle && strings.EqualFold(info.Extractor, "generic") {
		if err := s.checkContentType(ctx, info.URL()); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// checkContentType rejects direct links that point at documents or images.
func (s *Service) checkContentType(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Content type probe failed for %s: %v", target, err))
		return nil
	}
	resp.Body.Close()

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if err := ValidateContentType(ct); err != nil {
		return err
	}
	if !strings.HasPrefix(ct, "audio/") && !strings.HasPrefix(ct, "video/") {
		s.logger.Warn(fmt.Sprintf("Questionable content type %q for %s", ct, target))
	}
	return nil
}

// ValidateContentType rejects application/* and image/* types other than ogg.
func ValidateContentType(ct string) error {
	if strings.HasPrefix(ct, "application/") || strings.HasPrefix(ct, "image/") {
		if !strings.HasSuffix(strings.SplitN(ct, ";", 2)[0], "/ogg") {
			return fmt.Errorf("%w: %s", ErrUnsupportedContent, ct)
		}
	}
	return nil
}

// IsURL reports whether ref is an absolute http(s) URL.
func IsURL(ref string) bool {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
