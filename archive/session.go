package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

var (
	ErrSessionExpired = errors.New("archive session expired")
	ErrLoginFailed    = errors.New("archive login failed")
)

// session is the process-wide authenticated cookie session.
type session struct {
	mu       sync.Mutex
	client   *http.Client
	loggedIn bool
}

func (s *session) valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *session) invalidate() {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
}

// ensureSession logs in unless a session is already cached.
func (f *Fetcher) ensureSession(ctx context.Context) error {
	f.sess.mu.Lock()
	defer f.sess.mu.Unlock()
	if f.sess.loggedIn {
		return nil
	}
	if err := f.login(ctx); err != nil {
		return err
	}
	f.sess.loggedIn = true
	return nil
}

// LoggedIn reports whether a session is cached.
func (f *Fetcher) LoggedIn() bool { return f.sess.valid() }

// Relogin drops the cached session and logs in again.
func (f *Fetcher) Relogin(ctx context.Context) error {
	f.sess.invalidate()
	return f.ensureSession(ctx)
}

// login fetches the forum page for the XSRF cookie and posts the
// credentials with it. Caller holds sess.mu.
func (f *Fetcher) login(ctx context.Context) error {
	if f.cfg.Username == "" || f.cfg.Password == "" {
		return fmt.Errorf("%w: no credentials configured", ErrLoginFailed)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/community/forums", nil)
	if err != nil {
		return err
	}
	resp, err := f.sess.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token := ""
	base, _ := url.Parse(f.cfg.BaseURL)
	for _, c := range f.sess.client.Jar.Cookies(base) {
		if c.Name == "XSRF-TOKEN" {
			token = c.Value
		}
	}
	if token == "" {
		return fmt.Errorf("%w: no XSRF-TOKEN cookie", ErrLoginFailed)
	}

	form := url.Values{
		"username": {f.cfg.Username},
		"password": {f.cfg.Password},
		"_token":   {token},
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.BaseURL+"/session", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", f.cfg.BaseURL+"/")
	resp, err = f.sess.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}
	f.logger.Info("Logged in to the beatmap site")
	return nil
}
