package archive

import (
	"context"
	"errors"
	"time"
)

// Prober reports the playback duration of a local audio file.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

var errNoProber = errors.New("no duration prober configured")

type noProber struct{}

func (noProber) Duration(context.Context, string) (time.Duration, error) {
	return 0, errNoProber
}
