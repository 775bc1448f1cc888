package proc

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/disgoorg/disgo/voice"
)

// OpusSilence is sent while paused so the client keeps the stream open.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

// Sink plays local media files.
type Sink interface {
	// Stream plays path and blocks until it ends or ctx is done. tick is
	// called with the playback position as audio is delivered.
	Stream(ctx context.Context, path string, tick func(time.Duration)) error
	SetPaused(paused bool)
}

// VoiceSink streams into a disgo voice connection.
type VoiceSink struct {
	mu       sync.Mutex
	conn     voice.Conn
	provider voice.OpusFrameProvider
	paused   bool
}

func NewVoiceSink(conn voice.Conn) *VoiceSink {
	return &VoiceSink{conn: conn}
}

// Rebind moves the sink to conn, carrying the running stream over.
func (s *VoiceSink) Rebind(conn voice.Conn) {
	s.mu.Lock()
	s.conn = conn
	p := s.provider
	s.mu.Unlock()
	if p != nil {
		s.setProvider(p)
		s.setSpeaking(context.Background(), voice.SpeakingFlagMicrophone)
	}
}

func (s *VoiceSink) Conn() voice.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *VoiceSink) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *VoiceSink) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *VoiceSink) Stream(ctx context.Context, path string, tick func(time.Duration)) error {
	t := newTranscoder()
	defer t.Close()
	if err := t.open(path); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &frameProvider{frames: make(chan []byte, 100), ctx: ctx, sink: s, done: make(chan struct{})}
	errc := make(chan error, 1)
	go func() {
		errc <- t.run(ctx, p.push)
	}()

	s.setProvider(p)
	s.setSpeaking(ctx, voice.SpeakingFlagMicrophone)
	defer func() {
		s.setProvider(nil)
		s.setSpeaking(context.Background(), 0)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			tick(t.Position())
			return <-errc
		case <-ctx.Done():
			<-errc
			return ctx.Err()
		case <-ticker.C:
			tick(p.played())
		}
	}
}

// setProvider swallows panics from a connection that is closing underneath us.
func (s *VoiceSink) setProvider(p voice.OpusFrameProvider) {
	s.mu.Lock()
	s.provider = p
	conn := s.conn
	s.mu.Unlock()

	defer func() { _ = recover() }()
	conn.SetOpusFrameProvider(p)
}

func (s *VoiceSink) setSpeaking(ctx context.Context, flags voice.SpeakingFlags) {
	conn := s.Conn()
	defer func() { _ = recover() }()
	conn.SetSpeaking(ctx, flags)
}

// frameProvider hands encoded frames to the voice gateway, one per 20ms.
type frameProvider struct {
	frames chan []byte
	ctx    context.Context
	sink   *VoiceSink

	mu       sync.Mutex
	sent     int64
	doneOnce sync.Once
	done     chan struct{}
}

func (p *frameProvider) push(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *frameProvider) played() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.sent) * 20 * time.Millisecond
}

func (p *frameProvider) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *frameProvider) ProvideOpusFrame() ([]byte, error) {
	if p.sink.isPaused() {
		select {
		case <-p.ctx.Done():
			p.finish()
			return nil, io.EOF
		default:
			return OpusSilence, nil
		}
	}
	select {
	case f := <-p.frames:
		if f == nil {
			p.finish()
			return nil, io.EOF
		}
		p.mu.Lock()
		p.sent++
		p.mu.Unlock()
		return f, nil
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	case <-time.After(100 * time.Millisecond):
		return nil, nil
	}
}

func (p *frameProvider) Close() {
	p.finish()
}
