// Package probe implements the two signals the harvest loop consults
// between scroll stimuli: DOM quiescence (the only stop signal) and the
// transient loading indicator (a throttle only).
package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/scrollharvest/harvest/surface"
)

// DefaultSilenceWindow applies when Attach is given a non-positive window.
const DefaultSilenceWindow = 4 * time.Second

// ActivityProbe reports whether the watched region of the surface has been
// free of mutations for a full silence window. Exactly one observation
// session is active at a time; Attach replaces it.
type ActivityProbe struct {
	surface surface.Surface
	logger  *slog.Logger

	mu   sync.Mutex
	sess *session
}

// NewActivityProbe creates a probe bound to s.
func NewActivityProbe(s surface.Surface, logger *slog.Logger) *ActivityProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityProbe{surface: s, logger: logger}
}

// session is one observation: a restartable timer plus the latched quiet
// flag. gen increments on every mutation so a timer armed before the latest
// mutation cannot latch quiet.
type session struct {
	mu        sync.Mutex
	window    time.Duration
	timer     *time.Timer
	gen       uint64
	mutations uint64
	quiet     bool
	closed    bool
	stop      func()
}

// Attach starts a new observation session on the element matched by
// anchor, falling back to the document root. The silence timer is armed
// immediately, so a static or missing anchor still turns quiet after
// window. A failing observer install is logged and leaves only that
// fallback timer running.
func (p *ActivityProbe) Attach(ctx context.Context, anchor string, window time.Duration) error {
	if window <= 0 {
		window = DefaultSilenceWindow
	}

	p.mu.Lock()
	prev := p.sess
	s := &session{window: window}
	p.sess = s
	p.mu.Unlock()

	if prev != nil {
		prev.close()
	}

	s.mu.Lock()
	s.arm()
	s.mu.Unlock()

	stop, rooted, err := p.surface.Observe(ctx, anchor, s.touch)
	if err != nil {
		p.logger.Warn("probe: observer install failed, relying on fallback timer",
			"anchor", anchor, "error", err)
		return nil
	}
	if rooted {
		p.logger.Debug("probe: anchor not found, observing document root", "anchor", anchor)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stop()
		return nil
	}
	s.stop = stop
	s.mu.Unlock()

	p.logger.Debug("probe: activity session attached", "anchor", anchor, "window", window)
	return nil
}

// IsQuiet reports the latched quiet flag of the current session. It never
// blocks on the surface.
func (p *ActivityProbe) IsQuiet() bool {
	p.mu.Lock()
	s := p.sess
	p.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiet
}

// Mutations returns how many mutation batches the current session saw.
func (p *ActivityProbe) Mutations() uint64 {
	p.mu.Lock()
	s := p.sess
	p.mu.Unlock()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// Close ends the current session and disconnects its observer.
func (p *ActivityProbe) Close() {
	p.mu.Lock()
	s := p.sess
	p.sess = nil
	p.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// arm (re)starts the silence timer. Caller holds s.mu.
func (s *session) arm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.window, func() { s.fire(gen) })
}

func (s *session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quiet || s.closed {
		return
	}
	s.mutations++
	s.gen++
	s.arm()
}

func (s *session) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	// Latched until the session is replaced. The observer is disconnected
	// by close, from the caller's goroutine, so the surface only ever sees
	// serialised calls.
	s.quiet = true
	s.mu.Unlock()
}

func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}
