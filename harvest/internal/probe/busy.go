package probe

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/scrollharvest/harvest/surface"
)

// BusyState is the tri-state answer of a loading-indicator poll.
type BusyState int

const (
	BusyUnknown BusyState = iota // row container missing or query failed
	BusyAbsent
	BusyPresent
)

func (s BusyState) String() string {
	switch s {
	case BusyPresent:
		return "present"
	case BusyAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// DefaultPollBackoff is the delay between busy polls.
const DefaultPollBackoff = 100 * time.Millisecond

// BusyConfig configures a BusyProbe.
type BusyConfig struct {
	Surface surface.Surface

	// RowContainer is the list container the marker is searched within.
	RowContainer string

	// Marker identifies the transient loading element.
	Marker string

	// Backoff is the WaitBackoff delay. Default: 100ms.
	Backoff time.Duration

	Logger *slog.Logger
}

// BusyProbe polls the row container for a loading marker. It never waits
// for the marker to appear; the caller decides how to throttle.
type BusyProbe struct {
	surface surface.Surface
	row     string
	marker  string
	backoff time.Duration
	logger  *slog.Logger
}

// NewBusyProbe creates a BusyProbe.
func NewBusyProbe(cfg BusyConfig) *BusyProbe {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultPollBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BusyProbe{
		surface: cfg.Surface,
		row:     cfg.RowContainer,
		marker:  cfg.Marker,
		backoff: cfg.Backoff,
		logger:  cfg.Logger,
	}
}

// PollOnce queries the current document once. BusyUnknown means "can't
// tell" and must never be read as "not busy".
func (b *BusyProbe) PollOnce(ctx context.Context) BusyState {
	containerFound, found, err := b.surface.HasWithin(ctx, b.row, b.marker)
	if err != nil {
		b.logger.Debug("probe: busy poll failed", "error", err)
		return BusyUnknown
	}
	if !containerFound {
		return BusyUnknown
	}
	if found {
		b.logger.Debug("probe: loading marker visible")
		return BusyPresent
	}
	return BusyAbsent
}

// WaitBackoff sleeps for the configured backoff or until ctx is done.
func (b *BusyProbe) WaitBackoff(ctx context.Context) error {
	t := time.NewTimer(b.backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the configured delay.
func (b *BusyProbe) Backoff() time.Duration { return b.backoff }
