package persist

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/scrollharvest/harvest/record"
)

// Router fans out writes to all configured persisters. One failing sink
// does not block the others; errors are logged and the first one is
// returned. A Router with no sinks is a no-op.
type Router struct {
	sinks  []Persister
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Persister) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) WriteAll(ctx context.Context, records []record.Record) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.WriteAll(ctx, records); err != nil {
			r.logger.Warn("persist: write all failed", "records", len(records), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) WriteDelta(ctx context.Context, records []record.Record) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.WriteDelta(ctx, records); err != nil {
			r.logger.Warn("persist: write delta failed", "records", len(records), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
