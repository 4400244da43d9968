// Package harvest collects every row of a virtualised, infinitely
// scrolling list. The controller scrolls the list, throttles while a
// loading indicator is visible, folds each document snapshot into a
// deduplicated set and persists it, until the list region stops mutating
// for a full silence window or an iteration ceiling is reached.
//
// The page is reached through a surface.Surface; the rod adapter lives in
// internal/browser, and tests use a scripted fake.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/scrollharvest/harvest/internal/extract"
	"github.com/hazyhaar/scrollharvest/harvest/internal/idgen"
	"github.com/hazyhaar/scrollharvest/harvest/internal/persist"
	"github.com/hazyhaar/scrollharvest/harvest/internal/probe"
	"github.com/hazyhaar/scrollharvest/harvest/internal/scroll"
	"github.com/hazyhaar/scrollharvest/harvest/record"
	"github.com/hazyhaar/scrollharvest/harvest/surface"
)

var (
	// ErrNoSurface is returned by New when no surface is given.
	ErrNoSurface = errors.New("harvest: no surface")
	// ErrInvalidConfig wraps selector and configuration defects.
	ErrInvalidConfig = errors.New("harvest: invalid config")
)

// Phase is a state of the controller loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScrolling
	PhaseBusyWait
	PhaseExtracting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScrolling:
		return "scrolling"
	case PhaseBusyWait:
		return "busy_wait"
	case PhaseExtracting:
		return "extracting"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the harvest state of one run. Only the controller mutates it.
type State struct {
	Iteration int             // scroll iterations performed
	Quiesced  bool            // the silence window elapsed
	Records   []record.Record // accumulated set, first-seen order
	LastDelta []record.Record // records new in the last extraction
}

// IterationStats describes one extraction cycle.
type IterationStats struct {
	Iteration int
	BusyPolls int
	Extracted int
	New       int
	Total     int
	Persisted bool
	Final     bool
}

// Result is returned by Run.
type Result struct {
	State

	RunID           string
	CeilingHit      bool
	BusyPolls       int
	PersistFailures int
	ExtractFailures int
	Stats           []IterationStats
	Elapsed         time.Duration
}

type activityProbe interface {
	Attach(ctx context.Context, anchor string, window time.Duration) error
	IsQuiet() bool
	Close()
}

type busyProbe interface {
	PollOnce(ctx context.Context) probe.BusyState
	WaitBackoff(ctx context.Context) error
}

type scroller interface {
	Scroll(ctx context.Context, container string, magnitude int)
}

type extractor interface {
	Extract(ctx context.Context) ([]record.Record, error)
}

// Controller runs the scroll-poll-extract loop against one surface. A
// Controller is not safe for concurrent Runs: the surface accepts one
// operation at a time.
type Controller struct {
	cfg     Config
	surface surface.Surface
	sinks   *persist.Router
	logger  *slog.Logger

	activity activityProbe
	busy     busyProbe
	scroll   scroller
	extract  extractor
}

// New validates cfg and wires the probes, driver and extractor to s.
// Records are written to every sink; with no sinks persistence is off.
func New(s surface.Surface, cfg Config, sinks ...Sink) (*Controller, error) {
	if s == nil {
		return nil, ErrNoSurface
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ex, err := extract.New(s, cfg.Selectors.extract(), cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Controller{
		cfg:      cfg,
		surface:  s,
		sinks:    persist.NewRouter(cfg.Logger, sinks...),
		logger:   cfg.Logger,
		activity: probe.NewActivityProbe(s, cfg.Logger),
		busy: probe.NewBusyProbe(probe.BusyConfig{
			Surface:      s,
			RowContainer: cfg.Selectors.RowContainer,
			Marker:       cfg.Selectors.BusyMarker,
			Backoff:      cfg.PollBackoff,
			Logger:       cfg.Logger,
		}),
		scroll:  scroll.New(s, cfg.Logger),
		extract: ex,
	}, nil
}

// run is the per-Run mutable state. written is set once the sinks hold
// this run's records and nothing from an earlier run.
type run struct {
	res     *Result
	acc     *record.Accumulator
	written bool
	phase   Phase
}

// Run harvests until the list is quiet or MaxScrollIterations is reached,
// then performs one final extraction and persistence pass. Environment
// failures (missing elements, failed extractions, failed writes) are
// logged and never abort the run. If ctx is cancelled, the records
// accumulated so far are persisted and returned together with ctx.Err().
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	r := &run{
		res: &Result{RunID: idgen.New()},
		acc: record.NewAccumulator(),
	}
	log := c.logger.With("run_id", r.res.RunID)
	log.Info("harvest: run started",
		"cadence", c.cfg.Cadence, "persist", c.cfg.Persist,
		"silence_window", c.cfg.SilenceWindow, "max_iterations", c.cfg.MaxScrollIterations)

	// Idle.
	c.setPhase(r, log, PhaseIdle)
	if err := c.activity.Attach(ctx, c.cfg.Selectors.ActivityAnchor, c.cfg.SilenceWindow); err != nil {
		log.Warn("harvest: attach activity probe failed", "error", err)
	}
	defer c.activity.Close()
	if err := c.surface.Focus(ctx, c.cfg.Selectors.ActivityAnchor); err != nil {
		log.Debug("harvest: focus anchor failed", "error", err)
	}
	if c.cfg.Persist == PersistDelta {
		c.reset(ctx, r, log)
	}

	for {
		if err := ctx.Err(); err != nil {
			return c.abort(ctx, r, log, start)
		}
		if r.res.Iteration >= c.cfg.MaxScrollIterations {
			r.res.CeilingHit = true
			log.Warn("harvest: iteration ceiling reached", "iterations", r.res.Iteration)
			break
		}
		r.res.Iteration++

		c.setPhase(r, log, PhaseScrolling)
		c.scroll.Scroll(ctx, c.cfg.Selectors.ScrollContainer, c.cfg.ScrollMagnitude)

		c.setPhase(r, log, PhaseBusyWait)
		polls := c.busyWait(ctx)
		r.res.BusyPolls += polls

		if c.cfg.Cadence == PerIteration {
			c.setPhase(r, log, PhaseExtracting)
			c.collect(ctx, r, log, r.res.Iteration, polls, false)
		}

		if c.activity.IsQuiet() {
			r.res.Quiesced = true
			log.Info("harvest: list quiet", "iteration", r.res.Iteration)
			break
		}

		// Pace the next stimulus. A cancelled wait is caught at the loop top.
		_ = c.busy.WaitBackoff(ctx)
	}

	c.setPhase(r, log, PhaseDone)
	c.collect(ctx, r, log, r.res.Iteration, 0, true)
	return c.finish(r, log, start), nil
}

// busyWait polls the loading indicator at most BusyWaitCap times. It
// returns as soon as the indicator is not present, the list turns quiet,
// or ctx is done. It never decides termination.
func (c *Controller) busyWait(ctx context.Context) int {
	polls := 0
	for polls < c.cfg.BusyWaitCap {
		state := c.busy.PollOnce(ctx)
		polls++
		if state != probe.BusyPresent || c.activity.IsQuiet() {
			return polls
		}
		if err := c.busy.WaitBackoff(ctx); err != nil {
			return polls
		}
	}
	return polls
}

// collect extracts one snapshot, folds it and persists according to the
// configured mode.
func (c *Controller) collect(ctx context.Context, r *run, log *slog.Logger, iter, polls int, final bool) {
	st := IterationStats{Iteration: iter, BusyPolls: polls, Final: final}

	recs, err := c.extract.Extract(ctx)
	if err != nil {
		r.res.ExtractFailures++
		log.Warn("harvest: extraction failed", "iteration", iter, "error", err)
	}
	delta := r.acc.OfferAll(recs)
	r.res.LastDelta = delta

	st.Extracted = len(recs)
	st.New = len(delta)
	st.Total = r.acc.Len()
	st.Persisted = c.persist(ctx, r, log, delta, final)
	r.res.Stats = append(r.res.Stats, st)

	log.Debug("harvest: cycle",
		"iteration", iter, "extracted", st.Extracted, "new", st.New,
		"total", st.Total, "persisted", st.Persisted, "final", final)
}

// persist writes after a cycle and reports whether a write was attempted
// and succeeded. In full mode the set is rewritten whenever it grew, and
// always on the final pass; in delta mode only non-empty deltas are sent.
func (c *Controller) persist(ctx context.Context, r *run, log *slog.Logger, delta []record.Record, final bool) bool {
	if c.sinks.Len() == 0 {
		return false
	}

	var err error
	switch c.cfg.Persist {
	case PersistDelta:
		switch {
		case !r.written:
			// The reset failed; replace whatever the sinks still hold.
			err = c.sinks.WriteAll(ctx, r.acc.Snapshot())
		case len(delta) == 0:
			return false
		default:
			err = c.sinks.WriteDelta(ctx, delta)
		}
	default:
		if len(delta) == 0 && r.written && !final {
			return false
		}
		err = c.sinks.WriteAll(ctx, r.acc.Snapshot())
	}
	if err != nil {
		r.res.PersistFailures++
		log.Warn("harvest: persist failed, continuing", "mode", c.cfg.Persist, "error", err)
		return false
	}
	r.written = true
	return true
}

// reset empties the sinks before a delta run so appends start from this
// run's records only. A failure is retried by the next persist.
func (c *Controller) reset(ctx context.Context, r *run, log *slog.Logger) {
	if c.sinks.Len() == 0 {
		return
	}
	if err := c.sinks.WriteAll(ctx, nil); err != nil {
		r.res.PersistFailures++
		log.Warn("harvest: reset sinks failed", "error", err)
		return
	}
	r.written = true
}

// abort ends a cancelled run. Nothing more is read from the surface; the
// accumulated set is written once more on a context detached from ctx so
// the sinks hold everything collected so far.
func (c *Controller) abort(ctx context.Context, r *run, log *slog.Logger, start time.Time) (*Result, error) {
	c.setPhase(r, log, PhaseDone)
	if c.sinks.Len() > 0 && c.cfg.Persist == PersistFull && r.acc.Len() > 0 {
		if err := c.sinks.WriteAll(context.WithoutCancel(ctx), r.acc.Snapshot()); err != nil {
			r.res.PersistFailures++
			log.Warn("harvest: persist on cancel failed", "error", err)
		}
	}
	log.Warn("harvest: run cancelled", "iterations", r.res.Iteration, "error", ctx.Err())
	return c.finish(r, log, start), ctx.Err()
}

func (c *Controller) finish(r *run, log *slog.Logger, start time.Time) *Result {
	r.res.Records = r.acc.Snapshot()
	r.res.Elapsed = time.Since(start)
	log.Info("harvest: run finished",
		"records", len(r.res.Records), "iterations", r.res.Iteration,
		"quiesced", r.res.Quiesced, "ceiling_hit", r.res.CeilingHit,
		"persist_failures", r.res.PersistFailures, "elapsed", r.res.Elapsed)
	return r.res
}

func (c *Controller) setPhase(r *run, log *slog.Logger, p Phase) {
	if r.phase == p {
		return
	}
	r.phase = p
	log.Debug("harvest: phase", "phase", p, "iteration", r.res.Iteration)
}

// NewRunID returns a time-sortable run identifier with prefix prepended.
func NewRunID(prefix string) string {
	return idgen.Prefixed(prefix, idgen.Default)()
}

// Close releases the sinks.
func (c *Controller) Close() error {
	return c.sinks.Close()
}
