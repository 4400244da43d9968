// Package scroll issues synthetic scroll stimuli against a list container.
package scroll

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/scrollharvest/harvest/surface"
)

// stimulusJS fires a discrete wheel event and a smooth programmatic scroll
// in the same turn, since a lazy-load trigger may listen to either. It
// returns false when the container is missing.
const stimulusJS = `(sel, dy) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.dispatchEvent(new WheelEvent('wheel', {deltaY: dy, bubbles: true, cancelable: true, view: window}));
	el.scrollBy({top: dy, behavior: 'smooth'});
	return true;
}`

// Driver dispatches scroll stimuli.
type Driver struct {
	surface surface.Surface
	logger  *slog.Logger
}

// New creates a Driver bound to s.
func New(s surface.Surface, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{surface: s, logger: logger}
}

// Scroll scrolls container by magnitude (negative scrolls up). A missing
// container or a failed evaluation is logged and otherwise ignored.
func (d *Driver) Scroll(ctx context.Context, container string, magnitude int) {
	res, err := d.surface.Eval(ctx, stimulusJS, container, magnitude)
	if err != nil {
		d.logger.Warn("scroll: stimulus failed", "container", container, "error", err)
		return
	}
	if string(res) == "false" {
		d.logger.Debug("scroll: container not found", "container", container)
		return
	}
	d.logger.Debug("scroll: stimulus sent", "container", container, "delta", magnitude)
}
