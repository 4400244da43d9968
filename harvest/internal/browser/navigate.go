package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// OpenList waits for the link matched by linkSelector, clicks it and
// pauses for settle so the list dialog can render its first rows.
func (p *Page) OpenList(ctx context.Context, linkSelector string, timeout, settle time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := p.page.Context(waitCtx).Element(linkSelector)
	if err != nil {
		return fmt.Errorf("browser: list link %q: %w", linkSelector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %q: %w", linkSelector, err)
	}
	p.logger.Info("browser: list opened", "link", linkSelector)

	t := time.NewTimer(settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
