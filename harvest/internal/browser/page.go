package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/hazyhaar/scrollharvest/harvest/surface"
)

var _ surface.Surface = (*Page)(nil)

// bindingName is the Runtime binding mutation observers report through.
const bindingName = "__scrollharvest_activity"

// observeJS installs a MutationObserver on the anchor, or on the document
// element when the anchor is missing. Every batch calls the binding with
// the session token. Observers are kept by token so they can be
// disconnected later.
const observeJS = `(sel, token, binding) => {
	let target = sel ? document.querySelector(sel) : null;
	const rooted = !target;
	if (!target) target = document.documentElement;
	const obs = new MutationObserver(() => window[binding](token));
	obs.observe(target, {childList: true, subtree: true, attributes: true, characterData: true});
	(window.__scrollharvestObservers = window.__scrollharvestObservers || {})[token] = obs;
	return rooted;
}`

const disconnectJS = `(token) => {
	const reg = window.__scrollharvestObservers;
	if (reg && reg[token]) {
		reg[token].disconnect();
		delete reg[token];
	}
}`

const hasWithinJS = `(container, sel) => {
	const el = document.querySelector(container);
	if (!el) return [false, false];
	return [true, el.querySelector(sel) !== null];
}`

// Page adapts a rod page to surface.Surface.
type Page struct {
	page    *rod.Page
	hijack  *rod.HijackRouter
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	bindErr error
	bind    sync.Once

	mu       sync.Mutex
	handlers map[string]func()
}

// NewPage wraps an already open rod page.
func NewPage(page *rod.Page, logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Page{
		page:     page,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]func()),
	}
}

// OpenPage creates a stealth tab, applies resource blocking and navigates
// to pageURL.
func OpenPage(ctx context.Context, mgr *Manager, pageURL string) (*Page, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	rp, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	p := NewPage(rp, mgr.cfg.Logger)
	if len(mgr.cfg.ResourceBlocking) > 0 {
		p.hijack = applyResourceBlocking(rp, mgr.cfg.ResourceBlocking)
	}

	if err := p.Navigate(ctx, pageURL, mgr.cfg.NavigateTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Navigate loads pageURL and waits for the load event. A load timeout is
// logged, not returned: infinite-scroll pages often never settle.
func (p *Page) Navigate(ctx context.Context, pageURL string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.page.Context(navCtx).WaitLoad(); err != nil {
		p.logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

func (p *Page) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("browser: eval: %w", err)
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("browser: eval result: %w", err)
	}
	return raw, nil
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return false, fmt.Errorf("browser: has %q: %w", selector, err)
	}
	return has, nil
}

// HasWithin answers both lookups in one evaluation so they see the same
// document.
func (p *Page) HasWithin(ctx context.Context, container, selector string) (bool, bool, error) {
	raw, err := p.Eval(ctx, hasWithinJS, container, selector)
	if err != nil {
		return false, false, err
	}
	var pair [2]bool
	if err := json.Unmarshal(raw, &pair); err != nil {
		return false, false, fmt.Errorf("browser: has within: %w", err)
	}
	return pair[0], pair[1], nil
}

func (p *Page) Focus(ctx context.Context, selector string) error {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return fmt.Errorf("browser: focus %q: %w", selector, err)
	}
	if !has {
		return nil
	}
	return el.Focus()
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html: %w", err)
	}
	return html, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// Observe installs a MutationObserver reporting through the page binding.
// The binding listener is started once per page and dispatches by token.
func (p *Page) Observe(ctx context.Context, selector string, onMutation func()) (func(), bool, error) {
	if err := p.ensureBinding(); err != nil {
		return nil, false, err
	}

	token := uuid.NewString()
	p.mu.Lock()
	p.handlers[token] = onMutation
	p.mu.Unlock()

	raw, err := p.Eval(ctx, observeJS, selector, token, bindingName)
	if err != nil {
		p.dropHandler(token)
		return nil, false, fmt.Errorf("browser: install observer: %w", err)
	}
	var rooted bool
	if err := json.Unmarshal(raw, &rooted); err != nil {
		p.logger.Debug("browser: observer install result", "raw", string(raw), "error", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.dropHandler(token)
			stopCtx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
			defer cancel()
			if _, err := p.page.Context(stopCtx).Eval(disconnectJS, token); err != nil {
				p.logger.Debug("browser: disconnect observer", "error", err)
			}
		})
	}
	return stop, rooted, nil
}

func (p *Page) ensureBinding() error {
	p.bind.Do(func() {
		if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p.page); err != nil {
			p.bindErr = fmt.Errorf("browser: add binding: %w", err)
			return
		}
		go p.page.Context(p.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			p.mu.Lock()
			h := p.handlers[e.Payload]
			p.mu.Unlock()
			if h != nil {
				h()
			}
		})()
	})
	return p.bindErr
}

func (p *Page) dropHandler(token string) {
	p.mu.Lock()
	delete(p.handlers, token)
	p.mu.Unlock()
}

// Close stops the binding listener and closes the tab.
func (p *Page) Close() error {
	p.cancel()
	if p.hijack != nil {
		p.hijack.Stop()
	}
	return p.page.Close()
}
