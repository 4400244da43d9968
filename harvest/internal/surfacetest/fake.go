// Package surfacetest provides a scripted in-memory Surface for tests.
package surfacetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hazyhaar/scrollharvest/harvest/surface"
)

var _ surface.Surface = (*Fake)(nil)

// EvalCall records one Eval invocation.
type EvalCall struct {
	JS   string
	Args []any
}

// Fake is a Surface whose answers are scripted by the test. Every Eval call
// is counted as one scroll stimulus, since only the scroll driver evaluates
// scripts; Documents is indexed by that count.
type Fake struct {
	mu sync.Mutex

	// Documents[i] is the HTML served after i scrolls. The last entry is
	// repeated once the list is exhausted.
	Documents []string
	HTMLErr   error

	// DocumentURL answers URL.
	DocumentURL string

	// Elements answers Has.
	Elements map[string]bool

	// Within answers HasWithin. When nil, the container is reported missing.
	Within func(container, selector string) (containerFound, found bool, err error)

	EvalResult json.RawMessage
	EvalErr    error

	FocusErr error

	AnchorMissing bool
	ObserveErr    error

	evals     []EvalCall
	focused   []string
	observers []func()
	stopped   int
	htmlReads int
}

func (f *Fake) Eval(_ context.Context, js string, args ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, EvalCall{JS: js, Args: args})
	if f.EvalErr != nil {
		return nil, f.EvalErr
	}
	if f.EvalResult != nil {
		return f.EvalResult, nil
	}
	return json.RawMessage("true"), nil
}

func (f *Fake) Has(_ context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Elements[selector], nil
}

func (f *Fake) HasWithin(_ context.Context, container, selector string) (bool, bool, error) {
	f.mu.Lock()
	within := f.Within
	f.mu.Unlock()
	if within == nil {
		return false, false, nil
	}
	return within(container, selector)
}

func (f *Fake) Focus(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = append(f.focused, selector)
	return f.FocusErr
}

func (f *Fake) HTML(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.htmlReads++
	if f.HTMLErr != nil {
		return "", f.HTMLErr
	}
	if len(f.Documents) == 0 {
		return "<html><body></body></html>", nil
	}
	i := len(f.evals)
	if i >= len(f.Documents) {
		i = len(f.Documents) - 1
	}
	return f.Documents[i], nil
}

func (f *Fake) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DocumentURL, nil
}

func (f *Fake) Observe(_ context.Context, _ string, onMutation func()) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ObserveErr != nil {
		return nil, false, f.ObserveErr
	}
	f.observers = append(f.observers, onMutation)
	idx := len(f.observers) - 1
	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.mu.Lock()
			f.observers[idx] = nil
			f.stopped++
			f.mu.Unlock()
		})
	}
	return stop, f.AnchorMissing, nil
}

// Mutate delivers one mutation batch to every live observer.
func (f *Fake) Mutate() {
	f.mu.Lock()
	obs := make([]func(), 0, len(f.observers))
	for _, o := range f.observers {
		if o != nil {
			obs = append(obs, o)
		}
	}
	f.mu.Unlock()
	for _, o := range obs {
		o()
	}
}

// Scrolls returns the number of Eval calls seen so far.
func (f *Fake) Scrolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evals)
}

// Evals returns a copy of every recorded Eval call.
func (f *Fake) Evals() []EvalCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EvalCall(nil), f.evals...)
}

// Focused returns the selectors passed to Focus.
func (f *Fake) Focused() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.focused...)
}

// Stopped returns how many observers were disconnected.
func (f *Fake) Stopped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// HTMLReads returns how many times the document was serialised.
func (f *Fake) HTMLReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.htmlReads
}
