// Package surface defines the remote document a harvest runs against.
//
// A Surface is a single shared mutable resource: the harvester is its only
// writer (scroll stimuli) and its only reader (polling, extraction). Callers
// serialise every operation; implementations need not be safe for
// concurrent use except for the mutation callback passed to Observe, which
// may fire from another goroutine.
package surface

import (
	"context"
	"encoding/json"
)

// Surface is the scriptable, live document being harvested.
type Surface interface {
	// Eval runs a JS function expression against the current document with
	// serialisable arguments and returns its JSON-encoded result.
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)

	// Has reports whether an element matches selector right now. It never waits.
	Has(ctx context.Context, selector string) (bool, error)

	// HasWithin reports whether container exists and, if so, whether an
	// element matching selector exists inside it. It never waits.
	HasWithin(ctx context.Context, container, selector string) (containerFound, found bool, err error)

	// Focus focuses the first element matching selector. A missing element
	// is not an error.
	Focus(ctx context.Context, selector string) error

	// HTML returns the serialised current document.
	HTML(ctx context.Context) (string, error)

	// URL returns the address of the current document. Relative links in
	// the HTML resolve against it.
	URL(ctx context.Context) (string, error)

	// Observe installs a mutation observer on the first element matching
	// selector, or on the document's topmost element when nothing matches,
	// watching child list, attribute and character data changes across the
	// subtree. onMutation is called once per delivered batch of mutations.
	// rooted reports whether the fallback target was used. stop disconnects
	// the observer and is safe to call more than once.
	Observe(ctx context.Context, selector string, onMutation func()) (stop func(), rooted bool, err error)
}
