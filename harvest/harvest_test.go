package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/scrollharvest/harvest/internal/persist"
	"github.com/hazyhaar/scrollharvest/harvest/internal/probe"
	"github.com/hazyhaar/scrollharvest/harvest/internal/surfacetest"
	"github.com/hazyhaar/scrollharvest/harvest/record"
)

var testSelectors = Selectors{
	ScrollContainer: ".scroller",
	RowContainer:    ".rows",
	BusyMarker:      ".spinner",
	ActivityAnchor:  "#search",
	Item:            "div.row",
	Link:            "a.link",
	Name:            "span.name",
	Verified:        "[aria-label='Verified']",
	BoundaryTag:     "h4",
	BoundaryText:    "Suggested for you",
}

// doc renders a list page with one row per id.
func doc(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="scroller"><div class="rows">`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<div class="row"><a class="link" href="/%s/"><img src="https://cdn.example/%s.jpg"></a><span class="name">%s</span></div>`, id, id, strings.ToUpper(id))
	}
	b.WriteString(`</div></div><h4>Suggested for you</h4><div class="row"><a class="link" href="/stranger/"></a></div></body></html>`)
	return b.String()
}

func rec(id string) record.Record {
	return record.Record{
		ID:          id,
		DisplayName: record.String(strings.ToUpper(id)),
		MediaURI:    record.String("https://cdn.example/" + id + ".jpg"),
	}
}

// scriptedActivity reports quiet when quiet returns true.
type scriptedActivity struct {
	mu       sync.Mutex
	quiet    func() bool
	attached []string
	closed   int
}

func (a *scriptedActivity) Attach(_ context.Context, anchor string, _ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attached = append(a.attached, anchor)
	return nil
}

func (a *scriptedActivity) IsQuiet() bool {
	if a.quiet == nil {
		return false
	}
	return a.quiet()
}

func (a *scriptedActivity) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
}

// scriptedBusy answers polls from states; the last state repeats.
type scriptedBusy struct {
	states []probe.BusyState
	polls  int
	waits  int
	onPoll func(n int)
}

func (b *scriptedBusy) PollOnce(context.Context) probe.BusyState {
	b.polls++
	if b.onPoll != nil {
		b.onPoll(b.polls)
	}
	if len(b.states) == 0 {
		return probe.BusyUnknown
	}
	i := b.polls - 1
	if i >= len(b.states) {
		i = len(b.states) - 1
	}
	return b.states[i]
}

func (b *scriptedBusy) WaitBackoff(ctx context.Context) error {
	b.waits++
	return ctx.Err()
}

func newTestController(t *testing.T, s *surfacetest.Fake, cfg Config, act *scriptedActivity, busy *scriptedBusy, sinks ...Sink) *Controller {
	t.Helper()
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = testSelectors
	}
	c, err := New(s, cfg, sinks...)
	if err != nil {
		t.Fatal(err)
	}
	c.activity = act
	c.busy = busy
	return c
}

func TestRun_EndToEnd(t *testing.T) {
	// WHAT: 2 new rows on iteration 1, 1 new + 1 duplicate on iteration 2,
	// quiet after iteration 2, ceiling 3.
	// WHY: The run must stop on quiet before the third scroll, yet still do
	// a final extraction pass, and the sink must match the result.
	fake := &surfacetest.Fake{
		Documents: []string{doc(), doc("alice", "bob"), doc("bob", "carol")},
	}
	act := &scriptedActivity{quiet: func() bool { return fake.Scrolls() >= 2 }}
	path := filepath.Join(t.TempDir(), "followers.json")

	c := newTestController(t, fake, Config{MaxScrollIterations: 3}, act, &scriptedBusy{},
		NewJSONFileSink(path))
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []record.Record{rec("alice"), rec("bob"), rec("carol")}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
	if res.Iteration != 2 || !res.Quiesced || res.CeilingHit {
		t.Errorf("iteration=%d quiesced=%v ceiling=%v, want 2 true false", res.Iteration, res.Quiesced, res.CeilingHit)
	}
	if fake.Scrolls() != 2 {
		t.Errorf("scrolls: got %d, want 2", fake.Scrolls())
	}
	if fake.HTMLReads() != 3 {
		t.Errorf("extractions: got %d, want 3 (two iterations + final pass)", fake.HTMLReads())
	}
	if len(res.Stats) != 3 || !res.Stats[2].Final {
		t.Fatalf("stats: got %+v", res.Stats)
	}
	if res.Stats[0].New != 2 || res.Stats[1].New != 1 || res.Stats[2].New != 0 {
		t.Errorf("deltas: got %d,%d,%d want 2,1,0", res.Stats[0].New, res.Stats[1].New, res.Stats[2].New)
	}
	if len(act.attached) != 1 || act.attached[0] != "#search" || act.closed != 1 {
		t.Errorf("activity lifecycle: attached=%v closed=%d", act.attached, act.closed)
	}
	if got := fake.Focused(); len(got) != 1 || got[0] != "#search" {
		t.Errorf("focused: got %v", got)
	}

	saved, err := persist.ReadJSONFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res.Records, saved); diff != "" {
		t.Errorf("sink (-result +file):\n%s", diff)
	}
}

func TestRun_BusyClearingDoesNotStop(t *testing.T) {
	// WHAT: The loading marker is present for 3 polls then absent, and the
	// list never turns quiet.
	// WHY: The busy marker only throttles; its disappearance says nothing
	// about the list being complete.
	fake := &surfacetest.Fake{Documents: []string{doc("alice")}}
	busy := &scriptedBusy{states: []probe.BusyState{
		probe.BusyPresent, probe.BusyPresent, probe.BusyPresent, probe.BusyAbsent,
	}}

	c := newTestController(t, fake, Config{MaxScrollIterations: 3}, &scriptedActivity{}, busy)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fake.Scrolls() != 3 || res.Iteration != 3 {
		t.Errorf("scrolls=%d iteration=%d, want 3 3", fake.Scrolls(), res.Iteration)
	}
	if !res.CeilingHit || res.Quiesced {
		t.Errorf("ceiling=%v quiesced=%v, want true false", res.CeilingHit, res.Quiesced)
	}
	// 4 polls in iteration 1, one in each of the next two. 3 backoffs
	// while the marker shows, plus one pacing wait per iteration.
	if busy.polls != 6 || busy.waits != 6 {
		t.Errorf("polls=%d waits=%d, want 6 6", busy.polls, busy.waits)
	}
	if res.Stats[0].BusyPolls != 4 {
		t.Errorf("iteration 1 busy polls: got %d, want 4", res.Stats[0].BusyPolls)
	}
}

func TestRun_PacesEveryIteration(t *testing.T) {
	// WHAT: No loading marker, never quiet, ceiling 10.
	// WHY: Without a pause after each iteration the scroll stimuli fire
	// back to back and the ceiling is spent in seconds.
	fake := &surfacetest.Fake{}
	busy := &scriptedBusy{states: []probe.BusyState{probe.BusyAbsent}}

	c := newTestController(t, fake, Config{MaxScrollIterations: 10}, &scriptedActivity{}, busy)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Iteration != 10 || fake.Scrolls() != 10 {
		t.Errorf("iteration=%d scrolls=%d, want 10 10", res.Iteration, fake.Scrolls())
	}
	if busy.waits != 10 {
		t.Errorf("waits: got %d, want 10", busy.waits)
	}
}

func TestRun_QuietIterationIsNotPaced(t *testing.T) {
	// WHAT: The list is quiet after the first scroll.
	// WHY: Once quiet, the final pass follows without another wait.
	busy := &scriptedBusy{states: []probe.BusyState{probe.BusyAbsent}}
	act := &scriptedActivity{quiet: func() bool { return true }}

	c := newTestController(t, &surfacetest.Fake{}, Config{}, act, busy)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if busy.waits != 0 {
		t.Errorf("waits: got %d, want 0", busy.waits)
	}
}

func TestRun_TerminatesWithoutQuiet(t *testing.T) {
	// WHAT: Busy forever, never quiet.
	// WHY: Both loops are bounded: at most max*(1+cap) polling steps.
	const maxIter, busyCap = 4, 5
	fake := &surfacetest.Fake{}
	busy := &scriptedBusy{states: []probe.BusyState{probe.BusyPresent}}

	c := newTestController(t, fake, Config{MaxScrollIterations: maxIter, BusyWaitCap: busyCap}, &scriptedActivity{}, busy)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	steps := fake.Scrolls() + busy.polls
	if steps > maxIter*(1+busyCap) {
		t.Errorf("steps: got %d, bound %d", steps, maxIter*(1+busyCap))
	}
	if busy.polls != maxIter*busyCap || !res.CeilingHit {
		t.Errorf("polls=%d ceiling=%v, want %d true", busy.polls, res.CeilingHit, maxIter*busyCap)
	}
	if res.BusyPolls != busy.polls {
		t.Errorf("Result.BusyPolls: got %d, want %d", res.BusyPolls, busy.polls)
	}
}

func TestRun_QuietInsideBusyWait(t *testing.T) {
	// WHAT: The list turns quiet while the marker is still visible.
	// WHY: The two signals may disagree; quiet wins and ends the wait early.
	fake := &surfacetest.Fake{Documents: []string{doc("alice")}}
	busy := &scriptedBusy{states: []probe.BusyState{probe.BusyPresent}}
	act := &scriptedActivity{quiet: func() bool { return busy.polls >= 2 }}

	c := newTestController(t, fake, Config{MaxScrollIterations: 10}, act, busy)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if busy.polls != 2 || res.Iteration != 1 || !res.Quiesced {
		t.Errorf("polls=%d iteration=%d quiesced=%v, want 2 1 true", busy.polls, res.Iteration, res.Quiesced)
	}
}

func TestRun_MonotonicAccumulation(t *testing.T) {
	// WHAT: A virtualised list shows a sliding window of rows.
	// WHY: Rows leaving the window must never leave the accumulated set.
	fake := &surfacetest.Fake{Documents: []string{
		doc(), doc("a", "b"), doc("c", "d"), doc("d", "e"), doc(),
	}}
	act := &scriptedActivity{quiet: func() bool { return fake.Scrolls() >= 4 }}

	c := newTestController(t, fake, Config{}, act, &scriptedBusy{})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	prev := 0
	for _, st := range res.Stats {
		if st.Total < prev {
			t.Fatalf("total shrank: %+v", res.Stats)
		}
		prev = st.Total
	}
	var ids []string
	for _, r := range res.Records {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "e"}, ids); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) WriteAll(context.Context, []record.Record) error {
	f.calls++
	return errors.New("disk full")
}
func (f *failingSink) WriteDelta(context.Context, []record.Record) error {
	f.calls++
	return errors.New("disk full")
}
func (f *failingSink) Close() error { return nil }

func TestRun_PersistFailureIsNotFatal(t *testing.T) {
	fake := &surfacetest.Fake{Documents: []string{doc(), doc("alice"), doc("alice", "bob")}}
	act := &scriptedActivity{quiet: func() bool { return fake.Scrolls() >= 2 }}
	sink := &failingSink{}

	c := newTestController(t, fake, Config{}, act, &scriptedBusy{}, sink)
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 {
		t.Errorf("records: got %d, want 2", len(res.Records))
	}
	// Nothing was ever written, so every cycle retries the full set.
	if sink.calls != 3 || res.PersistFailures != 3 {
		t.Errorf("calls=%d failures=%d, want 3 3", sink.calls, res.PersistFailures)
	}
}

func TestRun_ExtractionFailureIsNotFatal(t *testing.T) {
	fake := &surfacetest.Fake{HTMLErr: errors.New("target closed")}
	act := &scriptedActivity{quiet: func() bool { return fake.Scrolls() >= 1 }}

	c := newTestController(t, fake, Config{}, act, &scriptedBusy{})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ExtractFailures != 2 || len(res.Records) != 0 {
		t.Errorf("failures=%d records=%d, want 2 0", res.ExtractFailures, len(res.Records))
	}
}

func TestRun_FullModeSkipsUnchangedCycles(t *testing.T) {
	fake := &surfacetest.Fake{Documents: []string{doc(), doc("alice"), doc("alice"), doc("alice")}}
	act := &scriptedActivity{quiet: func() bool { return fake.Scrolls() >= 3 }}

	c := newTestController(t, fake, Config{}, act, &scriptedBusy{},
		NewJSONFileSink(filepath.Join(t.TempDir(), "out.json")))
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var persisted []bool
	for _, st := range res.Stats {
		persisted = append(persisted, st.Persisted)
	}
	// Grown, unchanged, unchanged, final.
	if diff := cmp.Diff([]bool{true, false, false, true}, persisted); diff != "" {
		t.Errorf("persisted (-want +got):\n%s", diff)
	}
}

func TestRun_DeltaModeAppends(t *testing.T) {
	fake := &surfacetest.Fake{Documents: []string{doc(), doc("alice", "bob"), doc("bob", "carol")}}
	act := &scriptedActivity{quiet: func() bool { return fake.Scrolls() >= 2 }}
	path := filepath.Join(t.TempDir(), "followers.jsonl")

	c := newTestController(t, fake, Config{Persist: PersistDelta}, act, &scriptedBusy{},
		NewJSONLinesSink(path))
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	saved, err := persist.ReadJSONLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res.Records, saved); diff != "" {
		t.Errorf("sink (-result +file):\n%s", diff)
	}
}

func TestRun_DeltaModeStartsFromEmptySinks(t *testing.T) {
	// WHAT: Two delta runs write into the same JSON and JSON lines files,
	// each harvesting alice and bob.
	// WHY: The second run must not append to the first run's output.
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "followers.json")
	linesPath := filepath.Join(dir, "followers.jsonl")

	for i := 1; i <= 2; i++ {
		fake := &surfacetest.Fake{Documents: []string{doc(), doc("alice", "bob")}}
		act := &scriptedActivity{quiet: func() bool { return fake.Scrolls() >= 1 }}
		c := newTestController(t, fake, Config{Persist: PersistDelta}, act, &scriptedBusy{},
			NewJSONFileSink(jsonPath), NewJSONLinesSink(linesPath))
		res, err := c.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		saved, err := persist.ReadJSONFile(jsonPath)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(res.Records, saved); diff != "" {
			t.Errorf("run %d json (-result +file):\n%s", i, diff)
		}
		lines, err := persist.ReadJSONLines(linesPath)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(res.Records, lines); diff != "" {
			t.Errorf("run %d jsonl (-result +file):\n%s", i, diff)
		}
	}
}

func TestRun_DeltaModeClearsStaleOutput(t *testing.T) {
	// WHAT: A delta run that harvests nothing, over a file left by an
	// earlier run.
	// WHY: The sink must match the empty accumulated set.
	path := filepath.Join(t.TempDir(), "followers.json")
	if err := persist.NewJSONFile(path).WriteAll(context.Background(), []record.Record{rec("old")}); err != nil {
		t.Fatal(err)
	}
	act := &scriptedActivity{quiet: func() bool { return true }}

	c := newTestController(t, &surfacetest.Fake{}, Config{Persist: PersistDelta}, act, &scriptedBusy{},
		NewJSONFileSink(path))
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	saved, err := persist.ReadJSONFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 0 {
		t.Errorf("stale records kept: %+v", saved)
	}
}

func TestRun_FinalCadenceExtractsOnce(t *testing.T) {
	fake := &surfacetest.Fake{Documents: []string{doc(), doc("alice"), doc("alice", "bob")}}
	act := &scriptedActivity{quiet: func() bool { return fake.Scrolls() >= 2 }}

	c := newTestController(t, fake, Config{Cadence: Final}, act, &scriptedBusy{})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fake.HTMLReads() != 1 {
		t.Errorf("extractions: got %d, want 1", fake.HTMLReads())
	}
	if len(res.Stats) != 1 || !res.Stats[0].Final || len(res.Records) != 2 {
		t.Errorf("stats=%+v records=%d", res.Stats, len(res.Records))
	}
}

func TestRun_FocusFailureIgnored(t *testing.T) {
	fake := &surfacetest.Fake{FocusErr: errors.New("not focusable")}
	act := &scriptedActivity{quiet: func() bool { return true }}

	c := newTestController(t, fake, Config{}, act, &scriptedBusy{})
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("focus failure aborted the run: %v", err)
	}
}

func TestRun_CancelReturnsPartialResult(t *testing.T) {
	fake := &surfacetest.Fake{Documents: []string{doc(), doc("alice"), doc("alice", "bob")}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	busy := &scriptedBusy{onPoll: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	path := filepath.Join(t.TempDir(), "followers.json")

	c := newTestController(t, fake, Config{}, &scriptedActivity{}, busy, NewJSONFileSink(path))
	res, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: got %v, want context.Canceled", err)
	}
	if res == nil || len(res.Records) != 2 || res.Iteration != 2 {
		t.Fatalf("partial result: %+v", res)
	}
	saved, err := persist.ReadJSONFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 2 {
		t.Errorf("saved on cancel: got %d, want 2", len(saved))
	}
}

func TestRun_RealProbeFallsBackToQuiet(t *testing.T) {
	// WHAT: Real probes against a surface that never mutates.
	// WHY: A static anchor must still end the run after the silence window.
	fake := &surfacetest.Fake{
		Documents: []string{doc("alice")},
		Within: func(container, selector string) (bool, bool, error) {
			return true, true, nil
		},
	}
	c, err := New(fake, Config{
		SilenceWindow: 30 * time.Millisecond,
		PollBackoff:   5 * time.Millisecond,
		BusyWaitCap:   2,
		Selectors:     testSelectors,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Quiesced || res.CeilingHit {
		t.Errorf("quiesced=%v ceiling=%v, want true false", res.Quiesced, res.CeilingHit)
	}
	if fake.Stopped() != 1 {
		t.Errorf("observer stopped: got %d, want 1", fake.Stopped())
	}
	if len(res.Records) != 1 {
		t.Errorf("records: got %d, want 1", len(res.Records))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Config{Selectors: testSelectors}); !errors.Is(err, ErrNoSurface) {
		t.Errorf("nil surface: got %v", err)
	}

	sel := testSelectors
	sel.ScrollContainer = ""
	if _, err := New(&surfacetest.Fake{}, Config{Selectors: sel}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty scroll container: got %v", err)
	}

	sel = testSelectors
	sel.Item = "div[["
	if _, err := New(&surfacetest.Fake{}, Config{Selectors: sel}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad item selector: got %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	var live Config
	live.applyDefaults()
	if live.SilenceWindow != 5*time.Second || live.MaxScrollIterations != 25_000 ||
		live.ScrollMagnitude != 1000 || live.PollBackoff != 100*time.Millisecond || live.BusyWaitCap != 50 {
		t.Errorf("per-iteration defaults: got %+v", live)
	}

	final := Config{Cadence: Final}
	final.applyDefaults()
	if final.SilenceWindow != 4*time.Second {
		t.Errorf("final SilenceWindow: got %v, want 4s", final.SilenceWindow)
	}
}

func TestConfigFromFile(t *testing.T) {
	f := DefaultFileConfig()
	f.Harvest.Cadence = "final"
	f.Harvest.Persist = "delta"

	cfg := ConfigFromFile(f, nil)
	if cfg.Cadence != Final || cfg.Persist != PersistDelta {
		t.Errorf("cadence=%v persist=%v", cfg.Cadence, cfg.Persist)
	}
	if cfg.Selectors.BoundaryText != "Suggested for you" || cfg.MaxScrollIterations != 25_000 {
		t.Errorf("mapped config: %+v", cfg)
	}
	if _, err := New(&surfacetest.Fake{}, cfg); err != nil {
		t.Errorf("default selectors rejected: %v", err)
	}
}

func TestNewRunID_Prefix(t *testing.T) {
	a, b := NewRunID("followers:"), NewRunID("followers:")
	if !strings.HasPrefix(a, "followers:") || a == b {
		t.Errorf("NewRunID: %q %q", a, b)
	}
}
