package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/scrollharvest/harvest/internal/surfacetest"
	"github.com/hazyhaar/scrollharvest/harvest/record"
)

var testSelectors = Selectors{
	Item:         "div.item",
	Link:         `a[role="link"]`,
	Name:         "span.name",
	Verified:     `[aria-label="Verified"]`,
	BoundaryTag:  "h4",
	BoundaryText: "Suggested for you",
}

func item(user, name string) string {
	return fmt.Sprintf(`<div class="item"><a role="link" href="/%s/"><img src="https://cdn.example/%s.jpg"></a><span class="name">%s</span></div>`,
		user, user, name)
}

func TestParse_BoundaryCutoff(t *testing.T) {
	// WHAT: 5 items before the boundary heading and 3 after yield 5 records.
	// WHY: Suggested accounts after the heading are not list members.
	var b strings.Builder
	b.WriteString(`<html><body><div class="list">`)
	for i := 0; i < 5; i++ {
		b.WriteString(item(fmt.Sprintf("member%d", i), "Member"))
	}
	b.WriteString(`</div><div><h4>Suggested for you</h4></div><div class="suggested">`)
	for i := 0; i < 3; i++ {
		b.WriteString(item(fmt.Sprintf("suggested%d", i), "Stranger"))
	}
	b.WriteString(`</div></body></html>`)

	recs, err := Parse(b.String(), testSelectors)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 5 {
		t.Fatalf("records: got %d, want 5", len(recs))
	}
	for i, r := range recs {
		if want := fmt.Sprintf("member%d", i); r.ID != want {
			t.Errorf("[%d] ID: got %q, want %q", i, r.ID, want)
		}
	}
}

func TestParse_NoBoundaryTakesAll(t *testing.T) {
	doc := `<html><body>` + item("a", "A") + item("b", "B") + `<h4>Other heading</h4>` + item("c", "C") + `</body></html>`
	recs, err := Parse(doc, testSelectors)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Errorf("records: got %d, want 3", len(recs))
	}
}

func TestParse_Fields(t *testing.T) {
	doc := `<html><body>
<div class="item">
  <a role="link" href="//alice//"><img src="https://cdn.example/alice.jpg"></a>
  <span class="name">  Alice Doe  </span>
</div>
<div class="item">
  <a role="link" href="/vip/">no image here</a>
  <span role="link"><img src="https://cdn.example/vip.jpg"></span>
  <span class="name">VIP</span>
  <svg aria-label="Verified"></svg>
</div>
<div class="item"><span>nothing useful</span></div>
</body></html>`

	recs, err := Parse(doc, testSelectors)
	if err != nil {
		t.Fatal(err)
	}

	want := []record.Record{
		{ID: "alice", DisplayName: record.String("Alice Doe"), MediaURI: record.String("https://cdn.example/alice.jpg")},
		{ID: "vip", DisplayName: record.String("VIP"), MediaURI: record.String("https://cdn.example/vip.jpg"), Verified: true},
		{},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_InvalidSelector(t *testing.T) {
	sel := testSelectors
	sel.Item = "div[["
	if _, err := New(&surfacetest.Fake{}, sel, nil); err == nil {
		t.Fatal("expected error for unparsable item selector")
	}

	sel = testSelectors
	sel.Link = ""
	if _, err := New(&surfacetest.Fake{}, sel, nil); err == nil {
		t.Fatal("expected error for empty link selector")
	}
}

func TestExtract_ReadsSurface(t *testing.T) {
	fake := &surfacetest.Fake{Documents: []string{`<html><body>` + item("one", "One") + `</body></html>`}}
	e, err := New(fake, testSelectors, nil)
	if err != nil {
		t.Fatal(err)
	}

	recs, err := e.Extract(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "one" {
		t.Errorf("got %+v", recs)
	}
}

func TestExtract_ResolvesRelativeAvatar(t *testing.T) {
	// WHAT: A relative img src resolves against the document URL.
	// WHY: Stored avatar addresses must be usable outside the page.
	doc := `<html><body>
<div class="item"><a role="link" href="/rel/"><img src="/media/rel.jpg"></a></div>
<div class="item"><a role="link" href="/abs/"><img src="https://cdn.example/abs.jpg"></a></div>
</body></html>`
	fake := &surfacetest.Fake{Documents: []string{doc}, DocumentURL: "https://www.example.com/someone/followers/"}
	e, err := New(fake, testSelectors, nil)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := e.Extract(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []record.Record{
		{ID: "rel", MediaURI: record.String("https://www.example.com/media/rel.jpg")},
		{ID: "abs", MediaURI: record.String("https://cdn.example/abs.jpg")},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestNew_BoundaryTagNeedsText(t *testing.T) {
	// WHAT: A boundary tag without text is rejected.
	// WHY: An empty text matches every heading of that tag and would cut
	// the list at the first one.
	sel := testSelectors
	sel.BoundaryText = " "
	if _, err := New(&surfacetest.Fake{}, sel, nil); err == nil {
		t.Fatal("expected error for boundary tag without text")
	}

	sel.BoundaryTag = ""
	sel.BoundaryText = ""
	if _, err := New(&surfacetest.Fake{}, sel, nil); err != nil {
		t.Fatalf("no boundary should be accepted: %v", err)
	}
}

func TestExtract_SurfaceError(t *testing.T) {
	fake := &surfacetest.Fake{HTMLErr: errors.New("page crashed")}
	e, _ := New(fake, testSelectors, nil)
	if _, err := e.Extract(context.Background()); err == nil {
		t.Fatal("expected error when the document cannot be read")
	}
}
