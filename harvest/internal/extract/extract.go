// Package extract converts the currently materialised list rows of a
// document snapshot into records, excluding everything at or after a
// boundary marker (e.g. a "Suggested for you" heading).
//
// Extraction runs Go-side over the serialised document: the surface is
// asked once for its HTML and the walk happens on the parsed tree, so a
// snapshot is consistent even while the live document keeps virtualising.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/scrollharvest/harvest/record"
	"github.com/hazyhaar/scrollharvest/harvest/surface"
)

// Selectors locates items and their fields.
type Selectors struct {
	Item     string // per-item container
	Link     string // identifying link inside an item
	Name     string // display-name element inside an item
	Verified string // verified badge inside an item

	// AvatarFallback is searched within the item when the link holds no
	// image (verified rows render their avatar outside the link).
	// Default: span[role="link"] img
	AvatarFallback string

	// BoundaryTag and BoundaryText identify the first element ending the
	// relevant list. Empty BoundaryTag disables the cutoff; a set tag
	// requires a non-empty text.
	BoundaryTag  string
	BoundaryText string
}

// DefaultAvatarFallback is used when Selectors.AvatarFallback is empty.
const DefaultAvatarFallback = `span[role="link"] img`

type matchers struct {
	item, link, name, verified, avatar, fallback cascadia.Selector
	boundaryTag, boundaryText                    string
}

func compile(sel Selectors) (*matchers, error) {
	if sel.AvatarFallback == "" {
		sel.AvatarFallback = DefaultAvatarFallback
	}
	var m matchers
	for _, f := range []struct {
		name string
		css  string
		dst  *cascadia.Selector
	}{
		{"item", sel.Item, &m.item},
		{"link", sel.Link, &m.link},
		{"name", sel.Name, &m.name},
		{"verified", sel.Verified, &m.verified},
		{"avatar", "img", &m.avatar},
		{"avatar fallback", sel.AvatarFallback, &m.fallback},
	} {
		if strings.TrimSpace(f.css) == "" {
			return nil, fmt.Errorf("extract: %s selector is empty", f.name)
		}
		s, err := cascadia.Compile(f.css)
		if err != nil {
			return nil, fmt.Errorf("extract: %s selector %q: %w", f.name, f.css, err)
		}
		*f.dst = s
	}
	if sel.BoundaryTag != "" && strings.TrimSpace(sel.BoundaryText) == "" {
		return nil, fmt.Errorf("extract: boundary tag %q has no boundary text", sel.BoundaryTag)
	}
	m.boundaryTag = strings.ToLower(sel.BoundaryTag)
	m.boundaryText = sel.BoundaryText
	return &m, nil
}

// Extractor reads item rows from a surface.
type Extractor struct {
	surface surface.Surface
	m       *matchers
	logger  *slog.Logger
}

// New validates sel and returns an Extractor. An empty or unparsable
// selector is a configuration defect and is returned as an error.
func New(s surface.Surface, sel Selectors, logger *slog.Logger) (*Extractor, error) {
	m, err := compile(sel)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{surface: s, m: m, logger: logger}, nil
}

// Extract snapshots the surface and returns the records before the
// boundary, in document order. Relative avatar addresses are resolved
// against the document URL. The result is a snapshot: callers fold it
// into accumulated state themselves.
func (e *Extractor) Extract(ctx context.Context) ([]record.Record, error) {
	src, err := e.surface.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract: read document: %w", err)
	}
	recs, cut, err := parse(src, e.base(ctx), e.m)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("extract: snapshot parsed", "records", len(recs), "boundary_found", cut)
	return recs, nil
}

// base returns the document URL, or nil when the surface cannot tell.
func (e *Extractor) base(ctx context.Context) *url.URL {
	raw, err := e.surface.URL(ctx)
	if err != nil || raw == "" {
		if err != nil {
			e.logger.Debug("extract: document url unavailable", "error", err)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		e.logger.Debug("extract: document url invalid", "url", raw, "error", err)
		return nil
	}
	return u
}

// Parse extracts records from a serialised document. Avatar addresses are
// kept as written.
func Parse(src string, sel Selectors) ([]record.Record, error) {
	m, err := compile(sel)
	if err != nil {
		return nil, err
	}
	recs, _, err := parse(src, nil, m)
	return recs, err
}

func parse(src string, base *url.URL, m *matchers) ([]record.Record, bool, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, false, fmt.Errorf("extract: parse document: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	// Every element in document order; the boundary index cuts this list.
	all := doc.Find("*")
	limit := all.Length()
	cut := false
	if m.boundaryTag != "" {
		all.EachWithBreak(func(i int, s *goquery.Selection) bool {
			if goquery.NodeName(s) == m.boundaryTag && strings.Contains(s.Text(), m.boundaryText) {
				limit = i
				cut = true
				return false
			}
			return true
		})
	}

	var recs []record.Record
	for _, n := range all.Nodes[:limit] {
		if n.Type != html.ElementNode || !m.item.Match(n) {
			continue
		}
		recs = append(recs, itemRecord(doc.FindNodes(n), base, m))
	}
	return recs, cut, nil
}

// itemRecord reads one item. Missing fields degrade to absent values.
func itemRecord(item *goquery.Selection, base *url.URL, m *matchers) record.Record {
	var r record.Record

	link := item.FindMatcher(m.link).First()
	if link.Length() > 0 {
		href, _ := link.Attr("href")
		r.ID = strings.Trim(href, "/")
	}

	if name := item.FindMatcher(m.name).First(); name.Length() > 0 {
		r.DisplayName = record.String(strings.TrimSpace(name.Text()))
	}

	img := link.FindMatcher(m.avatar).First()
	if img.Length() == 0 {
		img = item.FindMatcher(m.fallback).First()
	}
	if img.Length() > 0 {
		src, _ := img.Attr("src")
		if base != nil {
			if u, err := base.Parse(src); err == nil {
				src = u.String()
			}
		}
		r.MediaURI = record.String(src)
	}

	r.Verified = item.FindMatcher(m.verified).Length() > 0
	return r
}
