package harvest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/scrollharvest/harvest/internal/browser"
)

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = browser.Config

// Browser owns the Chrome instance a harvest runs in.
type Browser = browser.Manager

// Page is a browser tab usable as a harvest surface.
type Page = browser.Page

// NewBrowser creates a Browser. Call Start before opening pages.
func NewBrowser(cfg BrowserConfig) *Browser {
	return browser.NewManager(cfg)
}

// BrowserConfigFromFile maps the YAML browser section.
func BrowserConfigFromFile(f *FileConfig, logger *slog.Logger) BrowserConfig {
	return BrowserConfig{
		RemoteURL:        f.Browser.Remote,
		Headful:          f.Browser.Headful,
		ResourceBlocking: f.Browser.ResourceBlocking,
		NavigateTimeout:  f.Browser.NavigateTimeout,
		Logger:           logger,
	}
}

// OpenPage opens a stealth tab on pageURL.
func OpenPage(ctx context.Context, b *Browser, pageURL string) (*Page, error) {
	return browser.OpenPage(ctx, b, pageURL)
}

// LoadCookies installs a JSON cookie export into a started browser.
func LoadCookies(b *Browser, path string) (int, error) {
	rb := b.Browser()
	if rb == nil {
		return 0, fmt.Errorf("harvest: load cookies: browser not started")
	}
	return browser.LoadCookies(rb, path)
}
