// Package config handles scrollharvest configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Cadence names accepted in harvest.cadence.
const (
	CadencePerIteration = "per-iteration"
	CadenceFinal        = "final"
)

// Persistence policies accepted in harvest.persist.
const (
	PersistFull  = "full"
	PersistDelta = "delta"
)

// File is the top-level configuration.
type File struct {
	Browser   BrowserConfig  `yaml:"browser"`
	Harvest   HarvestConfig  `yaml:"harvest"`
	Selectors SelectorConfig `yaml:"selectors"`
	Targets   TargetConfig   `yaml:"targets"`
	Output    OutputConfig   `yaml:"output"`
	Log       LogConfig      `yaml:"log"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"` // DevTools WebSocket URL; empty = launch local
	Headful          bool          `yaml:"headful"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Cookies          string        `yaml:"cookies"` // JSON cookie export loaded before navigation
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"` // pause after opening a list
}

// HarvestConfig mirrors harvest.Config.
type HarvestConfig struct {
	SilenceWindow       time.Duration `yaml:"silence_window"`
	MaxScrollIterations int           `yaml:"max_scroll_iterations"`
	ScrollMagnitude     int           `yaml:"scroll_magnitude"`
	PollBackoff         time.Duration `yaml:"poll_backoff"`
	BusyWaitCap         int           `yaml:"busy_wait_cap"`
	Cadence             string        `yaml:"cadence"` // per-iteration | final
	Persist             string        `yaml:"persist"` // full | delta
}

// SelectorConfig locates the list and its fields in the page.
type SelectorConfig struct {
	ScrollContainer string `yaml:"scroll_container"`
	RowContainer    string `yaml:"row_container"`
	BusyMarker      string `yaml:"busy_marker"`
	ActivityAnchor  string `yaml:"activity_anchor"`
	Item            string `yaml:"item"`
	Link            string `yaml:"link"`
	Name            string `yaml:"name"`
	Verified        string `yaml:"verified"`
	AvatarFallback  string `yaml:"avatar_fallback"`
	BoundaryTag     string `yaml:"boundary_tag"`
	BoundaryText    string `yaml:"boundary_text"`
}

// ListTarget is one list to open from the profile page.
type ListTarget struct {
	Name string `yaml:"name"` // also the output file stem
	Link string `yaml:"link"` // selector of the link opening the list
}

// TargetConfig describes where the lists live.
type TargetConfig struct {
	ProfileURL string       `yaml:"profile_url"` // fmt template, %s = user
	User       string       `yaml:"user"`
	Lists      []ListTarget `yaml:"lists"`
}

// OutputConfig selects persistence sinks. Dir defaults to the working
// directory, where <list>.json is written.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	JSONLines bool   `yaml:"jsonl"`
	SQLite    string `yaml:"sqlite"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `yaml:"level"` // debug | info | warn | error
	File       string `yaml:"file"`
	Console    *bool  `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Default returns a configuration with every default applied.
func Default() *File {
	var f File
	f.ApplyDefaults()
	return &f
}

// ApplyDefaults fills zero values.
func (f *File) ApplyDefaults() {
	if f.Browser.NavigateTimeout <= 0 {
		f.Browser.NavigateTimeout = 30 * time.Second
	}
	if f.Browser.SettleDelay <= 0 {
		f.Browser.SettleDelay = 2 * time.Second
	}

	h := &f.Harvest
	if h.Cadence == "" {
		h.Cadence = CadencePerIteration
	}
	if h.Persist == "" {
		h.Persist = PersistFull
	}
	if h.SilenceWindow <= 0 {
		h.SilenceWindow = 5 * time.Second
		if h.Cadence == CadenceFinal {
			h.SilenceWindow = 4 * time.Second
		}
	}
	if h.MaxScrollIterations <= 0 {
		h.MaxScrollIterations = 25_000
	}
	if h.ScrollMagnitude == 0 {
		h.ScrollMagnitude = 1000
	}
	if h.PollBackoff <= 0 {
		h.PollBackoff = 100 * time.Millisecond
	}
	if h.BusyWaitCap <= 0 {
		h.BusyWaitCap = 50
	}

	s := &f.Selectors
	setDefault(&s.ScrollContainer, ".x6nl9eh")
	setDefault(&s.RowContainer, ".x9q68il")
	setDefault(&s.BusyMarker, `[data-visualcompletion="loading-state"]`)
	setDefault(&s.ActivityAnchor, `[aria-label="Search input"], [aria-label="Search"]`)
	setDefault(&s.Item, `[class="x1qnrgzn x1cek8b2 xb10e19 x19rwo8q x1lliihq x193iq5w xh8yej3"]`)
	setDefault(&s.Link, `a[role="link"]`)
	setDefault(&s.Name, ".x1lliihq.x1plvlek.xryxfnj.x1n2onr6.xyejjpt.x15dsfln.x193iq5w.xeuugli."+
		"x1fj9vlw.x13faqbe.x1vvkbs.x1s928wv.xhkezso.x1gmr53x.x1cpjm7i.x1fgarty."+
		"x1943h6x.x1i0vuye.xvs91rp.xo1l8bm.x1roi4f4.x10wh9bi.xpm28yp.x8viiok.x1o7cslx")
	setDefault(&s.Verified, `[aria-label='Verified']`)
	setDefault(&s.AvatarFallback, `span[role="link"] img`)
	setDefault(&s.BoundaryTag, "h4")
	setDefault(&s.BoundaryText, "Suggested for you")

	setDefault(&f.Targets.ProfileURL, "https://www.instagram.com/%s")
	setDefault(&f.Output.Dir, ".")
	if len(f.Targets.Lists) == 0 {
		f.Targets.Lists = []ListTarget{
			{Name: "followers", Link: `[href*="followers"]`},
			{Name: "following", Link: `[href*="following"]`},
		}
	}

	setDefault(&f.Log.Level, "info")
	if f.Log.Console == nil {
		on := true
		f.Log.Console = &on
	}
	if f.Log.MaxSizeMB <= 0 {
		f.Log.MaxSizeMB = 50
	}
	if f.Log.MaxBackups <= 0 {
		f.Log.MaxBackups = 3
	}
}

// Validate rejects values that cannot be defaulted.
func (f *File) Validate() error {
	switch f.Harvest.Cadence {
	case CadencePerIteration, CadenceFinal:
	default:
		return fmt.Errorf("config: unknown harvest.cadence %q", f.Harvest.Cadence)
	}
	switch f.Harvest.Persist {
	case PersistFull, PersistDelta:
	default:
		return fmt.Errorf("config: unknown harvest.persist %q", f.Harvest.Persist)
	}
	for i, l := range f.Targets.Lists {
		if l.Name == "" || l.Link == "" {
			return fmt.Errorf("config: targets.lists[%d] needs name and link", i)
		}
	}
	return nil
}

func setDefault(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
