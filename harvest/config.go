package harvest

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/scrollharvest/harvest/internal/config"
	"github.com/hazyhaar/scrollharvest/harvest/internal/extract"
)

// Cadence selects when the controller extracts and persists.
type Cadence int

const (
	// PerIteration extracts, folds and persists after every scroll
	// iteration, then once more when the loop ends.
	PerIteration Cadence = iota
	// Final only scrolls until the loop ends, then extracts once.
	Final
)

func (c Cadence) String() string {
	if c == Final {
		return config.CadenceFinal
	}
	return config.CadencePerIteration
}

// PersistMode selects what is written after a cycle.
type PersistMode int

const (
	// PersistFull overwrites the sinks with the whole accumulated set.
	PersistFull PersistMode = iota
	// PersistDelta hands only the records new in this cycle to the sinks.
	// Use it with append-only sinks.
	PersistDelta
)

func (m PersistMode) String() string {
	if m == PersistDelta {
		return config.PersistDelta
	}
	return config.PersistFull
}

// Defaults.
const (
	DefaultSilenceWindowFinal        = 4 * time.Second
	DefaultSilenceWindowPerIteration = 5 * time.Second
	DefaultMaxScrollIterations       = 25_000
	DefaultScrollMagnitude           = 1000
	DefaultPollBackoff               = 100 * time.Millisecond
	DefaultBusyWaitCap               = 50
)

// Selectors locates the list and its rows in the document.
type Selectors struct {
	ScrollContainer string // element receiving scroll stimuli
	RowContainer    string // list container searched for the busy marker
	BusyMarker      string // transient loading element
	ActivityAnchor  string // mutation observation target, also focused at start

	Item           string
	Link           string
	Name           string
	Verified       string
	AvatarFallback string

	BoundaryTag  string
	BoundaryText string
}

func (s Selectors) extract() extract.Selectors {
	return extract.Selectors{
		Item:           s.Item,
		Link:           s.Link,
		Name:           s.Name,
		Verified:       s.Verified,
		AvatarFallback: s.AvatarFallback,
		BoundaryTag:    s.BoundaryTag,
		BoundaryText:   s.BoundaryText,
	}
}

// Config is immutable for the lifetime of one Run.
type Config struct {
	// SilenceWindow is how long the activity anchor must stay unmutated
	// before the list counts as exhausted. Default: 5s for PerIteration,
	// 4s for Final.
	SilenceWindow time.Duration

	// MaxScrollIterations is a safety ceiling. Reaching it ends the run
	// with a partial result. Default: 25000.
	MaxScrollIterations int

	// ScrollMagnitude is the signed scroll delta per stimulus. Default: 1000.
	ScrollMagnitude int

	// PollBackoff separates busy polls. Default: 100ms.
	PollBackoff time.Duration

	// BusyWaitCap bounds the busy polls of one iteration. Default: 50.
	BusyWaitCap int

	Cadence Cadence
	Persist PersistMode

	Selectors Selectors

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = DefaultSilenceWindowPerIteration
		if c.Cadence == Final {
			c.SilenceWindow = DefaultSilenceWindowFinal
		}
	}
	if c.MaxScrollIterations <= 0 {
		c.MaxScrollIterations = DefaultMaxScrollIterations
	}
	if c.ScrollMagnitude == 0 {
		c.ScrollMagnitude = DefaultScrollMagnitude
	}
	if c.PollBackoff <= 0 {
		c.PollBackoff = DefaultPollBackoff
	}
	if c.BusyWaitCap <= 0 {
		c.BusyWaitCap = DefaultBusyWaitCap
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) validate() error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"scroll container", c.Selectors.ScrollContainer},
		{"row container", c.Selectors.RowContainer},
		{"busy marker", c.Selectors.BusyMarker},
		{"activity anchor", c.Selectors.ActivityAnchor},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: empty selector: %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// FileConfig is the YAML configuration. Re-exported from internal.
type FileConfig = config.File

// ListTarget is one list opened from the profile page.
type ListTarget = config.ListTarget

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*FileConfig, error) {
	return config.LoadFile(path)
}

// DefaultFileConfig returns the YAML configuration with every default set.
func DefaultFileConfig() *FileConfig {
	return config.Default()
}

// ConfigFromFile maps the YAML harvest and selectors sections to a Config.
func ConfigFromFile(f *FileConfig, logger *slog.Logger) Config {
	h, s := f.Harvest, f.Selectors
	cfg := Config{
		SilenceWindow:       h.SilenceWindow,
		MaxScrollIterations: h.MaxScrollIterations,
		ScrollMagnitude:     h.ScrollMagnitude,
		PollBackoff:         h.PollBackoff,
		BusyWaitCap:         h.BusyWaitCap,
		Selectors: Selectors{
			ScrollContainer: s.ScrollContainer,
			RowContainer:    s.RowContainer,
			BusyMarker:      s.BusyMarker,
			ActivityAnchor:  s.ActivityAnchor,
			Item:            s.Item,
			Link:            s.Link,
			Name:            s.Name,
			Verified:        s.Verified,
			AvatarFallback:  s.AvatarFallback,
			BoundaryTag:     s.BoundaryTag,
			BoundaryText:    s.BoundaryText,
		},
		Logger: logger,
	}
	if h.Cadence == config.CadenceFinal {
		cfg.Cadence = Final
	}
	if h.Persist == config.PersistDelta {
		cfg.Persist = PersistDelta
	}
	return cfg
}
