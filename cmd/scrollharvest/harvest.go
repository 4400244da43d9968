package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/scrollharvest/harvest"
)

var harvestFlags struct {
	config  string
	user    string
	target  string
	cadence string
	persist string
	out     string
	cookies string
	remote  string
	headful bool
	silence time.Duration
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Open each configured list on a profile page and harvest every row.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadHarvestConfig(cmd)
		if err != nil {
			return err
		}
		logger, closer := newLogger(logOptionsFrom(cfg))
		defer closer.Close()
		return runHarvest(cmd.Context(), logger, cfg)
	},
}

func init() {
	f := harvestCmd.Flags()
	f.StringVar(&harvestFlags.config, "config", "", "path to harvest.yaml")
	f.StringVar(&harvestFlags.user, "user", "", "profile whose lists are harvested")
	f.StringVar(&harvestFlags.target, "target", "", "harvest only this list (by name)")
	f.StringVar(&harvestFlags.cadence, "cadence", "", "per-iteration or final (resets the silence window to the cadence default)")
	f.DurationVar(&harvestFlags.silence, "silence-window", 0, "quiet period that ends a harvest")
	f.StringVar(&harvestFlags.persist, "persist", "", "full or delta")
	f.StringVar(&harvestFlags.out, "out", "", "output directory")
	f.StringVar(&harvestFlags.cookies, "cookies", "", "JSON cookie export to load before navigating")
	f.StringVar(&harvestFlags.remote, "remote", "", "DevTools WebSocket URL of a running Chrome")
	f.BoolVar(&harvestFlags.headful, "headful", false, "run a visible Chrome on Xvfb")
	rootCmd.AddCommand(harvestCmd)
}

// loadHarvestConfig reads the config file (or defaults) and applies flag
// overrides.
func loadHarvestConfig(cmd *cobra.Command) (*harvest.FileConfig, error) {
	var cfg *harvest.FileConfig
	if harvestFlags.config != "" {
		c, err := harvest.LoadConfigFile(harvestFlags.config)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = harvest.DefaultFileConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("user") {
		cfg.Targets.User = harvestFlags.user
	}
	if flags.Changed("cadence") {
		cfg.Harvest.Cadence = harvestFlags.cadence
		cfg.Harvest.SilenceWindow = 0
		cfg.ApplyDefaults()
	}
	if flags.Changed("silence-window") {
		cfg.Harvest.SilenceWindow = harvestFlags.silence
	}
	if flags.Changed("persist") {
		cfg.Harvest.Persist = harvestFlags.persist
	}
	if flags.Changed("out") {
		cfg.Output.Dir = harvestFlags.out
	}
	if flags.Changed("cookies") {
		cfg.Browser.Cookies = harvestFlags.cookies
	}
	if flags.Changed("remote") {
		cfg.Browser.Remote = harvestFlags.remote
	}
	if flags.Changed("headful") {
		cfg.Browser.Headful = harvestFlags.headful
	}
	if harvestFlags.target != "" {
		var kept []harvest.ListTarget
		for _, l := range cfg.Targets.Lists {
			if l.Name == harvestFlags.target {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			return nil, fmt.Errorf("unknown target %q", harvestFlags.target)
		}
		cfg.Targets.Lists = kept
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Targets.User == "" {
		return nil, errors.New("no user: set targets.user or --user")
	}
	return cfg, nil
}

func logOptionsFrom(cfg *harvest.FileConfig) logOptions {
	o := logOptions{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		Console:    cfg.Log.Console == nil || *cfg.Log.Console,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	if logLevel != "" {
		o.Level = logLevel
	}
	if logFile != "" {
		o.File = logFile
	}
	return o
}

type listOutcome struct {
	name   string
	result *harvest.Result
	err    error
}

func runHarvest(ctx context.Context, logger *slog.Logger, cfg *harvest.FileConfig) error {
	b := harvest.NewBrowser(harvest.BrowserConfigFromFile(cfg, logger))
	if _, err := b.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer b.Close()

	if cfg.Browser.Cookies != "" {
		n, err := harvest.LoadCookies(b, cfg.Browser.Cookies)
		if err != nil {
			return err
		}
		logger.Info("scrollharvest: cookies loaded", "count", n)
	}

	profileURL := fmt.Sprintf(cfg.Targets.ProfileURL, cfg.Targets.User)
	var outcomes []listOutcome
	for _, list := range cfg.Targets.Lists {
		res, err := harvestList(ctx, logger, b, cfg, profileURL, list)
		outcomes = append(outcomes, listOutcome{name: list.Name, result: res, err: err})
		if err != nil {
			logger.Error("scrollharvest: list failed", "list", list.Name, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	printOutcomes(outcomes)
	for _, o := range outcomes {
		if o.err != nil {
			return o.err
		}
	}
	return nil
}

func harvestList(ctx context.Context, logger *slog.Logger, b *harvest.Browser, cfg *harvest.FileConfig, profileURL string, list harvest.ListTarget) (*harvest.Result, error) {
	log := logger.With("list", list.Name)

	page, err := harvest.OpenPage(ctx, b, profileURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := page.OpenList(ctx, list.Link, cfg.Browser.NavigateTimeout, cfg.Browser.SettleDelay); err != nil {
		return nil, err
	}

	sinks, err := openSinks(cfg, list.Name)
	if err != nil {
		return nil, err
	}

	ctrl, err := harvest.New(page, harvest.ConfigFromFile(cfg, log), sinks...)
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}
	defer ctrl.Close()

	return ctrl.Run(ctx)
}

// openSinks builds the sinks of one list: <dir>/<list>.json (plus .jsonl
// when enabled) and the shared SQLite database tagged by a per-list run ID.
func openSinks(cfg *harvest.FileConfig, list string) ([]harvest.Sink, error) {
	var sinks []harvest.Sink
	if cfg.Output.Dir != "" {
		sinks = append(sinks, harvest.NewJSONFileSink(filepath.Join(cfg.Output.Dir, list+".json")))
		if cfg.Output.JSONLines {
			sinks = append(sinks, harvest.NewJSONLinesSink(filepath.Join(cfg.Output.Dir, list+".jsonl")))
		}
	}
	if cfg.Output.SQLite != "" {
		s, err := harvest.OpenSQLiteSink(cfg.Output.SQLite, harvest.NewRunID(list+":"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func printOutcomes(outcomes []listOutcome) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"List", "Records", "Iterations", "Quiet", "Ceiling", "Persist failures", "Elapsed"})
	for _, o := range outcomes {
		if o.result == nil {
			t.AppendRow(table.Row{o.name, "-", "-", "-", "-", "-", o.err.Error()})
			continue
		}
		r := o.result
		t.AppendRow(table.Row{o.name, len(r.Records), r.Iteration, r.Quiesced, r.CeilingHit, r.PersistFailures, r.Elapsed.Round(time.Millisecond)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
