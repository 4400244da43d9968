// Package report compares two harvested lists, typically an account's
// followers and the accounts it follows, by record ID.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/hazyhaar/scrollharvest/harvest"
	"github.com/hazyhaar/scrollharvest/harvest/record"
)

// ErrNoOutputDir is returned by Save when no directory is given.
var ErrNoOutputDir = errors.New("report: no output directory")

// Output file names written by Save.
const (
	TheyDontFollowBackFile = "they_dont_follow_back.json"
	YouDontFollowBackFile  = "you_dont_follow_back.json"
	MutualFile             = "mutual_followers.json"
)

// Report holds the three partitions of two lists.
type Report struct {
	// TheyDontFollowBack: followed accounts missing from followers,
	// in following order.
	TheyDontFollowBack []record.Record
	// YouDontFollowBack: followers missing from following, in followers order.
	YouDontFollowBack []record.Record
	// Mutual: followers also present in following, in followers order.
	Mutual []record.Record
}

// Compare partitions followers and following by ID. Rows without an ID
// cannot be matched and appear in no partition.
func Compare(followers, following []record.Record) *Report {
	followerIDs := ids(followers)
	followingIDs := ids(following)

	r := &Report{}
	for _, u := range following {
		if u.ID == "" {
			continue
		}
		if _, ok := followerIDs[u.ID]; !ok {
			r.TheyDontFollowBack = append(r.TheyDontFollowBack, u)
		}
	}
	for _, u := range followers {
		if u.ID == "" {
			continue
		}
		if _, ok := followingIDs[u.ID]; ok {
			r.Mutual = append(r.Mutual, u)
		} else {
			r.YouDontFollowBack = append(r.YouDontFollowBack, u)
		}
	}
	return r
}

func ids(rs []record.Record) map[string]struct{} {
	m := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		m[r.ID] = struct{}{}
	}
	return m
}

// Save writes every non-empty partition to its own JSON file in dir and
// returns the paths written. A failing file does not stop the others; the
// first error is returned.
func (r *Report) Save(ctx context.Context, dir string, logger *slog.Logger) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrNoOutputDir
	}
	if logger == nil {
		logger = slog.Default()
	}

	var written []string
	var firstErr error
	for _, part := range r.parts() {
		if len(part.records) == 0 {
			continue
		}
		path := filepath.Join(dir, part.file)
		if err := harvest.NewJSONFileSink(path).WriteAll(ctx, part.records); err != nil {
			logger.Error("report: write failed", "file", part.file, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("report: %s: %w", part.file, err)
			}
			continue
		}
		logger.Info("report: written", "file", part.file, "records", len(part.records))
		written = append(written, path)
	}
	return written, firstErr
}

type part struct {
	label   string
	file    string
	records []record.Record
}

func (r *Report) parts() []part {
	return []part{
		{"They don't follow you back", TheyDontFollowBackFile, r.TheyDontFollowBack},
		{"You don't follow them back", YouDontFollowBackFile, r.YouDontFollowBack},
		{"Follow each other", MutualFile, r.Mutual},
	}
}

// Summary renders the partition sizes as a table.
func (r *Report) Summary(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Relation", "Accounts"})
	for _, p := range r.parts() {
		t.AppendRow(table.Row{p.label, len(p.records)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// Load reads a harvested list. Files ending in .jsonl are read as one
// record per line, anything else as a JSON array.
func Load(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	defer f.Close()

	var recs []record.Record
	if strings.HasSuffix(path, ".jsonl") {
		recs, err = record.ReadLines(f)
	} else {
		recs, err = record.ReadJSON(f)
	}
	if err != nil {
		return nil, fmt.Errorf("report: %s: %w", path, err)
	}
	return recs, nil
}
