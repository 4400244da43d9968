package harvest

import (
	"github.com/hazyhaar/scrollharvest/harvest/internal/persist"
)

// Sink is the output interface for harvested records.
type Sink = persist.Persister

// NewJSONFileSink writes an indented JSON array, replaced atomically on
// every write.
func NewJSONFileSink(path string) Sink {
	return persist.NewJSONFile(path)
}

// NewJSONLinesSink writes one record per line; deltas are appended.
func NewJSONLinesSink(path string) Sink {
	return persist.NewJSONLines(path)
}

// OpenSQLiteSink stores records in the harvest_records table of the
// database at path. An empty runID gets a fresh UUIDv7.
func OpenSQLiteSink(path, runID string) (Sink, error) {
	var opts []persist.SQLiteOption
	if runID != "" {
		opts = append(opts, persist.WithRunID(runID))
	}
	return persist.OpenSQLite(path, opts...)
}
