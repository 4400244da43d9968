// Package persist writes accumulated records to durable sinks after each
// harvest cycle.
package persist

import (
	"context"

	"github.com/hazyhaar/scrollharvest/harvest/record"
)

// Persister is the output interface. WriteAll replaces the sink's contents
// with the full accumulated set; WriteDelta adds records not yet written.
type Persister interface {
	WriteAll(ctx context.Context, records []record.Record) error
	WriteDelta(ctx context.Context, records []record.Record) error
	Close() error
}
