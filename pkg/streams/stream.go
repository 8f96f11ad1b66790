// Package streams contains the per-stream sync collaborators: given one
// catalog entry and one customer, a Stream queries the platform and emits
// the resulting records.
package streams

import (
	"context"
	"sort"

	"github.com/ajitpratap0/adsync/pkg/catalog"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/googleads"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/state"
)

// Searcher runs GAQL queries against a customer
type Searcher interface {
	Search(ctx context.Context, customerID, query string) ([]googleads.Row, error)
}

// RecordWriter receives extracted records
type RecordWriter interface {
	WriteRecord(stream string, record interface{}) error
}

// Target is one account to sync, reached through LoginCustomerID
type Target struct {
	LoginCustomerID string
	CustomerID      string
}

// Request carries everything a Stream needs for one (stream, customer) sync
type Request struct {
	Client Searcher
	Target Target
	Entry  *catalog.Entry
	Config *config.Config
	// State is shared across the run; streams advance bookmarks in place
	State *state.State
	Limit int

	Output RecordWriter
	// Sink persists State after a bookmark moves; may be nil
	Sink    state.Sink
	Metrics *metrics.SyncMetrics
}

// Stream syncs one catalog entry for one customer
type Stream interface {
	Sync(ctx context.Context, req Request) error
}

// Incremental is implemented by streams that bookmark on a replication key
type Incremental interface {
	ReplicationKeyFor(entry *catalog.Entry) string
}

// StreamFunc adapts a function to the Stream interface
type StreamFunc func(ctx context.Context, req Request) error

// Sync implements Stream
func (f StreamFunc) Sync(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Registry maps tap_stream_id to its Stream
type Registry struct {
	streams map[string]Stream
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]Stream)}
}

// Register adds or replaces the stream for id
func (r *Registry) Register(id string, s Stream) {
	r.streams[id] = s
}

// Get returns the stream registered for id
func (r *Registry) Get(id string) (Stream, bool) {
	s, ok := r.streams[id]
	return s, ok
}

// IDs returns the registered stream IDs in ascending order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
