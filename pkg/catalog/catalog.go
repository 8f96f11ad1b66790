// Package catalog models the Singer catalog: the streams a run may sync,
// their JSON schemas and the per-stream and per-field selection metadata.
package catalog

import (
	"os"

	"github.com/ajitpratap0/adsync/pkg/errors"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
)

// Metadata keys read from catalog entries
const (
	KeySelected             = "selected"
	KeySelectedByDefault    = "selected-by-default"
	KeyInclusion            = "inclusion"
	KeyTableKeyProperties   = "table-key-properties"
	KeyReplicationKey       = "replication-key"
	KeyValidReplicationKeys = "valid-replication-keys"
	KeyReplicationMethod    = "forced-replication-method"

	InclusionAutomatic   = "automatic"
	InclusionAvailable   = "available"
	InclusionUnsupported = "unsupported"
)

// Catalog is a parsed Singer catalog
type Catalog struct {
	Streams []*Entry `json:"streams"`
}

// Entry is one stream of the catalog
type Entry struct {
	TapStreamID string             `json:"tap_stream_id"`
	Stream      string             `json:"stream"`
	Schema      jsonpkg.RawMessage `json:"schema"`
	Metadata    []Metadata         `json:"metadata"`
}

// Metadata attaches key/value metadata to the node addressed by Breadcrumb.
// An empty breadcrumb addresses the stream itself; ["properties", name]
// addresses a top-level field.
type Metadata struct {
	Breadcrumb []string               `json:"breadcrumb"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Load reads and parses a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read catalog").
			WithDetail("path", path)
	}
	return Parse(data)
}

// Parse decodes a catalog document
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := jsonpkg.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid catalog JSON")
	}

	for i, e := range c.Streams {
		if e == nil || e.TapStreamID == "" {
			return nil, errors.Newf(errors.ErrorTypeValidation, "catalog stream %d has no tap_stream_id", i)
		}
		if e.Stream == "" {
			e.Stream = e.TapStreamID
		}
	}
	return &c, nil
}

// Get returns the entry with the given tap_stream_id
func (c *Catalog) Get(tapStreamID string) (*Entry, bool) {
	for _, e := range c.Streams {
		if e.TapStreamID == tapStreamID {
			return e, true
		}
	}
	return nil, false
}

// Selected returns the entries whose stream-level metadata has selected=true,
// in catalog order.
func (c *Catalog) Selected() []*Entry {
	var selected []*Entry
	for _, e := range c.Streams {
		if e.Selected() {
			selected = append(selected, e)
		}
	}
	return selected
}

// Root returns the stream-level metadata
func (e *Entry) Root() map[string]interface{} {
	return e.node(nil)
}

// Field returns the metadata of a top-level property
func (e *Entry) Field(name string) map[string]interface{} {
	return e.node([]string{"properties", name})
}

func (e *Entry) node(breadcrumb []string) map[string]interface{} {
	for _, m := range e.Metadata {
		if equalBreadcrumb(m.Breadcrumb, breadcrumb) {
			return m.Metadata
		}
	}
	return nil
}

// Selected reports whether the stream is selected for sync
func (e *Entry) Selected() bool {
	v, _ := e.Root()[KeySelected].(bool)
	return v
}

// KeyProperties returns table-key-properties, empty when unset
func (e *Entry) KeyProperties() []string {
	return stringList(e.Root()[KeyTableKeyProperties])
}

// ReplicationKey returns the bookmark field of an incremental stream.
// replication-key wins over the first valid-replication-keys entry.
func (e *Entry) ReplicationKey() string {
	root := e.Root()
	if key, ok := root[KeyReplicationKey].(string); ok && key != "" {
		return key
	}
	if keys := stringList(root[KeyValidReplicationKeys]); len(keys) > 0 {
		return keys[0]
	}
	return ""
}

// SelectedFields returns the top-level properties to extract, in metadata order
func (e *Entry) SelectedFields() []string {
	var fields []string
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 2 || m.Breadcrumb[0] != "properties" {
			continue
		}
		if fieldSelected(m.Metadata) {
			fields = append(fields, m.Breadcrumb[1])
		}
	}
	return fields
}

func fieldSelected(md map[string]interface{}) bool {
	switch md[KeyInclusion] {
	case InclusionAutomatic:
		return true
	case InclusionUnsupported:
		return false
	}
	if selected, ok := md[KeySelected].(bool); ok {
		return selected
	}
	byDefault, _ := md[KeySelectedByDefault].(bool)
	return byDefault
}

func equalBreadcrumb(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
