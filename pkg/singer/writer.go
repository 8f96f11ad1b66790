// Package singer writes the SCHEMA, RECORD and STATE messages of the Singer
// protocol as JSON lines.
package singer

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ajitpratap0/adsync/pkg/errors"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/state"
)

// Message types
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

type schemaMessage struct {
	Type               string             `json:"type"`
	Stream             string             `json:"stream"`
	Schema             jsonpkg.RawMessage `json:"schema"`
	KeyProperties      []string           `json:"key_properties"`
	BookmarkProperties []string           `json:"bookmark_properties,omitempty"`
}

type recordMessage struct {
	Type          string      `json:"type"`
	Stream        string      `json:"stream"`
	Record        interface{} `json:"record"`
	TimeExtracted string      `json:"time_extracted,omitempty"`
}

type stateMessage struct {
	Type  string       `json:"type"`
	Value *state.State `json:"value"`
}

// Writer emits messages to an output stream, one JSON document per line.
// It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewWriter creates a writer on out, normally os.Stdout
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, now: time.Now}
}

// WriteSchema emits a SCHEMA message. A nil keyProperties is written as [].
func (w *Writer) WriteSchema(stream string, schema jsonpkg.RawMessage, keyProperties, bookmarkProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	if len(schema) == 0 {
		schema = jsonpkg.RawMessage(`{}`)
	}
	return w.write(schemaMessage{
		Type:               TypeSchema,
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keyProperties,
		BookmarkProperties: bookmarkProperties,
	})
}

// WriteRecord emits a RECORD message stamped with the extraction time
func (w *Writer) WriteRecord(stream string, record interface{}) error {
	return w.write(recordMessage{
		Type:          TypeRecord,
		Stream:        stream,
		Record:        record,
		TimeExtracted: w.now().UTC().Format(time.RFC3339Nano),
	})
}

// WriteState emits a STATE message
func (w *Writer) WriteState(st *state.State) error {
	return w.write(stateMessage{Type: TypeState, Value: st})
}

// Save implements state.Sink by emitting a STATE message
func (w *Writer) Save(_ context.Context, st *state.State) error {
	return w.WriteState(st)
}

func (w *Writer) write(msg interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := jsonpkg.MarshalLine(w.out, msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write message")
	}
	return nil
}
