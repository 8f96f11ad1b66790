// Package state holds the resumable sync state and the stores that persist it.
//
// The state document is the Singer state:
//
//	{
//	  "currently_syncing": ["campaign", "1234567890"],
//	  "bookmarks": {"campaign_performance_report": {"1234567890": "2024-05-01"}}
//	}
//
// currently_syncing names the (stream, customer) pair in progress and is
// omitted once a run completes.
package state

import (
	"bytes"

	"github.com/ajitpratap0/adsync/pkg/errors"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
)

// Checkpoint is the (stream, customer) pair a run was processing
type Checkpoint struct {
	StreamID   string
	CustomerID string
}

// MarshalJSON encodes the checkpoint as a two element array; empty members are null
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	return jsonpkg.Marshal([2]*string{nullable(c.StreamID), nullable(c.CustomerID)})
}

// UnmarshalJSON accepts null, or an array of up to two strings or nulls
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	*c = Checkpoint{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var pair []*string
	if err := jsonpkg.Unmarshal(data, &pair); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "currently_syncing must be a [stream, customer] array")
	}
	if len(pair) > 2 {
		return errors.Newf(errors.ErrorTypeState, "currently_syncing has %d elements, expected 2", len(pair))
	}
	if len(pair) > 0 && pair[0] != nil {
		c.StreamID = *pair[0]
	}
	if len(pair) > 1 && pair[1] != nil {
		c.CustomerID = *pair[1]
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// State is the persisted sync state
type State struct {
	CurrentlySyncing *Checkpoint `json:"currently_syncing,omitempty"`
	// Bookmarks maps stream -> customer ID -> replication key value
	Bookmarks map[string]map[string]string `json:"bookmarks,omitempty"`
}

// New returns an empty state
func New() *State {
	return &State{}
}

// Parse decodes a state document. Empty input yields an empty state.
func Parse(data []byte) (*State, error) {
	st := New()
	if len(bytes.TrimSpace(data)) == 0 {
		return st, nil
	}
	if err := jsonpkg.Unmarshal(data, st); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "invalid state JSON")
	}
	return st, nil
}

// Marshal encodes the state document
func (s *State) Marshal() ([]byte, error) {
	data, err := jsonpkg.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}
	return data, nil
}

// Resume returns the checkpointed stream and customer, empty when none
func (s *State) Resume() (streamID, customerID string) {
	if s.CurrentlySyncing == nil {
		return "", ""
	}
	return s.CurrentlySyncing.StreamID, s.CurrentlySyncing.CustomerID
}

// SetCurrentlySyncing records the pair about to be synced
func (s *State) SetCurrentlySyncing(streamID, customerID string) {
	s.CurrentlySyncing = &Checkpoint{StreamID: streamID, CustomerID: customerID}
}

// ClearCurrentlySyncing removes the checkpoint
func (s *State) ClearCurrentlySyncing() {
	s.CurrentlySyncing = nil
}

// Bookmark returns the replication key value reached for (stream, customer)
func (s *State) Bookmark(streamID, customerID string) string {
	return s.Bookmarks[streamID][customerID]
}

// SetBookmark records the replication key value reached for (stream, customer)
func (s *State) SetBookmark(streamID, customerID, value string) {
	if s.Bookmarks == nil {
		s.Bookmarks = make(map[string]map[string]string)
	}
	if s.Bookmarks[streamID] == nil {
		s.Bookmarks[streamID] = make(map[string]string)
	}
	s.Bookmarks[streamID][customerID] = value
}
