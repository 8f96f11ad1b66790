package state

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/adsync/pkg/errors"
)

// Sink receives every state persist
type Sink interface {
	Save(ctx context.Context, st *State) error
}

// Loader reads the state saved by a previous run
type Loader interface {
	Load(ctx context.Context) (*State, error)
}

// Store is a durable Sink that can also load what it saved. Close releases
// the backing client once the run is over.
type Store interface {
	Sink
	Loader
	io.Closer
}

// MultiSink saves to each sink in order and stops at the first failure
type MultiSink []Sink

// Save implements Sink
func (m MultiSink) Save(ctx context.Context, st *State) error {
	for _, sink := range m {
		if err := sink.Save(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// FileStore keeps the state in a local JSON file
type FileStore struct {
	path string
}

// NewFileStore creates a store at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Close implements Store; a file store holds nothing open between saves
func (f *FileStore) Close() error {
	return nil
}

// Load reads the state file. A missing file yields an empty state.
func (f *FileStore) Load(_ context.Context) (*State, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to read state file").
			WithDetail("path", f.path)
	}
	return Parse(data)
}

// Save replaces the state file atomically
func (f *FileStore) Save(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "state save aborted")
	}
	data, err := st.Marshal()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create temporary state file").
			WithDetail("path", f.path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state file").
			WithDetail("path", f.path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state file").
			WithDetail("path", f.path)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to replace state file").
			WithDetail("path", f.path)
	}
	return nil
}
