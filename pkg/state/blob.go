package state

import (
	"context"
	stderrors "errors"

	"github.com/ajitpratap0/adsync/pkg/errors"
	"go.uber.org/zap"
)

// errObjectNotFound is returned by a blobBackend when nothing was saved yet
var errObjectNotFound = stderrors.New("state object not found")

// blobBackend reads and writes a single object in remote storage
type blobBackend interface {
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, data []byte) error
	location() string
	close() error
}

// BlobStore keeps the state as one object in cloud storage
type BlobStore struct {
	backend blobBackend
	logger  *zap.Logger
}

func newBlobStore(backend blobBackend, logger *zap.Logger) *BlobStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		backend: backend,
		logger:  logger.With(zap.String("component", "state"), zap.String("location", backend.location())),
	}
}

// Load reads the state object. A missing object yields an empty state.
func (b *BlobStore) Load(ctx context.Context) (*State, error) {
	data, err := b.backend.read(ctx)
	if stderrors.Is(err, errObjectNotFound) {
		b.logger.Info("no saved state found, starting fresh")
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to read state object").
			WithDetail("location", b.backend.location())
	}
	return Parse(data)
}

// Save overwrites the state object
func (b *BlobStore) Save(ctx context.Context, st *State) error {
	data, err := st.Marshal()
	if err != nil {
		return err
	}
	if err := b.backend.write(ctx, data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state object").
			WithDetail("location", b.backend.location())
	}
	b.logger.Debug("state saved", zap.Int("bytes", len(data)))
	return nil
}

// Close releases the storage client
func (b *BlobStore) Close() error {
	if err := b.backend.close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to close state store").
			WithDetail("location", b.backend.location())
	}
	return nil
}
