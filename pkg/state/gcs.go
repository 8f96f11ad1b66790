package state

import (
	"context"
	stderrors "errors"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type gcsBackend struct {
	client *storage.Client
	bucket string
	object *storage.ObjectHandle
}

// NewGCSStore creates a store backed by gs://bucket/key. credentialsFile is
// optional; application default credentials are used without it.
func NewGCSStore(ctx context.Context, bucket, key, credentialsFile string, logger *zap.Logger) (*BlobStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return newBlobStore(&gcsBackend{
		client: client,
		bucket: bucket,
		object: client.Bucket(bucket).Object(key),
	}, logger), nil
}

func (g *gcsBackend) read(ctx context.Context) ([]byte, error) {
	r, err := g.object.NewReader(ctx)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return nil, errObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *gcsBackend) write(ctx context.Context, data []byte) error {
	w := g.object.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (g *gcsBackend) location() string {
	return "gs://" + g.bucket + "/" + g.object.ObjectName()
}

func (g *gcsBackend) close() error {
	return g.client.Close()
}
