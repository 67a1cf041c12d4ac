// Package objectstore provides a NATS JetStream implementation of core.ObjectStore.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	opDownload = "objectstore.download"
	opUpload   = "objectstore.upload"
)

// NatsObjectStore implements core.ObjectStore on a single JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it if it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object. A missing key is reported as core.KindNotFound.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, core.New(core.KindNotFound, opDownload,
				fmt.Sprintf("object '%s' not found in bucket '%s'", key, n.bucket))
		}

		return nil, core.Wrap(core.KindStoreUnavailable, opDownload,
			fmt.Sprintf("failed to get object '%s' from bucket '%s'", key, n.bucket), err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, core.Wrap(core.KindIO, opDownload, fmt.Sprintf("failed to read object '%s'", key), readErr)
	}

	if closeErr != nil {
		return data, core.Wrap(core.KindIO, opDownload, fmt.Sprintf("failed to close object '%s'", key), closeErr)
	}

	return data, nil
}

// Upload saves data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return core.Wrap(core.KindStoreUnavailable, opUpload,
			fmt.Sprintf("failed to put object '%s' to bucket '%s'", key, n.bucket), err)
	}

	return nil
}
