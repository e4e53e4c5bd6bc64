package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/capitalize-ai/chatdesk/internal/nats"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// NATSStore persists values in a JetStream key-value bucket.
type NATSStore struct {
	bucket jetstream.KeyValue
}

// NewNATSStore binds to the named bucket, creating it if needed.
func NewNATSStore(ctx context.Context, client *natsclient.Client, bucket string) (*NATSStore, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "Per-user conversation collections",
			History:     1,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind KV bucket %s: %w", bucket, err)
	}

	return &NATSStore{bucket: kv}, nil
}

// Get returns the value for key, or found=false if the key does not exist.
func (s *NATSStore) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	defer func() {
		metrics.KVOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	}()

	entry, err := s.bucket.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return string(entry.Value()), true, nil
}

// Set overwrites the value for key.
func (s *NATSStore) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	defer func() {
		metrics.KVOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())
	}()

	if _, err := s.bucket.Put(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}
