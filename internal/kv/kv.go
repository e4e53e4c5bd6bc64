// Package kv provides the durable key-value substrate the conversation store
// persists into. Values are opaque strings; keys are namespaced per user.
package kv

import (
	"context"
)

// Store is a minimal durable key-value interface. Get reports a missing key
// through the found flag, not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}
