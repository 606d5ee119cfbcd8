// Package persist mirrors the resident lead set across a session tier, a
// durable local tier, and a remote backup tier.
package persist

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// KeyValueStore is the capability each local tier is built on. Get returns
// (nil, nil) when the key is absent.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
}

func getJSON[T any](ctx context.Context, kv KeyValueStore, key string) (*T, error) {
	raw, err := kv.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrapf(err, "persist: decode %s", key)
	}
	return &out, nil
}

func setJSON(ctx context.Context, kv KeyValueStore, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "persist: encode %s", key)
	}
	return kv.Set(ctx, key, raw)
}
