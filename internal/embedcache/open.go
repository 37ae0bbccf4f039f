package embedcache

import (
	"context"
	"fmt"
)

// Store is a closable vector cache.
type Store interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, vec []float32) error
	Close() error
}

// Open returns the cache named by kind: "memory", "bolt" or "sqlite".
// "none" and "" return a nil Store.
func Open(ctx context.Context, kind, path string) (Store, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemory(), nil
	case "bolt":
		b, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "sqlite":
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown embedding cache %q", kind)
	}
}
