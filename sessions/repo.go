package sessions

import "context"

// Repo persists session values as strings by key. Writes are last-write-wins per key;
// there is no transaction across keys.
// Get returns errors.ErrNotFound for a key that has never been set or has been deleted.
type Repo interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
