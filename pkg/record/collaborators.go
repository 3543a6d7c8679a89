package record

import (
	"context"
	"time"
)

// Cache receives record snapshots after load, save and delete. Keys have the
// form "<Type>-<identity>"; expiry is the implementation's fixed TTL.
type Cache interface {
	Get(key string) (map[string]string, bool)
	Set(key string, values map[string]string)
	Delete(key string)
}

// Session supplies the actor recorded in created_by and updated_by.
type Session interface {
	ActorID() int64
}

// AnonymousActor is recorded when no session is available.
const AnonymousActor int64 = 0

// Observer is told the outcome and duration of every record operation.
type Observer interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopCache struct{}

func (noopCache) Get(string) (map[string]string, bool) { return nil, false }
func (noopCache) Set(string, map[string]string)        {}
func (noopCache) Delete(string)                        {}

type noopObserver struct{}

func (noopObserver) Observe(context.Context, string, bool, time.Duration) {}

// SessionFunc adapts a function to Session.
type SessionFunc func() int64

func (f SessionFunc) ActorID() int64 { return f() }

// CacheKey is the cache key of the record of type name with identity id.
func CacheKey(name string, id int64) string {
	return name + "-" + FormatID(id)
}
