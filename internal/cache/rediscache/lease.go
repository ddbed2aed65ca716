package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease makes sure only one process runs a poll cycle for a credential at a time.
type Lease struct {
	c     *redis.Client
	owner string
}

func NewLease(c *redis.Client) *Lease {
	return &Lease{c: c, owner: uuid.NewString()}
}

// TryAcquire takes key for ttl. It returns false when another holder has it.
func (l *Lease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.c.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis lease acquire")
	}
	return ok, nil
}

// Release drops key if this lease still owns it.
func (l *Lease) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.c, []string{key}, l.owner).Err(); err != nil {
		return errors.Wrap(err, "redis lease release")
	}
	return nil
}
