package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// releaseLease deletes the lease only while owner still holds it.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLease takes a named lease for ttl. Expiry workers take the sweep
// lease so that only one replica sweeps at a time.
func (c *Cache) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "lease:"+name, owner, ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseLease(ctx context.Context, name, owner string) error {
	return releaseLease.Run(ctx, c.client, []string{"lease:" + name}, owner).Err()
}
