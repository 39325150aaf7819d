package mutex

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMutex is a SETNX lock shared by every scheduler process that talks
// to the same Redis.
type RedisMutex struct {
	client redis.UniversalClient
	owner  string
}

func NewRedisMutex(client redis.UniversalClient) *RedisMutex {
	host, _ := os.Hostname()
	return &RedisMutex{
		client: client,
		owner:  host + ":" + strconv.Itoa(os.Getpid()),
	}
}

func (m *RedisMutex) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.client.SetNX(ctx, key, m.owner, ttl).Result()
}

// Unlock deletes key only while this process still owns it.
func (m *RedisMutex) Unlock(ctx context.Context, key string) error {
	err := unlockScript.Run(ctx, m.client, []string{key}, m.owner).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
