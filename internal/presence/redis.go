package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const onlineSetKey = "presence:online"

// The add and remove scripts make the set update and the edge decision one
// atomic step, so two instances cannot both observe the first connection.
const connectScript = `
local added = redis.call("SADD", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
if added == 1 and redis.call("SCARD", KEYS[1]) == 1 then
  return 1
end
return 0
`

const disconnectScript = `
local removed = redis.call("SREM", KEYS[1], ARGV[1])
if removed == 0 then
  return 0
end
if redis.call("SCARD", KEYS[1]) == 0 then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[2])
  return 1
end
return 0
`

// RedisDirectory shares presence between instances. Handle sets expire after
// ttl unless refreshed with Touch, so a crashed instance cannot pin a user online.
type RedisDirectory struct {
	client     redis.UniversalClient
	ttl        time.Duration
	connect    *redis.Script
	disconnect *redis.Script
}

func NewRedisDirectory(client redis.UniversalClient, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisDirectory{
		client:     client,
		ttl:        ttl,
		connect:    redis.NewScript(connectScript),
		disconnect: redis.NewScript(disconnectScript),
	}
}

func handlesKey(userID int64) string {
	return fmt.Sprintf("presence:%d", userID)
}

func (d *RedisDirectory) Connect(ctx context.Context, userID int64, handle string) (bool, error) {
	id := strconv.FormatInt(userID, 10)
	edge, err := d.connect.Run(ctx, d.client,
		[]string{handlesKey(userID), onlineSetKey},
		handle, int(d.ttl.Seconds()), id,
	).Int()
	if err != nil {
		return false, err
	}
	return edge == 1, nil
}

func (d *RedisDirectory) Disconnect(ctx context.Context, userID int64, handle string) (bool, error) {
	id := strconv.FormatInt(userID, 10)
	edge, err := d.disconnect.Run(ctx, d.client,
		[]string{handlesKey(userID), onlineSetKey},
		handle, id,
	).Int()
	if err != nil {
		return false, err
	}
	return edge == 1, nil
}

// Touch refreshes the expiry of userID's handle set.
func (d *RedisDirectory) Touch(ctx context.Context, userID int64) error {
	return d.client.Expire(ctx, handlesKey(userID), d.ttl).Err()
}

func (d *RedisDirectory) IsOnline(ctx context.Context, userID int64) (bool, error) {
	size, err := d.client.SCard(ctx, handlesKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return size > 0, nil
}

// Online lists identities in the online set whose handle set has not expired.
func (d *RedisDirectory) Online(ctx context.Context) ([]int64, error) {
	members, err := d.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		online, err := d.IsOnline(ctx, id)
		if err != nil {
			return nil, err
		}
		if !online {
			_ = d.client.SRem(ctx, onlineSetKey, member).Err()
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
