package throttle

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// Values are unix milliseconds. An empty second element means no previous value.
var advanceScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
local arrival = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
if prev and arrival - tonumber(prev) < interval then
	return {0, prev}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
if prev then
	return {1, prev}
end
return {1, ''}
`)

var restoreScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
if ARGV[2] == '' then
	redis.call('DEL', KEYS[1])
else
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
end
return 1
`)

// RedisStore shares windows between processes. Keys expire one interval
// after the last admission, when any arrival would be admitted anyway.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + identity
}

func (s *RedisStore) Advance(ctx context.Context, identity string, arrival time.Time, interval time.Duration) (time.Time, bool, error) {
	ttl := interval.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	res, err := advanceScript.Run(ctx, s.client, []string{s.key(identity)},
		arrival.UnixMilli(), interval.Milliseconds(), ttl,
	).Slice()
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "redis advance")
	}
	if len(res) != 2 {
		return time.Time{}, false, errors.Errorf("redis advance: unexpected reply %v", res)
	}

	admitted, _ := res[0].(int64)
	prev, err := parseMillis(res[1])
	if err != nil {
		return time.Time{}, false, err
	}
	return prev, admitted == 1, nil
}

func (s *RedisStore) Restore(ctx context.Context, identity string, arrival, prev time.Time, interval time.Duration) error {
	var (
		prevArg string
		ttl     int64 = 1
	)
	// A previous window that has already run out is dropped rather than restored.
	if remaining := time.Until(prev.Add(interval)); !prev.IsZero() && remaining > 0 {
		prevArg = strconv.FormatInt(prev.UnixMilli(), 10)
		ttl = max(remaining.Milliseconds(), 1)
	}
	err := restoreScript.Run(ctx, s.client, []string{s.key(identity)},
		strconv.FormatInt(arrival.UnixMilli(), 10), prevArg, ttl,
	).Err()
	return errors.Wrap(err, "redis restore")
}

func parseMillis(v interface{}) (time.Time, error) {
	str, _ := v.(string)
	if str == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored window %q", str)
	}
	return time.UnixMilli(ms), nil
}
