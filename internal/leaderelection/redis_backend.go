// Package leaderelection - Redis-based singleton-guard backend
package leaderelection

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend implements the singleton guard using a Redis key whose
// value is a JSON-encoded LockRecord rather than a bare instance-ID
// string, mirroring fileBackend's record format so GetLockRecord
// behaves identically across backends regardless of deployment shape.
//
// This backend is suitable for:
//   - Multi-host deployments (distributed agents)
//   - Production environments needing automatic lease expiry
//
// How it works:
//   - SET key record NX EX ttl: only the first instance to race wins
//   - The leader renews the key's TTL every RenewDeadline
//   - A Lua script decodes the stored record and compares its
//     instance_id field before renewing or releasing, so one instance
//     can never clobber another's lease
type redisBackend struct {
	config      *LeaderElectorConfig
	redisClient *redis.Client
	lockKey     string
}

func newRedisBackend(config *LeaderElectorConfig) *redisBackend {
	lockKey := fmt.Sprintf("%s%s", config.RedisKeyPrefix, config.NodeID)
	log.Printf("[LeaderElection:Redis] using lock key: %s", lockKey)

	return &redisBackend{
		config:      config,
		redisClient: config.RedisClient,
		lockKey:     lockKey,
	}
}

// renewScript atomically renews the TTL only if the stored record's
// instance_id still matches the caller.
var renewScript = redis.NewScript(`
	local raw = redis.call('GET', KEYS[1])
	if not raw then
		return 0
	end
	local record = cjson.decode(raw)
	if record.instance_id ~= ARGV[1] then
		return 0
	end
	record.renewed_at = ARGV[2]
	redis.call('SET', KEYS[1], cjson.encode(record), 'EX', ARGV[3])
	return 1
`)

// releaseScript atomically deletes the key only if the stored
// record's instance_id still matches the caller.
var releaseScript = redis.NewScript(`
	local raw = redis.call('GET', KEYS[1])
	if not raw then
		return 0
	end
	local record = cjson.decode(raw)
	if record.instance_id ~= ARGV[1] then
		return 0
	end
	redis.call('DEL', KEYS[1])
	return 1
`)

// TryAcquire attempts to acquire leadership by setting the lock key
// to a freshly stamped LockRecord, only if the key does not exist.
func (rb *redisBackend) TryAcquire(ctx context.Context) (bool, error) {
	record := newLockRecord(rb.config)
	b, err := record.encode()
	if err != nil {
		return false, fmt.Errorf("encode lock record: %w", err)
	}

	ok, err := rb.redisClient.SetNX(ctx, rb.lockKey, b, rb.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX error: %w", err)
	}
	if ok {
		log.Printf("[LeaderElection:Redis] acquired leadership (key: %s, ttl: %s)", rb.lockKey, rb.config.LeaseDuration)
	}
	return ok, nil
}

// Renew refreshes the lock key's TTL and RenewedAt timestamp, only if
// this instance is still the recorded holder.
func (rb *redisBackend) Renew(ctx context.Context) error {
	result, err := renewScript.Run(ctx, rb.redisClient,
		[]string{rb.lockKey},
		rb.config.InstanceID,
		time.Now().Format(time.RFC3339Nano),
		int(rb.config.LeaseDuration.Seconds()),
	).Result()
	if err != nil {
		return fmt.Errorf("redis renew error: %w", err)
	}
	if renewed, ok := result.(int64); !ok || renewed != 1 {
		return fmt.Errorf("failed to renew: not the current leader")
	}
	return nil
}

// Release deletes the lock key, only if this instance is still the
// recorded holder.
func (rb *redisBackend) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, rb.redisClient, []string{rb.lockKey}, rb.config.InstanceID).Result()
	if err != nil {
		return fmt.Errorf("redis release error: %w", err)
	}
	if released, ok := result.(int64); ok && released == 1 {
		log.Printf("[LeaderElection:Redis] released leadership (key: %s)", rb.lockKey)
	} else {
		log.Printf("[LeaderElection:Redis] not the leader, nothing to release")
	}
	return nil
}

// GetLeader decodes the stored record and returns its instance ID.
func (rb *redisBackend) GetLeader(ctx context.Context) (string, error) {
	record, err := rb.GetLockRecord(ctx)
	if err != nil || record == nil {
		return "", err
	}
	return record.InstanceID, nil
}

// GetLockRecord implements recordHolder.
func (rb *redisBackend) GetLockRecord(ctx context.Context) (*LockRecord, error) {
	b, err := rb.redisClient.Get(ctx, rb.lockKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	record, err := decodeLockRecord(b)
	if err != nil {
		return nil, fmt.Errorf("decode lock record: %w", err)
	}
	return &record, nil
}

// Close releases leadership if held.
func (rb *redisBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rb.Release(ctx)
}
