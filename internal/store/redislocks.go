package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Lua scripts make each lock operation a single atomic Redis call, matching
// the one-transaction-per-operation rule the SQLite backend gets from its
// database. Return codes: 1 granted, 0 no live lock, -1 held by another.
var (
	redisAcquireScript = redis.NewScript(`
		local holder = redis.call('GET', KEYS[1])
		if holder and holder ~= ARGV[1] then
			return -1
		end
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
		return 1`)

	redisRenewScript = redis.NewScript(`
		local holder = redis.call('GET', KEYS[1])
		if not holder then
			return 0
		end
		if holder ~= ARGV[1] then
			return -1
		end
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
		return 1`)

	redisReleaseScript = redis.NewScript(`
		local holder = redis.call('GET', KEYS[1])
		if not holder then
			return 1
		end
		if holder ~= ARGV[1] then
			return -1
		end
		redis.call('DEL', KEYS[1])
		return 1`)
)

// RedisLockStore keeps lock state in Redis instead of the primary database,
// for deployments running several stateless daemon replicas against one
// inventory. Redis key TTLs replace the expiry reaper: an abandoned lock
// evaporates on its own. Subject existence still comes from the inventory
// store via the SubjectChecker.
type RedisLockStore struct {
	client   *redis.Client
	subjects SubjectChecker
	lease    time.Duration
}

// NewRedisLockStore wires a lock store over an existing Redis client.
func NewRedisLockStore(client *redis.Client, subjects SubjectChecker, lease time.Duration) *RedisLockStore {
	return &RedisLockStore{client: client, subjects: subjects, lease: lease}
}

func fieldLockKey(assetID, fieldID string) string {
	return fmt.Sprintf("lock:field:%s:%s", assetID, fieldID)
}

func recordLockKey(fieldID string) string {
	return fmt.Sprintf("lock:record:%s", fieldID)
}

func (r *RedisLockStore) AcquireFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error) {
	live, err := r.fieldSubjectLive(ctx, assetID, fieldID)
	if err != nil {
		return LockResult{}, err
	}
	if !live {
		return LockResult{Reason: ReasonNotFound}, nil
	}
	return r.runScript(ctx, redisAcquireScript, fieldLockKey(assetID, fieldID), holderID)
}

func (r *RedisLockStore) RenewFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error) {
	live, err := r.fieldSubjectLive(ctx, assetID, fieldID)
	if err != nil {
		return LockResult{}, err
	}
	if !live {
		return LockResult{Reason: ReasonNotFound}, nil
	}
	return r.runScript(ctx, redisRenewScript, fieldLockKey(assetID, fieldID), holderID)
}

func (r *RedisLockStore) ReleaseFieldLock(ctx context.Context, assetID, fieldID, holderID string) (LockResult, error) {
	return r.runScript(ctx, redisReleaseScript, fieldLockKey(assetID, fieldID), holderID)
}

func (r *RedisLockStore) FieldLockState(ctx context.Context, assetID, fieldID string) (LockState, error) {
	return r.lockState(ctx, fieldLockKey(assetID, fieldID))
}

func (r *RedisLockStore) AcquireRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error) {
	live, err := r.subjects.FieldExists(ctx, fieldID)
	if err != nil {
		return LockResult{}, err
	}
	if !live {
		return LockResult{Reason: ReasonNotFound}, nil
	}
	return r.runScript(ctx, redisAcquireScript, recordLockKey(fieldID), holderID)
}

func (r *RedisLockStore) RenewRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error) {
	live, err := r.subjects.FieldExists(ctx, fieldID)
	if err != nil {
		return LockResult{}, err
	}
	if !live {
		return LockResult{Reason: ReasonNotFound}, nil
	}
	return r.runScript(ctx, redisRenewScript, recordLockKey(fieldID), holderID)
}

func (r *RedisLockStore) ReleaseRecordLock(ctx context.Context, fieldID, holderID string) (LockResult, error) {
	return r.runScript(ctx, redisReleaseScript, recordLockKey(fieldID), holderID)
}

func (r *RedisLockStore) RecordLockState(ctx context.Context, fieldID string) (LockState, error) {
	return r.lockState(ctx, recordLockKey(fieldID))
}

func (r *RedisLockStore) fieldSubjectLive(ctx context.Context, assetID, fieldID string) (bool, error) {
	if ok, err := r.subjects.AssetExists(ctx, assetID); err != nil || !ok {
		return false, err
	}
	return r.subjects.FieldExists(ctx, fieldID)
}

func (r *RedisLockStore) runScript(ctx context.Context, script *redis.Script, key, holderID string) (LockResult, error) {
	code, err := script.Run(ctx, r.client, []string{key}, holderID, r.lease.Milliseconds()).Int()
	if err != nil {
		return LockResult{}, err
	}
	switch code {
	case 1:
		return LockResult{Granted: true, ExpiresAt: time.Now().Add(r.lease).UTC()}, nil
	case 0:
		return LockResult{Reason: ReasonNoLiveLock}, nil
	default:
		return LockResult{Reason: ReasonHeldByAnother}, nil
	}
}

func (r *RedisLockStore) lockState(ctx context.Context, key string) (LockState, error) {
	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return LockState{}, err
	}

	holder, err := get.Result()
	if err == redis.Nil {
		return LockState{}, nil
	}
	if err != nil {
		return LockState{}, err
	}
	state := LockState{Locked: true, Holder: holder}
	if d, err := ttl.Result(); err == nil && d > 0 {
		state.ExpiresAt = time.Now().Add(d).UTC()
	}
	return state, nil
}
