package lock

import (
	"context"
	"errors"
	"time"

	"autopay/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis lock
// ============================================================================
//
// Acquire: SET key owner NX PX ttl
// Release: delete only if the key still holds our owner token, so a holder
// whose lock expired cannot remove the next holder's lock.
//
// The lock narrows the settlement race across processes. Correctness still
// rests on the database compare-and-set; a lost lock costs a redundant
// verification call, never a double settlement.
// ============================================================================

var (
	ErrLockFailed = errors.New("could not acquire lock")
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DistributedLock is a single named lock held by one owner token.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// Per-tx_ref settlement lock
// ============================================================================
//
// A payment is usually reported twice at almost the same moment: the gateway
// webhook and the payer's browser returning through the callback. Both reach
// the settlement path for the same tx_ref, often on different replicas. The
// lock lets one of them verify and commit while the other waits, then finds
// the row completed on its re-read and answers AlreadySettled without calling
// the gateway again.
//
// The TTL bounds how long a crashed holder can stall the reference. It must
// cover a gateway verify round trip; it does not need to cover the ledger
// mirror, which runs after release.
// ============================================================================

// Locker hands out settlement locks keyed by tx_ref.
type Locker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewLocker(client *redis.Client, cfg *config.RedisConfig) *Locker {
	return &Locker{
		client:        client,
		ttl:           cfg.LockTTL,
		retryInterval: cfg.RetryInterval,
		maxRetries:    cfg.MaxRetries,
	}
}

// SettlementKey namespaces the lock so it cannot collide with other users of
// the same Redis database.
func SettlementKey(txRef string) string {
	return "autopay:settle:" + txRef
}

// Acquire blocks until the tx_ref lock is held or ctx ends. release is safe to
// call after ctx is cancelled.
//
// Every acquisition gets a fresh owner token, so a release that runs after
// the TTL expired and another caller took the key is a no-op instead of
// unlocking someone else. Release errors are dropped: the key expires on its
// own and nothing the caller could do would help.
func (l *Locker) Acquire(ctx context.Context, txRef string) (func(), error) {
	dl := NewDistributedLock(l.client, SettlementKey(txRef), uuid.NewString(), l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = dl.Unlock(unlockCtx)
	}, nil
}
