package callsession

import (
	"context"
	"sync"
	"time"

	"counseling-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AdmissionLease is the per-student mutual exclusion primitive guarding call
// admission. A lease is TTL-bounded so a crashed process cannot block a
// student's calls past the TTL.
type AdmissionLease interface {
	// Acquire takes the student's slot. Returns ok=false when another caller
	// holds it. token fences Release against TTL expiry followed by a new
	// holder.
	Acquire(ctx context.Context, studentID string, ttl time.Duration) (token string, ok bool, err error)

	// Extend refreshes the TTL on a held lease so long calls outlive the
	// acquisition TTL. Returns ok=false when token no longer holds the slot.
	Extend(ctx context.Context, studentID, token string, ttl time.Duration) (bool, error)

	// Release frees the slot if token still holds it; otherwise a no-op.
	Release(ctx context.Context, studentID, token string) error
}

// RedisLease backs the admission lease with Redis so admission is exclusive
// across API replicas.
type RedisLease struct {
	rdb *redis.Client

	// Prefix namespaces lease keys; defaults to "call_lease".
	Prefix string
}

func NewRedisLease(rdb *redis.Client) *RedisLease {
	return &RedisLease{rdb: rdb, Prefix: "call_lease"}
}

func (l *RedisLease) key(studentID string) string {
	return l.Prefix + ":" + studentID
}

func (l *RedisLease) Acquire(ctx context.Context, studentID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := utils.AcquireLease(ctx, l.rdb, l.key(studentID), token, ttl)
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLease) Extend(ctx context.Context, studentID, token string, ttl time.Duration) (bool, error) {
	return utils.ExtendLease(ctx, l.rdb, l.key(studentID), token, ttl)
}

func (l *RedisLease) Release(ctx context.Context, studentID, token string) error {
	return utils.ReleaseLease(ctx, l.rdb, l.key(studentID), token)
}

// MemoryLease is a process-local AdmissionLease for tests and single-node
// deployments. Expiry is checked lazily on Acquire.
type MemoryLease struct {
	mu    sync.Mutex
	held  map[string]memoryLeaseEntry
	clock func() time.Time
}

type memoryLeaseEntry struct {
	token     string
	expiresAt time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: map[string]memoryLeaseEntry{}, clock: time.Now}
}

func (l *MemoryLease) Acquire(ctx context.Context, studentID string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.held[studentID]; ok && e.expiresAt.After(now) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[studentID] = memoryLeaseEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLease) Extend(ctx context.Context, studentID, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	e, ok := l.held[studentID]
	if !ok || e.token != token || !e.expiresAt.After(now) {
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	l.held[studentID] = e
	return true, nil
}

func (l *MemoryLease) Release(ctx context.Context, studentID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[studentID]; ok && e.token == token {
		delete(l.held, studentID)
	}
	return nil
}
