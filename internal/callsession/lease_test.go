package callsession

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLease_ExtendIsTokenFenced(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	l := NewMemoryLease()
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "stu1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	// A stranger's token must not refresh the lease.
	if ok, err := l.Extend(ctx, "stu1", "bogus", time.Minute); err != nil || ok {
		t.Fatalf("foreign token extended the lease: ok=%v err=%v", ok, err)
	}

	// The holder refreshes shortly before expiry; the lease then outlives the
	// original TTL.
	now = now.Add(50 * time.Second)
	if ok, err := l.Extend(ctx, "stu1", token, time.Minute); err != nil || !ok {
		t.Fatalf("holder extend: ok=%v err=%v", ok, err)
	}
	now = now.Add(50 * time.Second) // past the original expiry, within the extension
	if _, ok, _ := l.Acquire(ctx, "stu1", time.Minute); ok {
		t.Fatalf("extended lease must still block acquisition")
	}

	// Once expired, extend fails and the slot is free again.
	now = now.Add(time.Minute)
	if ok, _ := l.Extend(ctx, "stu1", token, time.Minute); ok {
		t.Fatalf("expired lease must not be extendable")
	}
	if _, ok, _ := l.Acquire(ctx, "stu1", time.Minute); !ok {
		t.Fatalf("expected acquisition after expiry")
	}
}

func TestMemoryLease_ReleaseIsTokenFenced(t *testing.T) {
	l := NewMemoryLease()
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "stu1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := l.Release(ctx, "stu1", "bogus"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if _, ok, _ := l.Acquire(ctx, "stu1", time.Minute); ok {
		t.Fatalf("foreign token must not free the slot")
	}

	if err := l.Release(ctx, "stu1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := l.Acquire(ctx, "stu1", time.Minute); !ok {
		t.Fatalf("expected acquisition after release")
	}
}
