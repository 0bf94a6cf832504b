package utils

import (
	"context"
	"testing"
	"time"
)

func TestLeaseScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if leaseReleaseScript == nil || leaseExtendScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestLeaseHelpersRejectBadArgs(t *testing.T) {
	ctx := context.Background()

	if _, err := AcquireLease(ctx, nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseLease(ctx, nil, "k", "t"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := ExtendLease(ctx, nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
