package app

import (
	"context"
	"testing"
	"time"
)

func TestParseClaimDecision(t *testing.T) {
	decision, err := parseClaimDecision([]interface{}{int64(1), int64(3), int64(1500)}, 60000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !decision.Allowed || decision.Claims != 3 || decision.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if decision.RetryAfterSeconds() != 2 {
		t.Fatalf("expected retry hint rounded up to 2s, got %d", decision.RetryAfterSeconds())
	}

	decision, err = parseClaimDecision([]interface{}{int64(0), int64(5), int64(-1)}, 60000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected claim over the limit to be rejected")
	}
	if decision.RetryAfterSeconds() != 60 {
		t.Fatalf("expected window fallback of 60s, got %d", decision.RetryAfterSeconds())
	}

	if _, err := parseClaimDecision("OK", 1000); err == nil {
		t.Fatal("expected error for unexpected shape")
	}
	if _, err := parseClaimDecision([]interface{}{int64(1), "1", int64(5)}, 1000); err == nil {
		t.Fatal("expected error for non-integer count")
	}
}

func TestClaimDecisionRetryAfterFloor(t *testing.T) {
	if got := (ClaimDecision{}).RetryAfterSeconds(); got != 1 {
		t.Fatalf("expected minimum hint of 1s, got %d", got)
	}
}

func TestRedisClaimLimiterKeyAndDisabled(t *testing.T) {
	limiter := NewRedisClaimLimiter(nil, "", 5, time.Minute)
	if got := limiter.key("w1"); got != "job4meal:rate_limit:task_claim:w1" {
		t.Fatalf("unexpected key %q", got)
	}
	limiter = NewRedisClaimLimiter(nil, "custom:", 5, time.Minute)
	if got := limiter.key("w1"); got != "custom:task_claim:w1" {
		t.Fatalf("unexpected key %q", got)
	}

	decision, err := limiter.AllowClaim(context.Background(), "w1")
	if err != nil || !decision.Allowed {
		t.Fatalf("expected limiter without a client to allow, got %+v err=%v", decision, err)
	}
	decision, err = NewRedisClaimLimiter(nil, "", 0, time.Minute).AllowClaim(context.Background(), "w1")
	if err != nil || !decision.Allowed {
		t.Fatalf("expected zero limit to allow, got %+v err=%v", decision, err)
	}
}
