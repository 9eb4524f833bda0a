package security

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newAlerter(t *testing.T) *AuditAlerter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	alerter, err := NewAuditAlerter(client, "test:alerts")
	if err != nil {
		t.Fatalf("new alerter: %v", err)
	}
	return alerter
}

func TestAuditAlerterTriggersOnRepeatedLoginFailures(t *testing.T) {
	alerter := newAlerter(t)
	var last AlertResult
	for i := 0; i < 10; i++ {
		result, err := alerter.Observe(context.Background(), "api.login", "fail", "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if i < 9 && result.Triggered {
			t.Fatalf("triggered early at attempt %d", i+1)
		}
		last = result
	}
	if !last.Triggered || last.Count != 10 {
		t.Fatalf("expected alert at threshold, got %+v", last)
	}
}

func TestAuditAlerterCountsPerClient(t *testing.T) {
	alerter := newAlerter(t)
	for i := 0; i < 9; i++ {
		if _, err := alerter.Observe(context.Background(), "api.ownership", "denied", "10.0.0.1"); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	result, err := alerter.Observe(context.Background(), "api.ownership", "denied", "10.0.0.2")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("count for second client = %d, want 1", result.Count)
	}
}

func TestAuditAlerterIgnoresUnknownRule(t *testing.T) {
	alerter := newAlerter(t)
	for _, tc := range []struct{ event, outcome string }{
		{"api.login", "success"},
		{"api.property.delete", "fail"},
	} {
		result, err := alerter.Observe(context.Background(), tc.event, tc.outcome, "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if result.Triggered || result.Count != 0 {
			t.Fatalf("%s/%s: unexpected result %+v", tc.event, tc.outcome, result)
		}
	}
}
