package usecase

import (
	"context"
	"testing"
	"time"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
)

func TestSweepTwoTiers(t *testing.T) {
	now := time.Now().UTC()
	orders := newFakeOrderRepo(
		// Has a session, 25h old: past the long window.
		&domain.Order{ID: "stale-session", Status: domain.StatusPending,
			StripeSessionID: "cs_a", CreatedAt: now.Add(-25 * time.Hour)},
		// Has a session, 23h old: still inside the long window.
		&domain.Order{ID: "fresh-session", Status: domain.StatusPending,
			StripeSessionID: "cs_b", CreatedAt: now.Add(-23 * time.Hour)},
		// No session, 11 minutes old: past the short window.
		&domain.Order{ID: "stale-bare", Status: domain.StatusPending,
			CreatedAt: now.Add(-11 * time.Minute)},
		// No session, 9 minutes old: inside the short window.
		&domain.Order{ID: "fresh-bare", Status: domain.StatusPending,
			CreatedAt: now.Add(-9 * time.Minute)},
		// Terminal orders are never touched.
		&domain.Order{ID: "already-paid", Status: domain.StatusPaid,
			StripeSessionID: "cs_c", CreatedAt: now.Add(-48 * time.Hour)},
	)

	sweeper := NewExpirySweeper(orders, &fakeLocker{acquired: true}, nil, 24*time.Hour, 10*time.Minute)
	swept, err := sweeper.SweepNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if swept != 2 {
		t.Fatalf("want 2 swept, got %d", swept)
	}

	expect := map[string]domain.Status{
		"stale-session": domain.StatusFailed,
		"fresh-session": domain.StatusPending,
		"stale-bare":    domain.StatusFailed,
		"fresh-bare":    domain.StatusPending,
		"already-paid":  domain.StatusPaid,
	}
	for id, want := range expect {
		if got := orders.get(id).Status; got != want {
			t.Errorf("order %s: want %s, got %s", id, want, got)
		}
	}
}

func TestSweepPublishesAudit(t *testing.T) {
	now := time.Now().UTC()
	orders := newFakeOrderRepo(&domain.Order{
		ID: "stale", Status: domain.StatusPending, CreatedAt: now.Add(-time.Hour),
	})
	audit := &fakeAudit{}
	sweeper := NewExpirySweeper(orders, &fakeLocker{acquired: true}, audit, 24*time.Hour, 10*time.Minute)

	if _, err := sweeper.SweepNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if kinds := audit.kinds(); len(kinds) != 1 || kinds[0] != "sweep" {
		t.Fatalf("want one sweep audit record, got %v", kinds)
	}

	// An empty sweep stays quiet.
	if _, err := sweeper.SweepNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(audit.kinds()) != 1 {
		t.Fatal("no-op sweep must not publish audit records")
	}
}
