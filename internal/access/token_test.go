package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agrocoop.org/internal/audit"
)

func TestRedeemTwice(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()
	p := f.seedPrincipal(t, "amara", "Abc12345!", StatusActive)

	tok, err := f.guard.IssueToken(ctx, p.ID, PurposePasswordReset, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	redeemed, err := f.guard.Redeem(ctx, tok.Value)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if redeemed.PrincipalID != p.ID || !redeemed.Used {
		t.Fatalf("redeemed = %+v", redeemed)
	}

	if _, err := f.guard.Redeem(ctx, tok.Value); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("second redeem err = %v, want ErrInvalidOrExpiredToken", err)
	}
	if got := f.recorder.ByAction(audit.ActionTokenRejected); len(got) != 1 {
		t.Fatalf("rejection events = %d, want 1", len(got))
	}
}

func TestRedeemExpired(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()
	p := f.seedPrincipal(t, "amara", "Abc12345!", StatusActive)

	tok, err := f.guard.IssueToken(ctx, p.ID, PurposePasswordReset, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if _, err := f.guard.Redeem(ctx, tok.Value); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expired redeem err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestRedeemConcurrent(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()
	p := f.seedPrincipal(t, "amara", "Abc12345!", StatusActive)

	tok, err := f.guard.IssueToken(ctx, p.ID, PurposePasswordReset, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.guard.Redeem(ctx, tok.Value); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
}

func TestIssueTokenUnknownPrincipal(t *testing.T) {
	f := newGuardFixture(t)
	if _, err := f.guard.IssueToken(context.Background(), "nope", PurposePasswordReset, time.Hour); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestIssueTokenBadTTL(t *testing.T) {
	f := newGuardFixture(t)
	if _, err := f.guard.IssueToken(context.Background(), "nope", PurposePasswordReset, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
