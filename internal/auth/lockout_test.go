package auth

import (
	"testing"
	"time"
)

func TestLockoutPolicyTransitions(t *testing.T) {
	p := LockoutPolicy{Threshold: 3, Window: 10 * time.Minute, Duration: 5 * time.Minute}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var st LockoutState
	for i := 1; i <= 2; i++ {
		st = p.OnFailure(st, now)
		if st.FailedAttempts != i || st.LockoutEndAt != nil {
			t.Fatalf("failure %d: unexpected state %+v", i, st)
		}
	}
	st = p.OnFailure(st, now.Add(time.Minute))
	if st.LockoutEndAt == nil {
		t.Fatalf("expected lockout at threshold, got %+v", st)
	}
	if got := p.Remaining(st, now.Add(time.Minute)); got != 5*time.Minute {
		t.Fatalf("unexpected remaining %v", got)
	}

	locked := p.OnFailure(st, now.Add(2*time.Minute))
	if locked.FailedAttempts != st.FailedAttempts || !locked.LockoutEndAt.Equal(*st.LockoutEndAt) {
		t.Fatalf("failures while locked must not extend the lockout: %+v", locked)
	}

	after := now.Add(7 * time.Minute)
	if p.Remaining(st, after) != 0 {
		t.Fatal("lockout should have elapsed")
	}
	st = p.OnFailure(st, after)
	if st.FailedAttempts != 1 || st.LockoutEndAt != nil {
		t.Fatalf("count should restart after an elapsed lockout: %+v", st)
	}

	if cleared := p.OnSuccess(); cleared.FailedAttempts != 0 || cleared.LockoutEndAt != nil || cleared.LastFailedAt != nil {
		t.Fatalf("unexpected cleared state %+v", cleared)
	}
}

func TestLockoutWindowRestart(t *testing.T) {
	p := DefaultLockoutPolicy()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st := LockoutState{}
	for i := 0; i < 4; i++ {
		st = p.OnFailure(st, now)
	}
	st = p.OnFailure(st, now.Add(p.Window+time.Second))
	if st.FailedAttempts != 1 || st.LockoutEndAt != nil {
		t.Fatalf("stale failures must not count: %+v", st)
	}
}

// The Postgres store encodes the same branches in SQL; keep both in step.
func TestLockoutOnFailureBranches(t *testing.T) {
	p := LockoutPolicy{Threshold: 3, Window: 10 * time.Minute, Duration: 5 * time.Minute}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }
	lockEnd := now.Add(p.Duration)

	cases := []struct {
		name      string
		policy    LockoutPolicy
		state     LockoutState
		wantCount int
		wantLast  *time.Time
		wantEnd   *time.Time
	}{
		{"held while locked", p, LockoutState{FailedAttempts: 3, LastFailedAt: at(-time.Minute), LockoutEndAt: at(time.Minute)}, 3, at(-time.Minute), at(time.Minute)},
		{"restart without prior failure", p, LockoutState{}, 1, &now, nil},
		{"restart outside window", p, LockoutState{FailedAttempts: 2, LastFailedAt: at(-11 * time.Minute)}, 1, &now, nil},
		{"restart after elapsed lockout", p, LockoutState{FailedAttempts: 3, LastFailedAt: at(-6 * time.Minute), LockoutEndAt: at(-time.Minute)}, 1, &now, nil},
		{"restart at lockout end instant", p, LockoutState{FailedAttempts: 3, LastFailedAt: at(-5 * time.Minute), LockoutEndAt: &now}, 1, &now, nil},
		{"increment inside window", p, LockoutState{FailedAttempts: 1, LastFailedAt: at(-time.Minute)}, 2, &now, nil},
		{"increment reaches threshold", p, LockoutState{FailedAttempts: 2, LastFailedAt: at(-time.Minute)}, 3, &now, &lockEnd},
		{"restart locks with threshold one", LockoutPolicy{Threshold: 1, Window: time.Minute, Duration: p.Duration}, LockoutState{}, 1, &now, &lockEnd},
		{"non-positive threshold never locks", LockoutPolicy{Threshold: 0, Window: time.Minute, Duration: p.Duration}, LockoutState{FailedAttempts: 9, LastFailedAt: at(-time.Second)}, 10, &now, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.policy.OnFailure(tc.state, now)
			if got.FailedAttempts != tc.wantCount {
				t.Fatalf("count = %d, want %d", got.FailedAttempts, tc.wantCount)
			}
			if !sameTime(got.LastFailedAt, tc.wantLast) {
				t.Fatalf("last failed = %v, want %v", got.LastFailedAt, tc.wantLast)
			}
			if !sameTime(got.LockoutEndAt, tc.wantEnd) {
				t.Fatalf("lockout end = %v, want %v", got.LockoutEndAt, tc.wantEnd)
			}
		})
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
