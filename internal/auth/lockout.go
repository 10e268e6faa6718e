package auth

import "time"

// LockoutState is the per-account failed-attempt bookkeeping.
type LockoutState struct {
	FailedAttempts int
	LastFailedAt   *time.Time
	LockoutEndAt   *time.Time
}

// LockoutPolicy locks an account for Duration once Threshold failures land
// within a rolling Window.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// DefaultLockoutPolicy allows five failures in fifteen minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, Window: 15 * time.Minute, Duration: 15 * time.Minute}
}

// Remaining returns how long the account stays locked, or zero.
func (p LockoutPolicy) Remaining(state LockoutState, now time.Time) time.Duration {
	if state.LockoutEndAt == nil || !state.LockoutEndAt.After(now) {
		return 0
	}
	return state.LockoutEndAt.Sub(now)
}

// OnFailure returns the state after one more failed attempt at now.
func (p LockoutPolicy) OnFailure(state LockoutState, now time.Time) LockoutState {
	if p.Remaining(state, now) > 0 {
		return state
	}
	count := state.FailedAttempts + 1
	if p.restarts(state, now) {
		count = 1
	}
	last := now
	next := LockoutState{FailedAttempts: count, LastFailedAt: &last}
	if p.Threshold > 0 && count >= p.Threshold {
		end := now.Add(p.Duration)
		next.LockoutEndAt = &end
	}
	return next
}

// OnSuccess returns the cleared state.
func (p LockoutPolicy) OnSuccess() LockoutState {
	return LockoutState{}
}

// WindowStart is the earliest failure time still counted at now.
func (p LockoutPolicy) WindowStart(now time.Time) time.Time {
	return now.Add(-p.Window)
}

// restarts reports whether the count starts over: the previous failure fell
// out of the window or a previous lockout has elapsed.
func (p LockoutPolicy) restarts(state LockoutState, now time.Time) bool {
	if state.LastFailedAt == nil || state.LastFailedAt.Before(p.WindowStart(now)) {
		return true
	}
	return state.LockoutEndAt != nil && !state.LockoutEndAt.After(now)
}
