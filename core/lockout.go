package core

import "time"

// LockoutPolicy decides how failed verification attempts accumulate into a
// lockout window. It is pure: callers persist the returned state.
type LockoutPolicy struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// AttemptState is the lockout-relevant slice of an account.
type AttemptState struct {
	LoginAttempts   int
	LockoutExpiryAt *time.Time
}

// Next computes the attempt state following a verification outcome.
//
// A surviving lockout expiry always means an expired window here, because
// active lockouts are rejected before any attempt is processed. The first
// failure after an expired lockout starts a fresh window at 1 rather than 0,
// so the very next failure still counts toward a new lockout.
func (p LockoutPolicy) Next(prev AttemptState, now time.Time, succeeded bool) AttemptState {
	if succeeded {
		return AttemptState{}
	}

	attempts := prev.LoginAttempts + 1
	if prev.LockoutExpiryAt != nil && prev.LockoutExpiryAt.Before(now) {
		attempts = 1
	}

	next := AttemptState{LoginAttempts: attempts}
	if attempts >= p.MaxLoginAttempts {
		expiry := now.Add(p.LockoutDuration)
		next.LockoutExpiryAt = &expiry
	}
	return next
}
