package account

import (
	"math"
	"time"
)

// TrialDays is the fixed length of the trial window granted on approval.
const TrialDays = 15

// State transitions are pure functions: they take an Account snapshot and
// return a new one, leaving persistence to the caller. Access is always
// derived from the stored timestamps, never cached.

// StartTrial opens the trial window and moves the Account to StatusTrial.
// Only valid from StatusPending; calling it again overwrites the window,
// guarding against that is the caller's responsibility.
func StartTrial(acct Account) Account {
	now := NowFunc().UTC()
	acct.TrialStartDate = now
	acct.TrialEndDate = now.AddDate(0, 0, TrialDays)
	acct.Status = StatusTrial
	return acct
}

// ActivateSubscription opens a paid subscription window of the given number
// of calendar months and moves the Account to StatusActive.
func ActivateSubscription(acct Account, months int) Account {
	now := NowFunc().UTC()
	acct.SubscriptionStartDate = now
	acct.SubscriptionEndDate = now.AddDate(0, months, 0)
	acct.Status = StatusActive
	acct.PaymentStatus = PaymentVerified
	return acct
}

// ExtendSubscription pushes the subscription end out by the given number of
// calendar months, counting from the current end or from now if the window
// already lapsed. An expired Account flips back to StatusActive.
func ExtendSubscription(acct Account, months int) Account {
	now := NowFunc().UTC()
	from := acct.SubscriptionEndDate
	if from.Before(now) {
		from = now
	}
	if acct.SubscriptionStartDate.IsZero() {
		acct.SubscriptionStartDate = now
	}
	acct.SubscriptionEndDate = from.AddDate(0, months, 0)
	acct.Status = StatusActive
	return acct
}

// Suspend marks the Account suspended with the given reason, optionally
// expiring after `days`. Suspension is an override layered on top of the
// lifecycle status: the status itself is untouched so that lifting the
// suspension restores the pre-suspension state.
func Suspend(acct Account, reason string, days int) Account {
	acct.IsSuspended = true
	acct.SuspensionReason = reason
	if days > 0 {
		acct.SuspensionExpires = NowFunc().UTC().AddDate(0, 0, days)
	} else {
		acct.SuspensionExpires = time.Time{}
	}
	return acct
}

// Unsuspend clears all suspension fields.
func Unsuspend(acct Account) Account {
	acct.IsSuspended = false
	acct.SuspensionReason = ""
	acct.SuspensionExpires = time.Time{}
	return acct
}

// IsTrialExpired reports whether the trial window has lapsed.
func (a *Account) IsTrialExpired() bool {
	return !a.TrialEndDate.IsZero() && NowFunc().UTC().After(a.TrialEndDate)
}

// IsSubscriptionActive reports whether the Account currently holds valid
// trial or paid access.
func (a *Account) IsSubscriptionActive() bool {
	switch a.Status {
	case StatusTrial:
		return !a.IsTrialExpired()
	case StatusActive:
		return !a.SubscriptionEndDate.IsZero() && !NowFunc().UTC().After(a.SubscriptionEndDate)
	}
	return false
}

// CanAccessSystem is the single gate checked on every authenticated request.
// It recomputes from the stored timestamps on each call.
func (a *Account) CanAccessSystem() bool {
	if a.IsSuspended || a.Status == StatusSuspended || !a.IsActive {
		return false
	}
	switch a.Status {
	case StatusTrial:
		return !a.IsTrialExpired()
	case StatusActive:
		return a.IsSubscriptionActive()
	}
	return false
}

// RemainingDays returns the number of whole days (ceiling) left in the
// relevant access window, clamped to 0.
func (a *Account) RemainingDays() int {
	var end time.Time
	switch a.Status {
	case StatusTrial:
		end = a.TrialEndDate
	case StatusActive:
		end = a.SubscriptionEndDate
	default:
		return 0
	}
	if end.IsZero() {
		return 0
	}
	days := int(math.Ceil(end.Sub(NowFunc().UTC()).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// AccessDeniedReason returns the human-readable explanation for a failed
// access check. Explicit status checks take priority, trial expiry is the
// fallback.
func (a *Account) AccessDeniedReason() string {
	switch {
	case a.Status == StatusPending:
		return "Your account is pending approval. Please wait for an administrator to approve your access request."
	case a.Status == StatusRejected:
		return "Your access request has been rejected. Please contact support for more information."
	case a.Status == StatusExpired:
		return "Your subscription has expired. Please renew your subscription to continue."
	case a.IsSuspended || a.Status == StatusSuspended:
		return "Your account has been suspended. Please contact support."
	case !a.IsActive:
		return "Your account has been deactivated. Please contact support."
	case a.Status == StatusTrial && a.IsTrialExpired():
		return "Your trial period has expired. Please upload a payment slip to activate your subscription."
	case a.Status == StatusActive && !a.IsSubscriptionActive():
		return "Your subscription has expired. Please renew your subscription to continue."
	}
	return "Access denied."
}

// AccessDeniedError is returned when an otherwise authenticated Account is
// blocked by the access gate.
type AccessDeniedError struct {
	Reason string
}

func (e AccessDeniedError) Error() string { return e.Reason }
