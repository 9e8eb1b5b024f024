package models

import "errors"

// Domain rule violations. These are expected outcomes surfaced to callers for
// user-facing messaging, never logged as system errors. Infrastructure
// failures are wrapped fmt.Errorf chains and stay distinct from this set.
var (
	// ErrDuplicateActiveRegistration: the member already holds an active
	// registration for this classification on this book or on a
	// higher-priority one.
	ErrDuplicateActiveRegistration = errors.New("duplicate active registration")

	// ErrNotActive: the operation requires an active registration.
	ErrNotActive = errors.New("registration not active")

	// ErrRollOffLimitReached: a check mark was recorded against a
	// registration that has already been rolled off its book.
	ErrRollOffLimitReached = errors.New("roll-off limit reached")

	// ErrWindowClosed: bid submitted outside the overnight bidding window.
	ErrWindowClosed = errors.New("bidding window closed")

	// ErrBidAlreadySubmitted: one bid per member per labor request.
	ErrBidAlreadySubmitted = errors.New("bid already submitted")

	// ErrBidSuspended: the member is under an active bidding infraction.
	ErrBidSuspended = errors.New("bidding privileges suspended")

	// ErrCutoffExceeded: the request missed the daily cutoff. Non-fatal for
	// submission (the request is deferred, not rejected); fatal only for
	// callers that require same-day processing.
	ErrCutoffExceeded = errors.New("daily cutoff exceeded")

	// ErrBlackoutActive: a by-name request named a foreperson inside an
	// active blackout window for that employer.
	ErrBlackoutActive = errors.New("blackout period active")

	// ErrConcurrentAssignmentConflict: the labor request or the registration
	// was claimed by a concurrent dispatch between read and assign. Callers
	// retry against a refreshed candidate list.
	ErrConcurrentAssignmentConflict = errors.New("concurrent assignment conflict")

	// ErrInvalidTransition: state-machine transition attempted from a
	// non-source state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotEligible: the member directory reports the member as ineligible
	// for the classification, standing, or credential requirements.
	ErrNotEligible = errors.New("member not eligible")

	// ErrOrdinalExhausted: more than 100 registrations landed on one book in
	// a single day; the two-digit intra-day ordinal cannot represent more.
	ErrOrdinalExhausted = errors.New("intra-day ordinal exhausted")

	ErrBookNotFound     = errors.New("book not found")
	ErrBookClosed       = errors.New("book not accepting registrations")
	ErrMemberNotFound   = errors.New("member not found")
	ErrRequestNotFound  = errors.New("labor request not found")
	ErrDispatchNotFound = errors.New("dispatch not found")
)

// IsDomainErr reports whether err belongs to the referral rule taxonomy, as
// opposed to an infrastructure failure.
func IsDomainErr(err error) bool {
	for _, domain := range []error{
		ErrDuplicateActiveRegistration,
		ErrNotActive,
		ErrRollOffLimitReached,
		ErrWindowClosed,
		ErrBidAlreadySubmitted,
		ErrBidSuspended,
		ErrCutoffExceeded,
		ErrBlackoutActive,
		ErrConcurrentAssignmentConflict,
		ErrInvalidTransition,
		ErrNotEligible,
		ErrOrdinalExhausted,
		ErrBookNotFound,
		ErrBookClosed,
		ErrMemberNotFound,
		ErrRequestNotFound,
		ErrDispatchNotFound,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}
