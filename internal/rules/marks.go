package rules

import (
	"time"

	"github.com/openhall/hiringhall/internal/models"
)

// CheckMarkDecision is the tagged outcome of the penalty rules for one
// dispatch termination. Exactly one of the three shapes applies: no mark at
// all, a counted mark, or a recorded-but-exempt mark carrying the exclusion
// reason. Keeping the variant explicit keeps the Rule 10 / Rule 11
// interaction testable in isolation.
type CheckMarkDecision struct {
	Mark   bool
	Count  bool
	Reason string
}

func NoMark() CheckMarkDecision {
	return CheckMarkDecision{}
}

func CountMark(reason string) CheckMarkDecision {
	return CheckMarkDecision{Mark: true, Count: true, Reason: reason}
}

func ExemptMark(reason string) CheckMarkDecision {
	return CheckMarkDecision{Mark: true, Count: false, Reason: reason}
}

// Check-mark exclusion reasons (Rule 11).
const (
	ExclSpecialtyCall    = "specialty_call"
	ExclEarlyStart       = "early_start"
	ExclUnderScale       = "under_scale"
	ExclContractMOU      = "contract_mou"
	ExclEmployerDownsize = "employer_downsize"
	ExclExemption        = "member_exemption"
)

// ---- Rule 11: pre-computed call exemption ----

// IsCheckMarkExempt inspects the labor request attributes known at
// assignment time. A dispatch on an exempt call never counts toward the
// mark limit regardless of how it ends.
func IsCheckMarkExempt(req *models.LaborRequest) (bool, string) {
	switch {
	case req.Specialty:
		return true, ExclSpecialtyCall
	case req.EarlyStart:
		return true, ExclEarlyStart
	case req.UnderScale:
		return true, ExclUnderScale
	case req.MOU:
		return true, ExclContractMOU
	}
	return false, ""
}

// ---- Rule 10 (modified by Rule 11): mark accrual ----

// GeneratesCheckMark grades a dispatch termination. Quits and discharges
// draw a mark; everything else ends clean. The mark is exempt when the call
// itself was exempt (pre-computed at assignment) or when the separation was
// an employer-initiated downsize recorded at termination.
func (p *Policy) GeneratesCheckMark(d *models.Dispatch, req *models.LaborRequest, reason models.TerminationReason, downsize bool) CheckMarkDecision {
	if reason != models.TermQuit && reason != models.TermDischarged {
		return NoMark()
	}
	if downsize {
		return ExemptMark(ExclEmployerDownsize)
	}
	if !d.CountsTowardMarks {
		if _, exclusion := IsCheckMarkExempt(req); exclusion != "" {
			return ExemptMark(exclusion)
		}
		return ExemptMark(ExclContractMOU)
	}
	return CountMark(string(reason))
}

// RollsOff reports whether the counted-mark total removes the member from
// the book. Marks never cross books.
func (p *Policy) RollsOff(countedMarks int) bool {
	return countedMarks >= p.maxCheckMarks
}

// MarkLimit is the counted-mark total at which a registration rolls off.
func (p *Policy) MarkLimit() int {
	return p.maxCheckMarks
}

// ---- Rule 9: short calls ----

// IsShortCall classifies a layoff by worked business days.
func (p *Policy) IsShortCall(start, end time.Time) bool {
	return BusinessDaysBetween(start, end) <= p.shortCallMaxDays
}

// ShortCallCounts reports whether this short call consumes one of the two
// per-cycle restore slots. Calls of three business days or fewer never do.
func (p *Policy) ShortCallCounts(start, end time.Time) bool {
	return BusinessDaysBetween(start, end) > p.shortCallCapExemptDays
}

// ShortCallCapReached reports whether the registration has exhausted its
// restore slots for the cycle; the next short-call layoff terminates like a
// standard call.
func (p *Policy) ShortCallCapReached(countedShortCalls int) bool {
	return countedShortCalls >= p.shortCallCap
}

// ---- Rule 8: bidding infractions ----

// RejectionWindowStart is the start of the rolling window a rejection at
// asOf is counted within.
func (p *Policy) RejectionWindowStart(asOf time.Time) time.Time {
	return asOf.AddDate(0, -p.rejectionWindowMonths, 0)
}

// TriggersSuspension reports whether the rolling-window rejection total
// (including the rejection being evaluated) creates an infraction. Only the
// second rejection does; the suspension runs from that second event.
func (p *Policy) TriggersSuspension(rejectionsInWindow int) bool {
	return rejectionsInWindow == 2
}

// SuspensionEnd fixes the privilege suspension window from the triggering
// rejection.
func (p *Policy) SuspensionEnd(secondRejection time.Time) time.Time {
	return secondRejection.AddDate(0, p.bidSuspensionMonths, 0)
}
