package models

import "time"

// TerminationReason closes a dispatch. The empty string means the member is
// still on the job.
type TerminationReason string

const (
	TermCompleted        TerminationReason = "completed"
	TermQuit             TerminationReason = "quit"
	TermDischarged       TerminationReason = "discharged"
	TermLaidOff          TerminationReason = "laid_off"
	TermShortCallExpired TerminationReason = "short_call_expired"
)

// ValidTermination reports whether reason is a recognized terminal state.
func ValidTermination(reason TerminationReason) bool {
	switch reason {
	case TermCompleted, TermQuit, TermDischarged, TermLaidOff, TermShortCallExpired:
		return true
	}
	return false
}

// Dispatch is a realized assignment of one registration to one labor request.
// CountsTowardMarks is pre-computed by the rule engine at assignment from the
// request attributes; the final check-mark decision at termination also folds
// in the termination-level exclusions (employer-initiated downsize).
type Dispatch struct {
	ID               int64             `db:"id" json:"id"`
	RegistrationID   int64             `db:"registration_id" json:"registration_id"`
	RequestID        int64             `db:"request_id" json:"request_id"`
	MemberID         string            `db:"member_id" json:"member_id"`
	Book             string            `db:"book" json:"book"`
	Employer         string            `db:"employer" json:"employer"`
	StartedAt        time.Time         `db:"started_at" json:"started_at"`
	EndedAt          *time.Time        `db:"ended_at" json:"ended_at,omitempty"`
	Termination      TerminationReason `db:"termination" json:"termination,omitempty"`
	ShortCall        bool              `db:"short_call" json:"short_call"`
	CountsTowardMarks bool             `db:"counts_toward_marks" json:"counts_toward_marks"`
	Downsize         bool              `db:"downsize" json:"downsize"`
}

// Open reports whether the member is still on the job.
func (d *Dispatch) Open() bool {
	return d.Termination == ""
}
