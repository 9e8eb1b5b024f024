package models

import "time"

// CheckMark is one penalty unit against a (member, book) pair. Exempt marks
// are recorded for the audit trail but never counted; three counted marks
// roll the member off that book and that book only.
type CheckMark struct {
	ID             int64     `db:"id" json:"id"`
	MemberID       string    `db:"member_id" json:"member_id"`
	Book           string    `db:"book" json:"book"`
	RegistrationID int64     `db:"registration_id" json:"registration_id"`
	DispatchID     int64     `db:"dispatch_id" json:"dispatch_id,omitempty"`
	Exempt         bool      `db:"exempt" json:"exempt"`
	Reason         string    `db:"reason" json:"reason"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type ExemptionReason string

const (
	ExemptMilitary      ExemptionReason = "military"
	ExemptUnionBusiness ExemptionReason = "union_business"
	ExemptSalting       ExemptionReason = "salting"
	ExemptMedical       ExemptionReason = "medical"
	ExemptJuryDuty      ExemptionReason = "jury_duty"
)

// Exemption suspends check-mark accrual and the 30-day re-sign obligation for
// a member across every book while active. It never lapses silently: closing
// one always records a terminal event.
type Exemption struct {
	ID       int64           `db:"id" json:"id"`
	MemberID string          `db:"member_id" json:"member_id"`
	Reason   ExemptionReason `db:"reason" json:"reason"`
	StartsAt time.Time       `db:"starts_at" json:"starts_at"`
	EndsAt   *time.Time      `db:"ends_at" json:"ends_at,omitempty"`
}

// BlackoutPeriod bars an employer from by-name requesting a foreperson for a
// fixed window after that foreperson quit or was discharged off the
// employer's job.
type BlackoutPeriod struct {
	ID         int64     `db:"id" json:"id"`
	MemberID   string    `db:"member_id" json:"member_id"`
	Employer   string    `db:"employer" json:"employer"`
	StartsAt   time.Time `db:"starts_at" json:"starts_at"`
	EndsAt     time.Time `db:"ends_at" json:"ends_at"`
	DispatchID int64     `db:"dispatch_id" json:"dispatch_id"`
}
