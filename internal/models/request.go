package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestFilled    RequestStatus = "filled"
	RequestCancelled RequestStatus = "cancelled"
	RequestExpired   RequestStatus = "expired"
)

// requestTransitions is the labor request state machine. Filled is only ever
// reached through the dispatcher's transactional assign.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestOpen: {RequestFilled, RequestCancelled, RequestExpired},
}

// CanTransition reports whether from → to is a legal request transition.
func (from RequestStatus) CanTransition(to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LaborRequest is an employer's job order against one book. Requests that
// miss the daily cutoff are queued for the following processing day, never
// rejected. The specialty/early-start/under-scale/MOU attributes feed the
// check-mark exemption rule.
type LaborRequest struct {
	ID             int64         `db:"id" json:"id"`
	Employer       string        `db:"employer" json:"employer" validate:"required,max=80"`
	Book           string        `db:"book" json:"book" validate:"required,max=40"`
	Agreement      AgreementType `db:"agreement" json:"agreement" validate:"required,oneof=standard pla cwa tribal"`
	Requirements   string        `db:"requirements" json:"requirements,omitempty" validate:"max=200"`
	SubmittedAt    time.Time     `db:"submitted_at" json:"submitted_at"`
	ProcessOn      time.Time     `db:"process_on" json:"process_on"`
	ExpiresOn      time.Time     `db:"expires_on" json:"expires_on"`
	Status         RequestStatus `db:"status" json:"status"`
	ByName         bool          `db:"by_name" json:"by_name"`
	NamedMember    string        `db:"named_member" json:"named_member,omitempty" validate:"max=16"`
	ForepersonCall bool          `db:"foreperson_call" json:"foreperson_call"`
	Specialty      bool          `db:"specialty" json:"specialty"`
	EarlyStart     bool          `db:"early_start" json:"early_start"`
	UnderScale     bool          `db:"under_scale" json:"under_scale"`
	MOU            bool          `db:"mou" json:"mou"`
}

func (r *LaborRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.ByName && r.NamedMember == "" {
		return ErrMemberNotFound
	}
	return nil
}

type BidOutcome string

const (
	BidPending   BidOutcome = "pending"
	BidAccepted  BidOutcome = "accepted"
	BidRejected  BidOutcome = "rejected" // disqualified for cause; feeds the infraction rule
	BidOutbid    BidOutcome = "outbid"   // valid bid, lost on priority; never sanctioned
	BidWithdrawn BidOutcome = "withdrawn"
)

// JobBid is a member's overnight response to an open labor request. One bid
// per member per request. DecidedAt is set when the morning evaluation settles
// the outcome; the rejection window for bidding infractions counts from it.
type JobBid struct {
	ID          int64      `db:"id" json:"id"`
	MemberID    string     `db:"member_id" json:"member_id" validate:"required,max=16"`
	RequestID   int64      `db:"request_id" json:"request_id" validate:"required"`
	SubmittedAt time.Time  `db:"submitted_at" json:"submitted_at"`
	DecidedAt   *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	Outcome     BidOutcome `db:"outcome" json:"outcome"`
	Note        string     `db:"note" json:"note,omitempty"`
}

func (b *JobBid) Validate() error {
	validate := validator.New()
	return validate.Struct(b)
}

// BiddingInfraction is the 12-month bidding-privilege suspension created by a
// member's second for-cause bid rejection inside a rolling year.
type BiddingInfraction struct {
	ID       int64     `db:"id" json:"id"`
	MemberID string    `db:"member_id" json:"member_id"`
	StartsAt time.Time `db:"starts_at" json:"starts_at"`
	EndsAt   time.Time `db:"ends_at" json:"ends_at"`
	BidID    int64     `db:"bid_id" json:"bid_id"`
}
