package models

import "time"

// Audited entity kinds.
const (
	EntityBook         = "book"
	EntityRegistration = "registration"
	EntityCheckMark    = "check_mark"
	EntityExemption    = "exemption"
	EntityBlackout     = "blackout"
	EntityLaborRequest = "labor_request"
	EntityJobBid       = "job_bid"
	EntityInfraction   = "bidding_infraction"
	EntityDispatch     = "dispatch"
)

// AuditEvent is one immutable record of a state transition. Events are written
// in the same transaction as the mutation they describe and are never amended
// or deleted afterwards.
type AuditEvent struct {
	ID         string    `db:"id" json:"id"`
	Actor      string    `db:"actor" json:"actor"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	PriorState string    `db:"prior_state" json:"prior_state"`
	NewState   string    `db:"new_state" json:"new_state"`
	Detail     string    `db:"detail" json:"detail,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
