package models

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openhall/hiringhall/internal/apn"
)

var memberIDRegex = regexp.MustCompile(`^[A-Z]{1,4}-?\d{3,9}$`)

type RegistrationStatus string

const (
	RegActive     RegistrationStatus = "active"
	RegDispatched RegistrationStatus = "dispatched"
	RegResigned   RegistrationStatus = "resigned"
	RegRolledOff  RegistrationStatus = "rolled_off"
	RegExpired    RegistrationStatus = "expired"
)

// Registration is one member's standing on one book. The APN fixes queue
// position for the life of the registration: re-signing refreshes the re-sign
// clock without touching the key, and a short-call restore puts the original
// key back. (Member, book, generation) is the unique identity; the APN itself
// may collide with other members' keys and that is a valid state.
type Registration struct {
	ID           int64              `db:"id" json:"id"`
	MemberID     string             `db:"member_id" json:"member_id" validate:"required,max=16"`
	Book         string             `db:"book" json:"book" validate:"required,max=40"`
	APN          apn.Key            `db:"apn" json:"apn"`
	Tier         int                `db:"tier" json:"tier" validate:"gte=1,lte=4"`
	Generation   int                `db:"generation" json:"generation" validate:"gte=1"`
	Status       RegistrationStatus `db:"status" json:"status"`
	ShortCalls   int                `db:"short_calls" json:"short_calls"`
	LastResignAt time.Time          `db:"last_resign_at" json:"last_resign_at"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}

func (r *Registration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !memberIDRegex.MatchString(r.MemberID) {
		return ErrMemberNotFound
	}
	return nil
}
