package models

import (
	"github.com/go-playground/validator/v10"
)

type AgreementType string

const (
	AgreementStandard AgreementType = "standard"
	AgreementPLA      AgreementType = "pla"     // project labor agreement
	AgreementCWA      AgreementType = "cwa"     // community workforce agreement
	AgreementTribal   AgreementType = "tribal"
)

type WorkLevel string

const (
	LevelJourneyman WorkLevel = "journeyman"
	LevelApprentice WorkLevel = "apprentice"
)

type BookKind string

const (
	BookPrimary      BookKind = "primary"
	BookSupplemental BookKind = "supplemental"
)

type BookStatus string

const (
	BookActive BookStatus = "active"
	BookFrozen BookStatus = "frozen"
	BookClosed BookStatus = "closed"
)

// Book is a named out-of-work registration queue. Books are created at setup
// and only ever change status; historical registrations keep referencing them,
// so books are never deleted.
type Book struct {
	Name           string        `db:"name" json:"name" validate:"required,max=40"`
	Classification string        `db:"classification" json:"classification" validate:"required,max=40"`
	Region         string        `db:"region" json:"region,omitempty"`
	ContractCode   string        `db:"contract_code" json:"contract_code,omitempty"`
	Agreement      AgreementType `db:"agreement" json:"agreement" validate:"required,oneof=standard pla cwa tribal"`
	Level          WorkLevel     `db:"level" json:"level" validate:"required,oneof=journeyman apprentice"`
	Kind           BookKind      `db:"kind" json:"kind" validate:"required,oneof=primary supplemental"`
	ProcessingRank int           `db:"processing_rank" json:"processing_rank" validate:"gte=0"`
	Status         BookStatus    `db:"status" json:"status" validate:"required,oneof=active frozen closed"`
}

func (b *Book) Validate() error {
	validate := validator.New()
	return validate.Struct(b)
}

// AcceptsRegistrations reports whether new sign-ins may land on the book.
// Frozen books keep dispatching their existing queue but take no new names.
func (b *Book) AcceptsRegistrations() bool {
	return b.Status == BookActive
}

// Dispatchable reports whether the book participates in morning processing.
func (b *Book) Dispatchable() bool {
	return b.Status == BookActive || b.Status == BookFrozen
}
