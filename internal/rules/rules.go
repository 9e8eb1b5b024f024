// Package rules is the policy layer for the referral engine: the procedural
// rules of the out-of-work books expressed as pure functions over explicit
// state. Every mutating component consults this package instead of hand-coding
// eligibility or penalty logic, so the rules stay consistent across
// operations. Nothing in here touches storage or the wall clock; callers pass
// the instants in.
package rules

import (
	"fmt"
	"time"

	"github.com/openhall/hiringhall/internal/apn"
	"github.com/openhall/hiringhall/internal/models"
)

// Params are the tunable rule constants. Zero values fall back to the
// procedural defaults, so tests can construct a Policy from an empty Params.
type Params struct {
	ResignDays             int    // re-sign obligation window (default 30)
	BlackoutDays           int    // by-name blackout after quit/discharge (default 14)
	MaxCheckMarks          int    // counted marks before roll-off (default 3)
	ShortCallMaxDays       int    // business days at or under which a call is short (default 10)
	ShortCallCap           int    // counted short calls per registration cycle (default 2)
	ShortCallCapExemptDays int    // business days at or under which a short call is uncounted (default 3)
	BidSuspensionMonths    int    // length of a bidding infraction (default 12)
	RejectionWindowMonths  int    // rolling window for counting rejections (default 12)
	RequestExpiryDays      int    // business days an unfilled request stays open (default 3)
	BidWindowOpen          string // "17:00"
	BidWindowClose         string // "08:00"
	DailyCutoff            string // "17:00"
}

// Policy evaluates the referral rules. Construct with New.
type Policy struct {
	resignDays             int
	blackoutDays           int
	maxCheckMarks          int
	shortCallMaxDays       int
	shortCallCap           int
	shortCallCapExemptDays int
	bidSuspensionMonths    int
	rejectionWindowMonths  int
	requestExpiryDays      int
	bidOpen                int // minutes from midnight
	bidClose               int
	cutoff                 int
}

func New(p Params) (*Policy, error) {
	pol := &Policy{
		resignDays:             defaultInt(p.ResignDays, 30),
		blackoutDays:           defaultInt(p.BlackoutDays, 14),
		maxCheckMarks:          defaultInt(p.MaxCheckMarks, 3),
		shortCallMaxDays:       defaultInt(p.ShortCallMaxDays, 10),
		shortCallCap:           defaultInt(p.ShortCallCap, 2),
		shortCallCapExemptDays: defaultInt(p.ShortCallCapExemptDays, 3),
		bidSuspensionMonths:    defaultInt(p.BidSuspensionMonths, 12),
		rejectionWindowMonths:  defaultInt(p.RejectionWindowMonths, 12),
		requestExpiryDays:      defaultInt(p.RequestExpiryDays, 3),
	}

	var err error
	if pol.bidOpen, err = parseClock(defaultStr(p.BidWindowOpen, "17:00")); err != nil {
		return nil, fmt.Errorf("bid window open: %w", err)
	}
	if pol.bidClose, err = parseClock(defaultStr(p.BidWindowClose, "08:00")); err != nil {
		return nil, fmt.Errorf("bid window close: %w", err)
	}
	if pol.cutoff, err = parseClock(defaultStr(p.DailyCutoff, "17:00")); err != nil {
		return nil, fmt.Errorf("daily cutoff: %w", err)
	}
	return pol, nil
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ---- Rule 1: registration eligibility ----

// EligibleToRegister checks directory standing and classification match.
func (p *Policy) EligibleToRegister(m *models.Member, classification string) error {
	if m == nil {
		return models.ErrMemberNotFound
	}
	if m.Standing != models.StandingGood {
		return models.ErrNotEligible
	}
	if !m.HasClassification(classification) {
		return models.ErrNotEligible
	}
	return nil
}

// TierFor derives the coarse priority band from the directory record.
func (p *Policy) TierFor(m *models.Member) int {
	if m.Tier < 1 {
		return 4
	}
	if m.Tier > 4 {
		return 4
	}
	return m.Tier
}

// ---- Rule 2: book compatibility ----

// BookAccepts checks that the book takes new sign-ins for the classification.
func (p *Policy) BookAccepts(book *models.Book, classification string) error {
	if book == nil {
		return models.ErrBookNotFound
	}
	if !book.AcceptsRegistrations() {
		return models.ErrBookClosed
	}
	if book.Classification != classification {
		return models.ErrNotEligible
	}
	return nil
}

// ---- Rule 5: one registration per classification, highest book wins ----

// HeldBook is the slice element AllowRegistration inspects: an existing
// active registration reduced to its book identity and processing rank.
type HeldBook struct {
	Book string
	Rank int
}

// AllowRegistration enforces Rule 5: a member may not sign a book while
// holding an active registration for the same classification on that book or
// on one with an equal-or-better processing rank. Lower rank processes first.
func (p *Policy) AllowRegistration(target *models.Book, held []HeldBook) error {
	for _, h := range held {
		if h.Book == target.Name {
			return models.ErrDuplicateActiveRegistration
		}
		if h.Rank <= target.ProcessingRank {
			return models.ErrDuplicateActiveRegistration
		}
	}
	return nil
}

// ---- Rule 6: dispatch order ----

// CandidateLess orders two registrations for dispatch: ascending APN, with
// insertion order (row id) as the documented deterministic tie-break.
// Duplicate APN values across members are a valid state and never an error.
func CandidateLess(a, b models.Registration) bool {
	if c := apn.Compare(a.APN, b.APN); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// ---- Rule 3 / Rule 13: re-sign obligation ----

// ReSignDeadline is the instant a registration goes stale without a re-sign.
func (p *Policy) ReSignDeadline(lastResign time.Time) time.Time {
	return lastResign.AddDate(0, 0, p.resignDays)
}

// ReSignDue reports whether the re-sign obligation has lapsed at asOf.
// Callers must first check for an active exemption (Rule 13), which suspends
// the clock member-wide.
func (p *Policy) ReSignDue(lastResign, asOf time.Time) bool {
	return !asOf.Before(p.ReSignDeadline(lastResign))
}

// StaleCutoff is the last-resign instant at or before which a registration is
// expired by the daily sweep.
func (p *Policy) StaleCutoff(asOf time.Time) time.Time {
	return asOf.AddDate(0, 0, -p.resignDays)
}

// ---- Rule 12: resignation scope ----

// CascadesAllBooks reports whether a resignation reason wipes the member's
// registrations on every book rather than the one book named.
func CascadesAllBooks(reason models.TerminationReason) bool {
	return reason == models.TermQuit || reason == models.TermDischarged
}

// ---- Rule 7: by-name requests ----

// BlackoutEnd fixes the 14-day window opened when a by-name foreperson quits
// or is discharged.
func (p *Policy) BlackoutEnd(start time.Time) time.Time {
	return start.AddDate(0, 0, p.blackoutDays)
}

// ---- requirements matching ----

// MeetsRequirements reports whether the member holds every credential code
// the request lists.
func MeetsRequirements(m *models.Member, req *models.LaborRequest) bool {
	for _, code := range models.SplitCodes(req.Requirements) {
		if !m.HasCredential(code) {
			return false
		}
	}
	return true
}
