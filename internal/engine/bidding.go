package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/apn"
	"github.com/openhall/hiringhall/internal/models"
	"github.com/openhall/hiringhall/internal/rules"
)

// IsWindowOpen reports whether bids are being accepted at t. The window runs
// overnight, evening open to morning close.
func (e *Engine) IsWindowOpen(t time.Time) bool {
	return e.policy.InBidWindow(t)
}

// SubmitBid records a member's overnight claim on an open labor request. One
// bid per member per request; suspended bidders and members without an active
// registration on the request's book are refused up front.
func (e *Engine) SubmitBid(ctx context.Context, memberID string, requestID int64) (*models.JobBid, error) {
	now := e.now()
	if !e.IsWindowOpen(now) {
		return nil, models.ErrWindowClosed
	}

	req, err := e.store.GetLaborRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, models.ErrRequestNotFound
	}
	if req.Status != models.RequestOpen {
		return nil, fmt.Errorf("request %d is %s: %w", requestID, req.Status, models.ErrInvalidTransition)
	}

	m, err := e.directory.ResolveMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.Standing != models.StandingGood {
		return nil, models.ErrNotEligible
	}
	infraction, err := e.store.ActiveInfraction(memberID, now)
	if err != nil {
		return nil, err
	}
	if infraction != nil {
		return nil, models.ErrBidSuspended
	}
	reg, err := e.store.ActiveRegistration(memberID, req.Book)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, models.ErrNotActive
	}

	bid := &models.JobBid{
		MemberID:    memberID,
		RequestID:   requestID,
		SubmittedAt: now,
		Outcome:     models.BidPending,
	}
	if err := e.store.CreateBid(bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// WithdrawBid takes a pending bid back before the morning evaluation.
func (e *Engine) WithdrawBid(ctx context.Context, memberID string, requestID int64) error {
	bid, err := e.store.GetBid(memberID, requestID)
	if err != nil {
		return err
	}
	if bid == nil {
		return fmt.Errorf("no bid by %s on request %d: %w", memberID, requestID, models.ErrInvalidTransition)
	}
	return e.store.SetBidOutcome(bid.ID, models.BidPending, models.BidWithdrawn, e.now(), "withdrawn by member")
}

// EvaluateRejection counts the member's for-cause rejections inside the
// rolling window ending at decidedAt and opens a bidding infraction on
// exactly the second one. The suspension runs twelve months from that second
// rejection; a third while suspended never extends it.
func (e *Engine) EvaluateRejection(ctx context.Context, memberID string, bidID int64, decidedAt time.Time) error {
	n, err := e.store.CountRejections(memberID, e.policy.RejectionWindowStart(decidedAt))
	if err != nil {
		return err
	}
	if !e.policy.TriggersSuspension(n) {
		return nil
	}
	infraction := &models.BiddingInfraction{
		MemberID: memberID,
		StartsAt: decidedAt,
		EndsAt:   e.policy.SuspensionEnd(decidedAt),
		BidID:    bidID,
	}
	if err := e.store.CreateInfraction(infraction, "referral-engine"); err != nil {
		return err
	}
	logger.Info.Printf("Bidding suspended for %s until %s after rejection %d", memberID, infraction.EndsAt.Format("2006-01-02"), n)
	return nil
}

// contender is a pending bid that survived qualification, paired with the
// registration whose priority key decides the winner.
type contender struct {
	bid models.JobBid
	reg models.Registration
}

// evaluateBids settles the disqualified half of a request's overnight bids
// and returns the survivors in dispatch order. Every for-cause rejection runs
// the infraction rule before this returns.
func (e *Engine) evaluateBids(ctx context.Context, req *models.LaborRequest, at time.Time) ([]contender, error) {
	bids, err := e.store.PendingBids(req.ID)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		return nil, nil
	}

	var qualified []contender
	for _, bid := range bids {
		reg, cause, err := e.qualifyBidder(ctx, &bid, req, at)
		if err != nil {
			return nil, err
		}
		if cause != "" {
			if err := e.rejectBid(ctx, &bid, cause, at); err != nil {
				return nil, err
			}
			continue
		}
		qualified = append(qualified, contender{bid: bid, reg: *reg})
	}

	sort.Slice(qualified, func(i, j int) bool {
		if c := apn.Compare(qualified[i].reg.APN, qualified[j].reg.APN); c != 0 {
			return c < 0
		}
		return qualified[i].reg.ID < qualified[j].reg.ID
	})
	return qualified, nil
}

// qualifyBidder checks one pending bid against the morning's state. A
// non-empty cause means the bid is rejected for that reason; infrastructure
// failures come back as errors and stop the evaluation.
func (e *Engine) qualifyBidder(ctx context.Context, bid *models.JobBid, req *models.LaborRequest, at time.Time) (*models.Registration, string, error) {
	m, err := e.directory.ResolveMember(ctx, bid.MemberID)
	if errors.Is(err, models.ErrMemberNotFound) {
		return nil, "member no longer on the rolls", nil
	}
	if err != nil {
		return nil, "", err
	}
	if m.Standing != models.StandingGood {
		return nil, "member not in good standing", nil
	}

	infraction, err := e.store.ActiveInfraction(bid.MemberID, at)
	if err != nil {
		return nil, "", err
	}
	if infraction != nil {
		return nil, "bidding privileges suspended", nil
	}

	exemption, err := e.store.ActiveExemption(bid.MemberID, at)
	if err != nil {
		return nil, "", err
	}
	if exemption != nil {
		return nil, "bid while under an exemption", nil
	}

	reg, err := e.store.ActiveRegistration(bid.MemberID, req.Book)
	if err != nil {
		return nil, "", err
	}
	if reg == nil {
		return nil, "no active registration on the book", nil
	}

	open, err := e.store.OpenDispatchForMember(bid.MemberID)
	if err != nil {
		return nil, "", err
	}
	if open != nil {
		return nil, "already out on a job", nil
	}

	if !rules.MeetsRequirements(m, req) {
		return nil, "missing required credentials", nil
	}
	return reg, "", nil
}

// rejectBid settles one bid as rejected for cause and feeds the rolling
// rejection counter.
func (e *Engine) rejectBid(ctx context.Context, bid *models.JobBid, cause string, at time.Time) error {
	if err := e.store.SetBidOutcome(bid.ID, models.BidPending, models.BidRejected, at, cause); err != nil {
		return err
	}
	return e.EvaluateRejection(ctx, bid.MemberID, bid.ID, at)
}
