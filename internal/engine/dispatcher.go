package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/models"
	"github.com/openhall/hiringhall/internal/rules"
	"github.com/openhall/hiringhall/internal/store"
)

// Dispatch fills one open labor request right now: by-name when the request
// names a member, otherwise from the head of the book's queue. Overnight bids
// are only consulted by the morning sweep, so a direct dispatch outside it
// simply beats any pending bids; the sweep settles those as outbid later.
// A nil dispatch with nil error means nobody on the book could take the call.
func (e *Engine) Dispatch(ctx context.Context, requestID int64, actor string) (*models.Dispatch, error) {
	unlock := e.requests.lock(fmt.Sprint(requestID))
	defer unlock()

	req, err := e.openRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req.ByName {
		return e.dispatchByName(ctx, req, actor)
	}
	return e.dispatchFromQueue(ctx, req, actor)
}

// ProcessRequest runs one due request through the morning order: by-name
// requests go straight to their named member, otherwise overnight bids are
// settled first and the book queue is consulted only when no bid wins. Domain
// refusals carry the request to the next day instead of failing the sweep.
// A nil dispatch with nil error means the request stays open.
func (e *Engine) ProcessRequest(ctx context.Context, requestID int64, actor string) (*models.Dispatch, error) {
	unlock := e.requests.lock(fmt.Sprint(requestID))
	defer unlock()

	req, err := e.store.GetLaborRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, models.ErrRequestNotFound
	}
	at := e.now()
	if req.Status != models.RequestOpen {
		// A midday direct dispatch can beat the sweep to the request;
		// whatever bids are left settle as outbid.
		return nil, e.settleLeftoverBids(req.ID, at)
	}

	b, err := e.store.GetBook(req.Book)
	if err != nil {
		return nil, err
	}
	if b == nil || !b.Dispatchable() {
		logger.Debug.Printf("Request %d carries, book %s is not dispatchable", req.ID, req.Book)
		return nil, nil
	}

	if req.ByName {
		d, err := e.dispatchByName(ctx, req, actor)
		if err != nil && models.IsDomainErr(err) {
			logger.Debug.Printf("By-name request %d for %s carries: %v", req.ID, req.NamedMember, err)
			return nil, nil
		}
		return d, err
	}

	d, err := e.dispatchBidWinner(ctx, req, at, actor)
	if err != nil || d != nil {
		return d, err
	}
	return e.dispatchFromQueue(ctx, req, actor)
}

// Terminate closes an open dispatch and applies every consequence of the
// separation in one transaction: the short-call restore, the quit or
// discharge cascade across all books, the check mark, and the foreperson
// blackout. Already-terminated dispatches fail with InvalidTransition.
func (e *Engine) Terminate(ctx context.Context, dispatchID int64, reason models.TerminationReason, downsize bool, actor, detail string) error {
	if !models.ValidTermination(reason) {
		return fmt.Errorf("unknown termination reason %q: %w", reason, models.ErrInvalidTransition)
	}

	d, err := e.store.GetDispatch(dispatchID)
	if err != nil {
		return err
	}
	if d == nil {
		return models.ErrDispatchNotFound
	}
	if !d.Open() {
		return fmt.Errorf("dispatch %d already ended as %s: %w", d.ID, d.Termination, models.ErrInvalidTransition)
	}
	req, err := e.store.GetLaborRequest(d.RequestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("dispatch %d references request %d: %w", d.ID, d.RequestID, models.ErrRequestNotFound)
	}
	reg, err := e.store.GetRegistration(d.RegistrationID)
	if err != nil {
		return err
	}
	if reg == nil {
		return fmt.Errorf("dispatch %d references registration %d: %w", d.ID, d.RegistrationID, models.ErrNotActive)
	}

	end := e.now()
	plan := &store.TerminationPlan{
		DispatchID: dispatchID,
		Reason:     reason,
		Downsize:   downsize,
		EndedAt:    end,
		Actor:      actor,
		Detail:     detail,
	}
	if plan.Detail == "" {
		plan.Detail = fmt.Sprintf("%d business days on the job", rules.BusinessDaysBetween(d.StartedAt, end))
	}

	layoff := reason == models.TermLaidOff || reason == models.TermShortCallExpired
	short := layoff && e.policy.IsShortCall(d.StartedAt, end)
	plan.ShortCall = d.ShortCall || short

	switch {
	case short:
		// Rule 9: the member returns to the book with the original key.
		// Calls over the uncounted threshold burn one of the cap slots;
		// with the cap exhausted the layoff terminates like a standard call.
		if !e.policy.ShortCallCounts(d.StartedAt, end) {
			plan.RestoreRegistrationID = reg.ID
		} else if !e.policy.ShortCallCapReached(reg.ShortCalls) {
			plan.RestoreRegistrationID = reg.ID
			plan.ConsumeShortCall = true
		}

	case rules.CascadesAllBooks(reason):
		plan.ResignRegistrationIDs = append(plan.ResignRegistrationIDs, reg.ID)
		holdings, err := e.store.MemberHoldings(d.MemberID)
		if err != nil {
			return err
		}
		for _, h := range holdings {
			plan.ResignRegistrationIDs = append(plan.ResignRegistrationIDs, h.RegistrationID)
		}

		decision := e.policy.GeneratesCheckMark(d, req, reason, downsize)
		if decision.Count {
			exemption, err := e.store.ActiveExemption(d.MemberID, end)
			if err != nil {
				return err
			}
			if exemption != nil {
				decision = rules.ExemptMark(rules.ExclExemption)
			}
		}
		if decision.Mark {
			plan.Mark = &models.CheckMark{
				MemberID:       d.MemberID,
				Book:           d.Book,
				RegistrationID: reg.ID,
				DispatchID:     d.ID,
				Exempt:         !decision.Count,
				Reason:         decision.Reason,
				CreatedAt:      end,
			}
			plan.MarkLimit = e.policy.MarkLimit()
		}
		if req.ByName && req.ForepersonCall {
			plan.Blackout = &models.BlackoutPeriod{
				MemberID:   d.MemberID,
				Employer:   d.Employer,
				StartsAt:   end,
				EndsAt:     e.policy.BlackoutEnd(end),
				DispatchID: d.ID,
			}
		}
	}

	if err := e.store.ApplyTermination(plan); err != nil {
		return err
	}
	logger.Info.Printf("Dispatch %d ended for %s: %s", d.ID, d.MemberID, reason)
	return nil
}

// openRequest loads a request that must still be open. Finding it already
// filled means another dispatcher claimed it between the caller's decision
// and the lock, which is the retryable conflict; cancelled and expired
// requests are genuinely past dispatching.
func (e *Engine) openRequest(requestID int64) (*models.LaborRequest, error) {
	req, err := e.store.GetLaborRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, models.ErrRequestNotFound
	}
	if req.Status == models.RequestFilled {
		return nil, fmt.Errorf("request %d already filled: %w", requestID, models.ErrConcurrentAssignmentConflict)
	}
	if req.Status != models.RequestOpen {
		return nil, fmt.Errorf("request %d is %s: %w", requestID, req.Status, models.ErrInvalidTransition)
	}
	return req, nil
}

// dispatchByName sends the named member out, provided the directory still
// vouches for them, no blackout bars the employer, the member holds an active
// registration on the book and is not already out on a job.
func (e *Engine) dispatchByName(ctx context.Context, req *models.LaborRequest, actor string) (*models.Dispatch, error) {
	m, err := e.directory.ResolveMember(ctx, req.NamedMember)
	if err != nil {
		return nil, err
	}
	if m.Standing != models.StandingGood {
		return nil, models.ErrNotEligible
	}
	blocked, err := e.IsBlocked(ctx, req.NamedMember, req.Employer)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, models.ErrBlackoutActive
	}
	if !rules.MeetsRequirements(m, req) {
		return nil, models.ErrNotEligible
	}
	reg, err := e.store.ActiveRegistration(req.NamedMember, req.Book)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, models.ErrNotActive
	}
	open, err := e.store.OpenDispatchForMember(req.NamedMember)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, models.ErrNotEligible
	}
	return e.assign(req, reg.ID, req.NamedMember, e.now(), actor)
}

// dispatchBidWinner settles the request's overnight bids and dispatches the
// qualified bidder holding the lowest priority key. Losing a registration to
// a concurrent assignment moves on to the next contender; losing the request
// itself surfaces the conflict. Nil with nil error means no bid won.
func (e *Engine) dispatchBidWinner(ctx context.Context, req *models.LaborRequest, at time.Time, actor string) (*models.Dispatch, error) {
	qualified, err := e.evaluateBids(ctx, req, at)
	if err != nil {
		return nil, err
	}

	for i := range qualified {
		winner := &qualified[i]
		d, err := e.assign(req, winner.reg.ID, winner.bid.MemberID, at, actor)
		if errors.Is(err, models.ErrConcurrentAssignmentConflict) {
			if err := e.requestStillOpen(req.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := e.store.SetBidOutcome(winner.bid.ID, models.BidPending, models.BidAccepted, at, "won on priority"); err != nil {
			return nil, err
		}
		for j := range qualified {
			if j == i {
				continue
			}
			loser := &qualified[j]
			note := fmt.Sprintf("outbid by %s", winner.bid.MemberID)
			if err := e.store.SetBidOutcome(loser.bid.ID, models.BidPending, models.BidOutbid, at, note); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, nil
}

// dispatchFromQueue walks the book's dispatch order and assigns the first
// candidate who meets the request's credentials and is not already out.
// Candidates consumed by a concurrent assignment are skipped; the request
// being consumed surfaces the conflict.
func (e *Engine) dispatchFromQueue(ctx context.Context, req *models.LaborRequest, actor string) (*models.Dispatch, error) {
	at := e.now()
	candidates, err := e.store.OrderedCandidates(req.Book, at)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		cand := &candidates[i]
		m := &models.Member{MemberID: cand.MemberID, Credentials: cand.Credentials}
		if !rules.MeetsRequirements(m, req) {
			continue
		}
		open, err := e.store.OpenDispatchForMember(cand.MemberID)
		if err != nil {
			return nil, err
		}
		if open != nil {
			continue
		}

		d, err := e.assign(req, cand.RegistrationID, cand.MemberID, at, actor)
		if errors.Is(err, models.ErrConcurrentAssignmentConflict) {
			if err := e.requestStillOpen(req.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, nil
}

// assign builds the dispatch row and runs the transactional claim: request
// open to filled, registration active to dispatched, dispatch inserted,
// all or nothing.
func (e *Engine) assign(req *models.LaborRequest, registrationID int64, memberID string, at time.Time, actor string) (*models.Dispatch, error) {
	exempt, _ := rules.IsCheckMarkExempt(req)
	d := &models.Dispatch{
		RegistrationID:    registrationID,
		RequestID:         req.ID,
		MemberID:          memberID,
		Book:              req.Book,
		Employer:          req.Employer,
		StartedAt:         at,
		CountsTowardMarks: !exempt,
	}
	if err := e.store.AssignDispatch(d, actor); err != nil {
		return nil, err
	}
	logger.Info.Printf("Dispatched %s to %s on request %d (%s)", memberID, req.Employer, req.ID, req.Book)
	return d, nil
}

// requestStillOpen distinguishes the two compare-and-set losses inside an
// assign: when the request itself was claimed the whole operation conflicts,
// when only the candidate's registration was, the caller tries the next one.
func (e *Engine) requestStillOpen(requestID int64) error {
	req, err := e.store.GetLaborRequest(requestID)
	if err != nil {
		return err
	}
	if req == nil || req.Status != models.RequestOpen {
		return models.ErrConcurrentAssignmentConflict
	}
	return nil
}

// settleLeftoverBids closes out pending bids on a request that was filled or
// withdrawn outside the morning evaluation. Nobody is sanctioned for these.
func (e *Engine) settleLeftoverBids(requestID int64, at time.Time) error {
	bids, err := e.store.PendingBids(requestID)
	if err != nil {
		return err
	}
	for _, bid := range bids {
		if err := e.store.SetBidOutcome(bid.ID, models.BidPending, models.BidOutbid, at, "request no longer open"); err != nil {
			return err
		}
	}
	return nil
}
