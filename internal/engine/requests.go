package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/models"
)

// SubmitRequest books an employer's job order against a book. Submissions
// before the daily cutoff make the next processing morning; later ones are
// queued one day further, never rejected. The returned bool reports that
// deferral so callers can tell the employer.
func (e *Engine) SubmitRequest(ctx context.Context, req *models.LaborRequest, actor string) (bool, error) {
	b, err := e.store.GetBook(req.Book)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, models.ErrBookNotFound
	}
	if !b.Dispatchable() {
		return false, models.ErrBookClosed
	}
	if req.Agreement != b.Agreement {
		return false, fmt.Errorf("agreement %s does not match book %s: %w", req.Agreement, req.Book, models.ErrNotEligible)
	}

	if req.ByName {
		if _, err := e.directory.ResolveMember(ctx, req.NamedMember); err != nil {
			return false, err
		}
		blocked, err := e.IsBlocked(ctx, req.NamedMember, req.Employer)
		if err != nil {
			return false, err
		}
		if blocked {
			return false, models.ErrBlackoutActive
		}
	}

	now := e.now()
	req.SubmittedAt = now
	req.ProcessOn = e.policy.ProcessDateFor(now)
	req.ExpiresOn = e.policy.RequestExpiry(req.ProcessOn)
	req.Status = models.RequestOpen
	if err := req.Validate(); err != nil {
		return false, err
	}
	if err := e.store.CreateLaborRequest(req, actor); err != nil {
		return false, err
	}

	deferred := !e.policy.BeforeCutoff(now)
	if deferred {
		logger.Debug.Printf("Request %d from %s missed the cutoff, queued for %s",
			req.ID, req.Employer, req.ProcessOn.Format("2006-01-02"))
	}
	return deferred, nil
}

// CancelRequest withdraws an open request. Filled and expired requests are
// past cancelling.
func (e *Engine) CancelRequest(ctx context.Context, requestID int64, actor, reason string) error {
	if reason == "" {
		reason = "cancelled by employer"
	}
	return e.store.TransitionRequest(requestID, models.RequestOpen, models.RequestCancelled, actor, reason)
}

// ExpireRequests lapses every open request whose expiry date passed before
// asOf. Safe to run repeatedly.
func (e *Engine) ExpireRequests(ctx context.Context, asOf time.Time, actor string) (int64, error) {
	n, err := e.store.ExpireRequests(asOf, actor)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info.Printf("Expired %d unfilled labor requests as of %s", n, asOf.Format("2006-01-02"))
	}
	return n, nil
}
