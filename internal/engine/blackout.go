package engine

import (
	"context"
	"time"

	"github.com/openhall/hiringhall/internal/models"
)

// OpenBlackout bars the employer from by-name requesting the member for the
// fixed window starting at the given instant. Normally fed by Terminate when
// a foreperson call ends in a quit or discharge; exposed for administrative
// corrections.
func (e *Engine) OpenBlackout(ctx context.Context, memberID, employer string, dispatchID int64, at time.Time, actor string) (*models.BlackoutPeriod, error) {
	b := &models.BlackoutPeriod{
		MemberID:   memberID,
		Employer:   employer,
		StartsAt:   at,
		EndsAt:     e.policy.BlackoutEnd(at),
		DispatchID: dispatchID,
	}
	if err := e.store.CreateBlackout(b, actor); err != nil {
		return nil, err
	}
	return b, nil
}

// IsBlocked reports whether an active blackout bars the employer from naming
// the member right now.
func (e *Engine) IsBlocked(ctx context.Context, memberID, employer string) (bool, error) {
	b, err := e.store.ActiveBlackout(memberID, employer, e.now())
	if err != nil {
		return false, err
	}
	return b != nil, nil
}
