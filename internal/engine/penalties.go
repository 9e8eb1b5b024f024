package engine

import (
	"context"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/models"
	"github.com/openhall/hiringhall/internal/rules"
)

// RecordCheckMark applies a penalty decision against a registration. Exempt
// marks are recorded for the trail but never counted; a member under an open
// exemption collects only exempt marks no matter what the decision says. The
// mark that reaches the counted limit rolls the registration off its book in
// the same transaction, and the bool reports when that happened.
func (e *Engine) RecordCheckMark(ctx context.Context, registrationID, dispatchID int64, decision rules.CheckMarkDecision, actor string) (bool, error) {
	if !decision.Mark {
		return false, nil
	}

	reg, err := e.store.GetRegistration(registrationID)
	if err != nil {
		return false, err
	}
	if reg == nil {
		return false, models.ErrNotActive
	}

	now := e.now()
	if decision.Count {
		exemption, err := e.store.ActiveExemption(reg.MemberID, now)
		if err != nil {
			return false, err
		}
		if exemption != nil {
			decision = rules.ExemptMark(rules.ExclExemption)
		}
	}

	mark := &models.CheckMark{
		MemberID:       reg.MemberID,
		Book:           reg.Book,
		RegistrationID: reg.ID,
		DispatchID:     dispatchID,
		Exempt:         !decision.Count,
		Reason:         decision.Reason,
		CreatedAt:      now,
	}
	rolledOff, err := e.store.RecordCheckMark(mark, e.policy.MarkLimit(), actor)
	if err != nil {
		return false, err
	}
	if rolledOff {
		logger.Info.Printf("Registration %d rolled off %s at the check-mark limit", reg.ID, reg.Book)
	}
	return rolledOff, nil
}

// Exempt opens a member-wide exemption window. While it stays open the
// re-sign clock and check-mark accrual are suspended across every book, and
// the member drops out of dispatch order.
func (e *Engine) Exempt(ctx context.Context, memberID string, reason models.ExemptionReason, actor string) (*models.Exemption, error) {
	if _, err := e.directory.ResolveMember(ctx, memberID); err != nil {
		return nil, err
	}
	ex := &models.Exemption{
		MemberID: memberID,
		Reason:   reason,
		StartsAt: e.now(),
	}
	if err := e.store.CreateExemption(ex, actor); err != nil {
		return nil, err
	}
	return ex, nil
}

// EndExemption closes the member's open exemption window. Windows never lapse
// on their own; the close always lands in the audit trail. The re-sign clock
// was suspended the whole time, so it restarts from the close instant on
// every book the member holds.
func (e *Engine) EndExemption(ctx context.Context, memberID, actor string) error {
	at := e.now()
	if err := e.store.EndExemption(memberID, at, actor); err != nil {
		return err
	}
	holdings, err := e.store.MemberHoldings(memberID)
	if err != nil {
		return err
	}
	for _, h := range holdings {
		if err := e.store.TouchReSign(h.RegistrationID, at, actor); err != nil {
			return err
		}
	}
	return nil
}
