package store

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openhall/hiringhall/internal/models"
)

// AssignDispatch performs the assign step as one transaction: the request is
// compare-and-set from open to filled, the registration from active to
// dispatched, and the dispatch row inserted. Losing either compare-and-set
// means another worker got there first; the caller may retry with the next
// candidate.
func (s *BaseStore) AssignDispatch(d *models.Dispatch, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(s.Converter(`
			UPDATE labor_requests SET status = 'filled'
			WHERE id = ? AND status = 'open'
		`), d.RequestID)
		if err != nil {
			return fmt.Errorf("failed to fill request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read fill result: %w", err)
		}
		if n == 0 {
			return models.ErrConcurrentAssignmentConflict
		}

		res, err = tx.Exec(s.Converter(`
			UPDATE registrations SET status = 'dispatched'
			WHERE id = ? AND status = 'active'
		`), d.RegistrationID)
		if err != nil {
			return fmt.Errorf("failed to consume registration: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read consume result: %w", err)
		}
		if n == 0 {
			return models.ErrConcurrentAssignmentConflict
		}

		err = tx.Get(&d.ID, s.Converter(`
			INSERT INTO dispatches (registration_id, request_id, member_id, book, employer,
				started_at, short_call, counts_toward_marks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`), d.RegistrationID, d.RequestID, d.MemberID, d.Book, d.Employer,
			d.StartedAt, d.ShortCall, d.CountsTowardMarks)
		if err != nil {
			return fmt.Errorf("failed to create dispatch: %w", err)
		}

		events := []*models.AuditEvent{
			auditEvent(actor, models.EntityLaborRequest, fmt.Sprint(d.RequestID),
				string(models.RequestOpen), string(models.RequestFilled),
				fmt.Sprintf("dispatched %s", d.MemberID), d.StartedAt),
			auditEvent(actor, models.EntityRegistration, fmt.Sprint(d.RegistrationID),
				string(models.RegActive), string(models.RegDispatched),
				fmt.Sprintf("request %d", d.RequestID), d.StartedAt),
			auditEvent(actor, models.EntityDispatch, fmt.Sprint(d.ID),
				"", "open", fmt.Sprintf("%s to %s", d.MemberID, d.Employer), d.StartedAt),
		}
		for _, ev := range events {
			if err := s.insertAudit(tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BaseStore) GetDispatch(id int64) (*models.Dispatch, error) {
	var d models.Dispatch
	query := s.Converter(`
		SELECT id, registration_id, request_id, member_id, book, employer,
			started_at, ended_at, termination, short_call, counts_toward_marks, downsize
		FROM dispatches
		WHERE id = ?
	`)

	err := s.DB.Get(&d, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch: %w", err)
	}
	return &d, nil
}

func (s *BaseStore) OpenDispatchForMember(memberID string) (*models.Dispatch, error) {
	var d models.Dispatch
	query := s.Converter(`
		SELECT id, registration_id, request_id, member_id, book, employer,
			started_at, ended_at, termination, short_call, counts_toward_marks, downsize
		FROM dispatches
		WHERE member_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`)

	err := s.DB.Get(&d, query, memberID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open dispatch: %w", err)
	}
	return &d, nil
}

func (s *BaseStore) ListOpenDispatches(book string) ([]models.Dispatch, error) {
	var dispatches []models.Dispatch
	query := s.Converter(`
		SELECT id, registration_id, request_id, member_id, book, employer,
			started_at, ended_at, termination, short_call, counts_toward_marks, downsize
		FROM dispatches
		WHERE book = ? AND ended_at IS NULL
		ORDER BY started_at, id
	`)

	err := s.DB.Select(&dispatches, query, book)
	if err != nil {
		return nil, fmt.Errorf("failed to list open dispatches: %w", err)
	}
	return dispatches, nil
}

func (s *BaseStore) ListMemberDispatches(memberID string) ([]models.Dispatch, error) {
	var dispatches []models.Dispatch
	query := s.Converter(`
		SELECT id, registration_id, request_id, member_id, book, employer,
			started_at, ended_at, termination, short_call, counts_toward_marks, downsize
		FROM dispatches
		WHERE member_id = ?
		ORDER BY started_at, id
	`)

	err := s.DB.Select(&dispatches, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member dispatches: %w", err)
	}
	return dispatches, nil
}

// ApplyTermination executes a termination plan atomically. The dispatch close
// is a compare-and-set on the open row, so terminating twice fails cleanly;
// every further step commits or rolls back with it.
func (s *BaseStore) ApplyTermination(plan *TerminationPlan) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(s.Converter(`
			UPDATE dispatches SET ended_at = ?, termination = ?, downsize = ?, short_call = ?
			WHERE id = ? AND ended_at IS NULL
		`), plan.EndedAt, plan.Reason, plan.Downsize, plan.ShortCall, plan.DispatchID)
		if err != nil {
			return fmt.Errorf("failed to terminate dispatch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read terminate result: %w", err)
		}
		if n == 0 {
			return models.ErrInvalidTransition
		}
		ev := auditEvent(plan.Actor, models.EntityDispatch, fmt.Sprint(plan.DispatchID),
			"open", string(plan.Reason), plan.Detail, plan.EndedAt)
		if err := s.insertAudit(tx, ev); err != nil {
			return err
		}

		if plan.RestoreRegistrationID != 0 {
			set := `status = 'active'`
			if plan.ConsumeShortCall {
				set = `status = 'active', short_calls = short_calls + 1`
			}
			res, err := tx.Exec(s.Converter(fmt.Sprintf(`
				UPDATE registrations SET %s
				WHERE id = ? AND status = 'dispatched'
			`, set)), plan.RestoreRegistrationID)
			if err != nil {
				return fmt.Errorf("failed to restore registration: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read restore result: %w", err)
			}
			if n == 0 {
				return models.ErrInvalidTransition
			}
			ev := auditEvent(plan.Actor, models.EntityRegistration, fmt.Sprint(plan.RestoreRegistrationID),
				string(models.RegDispatched), string(models.RegActive), "short-call return, position kept", plan.EndedAt)
			if err := s.insertAudit(tx, ev); err != nil {
				return err
			}
		}

		if plan.Mark != nil {
			if _, err := s.recordMarkTx(tx, plan.Mark, plan.MarkLimit, plan.Actor); err != nil {
				return err
			}
		}

		// The cascade covers the consumed registration too: on a quit the
		// dispatched row resigns along with every active one. A row the mark
		// step already rolled off keeps that state.
		for _, regID := range plan.ResignRegistrationIDs {
			var prior string
			err := tx.Get(&prior, s.Converter(`SELECT status FROM registrations WHERE id = ?`), regID)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to read registration %d: %w", regID, err)
			}
			if prior != string(models.RegActive) && prior != string(models.RegDispatched) {
				continue
			}
			res, err := tx.Exec(s.Converter(`
				UPDATE registrations SET status = 'resigned'
				WHERE id = ? AND status = ?
			`), regID, prior)
			if err != nil {
				return fmt.Errorf("failed to resign registration %d: %w", regID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read resign result: %w", err)
			}
			if n == 0 {
				continue
			}
			ev := auditEvent(plan.Actor, models.EntityRegistration, fmt.Sprint(regID),
				prior, string(models.RegResigned),
				fmt.Sprintf("left all books on %s", plan.Reason), plan.EndedAt)
			if err := s.insertAudit(tx, ev); err != nil {
				return err
			}
		}

		if plan.Blackout != nil {
			if err := s.createBlackoutTx(tx, plan.Blackout, plan.Actor); err != nil {
				return err
			}
		}

		return nil
	})
}

// FetchBookSummary reports every book's queue depth, the key at the front of
// the line, and open work against it.
func (s *BaseStore) FetchBookSummary() ([]BookSummaryRow, error) {
	query := `
		SELECT
			b.name AS book,
			b.status,
			b.processing_rank,
			(SELECT COUNT(*) FROM registrations r
				WHERE r.book = b.name AND r.status = 'active') AS queue_depth,
			(SELECT CAST(MIN(r.apn) AS TEXT) FROM registrations r
				WHERE r.book = b.name AND r.status = 'active') AS front_apn,
			(SELECT COUNT(*) FROM labor_requests q
				WHERE q.book = b.name AND q.status = 'open') AS open_requests,
			(SELECT COUNT(*) FROM dispatches d
				WHERE d.book = b.name AND d.ended_at IS NULL) AS open_dispatches
		FROM books b
		ORDER BY b.processing_rank, b.name
	`

	var rows []BookSummaryRow
	err := s.DB.Select(&rows, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch book summary: %w", err)
	}
	return rows, nil
}
