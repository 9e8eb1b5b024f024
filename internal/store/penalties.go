package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openhall/hiringhall/internal/models"
)

// RecordCheckMark appends one mark and, when the counted total reaches limit,
// rolls the marked registration off its book in the same transaction. Exempt
// marks are stored for the record but never counted.
func (s *BaseStore) RecordCheckMark(mark *models.CheckMark, limit int, actor string) (bool, error) {
	var rolledOff bool
	err := s.withTx(func(tx *sqlx.Tx) error {
		var err error
		rolledOff, err = s.recordMarkTx(tx, mark, limit, actor)
		return err
	})
	if err != nil {
		return false, err
	}
	return rolledOff, nil
}

func (s *BaseStore) recordMarkTx(tx *sqlx.Tx, mark *models.CheckMark, limit int, actor string) (bool, error) {
	var status models.RegistrationStatus
	err := tx.Get(&status, s.Converter(`SELECT status FROM registrations WHERE id = ?`), mark.RegistrationID)
	if err == sql.ErrNoRows {
		return false, models.ErrNotActive
	}
	if err != nil {
		return false, fmt.Errorf("failed to get marked registration: %w", err)
	}
	if status == models.RegRolledOff {
		return false, models.ErrRollOffLimitReached
	}

	if mark.CreatedAt.IsZero() {
		mark.CreatedAt = time.Now().UTC()
	}
	err = tx.Get(&mark.ID, s.Converter(`
		INSERT INTO check_marks (member_id, book, registration_id, dispatch_id, exempt, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), mark.MemberID, mark.Book, mark.RegistrationID, mark.DispatchID, mark.Exempt, mark.Reason, mark.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record check mark: %w", err)
	}

	state := "counted"
	if mark.Exempt {
		state = "exempt"
	}
	ev := auditEvent(actor, models.EntityCheckMark, fmt.Sprint(mark.ID), "", state, mark.Reason, mark.CreatedAt)
	if err := s.insertAudit(tx, ev); err != nil {
		return false, err
	}

	if mark.Exempt {
		return false, nil
	}

	var counted int
	err = tx.Get(&counted, s.Converter(`
		SELECT COUNT(*) FROM check_marks
		WHERE registration_id = ? AND NOT exempt
	`), mark.RegistrationID)
	if err != nil {
		return false, fmt.Errorf("failed to count check marks: %w", err)
	}
	if counted < limit {
		return false, nil
	}

	res, err := tx.Exec(s.Converter(`
		UPDATE registrations SET status = 'rolled_off'
		WHERE id = ? AND status IN ('active', 'dispatched')
	`), mark.RegistrationID)
	if err != nil {
		return false, fmt.Errorf("failed to roll off registration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read roll-off result: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	detail := fmt.Sprintf("mark %d of %d", counted, limit)
	ev = auditEvent(actor, models.EntityRegistration, fmt.Sprint(mark.RegistrationID), string(status), string(models.RegRolledOff), detail, mark.CreatedAt)
	if err := s.insertAudit(tx, ev); err != nil {
		return false, err
	}
	return true, nil
}

func (s *BaseStore) CountedCheckMarks(registrationID int64) (int, error) {
	var counted int
	query := s.Converter(`
		SELECT COUNT(*) FROM check_marks
		WHERE registration_id = ? AND NOT exempt
	`)

	if err := s.DB.Get(&counted, query, registrationID); err != nil {
		return 0, fmt.Errorf("failed to count check marks: %w", err)
	}
	return counted, nil
}

func (s *BaseStore) ListCheckMarks(memberID, book string) ([]models.CheckMark, error) {
	var marks []models.CheckMark
	query := s.Converter(`
		SELECT id, member_id, book, registration_id, dispatch_id, exempt, reason, created_at
		FROM check_marks
		WHERE member_id = ? AND book = ?
		ORDER BY created_at, id
	`)

	err := s.DB.Select(&marks, query, memberID, book)
	if err != nil {
		return nil, fmt.Errorf("failed to list check marks: %w", err)
	}
	return marks, nil
}

// CreateExemption opens an exemption window. A member carries at most one
// open window at a time.
func (s *BaseStore) CreateExemption(e *models.Exemption, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		var open int64
		err := tx.Get(&open, s.Converter(`
			SELECT id FROM exemptions
			WHERE member_id = ? AND ends_at IS NULL
		`), e.MemberID)
		if err == nil {
			return fmt.Errorf("exemption already open for %s: %w", e.MemberID, models.ErrInvalidTransition)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check open exemption: %w", err)
		}

		err = tx.Get(&e.ID, s.Converter(`
			INSERT INTO exemptions (member_id, reason, starts_at, ends_at)
			VALUES (?, ?, ?, ?)
			RETURNING id
		`), e.MemberID, e.Reason, e.StartsAt, e.EndsAt)
		if err != nil {
			return fmt.Errorf("failed to create exemption: %w", err)
		}
		return s.insertAudit(tx, auditEvent(actor, models.EntityExemption, fmt.Sprint(e.ID), "", "open", string(e.Reason), e.StartsAt))
	})
}

// EndExemption closes the member's open window. Closing is always an explicit
// act; windows never lapse on their own.
func (s *BaseStore) EndExemption(memberID string, at time.Time, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		var id int64
		err := tx.Get(&id, s.Converter(`
			SELECT id FROM exemptions
			WHERE member_id = ? AND ends_at IS NULL
		`), memberID)
		if err == sql.ErrNoRows {
			return models.ErrNotActive
		}
		if err != nil {
			return fmt.Errorf("failed to find open exemption: %w", err)
		}

		_, err = tx.Exec(s.Converter(`UPDATE exemptions SET ends_at = ? WHERE id = ?`), at, id)
		if err != nil {
			return fmt.Errorf("failed to end exemption: %w", err)
		}
		return s.insertAudit(tx, auditEvent(actor, models.EntityExemption, fmt.Sprint(id), "open", "closed", "", at))
	})
}

func (s *BaseStore) ActiveExemption(memberID string, asOf time.Time) (*models.Exemption, error) {
	var e models.Exemption
	query := s.Converter(`
		SELECT id, member_id, reason, starts_at, ends_at
		FROM exemptions
		WHERE member_id = ?
		AND starts_at <= ?
		AND (ends_at IS NULL OR ends_at > ?)
		ORDER BY starts_at DESC
		LIMIT 1
	`)

	err := s.DB.Get(&e, query, memberID, asOf, asOf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active exemption: %w", err)
	}
	return &e, nil
}

func (s *BaseStore) CreateBlackout(b *models.BlackoutPeriod, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		return s.createBlackoutTx(tx, b, actor)
	})
}

func (s *BaseStore) createBlackoutTx(tx *sqlx.Tx, b *models.BlackoutPeriod, actor string) error {
	err := tx.Get(&b.ID, s.Converter(`
		INSERT INTO blackouts (member_id, employer, starts_at, ends_at, dispatch_id)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), b.MemberID, b.Employer, b.StartsAt, b.EndsAt, b.DispatchID)
	if err != nil {
		return fmt.Errorf("failed to create blackout: %w", err)
	}
	detail := fmt.Sprintf("%s barred from naming %s until %s", b.Employer, b.MemberID, b.EndsAt.Format(time.RFC3339))
	return s.insertAudit(tx, auditEvent(actor, models.EntityBlackout, fmt.Sprint(b.ID), "", "open", detail, b.StartsAt))
}

func (s *BaseStore) ActiveBlackout(memberID, employer string, asOf time.Time) (*models.BlackoutPeriod, error) {
	var b models.BlackoutPeriod
	query := s.Converter(`
		SELECT id, member_id, employer, starts_at, ends_at, dispatch_id
		FROM blackouts
		WHERE member_id = ?
		AND employer = ?
		AND starts_at <= ?
		AND ends_at > ?
		ORDER BY ends_at DESC
		LIMIT 1
	`)

	err := s.DB.Get(&b, query, memberID, employer, asOf, asOf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active blackout: %w", err)
	}
	return &b, nil
}
