package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openhall/hiringhall/internal/apn"
	"github.com/openhall/hiringhall/internal/models"
)

func (s *BaseStore) CreateBook(book *models.Book, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		_, err := tx.NamedExec(`
			INSERT INTO books (name, classification, region, contract_code, agreement, level, kind, processing_rank, status)
			VALUES (:name, :classification, :region, :contract_code, :agreement, :level, :kind, :processing_rank, :status)
		`, book)
		if err != nil {
			return fmt.Errorf("failed to create book: %w", err)
		}
		return s.insertAudit(tx, auditEvent(actor, models.EntityBook, book.Name, "", string(book.Status), "book created", time.Time{}))
	})
}

func (s *BaseStore) GetBook(name string) (*models.Book, error) {
	var book models.Book
	query := s.Converter(`
		SELECT name, classification, region, contract_code, agreement, level, kind, processing_rank, status
		FROM books
		WHERE name = ?
	`)

	err := s.DB.Get(&book, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &book, nil
}

func (s *BaseStore) ListBooks() ([]models.Book, error) {
	var books []models.Book
	err := s.DB.Select(&books, `
		SELECT name, classification, region, contract_code, agreement, level, kind, processing_rank, status
		FROM books
		ORDER BY processing_rank, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// ProcessingOrder returns the books the morning sweep walks, highest priority
// first. Frozen books still dispatch their existing queues.
func (s *BaseStore) ProcessingOrder() ([]models.Book, error) {
	var books []models.Book
	err := s.DB.Select(&books, `
		SELECT name, classification, region, contract_code, agreement, level, kind, processing_rank, status
		FROM books
		WHERE status IN ('active', 'frozen')
		ORDER BY processing_rank, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing order: %w", err)
	}
	return books, nil
}

func (s *BaseStore) SetBookStatus(name string, status models.BookStatus, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		var prior string
		err := tx.Get(&prior, s.Converter(`SELECT status FROM books WHERE name = ?`), name)
		if err == sql.ErrNoRows {
			return models.ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get book status: %w", err)
		}

		_, err = tx.Exec(s.Converter(`UPDATE books SET status = ? WHERE name = ?`), status, name)
		if err != nil {
			return fmt.Errorf("failed to set book status: %w", err)
		}
		return s.insertAudit(tx, auditEvent(actor, models.EntityBook, name, prior, string(status), "", time.Time{}))
	})
}

func (s *BaseStore) UpsertMember(m *models.Member) error {
	_, err := s.DB.NamedExec(`
		INSERT INTO members (member_id, name, classifications, standing, tier, credentials)
		VALUES (:member_id, :name, :classifications, :standing, :tier, :credentials)
		ON CONFLICT(member_id) DO UPDATE SET
		name = :name,
		classifications = :classifications,
		standing = :standing,
		tier = :tier,
		credentials = :credentials
	`, m)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

func (s *BaseStore) GetMember(memberID string) (*models.Member, error) {
	var m models.Member
	query := s.Converter(`
		SELECT member_id, name, classifications, standing, tier, credentials
		FROM members
		WHERE member_id = ?
	`)

	err := s.DB.Get(&m, query, memberID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

// CreateRegistration signs a member onto a book. The intra-day ordinal and the
// generation counter are allocated inside the transaction; the caller provides
// everything else, including the sign-in instant in CreatedAt.
func (s *BaseStore) CreateRegistration(reg *models.Registration, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		var existing int64
		err := tx.Get(&existing, s.Converter(`
			SELECT id FROM registrations
			WHERE member_id = ? AND book = ? AND status = 'active'
		`), reg.MemberID, reg.Book)
		if err == nil {
			return models.ErrDuplicateActiveRegistration
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check active registration: %w", err)
		}

		signIn := reg.CreatedAt.UTC()
		day := time.Date(signIn.Year(), signIn.Month(), signIn.Day(), 0, 0, 0, 0, time.UTC)
		key, err := s.nextAPN(tx, reg.Book, day)
		if err != nil {
			return err
		}
		reg.APN = key

		var generation int
		err = tx.Get(&generation, s.Converter(`
			SELECT COUNT(*) FROM registrations WHERE member_id = ? AND book = ?
		`), reg.MemberID, reg.Book)
		if err != nil {
			return fmt.Errorf("failed to count prior registrations: %w", err)
		}
		reg.Generation = generation + 1
		reg.Status = models.RegActive
		reg.LastResignAt = signIn

		err = tx.Get(&reg.ID, s.Converter(`
			INSERT INTO registrations (member_id, book, apn, tier, generation, status, short_calls, last_resign_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`), reg.MemberID, reg.Book, reg.APN, reg.Tier, reg.Generation, reg.Status, reg.ShortCalls, reg.LastResignAt, reg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create registration: %w", err)
		}

		detail := fmt.Sprintf("apn=%s generation=%d", reg.APN, reg.Generation)
		return s.insertAudit(tx, auditEvent(actor, models.EntityRegistration, fmt.Sprint(reg.ID), "", string(models.RegActive), detail, reg.CreatedAt))
	})
}

// nextAPN allocates the next intra-day ordinal for (book, day). Concurrent
// allocators racing here can mint the same key; duplicate APNs are a legal
// state and ordering falls back to registration id.
func (s *BaseStore) nextAPN(tx *sqlx.Tx, book string, day time.Time) (apn.Key, error) {
	floor, err := apn.Encode(day, 0)
	if err != nil {
		return apn.Key{}, fmt.Errorf("failed to encode day key: %w", err)
	}
	ceil, err := apn.Encode(day.AddDate(0, 0, 1), 0)
	if err != nil {
		return apn.Key{}, fmt.Errorf("failed to encode day key: %w", err)
	}

	var top apn.Key
	err = tx.Get(&top, s.Converter(`
		SELECT apn FROM registrations
		WHERE book = ? AND apn >= ? AND apn < ?
		ORDER BY apn DESC
		LIMIT 1
	`), book, floor, ceil)
	if err == sql.ErrNoRows {
		return floor, nil
	}
	if err != nil {
		return apn.Key{}, fmt.Errorf("failed to find day ordinal: %w", err)
	}

	if top.Ordinal() >= apn.MaxOrdinal {
		return apn.Key{}, models.ErrOrdinalExhausted
	}
	return apn.Encode(day, top.Ordinal()+1)
}

func (s *BaseStore) GetRegistration(id int64) (*models.Registration, error) {
	var reg models.Registration
	query := s.Converter(`
		SELECT id, member_id, book, apn, tier, generation, status, short_calls, last_resign_at, created_at
		FROM registrations
		WHERE id = ?
	`)

	err := s.DB.Get(&reg, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	return &reg, nil
}

func (s *BaseStore) ActiveRegistration(memberID, book string) (*models.Registration, error) {
	var reg models.Registration
	query := s.Converter(`
		SELECT id, member_id, book, apn, tier, generation, status, short_calls, last_resign_at, created_at
		FROM registrations
		WHERE member_id = ? AND book = ? AND status = 'active'
	`)

	err := s.DB.Get(&reg, query, memberID, book)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active registration: %w", err)
	}
	return &reg, nil
}

// MemberHoldings returns the member's active registrations joined with each
// book's classification and processing rank, for the one-book-per-classification
// rule and the quit cascade.
func (s *BaseStore) MemberHoldings(memberID string) ([]Holding, error) {
	var holdings []Holding
	query := s.Converter(`
		SELECT r.id, r.book, r.apn, b.classification, b.processing_rank
		FROM registrations r
		JOIN books b ON b.name = r.book
		WHERE r.member_id = ? AND r.status = 'active'
		ORDER BY b.processing_rank, r.book
	`)

	err := s.DB.Select(&holdings, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member holdings: %w", err)
	}
	return holdings, nil
}

func (s *BaseStore) ListMemberRegistrations(memberID string) ([]models.Registration, error) {
	var regs []models.Registration
	query := s.Converter(`
		SELECT id, member_id, book, apn, tier, generation, status, short_calls, last_resign_at, created_at
		FROM registrations
		WHERE member_id = ?
		ORDER BY book, generation
	`)

	err := s.DB.Select(&regs, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member registrations: %w", err)
	}
	return regs, nil
}

// TouchReSign refreshes the 30-day clock without touching the APN.
func (s *BaseStore) TouchReSign(id int64, at time.Time, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(s.Converter(`
			UPDATE registrations SET last_resign_at = ?
			WHERE id = ? AND status = 'active'
		`), at, id)
		if err != nil {
			return fmt.Errorf("failed to re-sign registration: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read re-sign result: %w", err)
		}
		if n == 0 {
			return models.ErrNotActive
		}
		return s.insertAudit(tx, auditEvent(actor, models.EntityRegistration, fmt.Sprint(id), string(models.RegActive), string(models.RegActive), "re-sign", at))
	})
}

// CloseRegistration moves an active registration to a terminal status.
func (s *BaseStore) CloseRegistration(id int64, to models.RegistrationStatus, actor, detail string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(s.Converter(`
			UPDATE registrations SET status = ?
			WHERE id = ? AND status = 'active'
		`), to, id)
		if err != nil {
			return fmt.Errorf("failed to close registration: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read close result: %w", err)
		}
		if n == 0 {
			return models.ErrNotActive
		}
		return s.insertAudit(tx, auditEvent(actor, models.EntityRegistration, fmt.Sprint(id), string(models.RegActive), string(to), detail, time.Time{}))
	})
}

// ExpireStaleRegistrations rolls every active registration whose re-sign clock
// ran out before cutoff, skipping members under an active exemption. Running
// it twice over the same instant is a no-op the second time.
func (s *BaseStore) ExpireStaleRegistrations(cutoff, asOf time.Time, actor string) (int64, error) {
	var expired int64
	err := s.withTx(func(tx *sqlx.Tx) error {
		var ids []int64
		err := tx.Select(&ids, s.Converter(`
			SELECT r.id
			FROM registrations r
			WHERE r.status = 'active'
			AND r.last_resign_at < ?
			AND NOT EXISTS (
				SELECT 1 FROM exemptions e
				WHERE e.member_id = r.member_id
				AND e.starts_at <= ?
				AND (e.ends_at IS NULL OR e.ends_at > ?)
			)
			ORDER BY r.id
		`), cutoff, asOf, asOf)
		if err != nil {
			return fmt.Errorf("failed to find stale registrations: %w", err)
		}

		for _, id := range ids {
			res, err := tx.Exec(s.Converter(`
				UPDATE registrations SET status = 'expired'
				WHERE id = ? AND status = 'active'
			`), id)
			if err != nil {
				return fmt.Errorf("failed to expire registration %d: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read expire result: %w", err)
			}
			if n == 0 {
				continue
			}
			ev := auditEvent(actor, models.EntityRegistration, fmt.Sprint(id), string(models.RegActive), string(models.RegExpired), "re-sign window lapsed", asOf)
			if err := s.insertAudit(tx, ev); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// OrderedCandidates returns a book's dispatchable queue in referral order:
// ascending APN, registration id breaking ties. Members in bad standing or
// under an active exemption are skipped; they hold their place but cannot
// take a call.
func (s *BaseStore) OrderedCandidates(book string, asOf time.Time) ([]Candidate, error) {
	var candidates []Candidate
	query := s.Converter(`
		SELECT
			r.id,
			r.member_id,
			r.book,
			r.apn,
			r.tier,
			r.generation,
			r.short_calls,
			r.last_resign_at,
			m.name,
			m.credentials
		FROM registrations r
		JOIN members m ON m.member_id = r.member_id
		WHERE r.book = ?
		AND r.status = 'active'
		AND m.standing = 'good'
		AND NOT EXISTS (
			SELECT 1 FROM exemptions e
			WHERE e.member_id = r.member_id
			AND e.starts_at <= ?
			AND (e.ends_at IS NULL OR e.ends_at > ?)
		)
		ORDER BY r.apn ASC, r.id ASC
	`)

	err := s.DB.Select(&candidates, query, book, asOf, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return candidates, nil
}
