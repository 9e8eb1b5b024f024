package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openhall/hiringhall/internal/models"
)

func (s *BaseStore) CreateLaborRequest(req *models.LaborRequest, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		err := tx.Get(&req.ID, s.Converter(`
			INSERT INTO labor_requests (employer, book, agreement, requirements, submitted_at, process_on, expires_on,
				status, by_name, named_member, foreperson_call, specialty, early_start, under_scale, mou)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`), req.Employer, req.Book, req.Agreement, req.Requirements, req.SubmittedAt, req.ProcessOn, req.ExpiresOn,
			req.Status, req.ByName, req.NamedMember, req.ForepersonCall, req.Specialty, req.EarlyStart, req.UnderScale, req.MOU)
		if err != nil {
			return fmt.Errorf("failed to create labor request: %w", err)
		}

		detail := fmt.Sprintf("process on %s", req.ProcessOn.Format("2006-01-02"))
		return s.insertAudit(tx, auditEvent(actor, models.EntityLaborRequest, fmt.Sprint(req.ID), "", string(req.Status), detail, req.SubmittedAt))
	})
}

func (s *BaseStore) GetLaborRequest(id int64) (*models.LaborRequest, error) {
	var req models.LaborRequest
	query := s.Converter(`
		SELECT id, employer, book, agreement, requirements, submitted_at, process_on, expires_on,
			status, by_name, named_member, foreperson_call, specialty, early_start, under_scale, mou
		FROM labor_requests
		WHERE id = ?
	`)

	err := s.DB.Get(&req, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get labor request: %w", err)
	}
	return &req, nil
}

// ListDueRequests returns every open request whose processing day has
// arrived, oldest first.
func (s *BaseStore) ListDueRequests(asOf time.Time) ([]models.LaborRequest, error) {
	var reqs []models.LaborRequest
	query := s.Converter(`
		SELECT id, employer, book, agreement, requirements, submitted_at, process_on, expires_on,
			status, by_name, named_member, foreperson_call, specialty, early_start, under_scale, mou
		FROM labor_requests
		WHERE status = 'open' AND process_on <= ?
		ORDER BY id
	`)

	err := s.DB.Select(&reqs, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list due requests: %w", err)
	}
	return reqs, nil
}

func (s *BaseStore) ListRequestsByStatus(status models.RequestStatus) ([]models.LaborRequest, error) {
	var reqs []models.LaborRequest
	query := s.Converter(`
		SELECT id, employer, book, agreement, requirements, submitted_at, process_on, expires_on,
			status, by_name, named_member, foreperson_call, specialty, early_start, under_scale, mou
		FROM labor_requests
		WHERE status = ?
		ORDER BY id
	`)

	err := s.DB.Select(&reqs, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return reqs, nil
}

// TransitionRequest moves a request between states with a compare-and-set on
// the prior state, so two workers never both cancel or both fill it.
func (s *BaseStore) TransitionRequest(id int64, from, to models.RequestStatus, actor, detail string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		return s.transitionRequestTx(tx, id, from, to, actor, detail, time.Time{})
	})
}

func (s *BaseStore) transitionRequestTx(tx *sqlx.Tx, id int64, from, to models.RequestStatus, actor, detail string, at time.Time) error {
	if !from.CanTransition(to) {
		return models.ErrInvalidTransition
	}
	res, err := tx.Exec(s.Converter(`
		UPDATE labor_requests SET status = ?
		WHERE id = ? AND status = ?
	`), to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result: %w", err)
	}
	if n == 0 {
		return models.ErrInvalidTransition
	}
	return s.insertAudit(tx, auditEvent(actor, models.EntityLaborRequest, fmt.Sprint(id), string(from), string(to), detail, at))
}

// ExpireRequests closes every open request whose expiry date has passed.
// Idempotent; the second run finds nothing left to expire.
func (s *BaseStore) ExpireRequests(asOf time.Time, actor string) (int64, error) {
	var expired int64
	err := s.withTx(func(tx *sqlx.Tx) error {
		var ids []int64
		err := tx.Select(&ids, s.Converter(`
			SELECT id FROM labor_requests
			WHERE status = 'open' AND expires_on < ?
			ORDER BY id
		`), asOf)
		if err != nil {
			return fmt.Errorf("failed to find expired requests: %w", err)
		}

		for _, id := range ids {
			err := s.transitionRequestTx(tx, id, models.RequestOpen, models.RequestExpired, actor, "expiry date passed", asOf)
			if err == models.ErrInvalidTransition {
				continue
			}
			if err != nil {
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

// CreateBid records a member's overnight bid. One bid per member per request.
func (s *BaseStore) CreateBid(bid *models.JobBid) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		var existing int64
		err := tx.Get(&existing, s.Converter(`
			SELECT id FROM job_bids
			WHERE member_id = ? AND request_id = ?
		`), bid.MemberID, bid.RequestID)
		if err == nil {
			return models.ErrBidAlreadySubmitted
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check existing bid: %w", err)
		}

		bid.Outcome = models.BidPending
		err = tx.Get(&bid.ID, s.Converter(`
			INSERT INTO job_bids (member_id, request_id, submitted_at, outcome, note)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`), bid.MemberID, bid.RequestID, bid.SubmittedAt, bid.Outcome, bid.Note)
		if err != nil {
			return fmt.Errorf("failed to create bid: %w", err)
		}

		detail := fmt.Sprintf("request %d", bid.RequestID)
		return s.insertAudit(tx, auditEvent(bid.MemberID, models.EntityJobBid, fmt.Sprint(bid.ID), "", string(models.BidPending), detail, bid.SubmittedAt))
	})
}

func (s *BaseStore) GetBid(memberID string, requestID int64) (*models.JobBid, error) {
	var bid models.JobBid
	query := s.Converter(`
		SELECT id, member_id, request_id, submitted_at, decided_at, outcome, note
		FROM job_bids
		WHERE member_id = ? AND request_id = ?
	`)

	err := s.DB.Get(&bid, query, memberID, requestID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return &bid, nil
}

func (s *BaseStore) PendingBids(requestID int64) ([]models.JobBid, error) {
	var bids []models.JobBid
	query := s.Converter(`
		SELECT id, member_id, request_id, submitted_at, decided_at, outcome, note
		FROM job_bids
		WHERE request_id = ? AND outcome = 'pending'
		ORDER BY submitted_at, id
	`)

	err := s.DB.Select(&bids, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending bids: %w", err)
	}
	return bids, nil
}

// SetBidOutcome settles one bid with a compare-and-set on its current outcome.
func (s *BaseStore) SetBidOutcome(id int64, from, to models.BidOutcome, decidedAt time.Time, note string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(s.Converter(`
			UPDATE job_bids SET outcome = ?, decided_at = ?, note = ?
			WHERE id = ? AND outcome = ?
		`), to, decidedAt, note, id, from)
		if err != nil {
			return fmt.Errorf("failed to set bid outcome: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read bid outcome result: %w", err)
		}
		if n == 0 {
			return models.ErrInvalidTransition
		}
		return s.insertAudit(tx, auditEvent("referral-engine", models.EntityJobBid, fmt.Sprint(id), string(from), string(to), note, decidedAt))
	})
}

// CountRejections counts for-cause bid rejections decided since the window
// start. Outbid losses never count.
func (s *BaseStore) CountRejections(memberID string, since time.Time) (int, error) {
	var count int
	query := s.Converter(`
		SELECT COUNT(*) FROM job_bids
		WHERE member_id = ?
		AND outcome = 'rejected'
		AND decided_at >= ?
	`)

	if err := s.DB.Get(&count, query, memberID, since); err != nil {
		return 0, fmt.Errorf("failed to count rejections: %w", err)
	}
	return count, nil
}

func (s *BaseStore) CreateInfraction(inf *models.BiddingInfraction, actor string) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		err := tx.Get(&inf.ID, s.Converter(`
			INSERT INTO bidding_infractions (member_id, starts_at, ends_at, bid_id)
			VALUES (?, ?, ?, ?)
			RETURNING id
		`), inf.MemberID, inf.StartsAt, inf.EndsAt, inf.BidID)
		if err != nil {
			return fmt.Errorf("failed to create infraction: %w", err)
		}

		detail := fmt.Sprintf("bidding suspended until %s", inf.EndsAt.Format(time.RFC3339))
		return s.insertAudit(tx, auditEvent(actor, models.EntityInfraction, fmt.Sprint(inf.ID), "", "open", detail, inf.StartsAt))
	})
}

func (s *BaseStore) ActiveInfraction(memberID string, asOf time.Time) (*models.BiddingInfraction, error) {
	var inf models.BiddingInfraction
	query := s.Converter(`
		SELECT id, member_id, starts_at, ends_at, bid_id
		FROM bidding_infractions
		WHERE member_id = ?
		AND starts_at <= ?
		AND ends_at > ?
		ORDER BY ends_at DESC
		LIMIT 1
	`)

	err := s.DB.Get(&inf, query, memberID, asOf, asOf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active infraction: %w", err)
	}
	return &inf, nil
}
