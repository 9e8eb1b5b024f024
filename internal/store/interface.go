package store

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/models"
)

type ReferralStore interface {
	Close() error
	ApplyMigrations(dir string) error

	CreateBook(book *models.Book, actor string) error
	GetBook(name string) (*models.Book, error)
	ListBooks() ([]models.Book, error)
	ProcessingOrder() ([]models.Book, error)
	SetBookStatus(name string, status models.BookStatus, actor string) error

	UpsertMember(m *models.Member) error
	GetMember(memberID string) (*models.Member, error)

	CreateRegistration(reg *models.Registration, actor string) error
	GetRegistration(id int64) (*models.Registration, error)
	ActiveRegistration(memberID, book string) (*models.Registration, error)
	MemberHoldings(memberID string) ([]Holding, error)
	ListMemberRegistrations(memberID string) ([]models.Registration, error)
	TouchReSign(id int64, at time.Time, actor string) error
	CloseRegistration(id int64, to models.RegistrationStatus, actor, detail string) error
	ExpireStaleRegistrations(cutoff, asOf time.Time, actor string) (int64, error)
	OrderedCandidates(book string, asOf time.Time) ([]Candidate, error)

	RecordCheckMark(mark *models.CheckMark, limit int, actor string) (rolledOff bool, err error)
	CountedCheckMarks(registrationID int64) (int, error)
	ListCheckMarks(memberID, book string) ([]models.CheckMark, error)

	CreateExemption(e *models.Exemption, actor string) error
	EndExemption(memberID string, at time.Time, actor string) error
	ActiveExemption(memberID string, asOf time.Time) (*models.Exemption, error)

	CreateBlackout(b *models.BlackoutPeriod, actor string) error
	ActiveBlackout(memberID, employer string, asOf time.Time) (*models.BlackoutPeriod, error)

	CreateLaborRequest(req *models.LaborRequest, actor string) error
	GetLaborRequest(id int64) (*models.LaborRequest, error)
	ListDueRequests(asOf time.Time) ([]models.LaborRequest, error)
	ListRequestsByStatus(status models.RequestStatus) ([]models.LaborRequest, error)
	TransitionRequest(id int64, from, to models.RequestStatus, actor, detail string) error
	ExpireRequests(asOf time.Time, actor string) (int64, error)

	CreateBid(bid *models.JobBid) error
	GetBid(memberID string, requestID int64) (*models.JobBid, error)
	PendingBids(requestID int64) ([]models.JobBid, error)
	SetBidOutcome(id int64, from, to models.BidOutcome, decidedAt time.Time, note string) error
	CountRejections(memberID string, since time.Time) (int, error)
	CreateInfraction(inf *models.BiddingInfraction, actor string) error
	ActiveInfraction(memberID string, asOf time.Time) (*models.BiddingInfraction, error)

	AssignDispatch(d *models.Dispatch, actor string) error
	GetDispatch(id int64) (*models.Dispatch, error)
	OpenDispatchForMember(memberID string) (*models.Dispatch, error)
	ListOpenDispatches(book string) ([]models.Dispatch, error)
	ListMemberDispatches(memberID string) ([]models.Dispatch, error)
	ApplyTermination(plan *TerminationPlan) error

	RecordAudit(ev *models.AuditEvent) error
	ListAuditTrail(entityType, entityID string, limit int) ([]models.AuditEvent, error)

	FetchBookSummary() ([]BookSummaryRow, error)
	FetchDispatchStats(book string, since, until time.Time, timestampFormat string, includeHumanDttm bool) ([]DispatchStatRow, error)
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(fmt.Sprintf("%s/%s", dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		logger.Info.Printf("Applying migration: %s", file.Name())
		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *BaseStore) withTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertAudit appends one audit event inside the caller's transaction. Every
// state transition the store performs goes through here so the trail commits
// or rolls back together with the change it describes.
func (s *BaseStore) insertAudit(tx *sqlx.Tx, ev *models.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := tx.NamedExec(`
		INSERT INTO audit_events (id, actor, entity_type, entity_id, prior_state, new_state, detail, created_at)
		VALUES (:id, :actor, :entity_type, :entity_id, :prior_state, :new_state, :detail, :created_at)
	`, ev)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (s *BaseStore) RecordAudit(ev *models.AuditEvent) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		return s.insertAudit(tx, ev)
	})
}

func (s *BaseStore) ListAuditTrail(entityType, entityID string, limit int) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	query := s.Converter(`
		SELECT id, actor, entity_type, entity_id, prior_state, new_state, detail, created_at
		FROM audit_events
		WHERE entity_type = ?
		AND entity_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)

	err := s.DB.Select(&events, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit trail: %w", err)
	}
	return events, nil
}

func auditEvent(actor, entityType, entityID, prior, next, detail string, at time.Time) *models.AuditEvent {
	return &models.AuditEvent{
		Actor:      actor,
		EntityType: entityType,
		EntityID:   entityID,
		PriorState: prior,
		NewState:   next,
		Detail:     detail,
		CreatedAt:  at,
	}
}
