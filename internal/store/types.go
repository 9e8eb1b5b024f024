package store

import (
	"time"

	"github.com/openhall/hiringhall/internal/apn"
	"github.com/openhall/hiringhall/internal/models"
)

type DatabaseType string

const (
	DBTypePostgres DatabaseType = "postgres"
	DBTypeSQLite   DatabaseType = "sqlite"
)

type DBConfig struct {
	DSN  string
	Type DatabaseType
}

// Candidate is one dispatchable row of a book's queue: the registration plus
// the directory fields the dispatcher needs to qualify the member.
type Candidate struct {
	RegistrationID int64     `db:"id"`
	MemberID       string    `db:"member_id"`
	Book           string    `db:"book"`
	APN            apn.Key   `db:"apn"`
	Tier           int       `db:"tier"`
	Generation     int       `db:"generation"`
	ShortCalls     int       `db:"short_calls"`
	LastResignAt   time.Time `db:"last_resign_at"`
	Name           string    `db:"name"`
	Credentials    string    `db:"credentials"`
}

// Holding is an active registration joined with its book's classification and
// processing rank, the shape the highest-book rule consumes.
type Holding struct {
	RegistrationID int64   `db:"id"`
	Book           string  `db:"book"`
	APN            apn.Key `db:"apn"`
	Classification string  `db:"classification"`
	ProcessingRank int     `db:"processing_rank"`
}

// TerminationPlan is the full set of writes that close out one dispatch. The
// engine decides every step up front; the store applies them in a single
// transaction so a crash can never leave half a cascade behind.
type TerminationPlan struct {
	DispatchID int64
	Reason     models.TerminationReason
	Downsize   bool
	ShortCall  bool
	EndedAt    time.Time
	Actor      string
	Detail     string

	// Short-call return: flip the consumed registration back to active with
	// its original APN, optionally burning one slot of the short-call cap.
	RestoreRegistrationID int64
	ConsumeShortCall      bool

	// Quit/discharge cascade: these registrations leave their books.
	ResignRegistrationIDs []int64

	// Penalty bookkeeping. MarkLimit is the counted-mark total that rolls the
	// marked registration off its book within the same transaction.
	Mark      *models.CheckMark
	MarkLimit int

	Blackout *models.BlackoutPeriod
}

// BookSummaryRow is one line of the hall-wide queue report.
type BookSummaryRow struct {
	Book           string  `db:"book"`
	Status         string  `db:"status"`
	ProcessingRank int     `db:"processing_rank"`
	QueueDepth     int64   `db:"queue_depth"`
	FrontAPN       *string `db:"front_apn"`
	OpenRequests   int64   `db:"open_requests"`
	OpenDispatches int64   `db:"open_dispatches"`
}

// DispatchStatRow aggregates one member's dispatch history on a book.
type DispatchStatRow struct {
	MemberID       string  `db:"member_id"`
	Book           string  `db:"book"`
	Dispatches     int64   `db:"dispatches"`
	ShortCalls     int64   `db:"short_calls"`
	AvgJobSeconds  *int64  `db:"avg_job_seconds"`
	FirstDispatch  *string `db:"first_dispatch"`
	LastTermReason *string `db:"last_term_reason"`
}
