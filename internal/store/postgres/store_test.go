package postgres

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openhall/hiringhall/internal/models"
	"github.com/openhall/hiringhall/internal/store"
)

// setupTestDB provisions a disposable Postgres and runs the migrations
func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	pg, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err)

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgresStore(dsn, "../../../migrations")
	require.NoError(t, err, "Failed to create store")

	cleanup := func() {
		s.Close()
		pg.Terminate(ctx)
	}

	return s, cleanup
}

type testData struct {
	store *PostgresStore
	now   time.Time
}

func setupTestData(t *testing.T) (*testData, func()) {
	s, cleanup := setupTestDB(t)
	// Monday
	now := time.Date(2025, 8, 11, 12, 0, 0, 0, time.UTC)

	books := []models.Book{
		{Name: "wire-1", Classification: "wireman", Agreement: models.AgreementStandard, Level: models.LevelJourneyman, Kind: models.BookPrimary, ProcessingRank: 1, Status: models.BookActive},
		{Name: "wire-2", Classification: "wireman", Agreement: models.AgreementStandard, Level: models.LevelJourneyman, Kind: models.BookSupplemental, ProcessingRank: 2, Status: models.BookActive},
	}
	for i := range books {
		require.NoError(t, s.CreateBook(&books[i], "test-admin"), "Failed to create book")
	}

	members := []models.Member{
		{MemberID: "W-1001", Name: "Ada Marsh", Classifications: "wireman", Standing: models.StandingGood, Tier: 1, Credentials: "osha30"},
		{MemberID: "W-1002", Name: "Beto Cruz", Classifications: "wireman", Standing: models.StandingGood, Tier: 1, Credentials: "osha30"},
	}
	for i := range members {
		require.NoError(t, s.UpsertMember(&members[i]), "Failed to upsert member")
	}

	return &testData{
		store: s,
		now:   now,
	}, cleanup
}

func (td *testData) register(t *testing.T, memberID, book string) *models.Registration {
	t.Helper()
	reg := &models.Registration{
		MemberID:  memberID,
		Book:      book,
		Tier:      1,
		CreatedAt: td.now,
	}
	require.NoError(t, td.store.CreateRegistration(reg, "test-admin"), "Failed to create registration")
	return reg
}

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		log.Println("Skipping Postgres integration tests. Use -short=false to run them.")
		os.Exit(0)
	}
	log.Println("Starting Postgres store tests...")
	code := m.Run()
	log.Println("Finished Postgres store tests")
	os.Exit(code)
}

func TestNumericKeyExactness(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	td.register(t, "W-1001", "wire-1")

	// Trailing zeros must survive the NUMERIC(12,2) column exactly.
	_, err := td.store.DB.Exec(`
		INSERT INTO registrations (member_id, book, apn, tier, generation, status, short_calls, last_resign_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		"W-1002", "wire-1", "45880.40", 1, 1, "active", 0, td.now, td.now,
	)
	require.NoError(t, err)

	reg, err := td.store.ActiveRegistration("W-1002", "wire-1")
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, "45880.40", reg.APN.String())

	date, ordinal := reg.APN.Decode()
	assert.Equal(t, time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC), date)
	assert.Equal(t, 40, ordinal)
}

func TestOneActivePerBookEnforced(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	reg := td.register(t, "W-1001", "wire-1")

	t.Run("store refuses a duplicate", func(t *testing.T) {
		dup := &models.Registration{MemberID: "W-1001", Book: "wire-1", Tier: 1, CreatedAt: td.now}
		err := td.store.CreateRegistration(dup, "test-admin")
		assert.ErrorIs(t, err, models.ErrDuplicateActiveRegistration)
	})

	t.Run("partial index backstops raw writes", func(t *testing.T) {
		_, err := td.store.DB.Exec(`
			INSERT INTO registrations (member_id, book, apn, tier, generation, status, short_calls, last_resign_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			"W-1001", "wire-1", "45880.50", 1, 2, "active", 0, td.now, td.now,
		)
		assert.Error(t, err, "unique index on active (member, book) must reject")
	})

	t.Run("historical generations coexist", func(t *testing.T) {
		require.NoError(t, td.store.CloseRegistration(reg.ID, models.RegResigned, "test-admin", ""))
		again := td.register(t, "W-1001", "wire-1")
		assert.Equal(t, 2, again.Generation)
	})
}

func TestFetchDispatchStats(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	reg := td.register(t, "W-1001", "wire-1")
	req := &models.LaborRequest{
		Employer:    "acme electric",
		Book:        "wire-1",
		Agreement:   models.AgreementStandard,
		SubmittedAt: td.now,
		ProcessOn:   td.now.AddDate(0, 0, 1),
		ExpiresOn:   td.now.AddDate(0, 0, 4),
		Status:      models.RequestOpen,
	}
	require.NoError(t, td.store.CreateLaborRequest(req, "test-admin"))

	d := &models.Dispatch{
		RegistrationID: reg.ID,
		RequestID:      req.ID,
		MemberID:       reg.MemberID,
		Book:           reg.Book,
		Employer:       req.Employer,
		StartedAt:      td.now,
		ShortCall:      true,
	}
	require.NoError(t, td.store.AssignDispatch(d, "dispatcher"))

	end := td.now.AddDate(0, 0, 7)
	require.NoError(t, td.store.ApplyTermination(&store.TerminationPlan{
		DispatchID:            d.ID,
		Reason:                models.TermLaidOff,
		ShortCall:             true,
		EndedAt:               end,
		Actor:                 "dispatcher",
		RestoreRegistrationID: reg.ID,
		ConsumeShortCall:      true,
	}))

	rows, err := td.store.FetchDispatchStats("wire-1", td.now.AddDate(0, 0, -1), td.now.AddDate(0, 0, 30), "YYYY-MM-DD HH24:MI", true)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "W-1001", row.MemberID)
	assert.EqualValues(t, 1, row.Dispatches)
	assert.EqualValues(t, 1, row.ShortCalls)
	require.NotNil(t, row.AvgJobSeconds)
	assert.EqualValues(t, 7*24*3600, *row.AvgJobSeconds)
	require.NotNil(t, row.FirstDispatch)
	assert.Equal(t, "2025-08-11 12:00", *row.FirstDispatch)
	require.NotNil(t, row.LastTermReason)
	assert.Equal(t, "laid_off", *row.LastTermReason)
}
