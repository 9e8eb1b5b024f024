// internal/engine/engine_test.go
package engine

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhall/hiringhall/internal/models"
	"github.com/openhall/hiringhall/internal/rules"
	"github.com/openhall/hiringhall/internal/store/sqlite"
)

// testData wires the engine to an in-memory SQLite store with the real
// migrations and a controllable clock. Tests move time by assigning td.now.
type testData struct {
	store *sqlite.SQLiteStore
	eng   *Engine
	now   time.Time
	ctx   context.Context
}

func setupTestEngine(t *testing.T) (*testData, func()) {
	s, err := sqlite.NewSQLiteStore(":memory:", "../../migrations")
	require.NoError(t, err, "Failed to create store")
	// Every new pool connection to :memory: would see an empty database.
	s.DB.SetMaxOpenConns(1)

	policy, err := rules.New(rules.Params{})
	require.NoError(t, err, "Failed to build policy")

	td := &testData{
		store: s,
		// Monday noon
		now: time.Date(2025, 8, 11, 12, 0, 0, 0, time.UTC),
		ctx: context.Background(),
	}
	td.eng = New(s, NewStoreDirectory(s), policy, WithClock(func() time.Time { return td.now }))

	books := []models.Book{
		{Name: "wire-1", Classification: "wireman", Agreement: models.AgreementStandard, Level: models.LevelJourneyman, Kind: models.BookPrimary, ProcessingRank: 1, Status: models.BookActive},
		{Name: "wire-2", Classification: "wireman", Agreement: models.AgreementStandard, Level: models.LevelJourneyman, Kind: models.BookSupplemental, ProcessingRank: 2, Status: models.BookActive},
		{Name: "tech-1", Classification: "tech", Agreement: models.AgreementStandard, Level: models.LevelJourneyman, Kind: models.BookPrimary, ProcessingRank: 3, Status: models.BookActive},
		{Name: "sound-1", Classification: "sound", Agreement: models.AgreementStandard, Level: models.LevelJourneyman, Kind: models.BookPrimary, ProcessingRank: 4, Status: models.BookActive},
		{Name: "wire-frozen", Classification: "wireman", Agreement: models.AgreementStandard, Level: models.LevelJourneyman, Kind: models.BookSupplemental, ProcessingRank: 5, Status: models.BookFrozen},
		{Name: "wire-closed", Classification: "wireman", Agreement: models.AgreementStandard, Level: models.LevelJourneyman, Kind: models.BookSupplemental, ProcessingRank: 6, Status: models.BookClosed},
	}
	for i := range books {
		require.NoError(t, s.CreateBook(&books[i], "test-admin"), "Failed to create book")
	}

	members := []models.Member{
		{MemberID: "W-1001", Name: "Ada Marsh", Classifications: "wireman", Standing: models.StandingGood, Tier: 1, Credentials: "osha30"},
		{MemberID: "W-1002", Name: "Beto Cruz", Classifications: "wireman,tech,sound", Standing: models.StandingGood, Tier: 1, Credentials: "osha30,crane"},
		{MemberID: "W-1003", Name: "Cory Lane", Classifications: "wireman", Standing: models.StandingGood, Tier: 2, Credentials: ""},
		{MemberID: "W-1004", Name: "Dana Reyes", Classifications: "wireman", Standing: models.StandingSuspended, Tier: 1, Credentials: ""},
	}
	for i := range members {
		require.NoError(t, s.UpsertMember(&members[i]), "Failed to upsert member")
	}

	cleanup := func() {
		require.NoError(t, s.Close(), "Failed to close database")
	}
	return td, cleanup
}

func (td *testData) mustRegister(t *testing.T, memberID, book string) *models.Registration {
	t.Helper()
	reg, err := td.eng.Register(td.ctx, memberID, book, "test-admin")
	require.NoError(t, err, "Failed to register %s on %s", memberID, book)
	return reg
}

func (td *testData) mustSubmit(t *testing.T, req *models.LaborRequest) *models.LaborRequest {
	t.Helper()
	_, err := td.eng.SubmitRequest(td.ctx, req, "test-admin")
	require.NoError(t, err, "Failed to submit request for %s", req.Employer)
	return req
}

func TestMain(m *testing.M) {
	log.Println("Starting referral engine tests...")
	code := m.Run()
	log.Println("Finished referral engine tests")
	os.Exit(code)
}

func TestRegisterEnforcesEligibility(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	reg := td.mustRegister(t, "W-1001", "wire-1")
	assert.Equal(t, "45880.00", reg.APN.String())
	assert.Equal(t, 1, reg.Tier)
	assert.Equal(t, 1, reg.Generation)

	tests := []struct {
		name     string
		memberID string
		book     string
		wantErr  error
	}{
		{"unknown member", "W-9999", "wire-1", models.ErrMemberNotFound},
		{"unknown book", "W-1003", "no-such-book", models.ErrBookNotFound},
		{"suspended member", "W-1004", "wire-1", models.ErrNotEligible},
		{"classification mismatch", "W-1001", "tech-1", models.ErrNotEligible},
		{"frozen book takes no sign-ins", "W-1003", "wire-frozen", models.ErrBookClosed},
		{"closed book", "W-1003", "wire-closed", models.ErrBookClosed},
		{"lower book while holding a higher one", "W-1001", "wire-2", models.ErrDuplicateActiveRegistration},
		{"same book twice", "W-1001", "wire-1", models.ErrDuplicateActiveRegistration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := td.eng.Register(td.ctx, tt.memberID, tt.book, "test-admin")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("stepping up to a better book is allowed", func(t *testing.T) {
		td.mustRegister(t, "W-1003", "wire-2")
		up := td.mustRegister(t, "W-1003", "wire-1")
		assert.Equal(t, "wire-1", up.Book)
	})

	t.Run("another classification is its own lane", func(t *testing.T) {
		td.mustRegister(t, "W-1002", "wire-1")
		other := td.mustRegister(t, "W-1002", "tech-1")
		assert.Equal(t, "tech-1", other.Book)
	})
}

func TestOpenBooksFor(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	books, err := td.eng.OpenBooksFor(td.ctx, "W-1002")
	require.NoError(t, err)

	var names []string
	for _, b := range books {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"wire-1", "wire-2", "tech-1", "sound-1"}, names,
		"frozen and closed books are not offered")
}

func TestReSignKeepsPosition(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	reg := td.mustRegister(t, "W-1001", "wire-1")
	key := reg.APN.String()

	td.now = td.now.AddDate(0, 0, 25)
	require.NoError(t, td.eng.ReSign(td.ctx, "W-1001", "wire-1", "member-portal"))

	got, err := td.store.GetRegistration(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, key, got.APN.String(), "re-sign never moves the key")
	assert.WithinDuration(t, td.now, got.LastResignAt, time.Second)

	t.Run("no active registration to re-sign", func(t *testing.T) {
		err := td.eng.ReSign(td.ctx, "W-1003", "wire-1", "member-portal")
		assert.ErrorIs(t, err, models.ErrNotActive)
	})
}

func TestExpireStaleHonorsExemption(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	lapsing := td.mustRegister(t, "W-1001", "wire-1")
	covered := td.mustRegister(t, "W-1003", "wire-1")

	_, err := td.eng.Exempt(td.ctx, "W-1003", models.ExemptMilitary, "test-admin")
	require.NoError(t, err)

	td.now = td.now.AddDate(0, 0, 31)
	n, err := td.eng.ExpireStale(td.ctx, td.now, "sweeper")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := td.store.GetRegistration(lapsing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegExpired, got.Status)

	got, err = td.store.GetRegistration(covered.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegActive, got.Status, "exempt member keeps the position")

	t.Run("second run is a no-op", func(t *testing.T) {
		n, err := td.eng.ExpireStale(td.ctx, td.now, "sweeper")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ending the exemption restarts the clock", func(t *testing.T) {
		require.NoError(t, td.eng.EndExemption(td.ctx, "W-1003", "test-admin"))

		td.now = td.now.AddDate(0, 0, 29)
		n, err := td.eng.ExpireStale(td.ctx, td.now, "sweeper")
		require.NoError(t, err)
		assert.Zero(t, n, "29 days after the close the window is still open")

		td.now = td.now.AddDate(0, 0, 2)
		n, err = td.eng.ExpireStale(td.ctx, td.now, "sweeper")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := td.store.GetRegistration(covered.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RegExpired, got.Status)
	})
}

func TestResignSingleBook(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	td.mustRegister(t, "W-1002", "wire-1")
	keep := td.mustRegister(t, "W-1002", "tech-1")

	require.NoError(t, td.eng.Resign(td.ctx, "W-1002", "wire-1", "member-portal", ""))

	gone, err := td.store.ActiveRegistration("W-1002", "wire-1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	still, err := td.store.GetRegistration(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegActive, still.Status, "voluntary withdrawal never cascades")

	t.Run("resigning twice", func(t *testing.T) {
		err := td.eng.Resign(td.ctx, "W-1002", "wire-1", "member-portal", "")
		assert.ErrorIs(t, err, models.ErrNotActive)
	})
}
