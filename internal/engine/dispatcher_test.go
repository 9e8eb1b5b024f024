// internal/engine/dispatcher_test.go
package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhall/hiringhall/internal/models"
	"github.com/openhall/hiringhall/internal/rules"
)

func (td *testData) wireRequest(t *testing.T, employer, requirements string) *models.LaborRequest {
	t.Helper()
	return td.mustSubmit(t, &models.LaborRequest{
		Employer:     employer,
		Book:         "wire-1",
		Agreement:    models.AgreementStandard,
		Requirements: requirements,
	})
}

func TestDispatchWalksTheQueue(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	first := td.mustRegister(t, "W-1001", "wire-1")  // osha30
	second := td.mustRegister(t, "W-1003", "wire-1") // no credentials
	third := td.mustRegister(t, "W-1002", "wire-1")  // osha30,crane

	queue, err := td.eng.Queue(td.ctx, "wire-1")
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, []int64{first.ID, second.ID, third.ID},
		[]int64{queue[0].RegistrationID, queue[1].RegistrationID, queue[2].RegistrationID})

	t.Run("head of the line goes out first", func(t *testing.T) {
		req := td.wireRequest(t, "acme electric", "osha30")
		d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, "W-1001", d.MemberID)
		assert.Equal(t, first.ID, d.RegistrationID)
		assert.True(t, d.CountsTowardMarks)

		got, err := td.store.GetLaborRequest(req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestFilled, got.Status)
	})

	t.Run("credentials skip past the head", func(t *testing.T) {
		req := td.wireRequest(t, "beta build", "crane")
		d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, "W-1002", d.MemberID, "W-1003 holds no crane card")
	})

	t.Run("plain call reaches the remaining name", func(t *testing.T) {
		req := td.wireRequest(t, "acme electric", "")
		d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, "W-1003", d.MemberID)
	})

	t.Run("empty queue carries the request", func(t *testing.T) {
		req := td.wireRequest(t, "acme electric", "")
		d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
		require.NoError(t, err)
		assert.Nil(t, d)

		got, err := td.store.GetLaborRequest(req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestOpen, got.Status, "unfilled request stays open")
	})

	t.Run("settled request refuses another dispatch", func(t *testing.T) {
		req := td.wireRequest(t, "acme electric", "osha30")
		require.NoError(t, td.eng.CancelRequest(td.ctx, req.ID, "test-admin", ""))
		_, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := td.eng.Dispatch(td.ctx, 99999, "dispatcher")
		assert.ErrorIs(t, err, models.ErrRequestNotFound)
	})
}

func TestDispatchExactlyOneWinner(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	const workers = 6
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("W-30%02d", i)
		require.NoError(t, td.store.UpsertMember(&models.Member{
			MemberID: id, Name: id, Classifications: "wireman", Standing: models.StandingGood, Tier: 1,
		}))
		td.mustRegister(t, id, "wire-1")
	}
	req := td.wireRequest(t, "acme electric", "")

	var (
		mu     sync.Mutex
		wins   []*models.Dispatch
		losses []error
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := td.eng.Dispatch(td.ctx, req.ID, "race")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losses = append(losses, err)
				return
			}
			wins = append(wins, d)
		}()
	}
	wg.Wait()

	require.Len(t, wins, 1, "exactly one worker may fill the request")
	assert.Len(t, losses, workers-1)
	for _, err := range losses {
		assert.ErrorIs(t, err, models.ErrConcurrentAssignmentConflict, "losers surface the retryable conflict, got %v", err)
	}

	queue, err := td.eng.Queue(td.ctx, "wire-1")
	require.NoError(t, err)
	assert.Len(t, queue, workers-1, "only the winner's registration was consumed")

	got, err := td.store.GetLaborRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestFilled, got.Status)
}

func TestDispatchRaceLossIsRetryable(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	td.mustRegister(t, "W-1001", "wire-1")
	req := td.wireRequest(t, "acme electric", "")

	d, err := td.eng.Dispatch(td.ctx, req.ID, "first")
	require.NoError(t, err)
	require.NotNil(t, d)

	// An attempt arriving after the fill lost the race for the request and
	// must see the retryable conflict, not a terminal refusal.
	_, err = td.eng.Dispatch(td.ctx, req.ID, "second")
	assert.ErrorIs(t, err, models.ErrConcurrentAssignmentConflict)

	t.Run("cancelled request is past dispatching", func(t *testing.T) {
		late := td.wireRequest(t, "bolt bros", "")
		require.NoError(t, td.eng.CancelRequest(td.ctx, late.ID, "office", ""))

		_, err := td.eng.Dispatch(td.ctx, late.ID, "late")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
		assert.NotErrorIs(t, err, models.ErrConcurrentAssignmentConflict)
	})
}

func TestTerminateShortCallCycle(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	reg := td.mustRegister(t, "W-1001", "wire-1")
	key := reg.APN.String()

	dispatch := func(day time.Time) *models.Dispatch {
		td.now = day
		req := td.wireRequest(t, "acme electric", "")
		d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
		require.NoError(t, err)
		require.NotNil(t, d)
		return d
	}
	terminate := func(d *models.Dispatch, day time.Time) error {
		td.now = day
		return td.eng.Terminate(td.ctx, d.ID, models.TermLaidOff, false, "dispatcher", "")
	}
	shortCalls := func() int {
		got, err := td.store.GetRegistration(reg.ID)
		require.NoError(t, err)
		return got.ShortCalls
	}

	// three business days: restored without burning a cap slot
	d1 := dispatch(time.Date(2025, 8, 11, 8, 0, 0, 0, time.UTC))
	require.NoError(t, terminate(d1, time.Date(2025, 8, 13, 16, 0, 0, 0, time.UTC)))
	got, err := td.store.GetRegistration(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegActive, got.Status)
	assert.Equal(t, key, got.APN.String(), "restore keeps the original key")
	assert.Zero(t, shortCalls())

	closed, err := td.store.GetDispatch(d1.ID)
	require.NoError(t, err)
	assert.True(t, closed.ShortCall)
	assert.Equal(t, models.TermLaidOff, closed.Termination)

	// eight business days: restored, one slot burned
	d2 := dispatch(time.Date(2025, 8, 13, 17, 0, 0, 0, time.UTC))
	require.NoError(t, terminate(d2, time.Date(2025, 8, 22, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, shortCalls())

	// second counted short call exhausts the cap
	d3 := dispatch(time.Date(2025, 8, 22, 17, 0, 0, 0, time.UTC))
	require.NoError(t, terminate(d3, time.Date(2025, 9, 2, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, shortCalls())

	// cap exhausted: the next short layoff terminates like a standard call
	d4 := dispatch(time.Date(2025, 9, 2, 17, 0, 0, 0, time.UTC))
	require.NoError(t, terminate(d4, time.Date(2025, 9, 11, 16, 0, 0, 0, time.UTC)))
	got, err = td.store.GetRegistration(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegDispatched, got.Status, "no restore past the cap")

	active, err := td.store.ActiveRegistration("W-1001", "wire-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	t.Run("terminating twice", func(t *testing.T) {
		err := terminate(d4, time.Date(2025, 9, 12, 16, 0, 0, 0, time.UTC))
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("a long layoff never restores", func(t *testing.T) {
		lreg := td.mustRegister(t, "W-1003", "wire-1")
		d := dispatch(time.Date(2025, 9, 15, 8, 0, 0, 0, time.UTC))
		require.Equal(t, "W-1003", d.MemberID)
		require.NoError(t, terminate(d, time.Date(2025, 9, 30, 16, 0, 0, 0, time.UTC)))

		got, err := td.store.GetRegistration(lreg.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RegDispatched, got.Status)
		assert.Zero(t, got.ShortCalls)
	})
}

func TestTerminateQuitCascade(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	wire := td.mustRegister(t, "W-1002", "wire-1")
	tech := td.mustRegister(t, "W-1002", "tech-1")
	sound := td.mustRegister(t, "W-1002", "sound-1")

	req := td.mustSubmit(t, &models.LaborRequest{
		Employer:       "acme electric",
		Book:           "wire-1",
		Agreement:      models.AgreementStandard,
		ByName:         true,
		NamedMember:    "W-1002",
		ForepersonCall: true,
	})
	d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, wire.ID, d.RegistrationID)

	td.now = td.now.AddDate(0, 0, 30)
	require.NoError(t, td.eng.Terminate(td.ctx, d.ID, models.TermQuit, false, "dispatcher", ""))

	t.Run("every book cleared, the dispatched one included", func(t *testing.T) {
		for _, id := range []int64{wire.ID, tech.ID, sound.ID} {
			got, err := td.store.GetRegistration(id)
			require.NoError(t, err)
			assert.Equal(t, models.RegResigned, got.Status)
		}
	})

	t.Run("quit draws a counted mark", func(t *testing.T) {
		counted, err := td.store.CountedCheckMarks(wire.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, counted)
	})

	t.Run("foreperson blackout bars the employer", func(t *testing.T) {
		blocked, err := td.eng.IsBlocked(td.ctx, "W-1002", "acme electric")
		require.NoError(t, err)
		assert.True(t, blocked)

		_, err = td.eng.SubmitRequest(td.ctx, &models.LaborRequest{
			Employer:    "acme electric",
			Book:        "wire-1",
			Agreement:   models.AgreementStandard,
			ByName:      true,
			NamedMember: "W-1002",
		}, "test-admin")
		assert.ErrorIs(t, err, models.ErrBlackoutActive)

		_, err = td.eng.SubmitRequest(td.ctx, &models.LaborRequest{
			Employer:    "beta build",
			Book:        "wire-1",
			Agreement:   models.AgreementStandard,
			ByName:      true,
			NamedMember: "W-1002",
		}, "test-admin")
		assert.NoError(t, err, "the blackout is employer-scoped")
	})

	t.Run("blackout lapses after its window", func(t *testing.T) {
		td.now = td.now.AddDate(0, 0, 15)
		blocked, err := td.eng.IsBlocked(td.ctx, "W-1002", "acme electric")
		require.NoError(t, err)
		assert.False(t, blocked)
	})

	t.Run("the member may sign the book again", func(t *testing.T) {
		again := td.mustRegister(t, "W-1002", "wire-1")
		assert.Equal(t, 2, again.Generation)
	})
}

func TestTerminateDownsizeRecordsExemptMark(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	reg := td.mustRegister(t, "W-1001", "wire-1")
	req := td.wireRequest(t, "acme electric", "")
	d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
	require.NoError(t, err)

	td.now = td.now.AddDate(0, 0, 30)
	require.NoError(t, td.eng.Terminate(td.ctx, d.ID, models.TermDischarged, true, "dispatcher", "site demobilized"))

	counted, err := td.store.CountedCheckMarks(reg.ID)
	require.NoError(t, err)
	assert.Zero(t, counted)

	marks, err := td.store.ListCheckMarks("W-1001", "wire-1")
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.True(t, marks[0].Exempt)
	assert.Equal(t, rules.ExclEmployerDownsize, marks[0].Reason)
}

func TestExemptionSuppressesQuitMark(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	reg := td.mustRegister(t, "W-1001", "wire-1")
	req := td.wireRequest(t, "acme electric", "")
	d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
	require.NoError(t, err)

	_, err = td.eng.Exempt(td.ctx, "W-1001", models.ExemptJuryDuty, "test-admin")
	require.NoError(t, err)

	td.now = td.now.AddDate(0, 0, 10)
	require.NoError(t, td.eng.Terminate(td.ctx, d.ID, models.TermQuit, false, "dispatcher", ""))

	counted, err := td.store.CountedCheckMarks(reg.ID)
	require.NoError(t, err)
	assert.Zero(t, counted, "an open exemption suspends mark accrual")

	marks, err := td.store.ListCheckMarks("W-1001", "wire-1")
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.True(t, marks[0].Exempt)
	assert.Equal(t, rules.ExclExemption, marks[0].Reason)
}

func TestRecordCheckMarkRollsOff(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	reg := td.mustRegister(t, "W-1001", "wire-1")

	rolled, err := td.eng.RecordCheckMark(td.ctx, reg.ID, 0, rules.NoMark(), "test-admin")
	require.NoError(t, err)
	assert.False(t, rolled)

	for i := 0; i < 2; i++ {
		rolled, err = td.eng.RecordCheckMark(td.ctx, reg.ID, 0, rules.CountMark("refused dispatch"), "test-admin")
		require.NoError(t, err)
		assert.False(t, rolled)
	}

	rolled, err = td.eng.RecordCheckMark(td.ctx, reg.ID, 0, rules.CountMark("refused dispatch"), "test-admin")
	require.NoError(t, err)
	assert.True(t, rolled, "the third counted mark rolls the registration off")

	got, err := td.store.GetRegistration(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegRolledOff, got.Status)

	t.Run("marks against a rolled-off registration", func(t *testing.T) {
		_, err := td.eng.RecordCheckMark(td.ctx, reg.ID, 0, rules.CountMark("refused dispatch"), "test-admin")
		assert.ErrorIs(t, err, models.ErrRollOffLimitReached)
	})

	t.Run("other books untouched", func(t *testing.T) {
		other := td.mustRegister(t, "W-1002", "wire-1")
		counted, err := td.store.CountedCheckMarks(other.ID)
		require.NoError(t, err)
		assert.Zero(t, counted)
	})
}
