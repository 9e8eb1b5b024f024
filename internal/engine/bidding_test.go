// internal/engine/bidding_test.go
package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhall/hiringhall/internal/models"
)

func TestSubmitBidWindow(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	td.mustRegister(t, "W-1001", "wire-1")
	td.mustRegister(t, "W-1003", "wire-1")
	req := td.wireRequest(t, "acme electric", "")

	t.Run("closed during the day", func(t *testing.T) {
		_, err := td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
		assert.ErrorIs(t, err, models.ErrWindowClosed)
	})

	// window opens at 17:00
	td.now = time.Date(2025, 8, 11, 18, 0, 0, 0, time.UTC)

	bid, err := td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidPending, bid.Outcome)

	tests := []struct {
		name      string
		memberID  string
		requestID int64
		wantErr   error
	}{
		{"one bid per member per request", "W-1003", req.ID, models.ErrBidAlreadySubmitted},
		{"suspended member", "W-1004", req.ID, models.ErrNotEligible},
		{"no registration on the book", "W-1002", req.ID, models.ErrNotActive},
		{"unknown member", "W-9999", req.ID, models.ErrMemberNotFound},
		{"unknown request", "W-1001", 99999, models.ErrRequestNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := td.eng.SubmitBid(td.ctx, tt.memberID, tt.requestID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("withdraw is one-way", func(t *testing.T) {
		require.NoError(t, td.eng.WithdrawBid(td.ctx, "W-1003", req.ID))

		got, err := td.store.GetBid("W-1003", req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BidWithdrawn, got.Outcome)

		err = td.eng.WithdrawBid(td.ctx, "W-1003", req.ID)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		_, err = td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
		assert.ErrorIs(t, err, models.ErrBidAlreadySubmitted, "a withdrawn bid is spent")
	})
}

func TestMorningBidsBeatTheQueue(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	head := td.mustRegister(t, "W-1001", "wire-1")
	behind := td.mustRegister(t, "W-1003", "wire-1")
	req := td.wireRequest(t, "acme electric", "")

	td.now = time.Date(2025, 8, 11, 19, 0, 0, 0, time.UTC)
	bid, err := td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
	require.NoError(t, err)

	td.now = time.Date(2025, 8, 12, 8, 30, 0, 0, time.UTC)
	d, err := td.eng.ProcessRequest(td.ctx, req.ID, "sweeper")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "W-1003", d.MemberID, "the only bidder wins over the queue head")
	assert.Equal(t, behind.ID, d.RegistrationID)

	settled, err := td.store.GetBid("W-1003", req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidAccepted, settled.Outcome)
	require.NotNil(t, settled.DecidedAt)

	still, err := td.store.GetRegistration(head.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegActive, still.Status, "the queue head never moved")

	t.Run("no bids falls back to the queue", func(t *testing.T) {
		next := td.wireRequest(t, "beta build", "")
		d, err := td.eng.ProcessRequest(td.ctx, next.ID, "sweeper")
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, "W-1001", d.MemberID)
	})

	_ = bid
}

func TestBidsSettleOnPriority(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	early := td.mustRegister(t, "W-1001", "wire-1")
	td.mustRegister(t, "W-1003", "wire-1")
	req := td.wireRequest(t, "acme electric", "")

	td.now = time.Date(2025, 8, 11, 22, 0, 0, 0, time.UTC)
	_, err := td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
	require.NoError(t, err)
	_, err = td.eng.SubmitBid(td.ctx, "W-1001", req.ID)
	require.NoError(t, err)

	td.now = time.Date(2025, 8, 12, 8, 30, 0, 0, time.UTC)
	d, err := td.eng.ProcessRequest(td.ctx, req.ID, "sweeper")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "W-1001", d.MemberID, "lowest key wins among bidders")
	assert.Equal(t, early.ID, d.RegistrationID)

	won, err := td.store.GetBid("W-1001", req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidAccepted, won.Outcome)

	lost, err := td.store.GetBid("W-1003", req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidOutbid, lost.Outcome)
	assert.Equal(t, "outbid by W-1001", lost.Note)
}

func TestBidUnderExemptionRejected(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	td.mustRegister(t, "W-1001", "wire-1")
	req := td.wireRequest(t, "acme electric", "")

	td.now = time.Date(2025, 8, 11, 20, 0, 0, 0, time.UTC)
	_, err := td.eng.SubmitBid(td.ctx, "W-1001", req.ID)
	require.NoError(t, err)

	_, err = td.eng.Exempt(td.ctx, "W-1001", models.ExemptMedical, "test-admin")
	require.NoError(t, err)

	td.now = time.Date(2025, 8, 12, 8, 30, 0, 0, time.UTC)
	d, err := td.eng.ProcessRequest(td.ctx, req.ID, "sweeper")
	require.NoError(t, err)
	assert.Nil(t, d, "the only bidder is away and leaves the queue too")

	got, err := td.store.GetBid("W-1001", req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidRejected, got.Outcome)
}

func TestSecondRejectionSuspendsBidding(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	td.mustRegister(t, "W-1003", "wire-1")

	suspendStanding := func(standing models.MemberStanding) {
		require.NoError(t, td.store.UpsertMember(&models.Member{
			MemberID: "W-1003", Name: "Cory Lane", Classifications: "wireman", Standing: standing, Tier: 2,
		}))
	}
	bidAndGetRejected := func(submit, process time.Time, employer string) {
		req := func() *models.LaborRequest {
			td.now = submit
			return td.wireRequest(t, employer, "")
		}()
		td.now = submit.Add(7 * time.Hour) // evening window
		_, err := td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
		require.NoError(t, err)

		suspendStanding(models.StandingSuspended)
		td.now = process
		d, err := td.eng.ProcessRequest(td.ctx, req.ID, "sweeper")
		require.NoError(t, err)
		assert.Nil(t, d, "a suspended member cannot be dispatched either way")

		got, err := td.store.GetBid("W-1003", req.ID)
		require.NoError(t, err)
		require.Equal(t, models.BidRejected, got.Outcome)
		suspendStanding(models.StandingGood)
	}

	// first rejection alone carries no sanction
	bidAndGetRejected(
		time.Date(2025, 8, 11, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 8, 12, 8, 30, 0, 0, time.UTC),
		"acme electric")
	infraction, err := td.store.ActiveInfraction("W-1003", time.Date(2025, 8, 13, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, infraction)

	// second rejection ten months later still lands inside the rolling year
	bidAndGetRejected(
		time.Date(2026, 6, 5, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 8, 8, 30, 0, 0, time.UTC),
		"beta build")

	t.Run("suspension runs from the second rejection", func(t *testing.T) {
		infraction, err := td.store.ActiveInfraction("W-1003", time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.NotNil(t, infraction)
		assert.Equal(t, 2027, infraction.EndsAt.Year())
	})

	t.Run("bidding refused while suspended", func(t *testing.T) {
		td.now = time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)
		req := td.wireRequest(t, "acme electric", "")
		td.now = time.Date(2026, 9, 15, 19, 0, 0, 0, time.UTC)
		_, err := td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
		assert.ErrorIs(t, err, models.ErrBidSuspended)

		t.Run("the queue path is untouched", func(t *testing.T) {
			d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.Equal(t, "W-1003", d.MemberID)

			// put the registration back for the follow-up checks
			td.now = time.Date(2026, 9, 17, 16, 0, 0, 0, time.UTC)
			require.NoError(t, td.eng.Terminate(td.ctx, d.ID, models.TermLaidOff, false, "dispatcher", ""))
		})
	})

	t.Run("suspension lapses after twelve months", func(t *testing.T) {
		td.now = time.Date(2027, 6, 10, 12, 0, 0, 0, time.UTC)
		infraction, err := td.store.ActiveInfraction("W-1003", td.now)
		require.NoError(t, err)
		assert.Nil(t, infraction)

		req := td.wireRequest(t, "acme electric", "")
		td.now = time.Date(2027, 6, 10, 19, 0, 0, 0, time.UTC)
		_, err = td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
		assert.NoError(t, err)
	})
}

func TestProcessRequestSettlesLeftoverBids(t *testing.T) {
	td, cleanup := setupTestEngine(t)
	defer cleanup()

	td.mustRegister(t, "W-1001", "wire-1")
	td.mustRegister(t, "W-1003", "wire-1")
	req := td.wireRequest(t, "acme electric", "")

	td.now = time.Date(2025, 8, 11, 19, 0, 0, 0, time.UTC)
	_, err := td.eng.SubmitBid(td.ctx, "W-1003", req.ID)
	require.NoError(t, err)

	// an urgent evening call fills the request straight off the queue
	d, err := td.eng.Dispatch(td.ctx, req.ID, "dispatcher")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "W-1001", d.MemberID)

	td.now = time.Date(2025, 8, 12, 8, 30, 0, 0, time.UTC)
	d, err = td.eng.ProcessRequest(td.ctx, req.ID, "sweeper")
	require.NoError(t, err)
	assert.Nil(t, d)

	got, err := td.store.GetBid("W-1003", req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidOutbid, got.Outcome)
	assert.Equal(t, "request no longer open", got.Note)
}
