package engine

import (
	"context"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/models"
	"github.com/openhall/hiringhall/internal/rules"
	"github.com/openhall/hiringhall/internal/store"
)

// Register signs a member onto a book. The member must be in good standing
// and hold the book's classification, the book must be open for sign-ins, and
// the member may not already hold an active registration for the same
// classification on this book or a higher-priority one. The new registration
// takes the next intra-day ordinal for (book, today).
func (e *Engine) Register(ctx context.Context, memberID, book, actor string) (*models.Registration, error) {
	m, err := e.directory.ResolveMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	b, err := e.store.GetBook(book)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, models.ErrBookNotFound
	}
	if !b.AcceptsRegistrations() {
		return nil, models.ErrBookClosed
	}
	if err := e.policy.EligibleToRegister(m, b.Classification); err != nil {
		return nil, err
	}

	unlock := e.books.lock(book)
	defer unlock()

	holdings, err := e.store.MemberHoldings(memberID)
	if err != nil {
		return nil, err
	}
	held := make([]rules.HeldBook, 0, len(holdings))
	for _, h := range holdings {
		if h.Classification != b.Classification {
			continue
		}
		held = append(held, rules.HeldBook{Book: h.Book, Rank: h.ProcessingRank})
	}
	if err := e.policy.AllowRegistration(b, held); err != nil {
		return nil, err
	}

	reg := &models.Registration{
		MemberID:  memberID,
		Book:      book,
		Tier:      e.policy.TierFor(m),
		CreatedAt: e.now(),
	}
	if err := e.store.CreateRegistration(reg, actor); err != nil {
		return nil, err
	}

	logger.Info.Printf("Registered %s on %s as %s (generation %d)", memberID, book, reg.APN, reg.Generation)
	return reg, nil
}

// ReSign refreshes the member's re-sign clock on one book. Queue position is
// untouched; only the obligation deadline moves.
func (e *Engine) ReSign(ctx context.Context, memberID, book, actor string) error {
	reg, err := e.store.ActiveRegistration(memberID, book)
	if err != nil {
		return err
	}
	if reg == nil {
		return models.ErrNotActive
	}
	return e.store.TouchReSign(reg.ID, e.now(), actor)
}

// Resign is the member's voluntary withdrawal from one book. Quit and
// discharge cascades live in Terminate; this path never touches other books.
func (e *Engine) Resign(ctx context.Context, memberID, book, actor, reason string) error {
	reg, err := e.store.ActiveRegistration(memberID, book)
	if err != nil {
		return err
	}
	if reg == nil {
		return models.ErrNotActive
	}
	if reason == "" {
		reason = "voluntary withdrawal"
	}
	return e.store.CloseRegistration(reg.ID, models.RegResigned, actor, reason)
}

// RollOff removes a registration from its book by administrative action. The
// automatic path, a third counted check mark, runs inside the penalty
// transaction and never comes through here.
func (e *Engine) RollOff(ctx context.Context, registrationID int64, actor, detail string) error {
	if detail == "" {
		detail = "administrative roll-off"
	}
	return e.store.CloseRegistration(registrationID, models.RegRolledOff, actor, detail)
}

// ExpireStale lapses every registration whose re-sign window ran out before
// asOf. Members under an active exemption are skipped; running it twice for
// the same instant is a no-op.
func (e *Engine) ExpireStale(ctx context.Context, asOf time.Time, actor string) (int64, error) {
	n, err := e.store.ExpireStaleRegistrations(e.policy.StaleCutoff(asOf), asOf, actor)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info.Printf("Expired %d stale registrations as of %s", n, asOf.Format("2006-01-02"))
	}
	return n, nil
}

// Queue returns the book's dispatch order: active registrations of members in
// good standing without an open exemption, ascending by priority key with
// insertion order breaking ties.
func (e *Engine) Queue(ctx context.Context, book string) ([]store.Candidate, error) {
	b, err := e.store.GetBook(book)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, models.ErrBookNotFound
	}
	return e.store.OrderedCandidates(book, e.now())
}

// OpenBooksFor lists the books the member could sign today based on
// classification and book status alone. The highest-book rule is enforced at
// Register time, not here; the listing is advisory.
func (e *Engine) OpenBooksFor(ctx context.Context, memberID string) ([]models.Book, error) {
	m, err := e.directory.ResolveMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	books, err := e.store.ListBooks()
	if err != nil {
		return nil, err
	}

	classifications := models.SplitCodes(m.Classifications)
	var open []models.Book
	for i := range books {
		b := &books[i]
		for _, c := range classifications {
			if e.policy.BookAccepts(b, c) == nil {
				open = append(open, *b)
				break
			}
		}
	}
	return open, nil
}
