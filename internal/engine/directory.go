package engine

import (
	"context"

	"github.com/openhall/hiringhall/internal/models"
	"github.com/openhall/hiringhall/internal/store"
)

// MemberDirectory resolves hall members from the system of record. The engine
// reads classification eligibility, standing, tier and credentials through it
// and never mutates member identity. Implementations return
// models.ErrMemberNotFound for unknown ids.
type MemberDirectory interface {
	ResolveMember(ctx context.Context, memberID string) (*models.Member, error)
}

// StoreDirectory serves directory lookups from the local members table, which
// the surrounding system keeps synced from the hall's membership records.
type StoreDirectory struct {
	store store.ReferralStore
}

func NewStoreDirectory(st store.ReferralStore) *StoreDirectory {
	return &StoreDirectory{store: st}
}

func (d *StoreDirectory) ResolveMember(_ context.Context, memberID string) (*models.Member, error) {
	m, err := d.store.GetMember(memberID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, models.ErrMemberNotFound
	}
	return m, nil
}
