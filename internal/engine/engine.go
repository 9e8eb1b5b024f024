package engine

import (
	"time"

	"github.com/openhall/hiringhall/internal/rules"
	"github.com/openhall/hiringhall/internal/store"
)

// Engine owns every mutating referral operation: sign-ins, penalties,
// labor requests, overnight bids, dispatch and termination. Reads that carry
// no rule weight (history listings, stats) go straight to the store; anything
// that consults the rule book comes through here.
//
// Mutations serialize in-process on keyed locks per book and per request.
// Correctness across processes rests on the store's compare-and-set
// transitions, so losing a race is always a clean domain error, never a
// double assignment.
type Engine struct {
	store     store.ReferralStore
	directory MemberDirectory
	policy    *rules.Policy

	books    *keyedMutex
	requests *keyedMutex

	now func() time.Time
}

type Option func(*Engine)

// WithClock swaps the wall clock, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(st store.ReferralStore, directory MemberDirectory, policy *rules.Policy, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		directory: directory,
		policy:    policy,
		books:     newKeyedMutex(),
		requests:  newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
