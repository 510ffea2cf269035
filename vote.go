package captionfeed

import (
	"errors"
	"sync"
	"time"
)

const (
	VoteUp   = 1
	VoteDown = -1
)

var (
	// ErrNotSignedIn is returned when casting a vote without an
	// authenticated profile.
	ErrNotSignedIn = errors.New("sign in to vote")

	// ErrInvalidVoteValue is returned for vote values outside {+1, -1}.
	ErrInvalidVoteValue = errors.New("vote value must be +1 or -1")

	// ErrVoteInFlight is returned when a vote for the same
	// (profile, caption) pair is already being written.
	ErrVoteInFlight = errors.New("a vote for this caption is already in flight")
)

// A CaptionVote records a single profile's vote on a single caption. At
// most one row exists per (profile, caption) pair, enforced by a unique
// constraint and an atomic upsert in the store.
type CaptionVote struct {
	ID         string    `db:"id"`
	CaptionID  string    `db:"caption_id"`
	ProfileID  string    `db:"profile_id"`
	Value      int       `db:"vote_value"`
	CreatedAt  time.Time `db:"created_datetime_utc"`
	ModifiedAt time.Time `db:"modified_datetime_utc"`
}

func NewCaptionVote(captionID string, profileID string, value int) *CaptionVote {
	now := NowFunc()
	return &CaptionVote{
		CaptionID:  captionID,
		ProfileID:  profileID,
		Value:      value,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

func ValidVoteValue(value int) bool {
	return value == VoteUp || value == VoteDown
}

// A VoteReconciler writes votes to the store, rejecting duplicate
// submissions for a (profile, caption) pair while one is still in flight.
// The in-flight map is only a guard against double clicks; row uniqueness
// itself comes from the store's upsert.
type VoteReconciler struct {
	store Store

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewVoteReconciler(store Store) *VoteReconciler {
	return &VoteReconciler{
		store:    store,
		inFlight: map[string]struct{}{},
	}
}

// CastVote creates or updates the vote row for (profileID, captionID). A
// fresh row gets both timestamps, a refreshed one keeps its creation time.
func (r *VoteReconciler) CastVote(profileID string, captionID string, value int) error {
	if profileID == "" {
		return ErrNotSignedIn
	}
	if !ValidVoteValue(value) {
		return ErrInvalidVoteValue
	}

	key := profileID + "/" + captionID
	r.mu.Lock()
	if _, ok := r.inFlight[key]; ok {
		r.mu.Unlock()
		return ErrVoteInFlight
	}
	r.inFlight[key] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inFlight, key)
		r.mu.Unlock()
	}()

	return r.store.UpsertVote(NewCaptionVote(captionID, profileID, value))
}
