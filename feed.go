package captionfeed

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// BatchSize is the fixed number of feed items fetched per batch.
const BatchSize = 20

// ErrLoadInFlight is returned when a batch load is requested while another
// one is still running.
var ErrLoadInFlight = errors.New("a batch load is already in flight")

// A Feed is an append-only, paged view over the captioned images, ordered
// by caption id ascending, together with the viewing profile's vote state.
// Loading a batch at offset zero replaces the loaded items, so a feed can
// be restarted from the top; any other offset appends.
//
// A Feed only ever holds transient copies, the store owns the records.
type Feed struct {
	store      Store
	reconciler *VoteReconciler
	logger     zerolog.Logger

	// profileID is empty when browsing anonymously.
	profileID string

	mu      sync.Mutex
	loading bool
	items   []*FeedItem
	votes   map[string]int
	offset  int
	hasMore bool
	loadErr string
	voteErr string
}

func NewFeed(store Store, reconciler *VoteReconciler, profileID string, logger zerolog.Logger) *Feed {
	return &Feed{
		store:      store,
		reconciler: reconciler,
		logger:     logger,
		profileID:  profileID,
		votes:      map[string]int{},
		hasMore:    true,
	}
}

// LoadBatch fetches up to BatchSize caption+image rows starting at offset
// and merges them into the feed. An empty batch only clears hasMore. When
// the viewer is signed in, their votes for the fetched captions are merged
// into the vote state; a failure there is logged but does not discard the
// batch. A fetch error is recorded for display and leaves the already
// loaded items untouched.
func (f *Feed) LoadBatch(offset int) error {
	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return ErrLoadInFlight
	}
	f.loading = true
	f.loadErr = ""
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.loading = false
		f.mu.Unlock()
	}()

	rows, err := f.store.ListFeedItems(offset, BatchSize)
	if err != nil {
		f.logger.Error().Err(err).Int("offset", offset).Msg("Failed to load feed batch")
		f.mu.Lock()
		f.loadErr = err.Error()
		f.mu.Unlock()
		return err
	}

	if len(rows) == 0 {
		f.mu.Lock()
		f.hasMore = false
		f.mu.Unlock()
		return nil
	}

	// The store joins captions to their image, so an item without one
	// should not occur. Drop it anyway rather than render a hole.
	items := make([]*FeedItem, 0, len(rows))
	for _, row := range rows {
		if row.Image.ID == "" {
			continue
		}
		items = append(items, row)
	}

	votes := map[string]int{}
	if f.profileID != "" && len(items) > 0 {
		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.Caption.ID
		}

		vv, err := f.store.ListVotes(f.profileID, ids)
		if err != nil {
			f.logger.Warn().Err(err).Msg("Failed to load vote state, rendering without it")
		}
		for _, v := range vv {
			if ValidVoteValue(v.Value) {
				votes[v.CaptionID] = v.Value
			}
		}
	}

	f.mu.Lock()
	if offset == 0 {
		f.items = items
	} else {
		f.items = append(f.items, items...)
	}
	for id, value := range votes {
		f.votes[id] = value
	}
	f.offset = offset + len(items)
	f.hasMore = len(rows) == BatchSize
	f.mu.Unlock()

	return nil
}

// CastVote records the viewer's vote for a caption and, on confirmed
// success only, reflects it in the local vote state.
func (f *Feed) CastVote(captionID string, value int) error {
	err := f.reconciler.CastVote(f.profileID, captionID, value)
	if err != nil {
		f.mu.Lock()
		f.voteErr = err.Error()
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	f.votes[captionID] = value
	f.voteErr = ""
	f.mu.Unlock()

	return nil
}

func (f *Feed) Items() []*FeedItem {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := make([]*FeedItem, len(f.items))
	copy(items, f.items)
	return items
}

// VoteFor returns the viewer's current vote for a caption, if any.
func (f *Feed) VoteFor(captionID string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.votes[captionID]
	return value, ok
}

func (f *Feed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

// Offset is where the next batch starts. It advances by the number of
// items actually appended, so a partial page does not skip rows.
func (f *Feed) Offset() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

func (f *Feed) LoadError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadErr
}

func (f *Feed) VoteError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voteErr
}
