package captionfeed

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"
)

// fakeStore is an in-memory Store for exercising the feed and vote logic
// without a database.
type fakeStore struct {
	items []*FeedItem
	votes []*CaptionVote

	listErr      error
	listVotesErr error
	upsertErr    error

	listVotesCalls int
	upserted       []*CaptionVote

	// when not nil, ListFeedItems signals listStarted then waits on release
	release     chan struct{}
	listStarted chan struct{}
}

func (s *fakeStore) Connect() error { return nil }

func (s *fakeStore) ListFeedItems(offset int, limit int) ([]*FeedItem, error) {
	if s.release != nil {
		s.listStarted <- struct{}{}
		<-s.release
	}

	if s.listErr != nil {
		return nil, s.listErr
	}

	if offset >= len(s.items) {
		return []*FeedItem{}, nil
	}

	end := offset + limit
	if end > len(s.items) {
		end = len(s.items)
	}

	return s.items[offset:end], nil
}

func (s *fakeStore) ListScoredItems(limit int) ([]*ScoredFeedItem, error) {
	return []*ScoredFeedItem{}, nil
}

func (s *fakeStore) ListVotes(profileID string, captionIDs []string) ([]*CaptionVote, error) {
	s.listVotesCalls++
	if s.listVotesErr != nil {
		return nil, s.listVotesErr
	}

	wanted := map[string]bool{}
	for _, id := range captionIDs {
		wanted[id] = true
	}

	votes := []*CaptionVote{}
	for _, v := range s.votes {
		if v.ProfileID == profileID && wanted[v.CaptionID] {
			votes = append(votes, v)
		}
	}

	return votes, nil
}

func (s *fakeStore) UpsertVote(vote *CaptionVote) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}

	s.upserted = append(s.upserted, vote)
	return nil
}

func (s *fakeStore) FindCaption(ID string) (*Caption, error) {
	for _, item := range s.items {
		if item.Caption.ID == ID {
			c := item.Caption
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeStore) InsertImage(image *Image) error { return nil }
func (s *fakeStore) InsertCaption(caption *Caption) error { return nil }

func (s *fakeStore) FindUserByLogin(name string) (*User, error) { return nil, nil }

func (s *fakeStore) CreateOrUpdateUser(login string, email string) (string, error) {
	return "", nil
}

func makeFeedItems(n int) []*FeedItem {
	items := make([]*FeedItem, n)
	for i := 0; i < n; i++ {
		items[i] = &FeedItem{
			Caption: Caption{
				ID:        fmt.Sprintf("caption-%03d", i),
				ImageID:   fmt.Sprintf("image-%03d", i),
				Text:      sql.NullString{String: fmt.Sprintf("caption %d", i), Valid: true},
				CreatedAt: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC),
			},
			Image: Image{
				ID:  fmt.Sprintf("image-%03d", i),
				URL: sql.NullString{String: fmt.Sprintf("https://cdn.example.com/%d.png", i), Valid: true},
			},
		}
	}
	return items
}

func newTestFeed(store *fakeStore, profileID string) *Feed {
	return NewFeed(store, NewVoteReconciler(store), profileID, zerolog.Nop())
}

func TestFeedLoadBatch(t *testing.T) {
	c := qt.New(t)

	c.Run("full batch", func(c *qt.C) {
		store := &fakeStore{items: makeFeedItems(BatchSize + 5)}
		feed := newTestFeed(store, "")

		c.Assert(feed.LoadBatch(0), qt.IsNil)
		c.Assert(feed.Items(), qt.HasLen, BatchSize)
		c.Assert(feed.HasMore(), qt.IsTrue)
		c.Assert(feed.Offset(), qt.Equals, BatchSize)
	})

	c.Run("short batch ends the feed", func(c *qt.C) {
		store := &fakeStore{items: makeFeedItems(7)}
		feed := newTestFeed(store, "")

		c.Assert(feed.LoadBatch(0), qt.IsNil)
		c.Assert(feed.Items(), qt.HasLen, 7)
		c.Assert(feed.HasMore(), qt.IsFalse)
		c.Assert(feed.Offset(), qt.Equals, 7)
	})

	c.Run("empty batch only clears hasMore", func(c *qt.C) {
		store := &fakeStore{items: makeFeedItems(BatchSize)}
		feed := newTestFeed(store, "")

		c.Assert(feed.LoadBatch(0), qt.IsNil)
		c.Assert(feed.HasMore(), qt.IsTrue)

		c.Assert(feed.LoadBatch(BatchSize), qt.IsNil)
		c.Assert(feed.Items(), qt.HasLen, BatchSize)
		c.Assert(feed.HasMore(), qt.IsFalse)
		c.Assert(feed.Offset(), qt.Equals, BatchSize, qt.Commentf("an empty batch must not advance the offset"))
	})

	c.Run("later batches append, offset zero replaces", func(c *qt.C) {
		store := &fakeStore{items: makeFeedItems(BatchSize + 10)}
		feed := newTestFeed(store, "")

		c.Assert(feed.LoadBatch(0), qt.IsNil)
		c.Assert(feed.LoadBatch(feed.Offset()), qt.IsNil)
		c.Assert(feed.Items(), qt.HasLen, BatchSize+10)
		c.Assert(feed.Offset(), qt.Equals, BatchSize+10)

		// restarting from the top replaces instead of appending
		c.Assert(feed.LoadBatch(0), qt.IsNil)
		c.Assert(feed.Items(), qt.HasLen, BatchSize)
		c.Assert(feed.Offset(), qt.Equals, BatchSize)
	})

	c.Run("fetch error leaves loaded items untouched", func(c *qt.C) {
		store := &fakeStore{items: makeFeedItems(BatchSize + 5)}
		feed := newTestFeed(store, "")

		c.Assert(feed.LoadBatch(0), qt.IsNil)

		store.listErr = errors.New("connection reset")
		err := feed.LoadBatch(feed.Offset())
		c.Assert(err, qt.IsNotNil)
		c.Assert(feed.LoadError(), qt.Equals, "connection reset")
		c.Assert(feed.Items(), qt.HasLen, BatchSize)
		c.Assert(feed.HasMore(), qt.IsTrue)

		// a successful load clears the recorded error
		store.listErr = nil
		c.Assert(feed.LoadBatch(feed.Offset()), qt.IsNil)
		c.Assert(feed.LoadError(), qt.Equals, "")
		c.Assert(feed.Items(), qt.HasLen, BatchSize+5)
	})

	c.Run("items without an image are dropped", func(c *qt.C) {
		items := makeFeedItems(3)
		items[1].Image = Image{}
		store := &fakeStore{items: items}
		feed := newTestFeed(store, "")

		c.Assert(feed.LoadBatch(0), qt.IsNil)
		c.Assert(feed.Items(), qt.HasLen, 2)
	})

	c.Run("concurrent load is rejected", func(c *qt.C) {
		store := &fakeStore{
			items:       makeFeedItems(5),
			release:     make(chan struct{}),
			listStarted: make(chan struct{}),
		}
		feed := newTestFeed(store, "")

		done := make(chan error)
		go func() {
			done <- feed.LoadBatch(0)
		}()

		<-store.listStarted
		c.Assert(feed.LoadBatch(0), qt.Equals, ErrLoadInFlight)

		close(store.release)
		c.Assert(<-done, qt.IsNil)
		c.Assert(feed.Items(), qt.HasLen, 5)
	})
}

func TestFeedVoteState(t *testing.T) {
	c := qt.New(t)

	c.Run("votes are merged for a signed-in viewer", func(c *qt.C) {
		items := makeFeedItems(3)
		store := &fakeStore{
			items: items,
			votes: []*CaptionVote{
				{CaptionID: items[0].Caption.ID, ProfileID: "user-1", Value: VoteUp},
				{CaptionID: items[2].Caption.ID, ProfileID: "user-1", Value: VoteDown},
				{CaptionID: items[1].Caption.ID, ProfileID: "someone-else", Value: VoteUp},
			},
		}
		feed := newTestFeed(store, "user-1")

		c.Assert(feed.LoadBatch(0), qt.IsNil)

		value, ok := feed.VoteFor(items[0].Caption.ID)
		c.Assert(ok, qt.IsTrue)
		c.Assert(value, qt.Equals, VoteUp)

		value, ok = feed.VoteFor(items[2].Caption.ID)
		c.Assert(ok, qt.IsTrue)
		c.Assert(value, qt.Equals, VoteDown)

		_, ok = feed.VoteFor(items[1].Caption.ID)
		c.Assert(ok, qt.IsFalse)
	})

	c.Run("no vote lookup for anonymous viewers", func(c *qt.C) {
		store := &fakeStore{items: makeFeedItems(3)}
		feed := newTestFeed(store, "")

		c.Assert(feed.LoadBatch(0), qt.IsNil)
		c.Assert(store.listVotesCalls, qt.Equals, 0)
	})

	c.Run("vote lookup failure does not discard the batch", func(c *qt.C) {
		store := &fakeStore{
			items:        makeFeedItems(3),
			listVotesErr: errors.New("timeout"),
		}
		feed := newTestFeed(store, "user-1")

		c.Assert(feed.LoadBatch(0), qt.IsNil)
		c.Assert(feed.Items(), qt.HasLen, 3)
		c.Assert(feed.LoadError(), qt.Equals, "")
	})

	c.Run("CastVote updates local state on success only", func(c *qt.C) {
		items := makeFeedItems(2)
		store := &fakeStore{items: items}
		feed := newTestFeed(store, "user-1")
		c.Assert(feed.LoadBatch(0), qt.IsNil)

		c.Assert(feed.CastVote(items[0].Caption.ID, VoteUp), qt.IsNil)
		value, ok := feed.VoteFor(items[0].Caption.ID)
		c.Assert(ok, qt.IsTrue)
		c.Assert(value, qt.Equals, VoteUp)
		c.Assert(feed.VoteError(), qt.Equals, "")

		store.upsertErr = errors.New("deadlock detected")
		err := feed.CastVote(items[1].Caption.ID, VoteDown)
		c.Assert(err, qt.IsNotNil)
		c.Assert(feed.VoteError(), qt.Equals, "deadlock detected")
		_, ok = feed.VoteFor(items[1].Caption.ID)
		c.Assert(ok, qt.IsFalse, qt.Commentf("a failed vote must not show up in the local state"))
	})
}
