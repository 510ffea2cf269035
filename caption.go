package captionfeed

import (
	"database/sql"
	"time"
)

// defaultCaptionText is shown when none of the text columns are populated.
const defaultCaptionText = "Caption"

type Caption struct {
	ID          string         `db:"id"`
	ImageID     string         `db:"image_id"`
	Text        sql.NullString `db:"text"`
	Content     sql.NullString `db:"content"`
	CaptionText sql.NullString `db:"caption_text"`
	CreatedAt   time.Time      `db:"created_at"`
}

func NewCaption(imageID string, text string) *Caption {
	return &Caption{
		ImageID:   imageID,
		Text:      sql.NullString{String: text, Valid: text != ""},
		CreatedAt: NowFunc(),
	}
}

// DisplayText resolves the caption body from the text, content then
// caption_text columns, falling back to a placeholder when all are null.
func (c *Caption) DisplayText() string {
	t, ok := firstPresent(c.Text, c.Content, c.CaptionText)
	if !ok {
		return defaultCaptionText
	}

	return t
}

// A FeedItem is a caption joined with the image it belongs to. Captions
// whose image is missing never make it into a feed.
type FeedItem struct {
	Caption Caption `db:"caption"`
	Image   Image   `db:"image"`
}

// A ScoredFeedItem carries the net vote score along with the item, for the
// ranked listing.
type ScoredFeedItem struct {
	FeedItem
	Score int64 `db:"score"`
}

func (i *ScoredFeedItem) GetScore() int64 {
	return i.Score
}

func (i *ScoredFeedItem) Age() time.Time {
	return i.Caption.CreatedAt
}
