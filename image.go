package captionfeed

import (
	"database/sql"
	"time"
)

type Image struct {
	ID        string         `db:"id"`
	URL       sql.NullString `db:"url"`
	ImageURL  sql.NullString `db:"image_url"`
	Title     sql.NullString `db:"title"`
	Prompt    sql.NullString `db:"prompt"`
	CreatedAt time.Time      `db:"created_at"`
}

func NewImage(url string, title string) *Image {
	return &Image{
		URL:       sql.NullString{String: url, Valid: url != ""},
		Title:     sql.NullString{String: title, Valid: title != ""},
		CreatedAt: NowFunc(),
	}
}

// DisplayURL resolves the image location from the url then image_url
// columns. It returns an empty string when neither is set.
func (i *Image) DisplayURL() string {
	u, _ := firstPresent(i.URL, i.ImageURL)
	return u
}

// DisplayTitle resolves the title then prompt columns.
func (i *Image) DisplayTitle() string {
	t, _ := firstPresent(i.Title, i.Prompt)
	return t
}
