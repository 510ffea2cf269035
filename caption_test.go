package captionfeed

import (
	"database/sql"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestCaptionDisplayText(t *testing.T) {
	c := qt.New(t)

	present := func(s string) sql.NullString {
		return sql.NullString{String: s, Valid: true}
	}

	c.Run("text wins over the other columns", func(c *qt.C) {
		caption := &Caption{
			Text:        present("from text"),
			Content:     present("from content"),
			CaptionText: present("from caption_text"),
		}
		c.Assert(caption.DisplayText(), qt.Equals, "from text")
	})

	c.Run("content when text is null", func(c *qt.C) {
		caption := &Caption{
			Content:     present("from content"),
			CaptionText: present("from caption_text"),
		}
		c.Assert(caption.DisplayText(), qt.Equals, "from content")
	})

	c.Run("caption_text as last resort", func(c *qt.C) {
		caption := &Caption{CaptionText: present("from caption_text")}
		c.Assert(caption.DisplayText(), qt.Equals, "from caption_text")
	})

	c.Run("placeholder when every column is null", func(c *qt.C) {
		caption := &Caption{}
		c.Assert(caption.DisplayText(), qt.Equals, "Caption")
	})

	c.Run("a null column with a leftover value is skipped", func(c *qt.C) {
		caption := &Caption{
			Text:    sql.NullString{String: "stale", Valid: false},
			Content: present("from content"),
		}
		c.Assert(caption.DisplayText(), qt.Equals, "from content")
	})
}

func TestImageDisplay(t *testing.T) {
	c := qt.New(t)

	present := func(s string) sql.NullString {
		return sql.NullString{String: s, Valid: true}
	}

	c.Run("url wins over image_url", func(c *qt.C) {
		image := &Image{
			URL:      present("https://cdn.example.com/a.png"),
			ImageURL: present("https://cdn.example.com/b.png"),
		}
		c.Assert(image.DisplayURL(), qt.Equals, "https://cdn.example.com/a.png")
	})

	c.Run("image_url when url is null", func(c *qt.C) {
		image := &Image{ImageURL: present("https://cdn.example.com/b.png")}
		c.Assert(image.DisplayURL(), qt.Equals, "https://cdn.example.com/b.png")
	})

	c.Run("empty when both are null", func(c *qt.C) {
		image := &Image{}
		c.Assert(image.DisplayURL(), qt.Equals, "")
	})

	c.Run("title falls back to prompt", func(c *qt.C) {
		image := &Image{Prompt: present("a cat in a box")}
		c.Assert(image.DisplayTitle(), qt.Equals, "a cat in a box")

		image.Title = present("Cat")
		c.Assert(image.DisplayTitle(), qt.Equals, "Cat")
	})
}
