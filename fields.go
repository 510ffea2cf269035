package captionfeed

import "database/sql"

// The images and captions tables went through a schema migration that left
// some logical fields split over several physical columns (url/image_url,
// text/content/caption_text, title/prompt). Rows may populate any one of
// them. firstPresent resolves a logical field from an ordered candidate
// list, first non-null non-empty wins, so that everything past the model
// boundary only ever sees the resolved value.
func firstPresent(candidates ...sql.NullString) (string, bool) {
	for _, c := range candidates {
		if c.Valid && c.String != "" {
			return c.String, true
		}
	}

	return "", false
}
