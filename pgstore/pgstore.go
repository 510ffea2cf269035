package pgstore

import (
	"database/sql"

	"github.com/almostcrackd/captionfeed"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// A PGStore is responsible of interacting with the storage layer using a Postgresql database.
type PGStore struct {
	dbString string
	db       *sqlx.DB
}

// New returns a PGStore configured for a given address string, using the "user=postgres dbname=captionfeed ..." format.
func New(addr string) *PGStore {
	return &PGStore{
		dbString: addr,
	}
}

// Connect establish a connection with the database using the address given at initialization.
func (s *PGStore) Connect() error {
	db, err := sqlx.Connect("postgres", s.dbString)
	if err != nil {
		return err
	}

	s.db = db

	return nil
}

// DB returns the existing connection, making it suitable to perform requests not already supported by
// the store interface. If called while not connected, it will return nil.
func (s *PGStore) DB() *sqlx.DB {
	return s.db
}

// https://www.citusdata.com/blog/2016/03/30/five-ways-to-paginate/
func (s *PGStore) ListFeedItems(offset int, limit int) ([]*captionfeed.FeedItem, error) {
	items := []*captionfeed.FeedItem{}
	err := s.db.Select(&items, `SELECT
			c.id AS "caption.id",
			c.image_id AS "caption.image_id",
			c.text AS "caption.text",
			c.content AS "caption.content",
			c.caption_text AS "caption.caption_text",
			c.created_at AS "caption.created_at",
			i.id AS "image.id",
			i.url AS "image.url",
			i.image_url AS "image.image_url",
			i.title AS "image.title",
			i.prompt AS "image.prompt",
			i.created_at AS "image.created_at"
		FROM captions c
		INNER JOIN images i ON i.id = c.image_id
		ORDER BY c.id ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (s *PGStore) ListScoredItems(limit int) ([]*captionfeed.ScoredFeedItem, error) {
	items := []*captionfeed.ScoredFeedItem{}
	err := s.db.Select(&items, `SELECT
			c.id AS "caption.id",
			c.image_id AS "caption.image_id",
			c.text AS "caption.text",
			c.content AS "caption.content",
			c.caption_text AS "caption.caption_text",
			c.created_at AS "caption.created_at",
			i.id AS "image.id",
			i.url AS "image.url",
			i.image_url AS "image.image_url",
			i.title AS "image.title",
			i.prompt AS "image.prompt",
			i.created_at AS "image.created_at",
			COALESCE(SUM(v.vote_value), 0) AS score
		FROM captions c
		INNER JOIN images i ON i.id = c.image_id
		LEFT JOIN caption_votes v ON v.caption_id = c.id
		GROUP BY c.id, i.id
		ORDER BY score DESC, c.id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (s *PGStore) ListVotes(profileID string, captionIDs []string) ([]*captionfeed.CaptionVote, error) {
	votes := []*captionfeed.CaptionVote{}
	err := s.db.Select(&votes, "SELECT * FROM caption_votes WHERE profile_id = $1 AND caption_id = ANY($2)",
		profileID, pq.Array(captionIDs))
	if err != nil {
		return nil, err
	}

	return votes, nil
}

// UpsertVote records a vote, replacing the voter's previous value for the same
// caption if there is one. The original created_datetime_utc is kept on update.
func (s *PGStore) UpsertVote(vote *captionfeed.CaptionVote) error {
	var id string
	err := s.db.Get(&id, `INSERT INTO caption_votes
			(id, caption_id, profile_id, vote_value, created_datetime_utc, modified_datetime_utc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (caption_id, profile_id) DO UPDATE
			SET vote_value = EXCLUDED.vote_value, modified_datetime_utc = EXCLUDED.modified_datetime_utc
		RETURNING id`,
		uuid.NewString(), vote.CaptionID, vote.ProfileID, vote.Value, vote.CreatedAt, vote.ModifiedAt,
	)
	if err != nil {
		return err
	}

	vote.ID = id

	return nil
}

func (s *PGStore) FindCaption(ID string) (*captionfeed.Caption, error) {
	caption := captionfeed.Caption{}
	err := s.db.Get(&caption, "SELECT * FROM captions WHERE id=$1", ID)
	if err != nil {
		return nil, err
	}

	return &caption, nil
}

func (s *PGStore) InsertImage(image *captionfeed.Image) error {
	var id string
	err := s.db.Get(&id, `INSERT INTO images (id, url, image_url, title, prompt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		uuid.NewString(), image.URL, image.ImageURL, image.Title, image.Prompt, image.CreatedAt,
	)
	if err != nil {
		return err
	}

	image.ID = id

	return nil
}

func (s *PGStore) InsertCaption(caption *captionfeed.Caption) error {
	var id string
	err := s.db.Get(&id, `INSERT INTO captions (id, image_id, text, content, caption_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		uuid.NewString(), caption.ImageID, caption.Text, caption.Content, caption.CaptionText, caption.CreatedAt,
	)
	if err != nil {
		return err
	}

	caption.ID = id

	return nil
}

func (s *PGStore) FindUserByLogin(name string) (*captionfeed.User, error) {
	user := captionfeed.User{}
	err := s.db.Get(&user, "SELECT * FROM users WHERE name=$1", name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

func (s *PGStore) CreateOrUpdateUser(login string, email string) (string, error) {
	now := captionfeed.NowFunc()
	var id string
	err := s.db.Get(&id, `INSERT INTO users (id, name, email, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET last_login_at = EXCLUDED.last_login_at
		RETURNING id`,
		uuid.NewString(), login, email, now, now,
	)
	if err != nil {
		return "", err
	}

	return id, nil
}
