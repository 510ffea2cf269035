package captionfeed

type Store interface {
	Connect() error
	ListFeedItems(offset int, limit int) ([]*FeedItem, error)
	ListScoredItems(limit int) ([]*ScoredFeedItem, error)
	ListVotes(profileID string, captionIDs []string) ([]*CaptionVote, error)
	UpsertVote(vote *CaptionVote) error
	FindCaption(ID string) (*Caption, error)
	InsertImage(image *Image) error
	InsertCaption(caption *Caption) error
	FindUserByLogin(login string) (*User, error)
	CreateOrUpdateUser(login string, email string) (string, error)
}
