package authentication

import "net/http"

// An OAuthHandler is responsible of providing the callbacks to interact
// with an OAuth provider.
type OAuthHandler interface {
	Start(res http.ResponseWriter, req *http.Request)
	Callback(res http.ResponseWriter, req *http.Request, beforeWriteCallback func(*User) error)
	Destroy(res http.ResponseWriter, req *http.Request)
}

// An AuthService wraps OAuth and access to the current user and their
// session. The session cookie is the source of truth for who is signed in.
type AuthService interface {
	OAuthHandler
	CurrentUser(req *http.Request) (*User, error)
	Session(req *http.Request) (*Session, error)
	Provider() string
}

// A User is a convenient structure to hold user data coming from the
// identity provider.
type User struct {
	Login     string
	Email     string
	AvatarURL string
}

// A Session carries the bearer token presented to the captioning pipeline.
type Session struct {
	AccessToken string
}
