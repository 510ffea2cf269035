// Package github_auth signs users in with their GitHub account through the
// OAuth code flow.
package github_auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/almostcrackd/captionfeed/authentication"
	"github.com/google/go-github/github"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	sessionKey = "captionfeed-session"
)

type Handler struct {
	sessionStore *sessions.CookieStore
	logger       zerolog.Logger
	oauthConfig  *oauth2.Config
}

func New(serverSecret string, clientID string, clientSecret string, logger zerolog.Logger) *Handler {
	sessionStore := sessions.NewCookieStore([]byte(serverSecret))
	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		Scopes: []string{"email"},
	}

	return &Handler{
		sessionStore: sessionStore,
		oauthConfig:  oauthConfig,
		logger:       logger,
	}
}

func (h *Handler) Provider() string { return "github" }

func (h *Handler) Start(res http.ResponseWriter, req *http.Request) {
	b := make([]byte, 16)
	rand.Read(b)

	state := base64.URLEncoding.EncodeToString(b)

	session, _ := h.sessionStore.Get(req, sessionKey)
	session.Values["state"] = state
	session.Save(req, res)

	url := h.oauthConfig.AuthCodeURL(state)
	http.Redirect(res, req, url, http.StatusFound)
}

func (h *Handler) Callback(res http.ResponseWriter, req *http.Request, beforeWriteCallback func(*authentication.User) error) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		http.Error(res, "Session aborted", http.StatusInternalServerError)
		return
	}

	if req.URL.Query().Get("state") != session.Values["state"] {
		http.Error(res, "no state match; possible csrf OR cookies not enabled", http.StatusInternalServerError)
		return
	}

	token, err := h.oauthConfig.Exchange(req.Context(), req.URL.Query().Get("code"))
	if err != nil {
		http.Error(res, "there was an issue getting your token", http.StatusInternalServerError)
		return
	}

	if !token.Valid() {
		http.Error(res, "retrieved invalid token", http.StatusBadRequest)
		return
	}

	user, err := h.fetchUser(req.Context(), token)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to fetch user data from GitHub")
		http.Error(res, "couldn't load user data from GitHub", http.StatusInternalServerError)
		return
	}

	err = beforeWriteCallback(user)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to execute oauth callback")
		http.Error(res, "failed to execute oauth callback", http.StatusInternalServerError)
		return
	}

	b, err := json.Marshal(user)
	if err != nil {
		http.Error(res, "could not serialize session", http.StatusInternalServerError)
		return
	}

	session.Values["user"] = b
	session.Values["accessToken"] = token
	if err := session.Save(req, res); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save session")
		http.Error(res, "could not save session", http.StatusInternalServerError)
		return
	}

	http.Redirect(res, req, "/", http.StatusFound)
}

func (h *Handler) fetchUser(ctx context.Context, token *oauth2.Token) (*authentication.User, error) {
	client := github.NewClient(h.oauthConfig.Client(ctx, token))

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, err
	}

	u := &authentication.User{}
	if user.Login != nil {
		u.Login = *user.Login
	}
	if user.Email != nil {
		u.Email = *user.Email
	}
	if user.AvatarURL != nil {
		u.AvatarURL = *user.AvatarURL
	}

	return u, nil
}

func (h *Handler) CurrentUser(req *http.Request) (*authentication.User, error) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		return nil, err
	}

	var b []byte
	b, ok := session.Values["user"].([]byte)
	if !ok {
		return nil, nil
	}

	var userSession authentication.User
	err = json.Unmarshal(b, &userSession)
	if err != nil {
		return nil, err
	}

	return &userSession, nil
}

func (h *Handler) Session(req *http.Request) (*authentication.Session, error) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		return nil, err
	}

	token, ok := session.Values["accessToken"].(*oauth2.Token)
	if !ok {
		return nil, nil
	}

	return &authentication.Session{AccessToken: token.AccessToken}, nil
}

func (h *Handler) Destroy(res http.ResponseWriter, req *http.Request) {
	session, err := h.sessionStore.Get(req, sessionKey)
	if err != nil {
		http.Error(res, "aborted", http.StatusInternalServerError)
		return
	}

	// kill the session
	session.Options.MaxAge = -1
	session.Values["user"] = nil
	session.Values["accessToken"] = nil
	session.Save(req, res)

	http.Redirect(res, req, "/login", http.StatusFound)
}
