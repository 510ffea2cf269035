// Package google_auth signs users in with their Google account through the
// OAuth code flow.
package google_auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/almostcrackd/captionfeed/authentication"
	"github.com/gorilla/sessions"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	sessionKey  = "captionfeed-session"
	userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

type Handler struct {
	sessionStore *sessions.CookieStore
	logger       zerolog.Logger
	oauthConfig  *oauth2.Config
}

// userInfo is the subset of the userinfo payload we care about.
type userInfo struct {
	Email   string `mapstructure:"email"`
	Name    string `mapstructure:"name"`
	Picture string `mapstructure:"picture"`
}

func New(serverSecret string, clientID string, clientSecret string, logger zerolog.Logger) *Handler {
	sessionStore := sessions.NewCookieStore([]byte(serverSecret))
	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"email", "profile"},
	}

	return &Handler{
		sessionStore: sessionStore,
		oauthConfig:  oauthConfig,
		logger:       logger,
	}
}

func (h *Handler) Provider() string { return "google" }

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

	user, err := h.fetchUser(req, token)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to fetch user data from Google")
		http.Error(res, "couldn't load user data from Google", http.StatusInternalServerError)
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

// fetchUser loads the userinfo document for the token's owner.
func (h *Handler) fetchUser(req *http.Request, token *oauth2.Token) (*authentication.User, error) {
	client := h.oauthConfig.Client(req.Context(), token)

	resp, err := client.Get(userInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var info userInfo
	if err := mapstructure.Decode(raw, &info); err != nil {
		return nil, err
	}

	login := info.Email
	if info.Name != "" {
		login = info.Name
	}

	return &authentication.User{
		Login:     login,
		Email:     info.Email,
		AvatarURL: info.Picture,
	}, nil
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
