package captionfeed

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/almostcrackd/captionfeed/authentication"
	"github.com/almostcrackd/captionfeed/pipeline"
	"github.com/almostcrackd/captionfeed/ranking"
)

const (
	rankingGravity  = 1.8
	rankingTimebase = 24
	topListingSize  = 50
)

// feedItemPresenter carries a rendered caption and its image, for templates
// and for the JSON feed endpoint.
type feedItemPresenter struct {
	CaptionID string        `json:"captionId"`
	Text      template.HTML `json:"text"`
	ImageURL  string        `json:"imageUrl"`
	Title     string        `json:"title"`
	Vote      int           `json:"vote"`
}

type topItemPresenter struct {
	*feedItemPresenter
	Score     int64 `json:"score"`
	CreatedAt time.Time
}

func newFeedItemPresenter(item *FeedItem, vote int) *feedItemPresenter {
	return &feedItemPresenter{
		CaptionID: item.Caption.ID,
		Text:      renderCaption(item.Caption.DisplayText()),
		ImageURL:  item.Image.DisplayURL(),
		Title:     item.Image.DisplayTitle(),
		Vote:      vote,
	}
}

func presentFeed(f *Feed) []*feedItemPresenter {
	presenters := []*feedItemPresenter{}
	for _, item := range f.Items() {
		vote, _ := f.VoteFor(item.Caption.ID)
		presenters = append(presenters, newFeedItemPresenter(item, vote))
	}

	return presenters
}

func respondJSON(res http.ResponseWriter, status int, v interface{}) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	_ = json.NewEncoder(res).Encode(v)
}

func respondJSONError(res http.ResponseWriter, status int, msg string) {
	respondJSON(res, status, map[string]string{"error": msg})
}

// respondError hands the error over to its responder when it has one,
// otherwise it responds with an internal server error.
func (s *Server) respondError(res http.ResponseWriter, req *http.Request, err error) {
	if responder, ok := err.(ErrorResponder); ok {
		if responder.RespondError(res, req) {
			s.Logger.Debug().Err(err).Msg("handled error response")
			return
		}
	}

	s.Logger.Error().Err(err).Msg("internal error")
	http.Error(res, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// HandleOAuthStart handles requests starting the OAuth authentication process.
func (s *Server) HandleOAuthStart() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		s.authService.Start(res, req)
	}
}

// HandleOAuthCallback handles requests where the OAuth provider redirects the
// user back after successfully authenticating him on its side.
func (s *Server) HandleOAuthCallback() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		s.authService.Callback(res, req, func(u *authentication.User) error {
			_, err := s.store.CreateOrUpdateUser(u.Login, u.Email)
			return err
		})
	}
}

// HandleOAuthDestroy handles requests destroying the current session.
func (s *Server) HandleOAuthDestroy() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		s.authService.Destroy(res, req)
	}
}

// HandleLogin handles requests for the sign-in page. Users that already have
// a session get redirected to the feed.
func (s *Server) HandleLogin() httprouter.Handle {
	tmpl, err := template.New("login.html").Funcs(helpers).ParseFiles(
		"assets/templates/login.html",
		"assets/templates/_header.html",
		"assets/templates/_footer.html")
	if err != nil {
		s.Logger.Fatal().Err(err).Msg("Failed to load templates")
	}

	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		session := ctxSession(req.Context())
		if session != nil {
			http.Redirect(res, req, "/", http.StatusFound)
			return
		}

		res.Header().Set("Content-Type", "text/html")

		vars := map[string]interface{}{
			"Session":  nil,
			"Provider": s.authService.Provider(),
		}

		err := tmpl.Execute(res, vars)
		if err != nil {
			s.Logger.Error().Err(err).Msg("Failed to render template")
			http.Error(res, "Failed to render template", http.StatusInternalServerError)
			return
		}
	}
}

// HandleIndex handles requests for the root path, serving the first batch of
// the caption feed. Anonymous users get redirected to the sign-in page.
func (s *Server) HandleIndex() httprouter.Handle {
	tmpl, err := template.New("index.html").Funcs(helpers).ParseFiles(
		"assets/templates/index.html",
		"assets/templates/_header.html",
		"assets/templates/_footer.html",
		"assets/templates/_feed_item.html")
	if err != nil {
		s.Logger.Fatal().Err(err).Msg("Failed to load templates")
	}

	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		session := ctxSession(req.Context())
		if session == nil {
			http.Redirect(res, req, "/login", http.StatusFound)
			return
		}

		userRecord, err := s.store.FindUserByLogin(session.Login)
		if err != nil {
			s.Logger.Error().Err(err).Msg("Failed to fetch user from db")
			http.Error(res, "Failed to fetch user from database", http.StatusInternalServerError)
			return
		}

		if userRecord == nil {
			// there is a session but no user in the database, wiping the session
			s.authService.Destroy(res, req)
			return
		}

		feed := NewFeed(s.store, s.reconciler, userRecord.ID, s.Logger)
		if err := feed.LoadBatch(0); err != nil {
			s.Logger.Error().Err(err).Msg("Failed to load feed")
			http.Error(res, "Failed to load feed", http.StatusInternalServerError)
			return
		}

		res.Header().Set("Content-Type", "text/html")

		vars := map[string]interface{}{
			"Items":      presentFeed(feed),
			"Session":    session,
			"HasMore":    feed.HasMore(),
			"NextOffset": feed.Offset(),
			"LoadError":  feed.LoadError(),
		}

		err = tmpl.Execute(res, vars)
		if err != nil {
			s.Logger.Error().Err(err).Msg("Failed to render template")
			http.Error(res, "Failed to render template", http.StatusInternalServerError)
			return
		}
	}
}

// HandleFeedItems handles requests for feed batches past the first one,
// returning them as JSON for the infinite scrolling on the index page.
func (s *Server) HandleFeedItems() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		session := ctxSession(req.Context())
		if session == nil {
			respondJSONError(res, http.StatusUnauthorized, "Unauthorized")
			return
		}

		userRecord, err := s.store.FindUserByLogin(session.Login)
		if err != nil {
			s.Logger.Error().Err(err).Msg("Failed to fetch user from db")
			respondJSONError(res, http.StatusInternalServerError, "Failed to fetch user from database")
			return
		}
		if userRecord == nil {
			respondJSONError(res, http.StatusUnauthorized, "Unauthorized")
			return
		}

		offset := 0
		if raw := req.URL.Query().Get("offset"); raw != "" {
			offset, err = strconv.Atoi(raw)
			if err != nil || offset < 0 {
				respondJSONError(res, http.StatusBadRequest, "Invalid offset")
				return
			}
		}

		feed := NewFeed(s.store, s.reconciler, userRecord.ID, s.Logger)
		if err := feed.LoadBatch(offset); err != nil {
			s.Logger.Error().Err(err).Msg("Failed to load feed")
			respondJSONError(res, http.StatusInternalServerError, "Failed to load feed")
			return
		}

		if msg := feed.LoadError(); msg != "" {
			respondJSONError(res, http.StatusInternalServerError, msg)
			return
		}

		respondJSON(res, http.StatusOK, map[string]interface{}{
			"items":      presentFeed(feed),
			"hasMore":    feed.HasMore(),
			"nextOffset": feed.Offset(),
		})
	}
}

// HandleVoteAction handles requests to vote a caption up or down. It answers
// JSON so the index page can update vote indicators in place.
func (s *Server) HandleVoteAction() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
		userRecord := ctxUser(req.Context())
		if userRecord == nil {
			respondJSONError(res, http.StatusUnauthorized, ErrNotSignedIn.Error())
			return
		}

		var body struct {
			Value int `json:"value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondJSONError(res, http.StatusBadRequest, "Invalid request body")
			return
		}

		id := params.ByName("id")
		caption, err := s.store.FindCaption(id)
		if err != nil {
			s.respondError(res, req, Maybe404(err))
			return
		}

		err = s.reconciler.CastVote(userRecord.ID, caption.ID, body.Value)
		switch {
		case errors.Is(err, ErrInvalidVoteValue):
			respondJSONError(res, http.StatusUnprocessableEntity, err.Error())
			return
		case errors.Is(err, ErrVoteInFlight):
			respondJSONError(res, http.StatusConflict, err.Error())
			return
		case err != nil:
			s.Logger.Error().Err(err).Str("caption_id", caption.ID).Msg("Failed to record vote")
			respondJSONError(res, http.StatusInternalServerError, "Failed to record vote")
			return
		}

		respondJSON(res, http.StatusOK, map[string]interface{}{
			"captionId": caption.ID,
			"value":     body.Value,
		})
	}
}

// HandleUploadPage handles requests for the image upload form.
func (s *Server) HandleUploadPage() httprouter.Handle {
	tmpl, err := template.New("upload.html").Funcs(helpers).ParseFiles(
		"assets/templates/upload.html",
		"assets/templates/_header.html",
		"assets/templates/_footer.html")
	if err != nil {
		s.Logger.Fatal().Err(err).Msg("Failed to load templates")
	}

	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		session := ctxSession(req.Context())
		if session == nil {
			http.Redirect(res, req, "/login", http.StatusFound)
			return
		}

		res.Header().Set("Content-Type", "text/html")

		vars := map[string]interface{}{
			"Session":       session,
			"AcceptedTypes": pipeline.AcceptedTypes(),
		}

		err := tmpl.Execute(res, vars)
		if err != nil {
			s.Logger.Error().Err(err).Msg("Failed to render template")
			http.Error(res, "Failed to render template", http.StatusInternalServerError)
			return
		}
	}
}

// HandleUploadAction handles image submissions. The file goes through the
// remote captioning pipeline, then the image and its generated captions are
// recorded so they show up in the feed.
func (s *Server) HandleUploadAction() httprouter.Handle {
	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		sess, err := s.authService.Session(req)
		if err != nil || sess == nil {
			respondJSONError(res, http.StatusUnauthorized, "Not signed in. Sign in to upload.")
			return
		}

		file, header, err := req.FormFile("image")
		if err != nil {
			respondJSONError(res, http.StatusBadRequest, "Missing image file")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if !pipeline.Accepts(contentType) {
			respondJSONError(res, http.StatusUnprocessableEntity, "Invalid file type. Use JPEG, PNG, WebP, GIF, or HEIC.")
			return
		}

		op := s.pipeline.NewUpload()
		result, err := op.Run(req.Context(), sess.AccessToken, contentType, file)
		if err != nil {
			s.Logger.Error().Err(err).Str("status", op.Status().String()).Msg("Upload pipeline failed")
			respondJSONError(res, http.StatusBadGateway, err.Error())
			return
		}

		image := NewImage(result.CDNURL, header.Filename)
		if err := s.store.InsertImage(image); err != nil {
			s.Logger.Error().Err(err).Msg("Failed to insert image")
			respondJSONError(res, http.StatusInternalServerError, "Failed to record image")
			return
		}

		captions := make([]*Caption, 0, len(result.Captions))
		for _, text := range result.Captions {
			caption := NewCaption(image.ID, text)
			if err := s.store.InsertCaption(caption); err != nil {
				s.Logger.Error().Err(err).Msg("Failed to insert caption")
				respondJSONError(res, http.StatusInternalServerError, "Failed to record captions")
				return
			}
			captions = append(captions, caption)
		}

		user := ctxSession(req.Context())
		for _, h := range s.uploadHooks {
			if err := h(user, image, captions); err != nil {
				s.Logger.Warn().Err(err).Msg("upload hook failed")
				respondJSONError(res, http.StatusInternalServerError, "hook failed")
				return
			}
		}

		respondJSON(res, http.StatusOK, map[string]interface{}{
			"imageId":  result.ImageID,
			"cdnUrl":   result.CDNURL,
			"captions": result.Captions,
		})
	}
}

// HandleTop handles requests for the ranked listing, ordering captions by
// votes weighted down by age.
func (s *Server) HandleTop() httprouter.Handle {
	tmpl, err := template.New("top.html").Funcs(helpers).ParseFiles(
		"assets/templates/top.html",
		"assets/templates/_header.html",
		"assets/templates/_footer.html")
	if err != nil {
		s.Logger.Fatal().Err(err).Msg("Failed to load templates")
	}

	return func(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		session := ctxSession(req.Context())
		if session == nil {
			http.Redirect(res, req, "/login", http.StatusFound)
			return
		}

		items, err := s.store.ListScoredItems(topListingSize)
		if err != nil {
			s.Logger.Error().Err(err).Msg("Failed to list ranked captions")
			http.Error(res, "Failed to list ranked captions", http.StatusInternalServerError)
			return
		}

		now := NowFunc()
		sort.SliceStable(items, func(i, j int) bool {
			return ranking.Rank(items[i], rankingGravity, rankingTimebase, now) >
				ranking.Rank(items[j], rankingGravity, rankingTimebase, now)
		})

		presenters := []*topItemPresenter{}
		for _, item := range items {
			presenters = append(presenters, &topItemPresenter{
				feedItemPresenter: newFeedItemPresenter(&item.FeedItem, 0),
				Score:             item.Score,
				CreatedAt:         item.Caption.CreatedAt,
			})
		}

		res.Header().Set("Content-Type", "text/html")

		vars := map[string]interface{}{
			"Items":   presenters,
			"Session": session,
		}

		err = tmpl.Execute(res, vars)
		if err != nil {
			s.Logger.Error().Err(err).Msg("Failed to render template")
			http.Error(res, "Failed to render template", http.StatusInternalServerError)
			return
		}
	}
}
