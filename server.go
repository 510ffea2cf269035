package captionfeed

import (
	"context"
	"encoding/gob"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/almostcrackd/captionfeed/authentication"
	"github.com/almostcrackd/captionfeed/pipeline"

	_ "github.com/lib/pq"
)

func init() {
	// be able to serialize session data in a cookie
	gob.Register(&oauth2.Token{})
}

// ServerConfig holds the settings for the HTTP frontend.
type ServerConfig struct {
	Addr string
}

// UploadHook is called after an image has been uploaded and captioned,
// for side effects such as notifications.
type UploadHook func(user *authentication.User, image *Image, captions []*Caption) error

type Server struct {
	Logger          zerolog.Logger
	config          *ServerConfig
	store           Store
	router          *httprouter.Router
	done            chan struct{}
	idleConnsClosed chan struct{}
	authService     authentication.AuthService
	pipeline        *pipeline.Client
	reconciler      *VoteReconciler
	uploadHooks     []UploadHook
}

func NewServer(config *ServerConfig, logger zerolog.Logger, store Store, authService authentication.AuthService, pipelineClient *pipeline.Client) *Server {
	return &Server{
		Logger:          logger,
		config:          config,
		store:           store,
		authService:     authService,
		pipeline:        pipelineClient,
		reconciler:      NewVoteReconciler(store),
		router:          httprouter.New(),
		done:            make(chan struct{}),
		idleConnsClosed: make(chan struct{}),
	}
}

// AddUploadHook registers a hook called after each successful upload.
func (s *Server) AddUploadHook(h UploadHook) {
	s.uploadHooks = append(s.uploadHooks, h)
}

func (s *Server) Prepare() error {
	// database
	err := s.store.Connect()
	if err != nil {
		return err
	}

	// routes
	s.router.GET("/oauth/start", s.HandleOAuthStart())
	s.router.GET("/oauth/authorize", s.HandleOAuthCallback())
	s.router.GET("/oauth/destroy", s.HandleOAuthDestroy())
	s.router.ServeFiles("/static/*filepath", http.Dir("assets/static"))

	withMiddlewares(func(m middleware) {
		s.router.GET("/login", m(s.HandleLogin()))
		s.router.GET("/", m(s.HandleIndex()))
		s.router.GET("/top", m(s.HandleTop()))
		s.router.GET("/feed/items", m(s.HandleFeedItems()))
		s.router.GET("/upload", m(s.HandleUploadPage()))
	}, s.loadSessionMiddleware())

	withMiddlewares(func(m middleware) {
		s.router.POST("/captions/:id/votes", m(s.HandleVoteAction()))
		s.router.POST("/upload", m(s.HandleUploadAction()))
	}, s.loadSessionMiddleware(), s.loadUserMiddleware())

	return nil
}

func (s *Server) Start() error {
	httpServer := http.Server{Addr: s.config.Addr, Handler: s}

	go func() {
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			// should probably bubble this up
			s.Logger.Fatal().Err(err).Msg("Cannot listen and serve")
		}
	}()

	<-s.done

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}
	close(s.idleConnsClosed)

	return nil
}

func (s *Server) Stop() {
	close(s.done)
	<-s.idleConnsClosed
}

func (s *Server) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(res, req)
}
