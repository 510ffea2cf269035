package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/almostcrackd/captionfeed"
	"github.com/almostcrackd/captionfeed/authentication"
	"github.com/almostcrackd/captionfeed/authentication/github_auth"
	"github.com/almostcrackd/captionfeed/authentication/google_auth"
	"github.com/almostcrackd/captionfeed/cmd"
	"github.com/almostcrackd/captionfeed/pgstore"
	"github.com/almostcrackd/captionfeed/pipeline"
)

func main() {
	cfg := cmd.DefaultConfig()
	err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot read configuration")
	}
	logger := cmd.SetupLogger(cfg)

	// setup database
	pgcfg := fmt.Sprintf(
		"user=%v dbname=%v sslmode=disable password=%v host=%v",
		cfg.DatabaseUser,
		cfg.DatabaseName,
		cfg.DatabasePassword,
		cfg.DatabaseHost,
	)
	pg := pgstore.New(pgcfg)

	// setup authentication
	var authService authentication.AuthService
	switch cfg.AuthProvider {
	case "google":
		ll := logger.With().Str("component", "google auth").Logger()
		authService = google_auth.New(cfg.ServerSecret, cfg.GoogleClientID, cfg.GoogleClientSecret, ll)
	case "github":
		ll := logger.With().Str("component", "github auth").Logger()
		authService = github_auth.New(cfg.ServerSecret, cfg.GithubClientID, cfg.GithubClientSecret, ll)
	default:
		logger.Fatal().Str("provider", cfg.AuthProvider).Msg("Unknown auth provider")
	}

	// setup the captioning pipeline client
	pl := pipeline.New(cfg.PipelineURL, logger.With().Str("component", "pipeline").Logger())

	// fire the server
	s := captionfeed.NewServer(&captionfeed.ServerConfig{Addr: cfg.Addr}, logger, pg, authService, pl)
	if cfg.SlackWebhookURL != "" {
		s.AddUploadHook(captionfeed.NewSlackUploadHook(cfg.SlackWebhookURL))
	}

	err = s.Prepare()
	if err != nil {
		logger.Fatal().Err(err).Msg("Cannot prepare server")
	}

	err = s.Start()
	if err != nil {
		logger.Fatal().Err(err).Msg("Cannot start server")
	}
}
