package main

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/almostcrackd/captionfeed"
	"github.com/almostcrackd/captionfeed/cmd"
	"github.com/almostcrackd/captionfeed/pgstore"
)

var users = []string{"tintin", "milou", "haddock", "castafiore", "tournesol"}

var captionTexts = []string{
	"A cat pondering the mysteries of an empty cardboard box",
	"When Monday arrives before the coffee does",
	"The exact moment gravity stopped being a suggestion",
	"Two ghostly white figures in coveralls are softly dancing",
	"A very small stage in a vast cosmic arena",
	"Proof that naps are a competitive sport",
	"The committee has reviewed your sandwich and found it lacking",
	"Somewhere, a physicist is crying",
	"This is fine, everything is fine",
	"Local duck refuses to comment",
	"A still more glorious dawn awaits",
	"The carbon in our apple pies",
	"Courage of our questions, hearts of the stars",
	"Not a sunrise but a galaxyrise",
	"Vastness is bearable only through love",
}

func main() {
	cfg := cmd.DefaultConfig()
	err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot read configuration")
	}
	logger := cmd.SetupLogger(cfg)
	logger.Info().Msg("Seeding database")

	// setup database
	pgcfg := fmt.Sprintf(
		"user=%v dbname=%v sslmode=disable password=%v host=%v",
		cfg.DatabaseUser,
		cfg.DatabaseName,
		cfg.DatabasePassword,
		cfg.DatabaseHost,
	)
	pg := pgstore.New(pgcfg)
	err = pg.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("Can't connect to database")
	}

	var userIDs []string
	for _, u := range users {
		id, err := pg.CreateOrUpdateUser(u, u+"@gmail.com")
		if err != nil {
			log.Fatal().Err(err).Msg("Can't create user")
		}
		userIDs = append(userIDs, id)
	}

	// every image gets a few captions, spread across the text columns so the
	// feed exercises all the fallbacks
	var captions []*captionfeed.Caption
	for i := 0; i < 12; i++ {
		image := captionfeed.NewImage(fmt.Sprintf("https://picsum.photos/seed/%d/600/400", i), fmt.Sprintf("Seed image %d", i))
		err = pg.InsertImage(image)
		if err != nil {
			log.Fatal().Err(err).Msg("Can't create image")
		}

		for j := 0; j < 3; j++ {
			text := captionTexts[(i*3+j)%len(captionTexts)]
			caption := captionfeed.NewCaption(image.ID, "")
			switch j % 3 {
			case 0:
				caption.Text = sql.NullString{String: text, Valid: true}
			case 1:
				caption.Content = sql.NullString{String: text, Valid: true}
			case 2:
				caption.CaptionText = sql.NullString{String: text, Valid: true}
			}

			err = pg.InsertCaption(caption)
			if err != nil {
				log.Fatal().Err(err).Msg("Can't create caption")
			}
			captions = append(captions, caption)
		}
	}

	// sprinkle some votes
	for i, caption := range captions {
		for j := 0; j < i%len(userIDs); j++ {
			value := captionfeed.VoteUp
			if (i+j)%3 == 0 {
				value = captionfeed.VoteDown
			}

			vote := captionfeed.NewCaptionVote(caption.ID, userIDs[j], value)
			err = pg.UpsertVote(vote)
			if err != nil {
				log.Fatal().Err(err).Msg("Can't create vote")
			}
		}
	}

	logger.Info().Int("captions", len(captions)).Msg("Done")
}
