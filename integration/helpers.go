package integration

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"

	qt "github.com/frankban/quicktest"
	"github.com/gorilla/sessions"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/almostcrackd/captionfeed"
	"github.com/almostcrackd/captionfeed/authentication/fake_auth"
	"github.com/almostcrackd/captionfeed/pgstore"
	"github.com/almostcrackd/captionfeed/pipeline"
)

const (
	dbString       = "user=postgres dbname=captionfeed_test sslmode=disable password=postgres host=127.0.0.1"
	testServerHost = "localhost:8081"
)

func truncateDatabase(db *sqlx.DB) {
	db.MustExec("TRUNCATE TABLE caption_votes;")
	db.MustExec("TRUNCATE TABLE captions CASCADE;")
	db.MustExec("TRUNCATE TABLE images CASCADE;")
	db.MustExec("TRUNCATE TABLE users;")
}

// testingLogWriter is an output target for zerolog which will print on the testing logger.
type testingLogWriter struct {
	c *qt.C
}

// Write outputs on the passed bytes on the test logger
func (l *testingLogWriter) Write(p []byte) (n int, err error) {
	str := string(p[0 : len(p)-1]) // drop the final \n
	l.c.Log(str)
	return len(p), nil
}

// pipelineBackend fakes the remote captioning service, presigned storage
// included.
type pipelineBackend struct {
	server *httptest.Server

	registerStatus int
	registerBody   string
	captionsBody   string
}

func newPipelineBackend(c *qt.C) *pipelineBackend {
	b := &pipelineBackend{
		registerStatus: http.StatusOK,
		registerBody:   `{"imageId": "img-1"}`,
		captionsBody:   `["first caption", "second caption"]`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/pipeline/generate-presigned-url", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"presignedUrl": %q, "cdnUrl": "https://cdn.example.com/it.png"}`, b.server.URL+"/put")
	})
	mux.HandleFunc("/put", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
	})
	mux.HandleFunc("/pipeline/upload-image-from-url", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(b.registerStatus)
		io.WriteString(w, b.registerBody)
	})
	mux.HandleFunc("/pipeline/generate-captions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, b.captionsBody)
	})

	b.server = httptest.NewServer(mux)
	c.Cleanup(b.server.Close)

	return b
}

// A struct to hold the server and its components.
// Provides a few helpers for convenience.
type testContext struct {
	c          *qt.C
	server     *captionfeed.Server
	testServer *httptest.Server
	pgStore    *pgstore.PGStore
	pipeline   *pipelineBackend
}

// newTestContext creates a server instance with its component initialized for integration testing.
func newTestContext(c *qt.C) *testContext {
	tc := testContext{c: c}

	w := testingLogWriter{c}
	output := zerolog.ConsoleWriter{Out: &w, NoColor: true}
	logger := zerolog.New(output)

	tc.pgStore = pgstore.New(dbString)
	sessionStore := sessions.NewCookieStore([]byte("test"))
	fakeAuth := fake_auth.New(sessionStore, logger)
	tc.pipeline = newPipelineBackend(c)

	tc.server = captionfeed.NewServer(
		&captionfeed.ServerConfig{Addr: testServerHost},
		logger,
		tc.pgStore,
		fakeAuth,
		pipeline.New(tc.pipeline.server.URL, logger),
	)
	tc.testServer = httptest.NewServer(tc.server)

	fakeAuth.SetServerURL(tc.testServer.URL)

	return &tc
}

// url returns an url to the test server based on the given path
func (tc *testContext) url(path string) string {
	return tc.testServer.URL + path
}

// prepareServer boots up the server and sets up its teardown for the current test
func (tc *testContext) prepareServer() {
	// move the right directory for the templates
	err := os.Chdir("..")
	if err != nil {
		tc.c.Fatalf("%v", err)
	}

	tc.c.Assert(tc.server.Prepare(), qt.IsNil, qt.Commentf("couldn't prepare the server"))
	tc.c.Cleanup(func() {
		// kill the server
		tc.testServer.Close()

		// restore the db to its pristine state
		truncateDatabase(tc.pgStore.DB())

		// chdir back to the right cwd
		err := os.Chdir("integration")
		if err != nil {
			tc.c.Fatalf("%v", err)
		}
	})
}

// createImageWithCaptions inserts an image and one caption per given text,
// returning the captions.
func (tc *testContext) createImageWithCaptions(texts ...string) []*captionfeed.Caption {
	image := captionfeed.NewImage("https://cdn.example.com/seed.png", "seed")
	tc.c.Assert(tc.pgStore.InsertImage(image), qt.IsNil)

	captions := make([]*captionfeed.Caption, 0, len(texts))
	for _, text := range texts {
		caption := captionfeed.NewCaption(image.ID, text)
		tc.c.Assert(tc.pgStore.InsertCaption(caption), qt.IsNil)
		captions = append(captions, caption)
	}

	return captions
}

func (tc *testContext) newHTTPClient() *http.Client {
	jar, err := cookiejar.New(nil)
	tc.c.Assert(err, qt.IsNil)

	return &http.Client{
		Jar: jar,
	}
}

func (tc *testContext) newAuthenticatedClient() *http.Client {
	client := tc.newHTTPClient()
	resp, err := client.Get(tc.url("/oauth/start"))
	tc.c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	tc.c.Assert(resp.StatusCode, qt.Equals, 200)
	return client
}
