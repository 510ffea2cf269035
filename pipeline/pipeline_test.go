package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"
)

// pipelineStub fakes the captioning service and the presigned storage
// endpoint in one server.
type pipelineStub struct {
	mux *http.ServeMux

	presignStatus  int
	presignBody    string
	putStatus      int
	registerStatus int
	registerBody   string
	captionsStatus int
	captionsBody   string

	lastAuth        string
	lastContentType string
	uploadedBytes   []byte
	registerPayload map[string]interface{}
}

func newPipelineStub() *pipelineStub {
	s := &pipelineStub{
		presignStatus:  http.StatusOK,
		putStatus:      http.StatusOK,
		registerStatus: http.StatusOK,
		registerBody:   `{"imageId": "img-123"}`,
		captionsStatus: http.StatusOK,
		captionsBody:   `["a cat", "a box"]`,
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc(presignPath, func(w http.ResponseWriter, r *http.Request) {
		s.lastAuth = r.Header.Get("Authorization")
		w.WriteHeader(s.presignStatus)
		io.WriteString(w, s.presignBody)
	})
	s.mux.HandleFunc("/put", func(w http.ResponseWriter, r *http.Request) {
		s.lastContentType = r.Header.Get("Content-Type")
		s.uploadedBytes, _ = io.ReadAll(r.Body)
		w.WriteHeader(s.putStatus)
	})
	s.mux.HandleFunc(registerPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&s.registerPayload)
		w.WriteHeader(s.registerStatus)
		io.WriteString(w, s.registerBody)
	})
	s.mux.HandleFunc(captionsPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(s.captionsStatus)
		io.WriteString(w, s.captionsBody)
	})

	return s
}

func (s *pipelineStub) start(c *qt.C) *Client {
	server := httptest.NewServer(s.mux)
	c.Cleanup(server.Close)

	s.presignBody = `{"presignedUrl": "` + server.URL + `/put", "cdnUrl": "https://cdn.example.com/x.png"}`

	return New(server.URL, zerolog.Nop())
}

func TestUploadRun(t *testing.T) {
	c := qt.New(t)

	c.Run("happy path", func(c *qt.C) {
		stub := newPipelineStub()
		client := stub.start(c)

		op := client.NewUpload()
		c.Assert(op.Status(), qt.Equals, StatusIdle)

		result, err := op.Run(context.Background(), "tok", "image/png", strings.NewReader("pngbytes"))
		c.Assert(err, qt.IsNil)
		c.Assert(op.Status(), qt.Equals, StatusDone)

		c.Assert(result.CDNURL, qt.Equals, "https://cdn.example.com/x.png")
		c.Assert(result.ImageID, qt.Equals, "img-123")
		c.Assert(result.Captions, qt.DeepEquals, []string{"a cat", "a box"})

		c.Assert(stub.lastAuth, qt.Equals, "Bearer tok")
		c.Assert(stub.lastContentType, qt.Equals, "image/png")
		c.Assert(string(stub.uploadedBytes), qt.Equals, "pngbytes")
		c.Assert(stub.registerPayload["imageUrl"], qt.Equals, "https://cdn.example.com/x.png")
		c.Assert(stub.registerPayload["isCommonUse"], qt.Equals, false)
	})

	c.Run("snake_case response fields", func(c *qt.C) {
		stub := newPipelineStub()
		server := httptest.NewServer(stub.mux)
		c.Cleanup(server.Close)

		stub.presignBody = `{"presigned_url": "` + server.URL + `/put", "cdn_url": "https://cdn.example.com/y.png"}`
		stub.registerBody = `{"image_id": "img-456"}`
		client := New(server.URL, zerolog.Nop())

		result, err := client.NewUpload().Run(context.Background(), "tok", "image/jpeg", strings.NewReader("x"))
		c.Assert(err, qt.IsNil)
		c.Assert(result.CDNURL, qt.Equals, "https://cdn.example.com/y.png")
		c.Assert(result.ImageID, qt.Equals, "img-456")
	})

	c.Run("presign response missing fields", func(c *qt.C) {
		stub := newPipelineStub()
		client := stub.start(c)
		stub.presignBody = `{"somethingElse": true}`

		op := client.NewUpload()
		result, err := op.Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(result, qt.IsNil)
		c.Assert(err, qt.ErrorMatches, "Invalid response: missing presignedUrl or cdnUrl")
		c.Assert(op.Status(), qt.Equals, StatusFailed)
	})

	c.Run("upload rejected by storage", func(c *qt.C) {
		stub := newPipelineStub()
		client := stub.start(c)
		stub.putStatus = http.StatusForbidden

		op := client.NewUpload()
		_, err := op.Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(err, qt.ErrorMatches, `Upload failed \(403\): Forbidden`)
		c.Assert(op.Status(), qt.Equals, StatusFailed)
	})

	c.Run("register failure prefers the server message", func(c *qt.C) {
		stub := newPipelineStub()
		client := stub.start(c)
		stub.registerStatus = http.StatusBadRequest
		stub.registerBody = `{"error": "bad url"}`

		op := client.NewUpload()
		result, err := op.Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(result, qt.IsNil)
		c.Assert(err, qt.ErrorMatches, "bad url")

		var stepErr *StepError
		c.Assert(errors.As(err, &stepErr), qt.IsTrue)
		c.Assert(stepErr.Step, qt.Equals, StatusRegistering)
		c.Assert(op.Status(), qt.Equals, StatusFailed)
	})

	c.Run("register failure without a message", func(c *qt.C) {
		stub := newPipelineStub()
		client := stub.start(c)
		stub.registerStatus = http.StatusInternalServerError
		stub.registerBody = ""

		_, err := client.NewUpload().Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(err, qt.ErrorMatches, `Register failed \(500\)`)
	})

	c.Run("captions failure without a message", func(c *qt.C) {
		stub := newPipelineStub()
		client := stub.start(c)
		stub.captionsStatus = http.StatusServiceUnavailable
		stub.captionsBody = ""

		_, err := client.NewUpload().Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(err, qt.ErrorMatches, `Generate captions failed \(503\)`)
	})

	c.Run("an operation runs only once", func(c *qt.C) {
		stub := newPipelineStub()
		client := stub.start(c)

		op := client.NewUpload()
		_, err := op.Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(err, qt.IsNil)

		_, err = op.Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(err, qt.Equals, ErrUploadInFlight)
	})

	c.Run("a failed operation stays failed", func(c *qt.C) {
		stub := newPipelineStub()
		client := stub.start(c)
		stub.registerStatus = http.StatusBadRequest

		op := client.NewUpload()
		_, err := op.Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(err, qt.IsNotNil)

		_, err = op.Run(context.Background(), "tok", "image/png", strings.NewReader("x"))
		c.Assert(err, qt.Equals, ErrUploadInFlight)
		c.Assert(op.Status(), qt.Equals, StatusFailed)
	})
}

func TestNormalizeCaptions(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		name string
		body string
		want []string
	}{
		{"bare array of strings", `["a", "b"]`, []string{"a", "b"}},
		{"wrapped under captions", `{"captions": ["a"]}`, []string{"a"}},
		{"wrapped under data", `{"data": ["a"]}`, []string{"a"}},
		{"objects with text", `[{"text": "a"}, {"caption": "b"}, {"content": "c"}]`, []string{"a", "b", "c"}},
		{"non-string elements are coerced", `[42, true]`, []string{"42", "true"}},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			got, err := normalizeCaptions(json.RawMessage(tc.body))
			c.Assert(err, qt.IsNil)
			c.Assert(got, qt.DeepEquals, tc.want)
		})
	}

	c.Run("anything else is invalid", func(c *qt.C) {
		for _, body := range []string{`42`, `"nope"`, `{"other": []}`, `{`} {
			_, err := normalizeCaptions(json.RawMessage(body))
			c.Assert(err, qt.ErrorMatches, "Invalid response: expected array of captions", qt.Commentf("body: %s", body))
		}
	})
}

func TestAccepts(t *testing.T) {
	c := qt.New(t)

	for _, contentType := range []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif", "image/heic"} {
		c.Assert(Accepts(contentType), qt.IsTrue, qt.Commentf("%s", contentType))
	}

	for _, contentType := range []string{"", "image/tiff", "application/pdf", "text/html"} {
		c.Assert(Accepts(contentType), qt.IsFalse, qt.Commentf("%s", contentType))
	}
}
