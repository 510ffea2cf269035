// Package pipeline is a client for the remote captioning service. An
// upload runs four dependent HTTP calls in strict sequence: request a
// one-time write URL, put the image bytes there, register the public URL
// with the service, then ask it to generate captions. The first failure
// aborts the whole run; nothing is retried or rolled back.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	presignPath  = "/pipeline/generate-presigned-url"
	registerPath = "/pipeline/upload-image-from-url"
	captionsPath = "/pipeline/generate-captions"
)

// fallbackErrorMessage covers anything unexpected, a network failure for
// instance, escaping the step-level handling.
const fallbackErrorMessage = "Failed to get presigned URL, upload, register, or generate captions"

// acceptedTypes is the fixed list of MIME types an upload may declare.
var acceptedTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/heic",
}

// Accepts reports whether contentType is an accepted image type. Callers
// are expected to check it before starting an upload; Run itself never
// sees rejected files.
func Accepts(contentType string) bool {
	for _, t := range acceptedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// AcceptedTypes returns the accepted MIME types, for building the file
// picker accept attribute.
func AcceptedTypes() []string {
	types := make([]string, len(acceptedTypes))
	copy(types, acceptedTypes)
	return types
}

// Status is the state of an upload operation. An operation walks the
// states in order and stops at Done, or at Failed from any of them.
type Status int

const (
	StatusIdle Status = iota
	StatusRequestingURL
	StatusUploadingBytes
	StatusRegistering
	StatusGeneratingCaptions
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequestingURL:
		return "requesting-url"
	case StatusUploadingBytes:
		return "uploading-bytes"
	case StatusRegistering:
		return "registering"
	case StatusGeneratingCaptions:
		return "generating-captions"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrUploadInFlight is returned by Run when the operation already ran.
// A failed operation is terminal; retrying means starting a new one.
var ErrUploadInFlight = errors.New("upload already started")

// A StepError is a failure of one pipeline step. Its message prefers
// whatever the server said over a status-derived one.
type StepError struct {
	Step    Status
	Message string
}

func (e *StepError) Error() string {
	return e.Message
}

// A Result is a successful run: where the image ended up and the captions
// the service produced for it.
type Result struct {
	PresignedURL string
	CDNURL       string
	ImageID      string
	Captions     []string
}

// A Client issues upload operations against one captioning service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func New(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// NewUpload returns a fresh single-use operation.
func (c *Client) NewUpload() *Upload {
	return &Upload{client: c, status: StatusIdle}
}

// An Upload is one run of the four-step sequence. It starts Idle, can be
// run exactly once, and ends Done or Failed.
type Upload struct {
	client *Client

	mu     sync.Mutex
	status Status
}

func (u *Upload) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *Upload) begin() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.status != StatusIdle {
		return ErrUploadInFlight
	}
	u.status = StatusRequestingURL
	return nil
}

func (u *Upload) advance(s Status) {
	u.mu.Lock()
	u.status = s
	u.mu.Unlock()
}

// Run performs the sequence with the given bearer token, declared content
// type and image bytes. On the first failing step it stops and returns an
// error whose message is fit for inline display; previously completed
// steps are not undone, an uploaded but unregistered object simply stays
// in remote storage.
func (u *Upload) Run(ctx context.Context, token string, contentType string, body io.Reader) (result *Result, err error) {
	if err := u.begin(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			u.client.logger.Error().Interface("panic", r).Msg("Upload pipeline panicked")
			err = &StepError{Step: u.Status(), Message: fallbackErrorMessage}
			result = nil
		}
		if err != nil {
			u.advance(StatusFailed)
		}
	}()

	result = &Result{}

	// Step 1: get a one-time write URL and the public read URL.
	presign, err := u.client.postJSON(ctx, presignPath, token, map[string]interface{}{
		"contentType": contentType,
	}, StatusRequestingURL)
	if err != nil {
		return nil, err
	}
	presignedURL, okURL := firstString(presign, "presignedUrl", "presigned_url")
	cdnURL, okCDN := firstString(presign, "cdnUrl", "cdn_url")
	if !okURL || !okCDN {
		return nil, &StepError{Step: StatusRequestingURL, Message: "Invalid response: missing presignedUrl or cdnUrl"}
	}

	// Step 2: put the raw bytes on the write URL.
	u.advance(StatusUploadingBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, body)
	if err != nil {
		return nil, u.wrap(StatusUploadingBytes, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.http.Do(req)
	if err != nil {
		return nil, u.wrap(StatusUploadingBytes, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("Upload failed (%d): %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		return nil, &StepError{Step: StatusUploadingBytes, Message: msg}
	}

	result.PresignedURL = presignedURL
	result.CDNURL = cdnURL

	// Step 3: tell the service the public URL now holds a real image.
	u.advance(StatusRegistering)
	register, err := u.client.postJSON(ctx, registerPath, token, map[string]interface{}{
		"imageUrl":    cdnURL,
		"isCommonUse": false,
	}, StatusRegistering)
	if err != nil {
		return nil, err
	}
	imageID, ok := firstString(register, "imageId", "image_id")
	if !ok {
		return nil, &StepError{Step: StatusRegistering, Message: "Invalid response: missing imageId"}
	}
	result.ImageID = imageID

	// Step 4: generate captions for the registered image.
	u.advance(StatusGeneratingCaptions)
	raw, err := u.client.postRaw(ctx, captionsPath, token, map[string]interface{}{
		"imageId": imageID,
	}, StatusGeneratingCaptions)
	if err != nil {
		return nil, err
	}
	captions, err := normalizeCaptions(raw)
	if err != nil {
		return nil, err
	}
	result.Captions = captions

	u.advance(StatusDone)
	return result, nil
}

// wrap turns a transport-level error into a step error so the caller gets
// a displayable message either way.
func (u *Upload) wrap(step Status, err error) error {
	u.client.logger.Warn().Err(err).Str("step", step.String()).Msg("Pipeline call failed")
	msg := err.Error()
	if msg == "" {
		msg = fallbackErrorMessage
	}
	return &StepError{Step: step, Message: msg}
}

// postRaw posts a JSON body and returns the raw response payload, turning
// non-success statuses into a step error that prefers the server message.
func (c *Client) postRaw(ctx context.Context, path string, token string, payload map[string]interface{}, step Status) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, &StepError{Step: step, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, &StepError{Step: step, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("step", step.String()).Msg("Pipeline call failed")
		return nil, &StepError{Step: step, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StepError{Step: step, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StepError{Step: step, Message: apiErrorMessage(body, resp.StatusCode, step)}
	}

	return json.RawMessage(body), nil
}

// postJSON is postRaw for endpoints whose success payload is a JSON object.
func (c *Client) postJSON(ctx context.Context, path string, token string, payload map[string]interface{}, step Status) (map[string]interface{}, error) {
	raw, err := c.postRaw(ctx, path, token, payload, step)
	if err != nil {
		return nil, err
	}

	// A malformed success body counts as missing fields, the caller
	// reports which ones.
	fields := map[string]interface{}{}
	json.Unmarshal(raw, &fields)
	return fields, nil
}

// apiErrorMessage prefers the server-supplied message or error field and
// falls back to a status-derived message for the failing step.
func apiErrorMessage(body []byte, statusCode int, step Status) string {
	fields := map[string]interface{}{}
	json.Unmarshal(body, &fields)

	if msg, ok := firstString(fields, "message", "error"); ok {
		return msg
	}

	switch step {
	case StatusRegistering:
		return fmt.Sprintf("Register failed (%d)", statusCode)
	case StatusGeneratingCaptions:
		return fmt.Sprintf("Generate captions failed (%d)", statusCode)
	default:
		return fmt.Sprintf("Request failed (%d)", statusCode)
	}
}

// normalizeCaptions accepts either a bare array or an object wrapping it
// under captions or data, and flattens every element to a string.
func normalizeCaptions(raw json.RawMessage) ([]string, error) {
	invalid := &StepError{Step: StatusGeneratingCaptions, Message: "Invalid response: expected array of captions"}

	var list []interface{}
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, invalid
		}

		inner, ok := wrapper["captions"]
		if !ok {
			inner, ok = wrapper["data"]
		}
		if !ok {
			return nil, invalid
		}
		if err := json.Unmarshal(inner, &list); err != nil {
			return nil, invalid
		}
	}

	captions := make([]string, 0, len(list))
	for _, el := range list {
		switch v := el.(type) {
		case string:
			captions = append(captions, v)
		case map[string]interface{}:
			if s, ok := firstString(v, "text", "caption", "content"); ok {
				captions = append(captions, s)
			} else {
				captions = append(captions, fmt.Sprintf("%v", el))
			}
		default:
			captions = append(captions, fmt.Sprintf("%v", el))
		}
	}

	return captions, nil
}

// firstString resolves a field from several accepted spellings, first
// present string wins.
func firstString(fields map[string]interface{}, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
