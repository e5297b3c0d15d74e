// Package backend implements the HTTP client for the avatarchat inference
// backend.
//
// The backend exposes four endpoints, all correlated by a session id:
//
//	POST /sessions/create            → {"session_id": "..."}
//	POST /process/image              multipart: image, session_id
//	POST /process/audio              multipart: audio, session_id → {"transcript": "..."}
//	POST /process/text_with_image    multipart: session_id, text, generate_audio, [image] → {"response_text": "..."}
//
// The client treats the backend as an opaque request/response boundary: it
// performs no retries and, by default, no request timeout (a hung call is the
// caller's problem to bound via ctx or [WithTimeout]).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// filePart describes one binary form part of a multipart request.
type filePart struct {
	field    string
	filename string
	data     []byte
}

// StatusError reports a backend response with a non-success HTTP status.
type StatusError struct {
	// Op names the backend operation (e.g., "transcribe").
	Op string

	// Code is the HTTP status code returned.
	Code int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s: server returned HTTP %d", e.Op, e.Code)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying [http.Client]. Primarily used in
// tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets a per-request timeout. The default is no timeout,
// preserving the original wait-indefinitely behaviour; production deployments
// should set one.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithAuthToken attaches a bearer token to every request. The token comes
// from the identity provider upstream; the client only forwards it.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// Client is the avatarchat backend HTTP client. It is safe for concurrent
// use, though the pipeline's single-flight rule means turn requests never
// actually overlap; only the ambient frame channel runs alongside a turn.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a Client for the backend at baseURL (e.g.,
// "http://localhost:8000"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Ping checks backend reachability for the readiness probe. Any HTTP
// response counts as reachable; only transport failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("backend: ping: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: ping: %w", err)
	}
	resp.Body.Close()
	return nil
}

// CreateSession asks the backend for a fresh session id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	data, err := c.post(ctx, "create session", "/sessions/create", nil, nil)
	if err != nil {
		return "", err
	}

	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("backend: create session: parse response: %w", err)
	}
	if result.SessionID == "" {
		return "", errors.New("backend: create session: response carries no session_id")
	}
	return result.SessionID, nil
}

// UploadFrame posts one ambient camera still, tagged with the session id.
// The response body is ignored beyond the status code.
func (c *Client) UploadFrame(ctx context.Context, sessionID string, image []byte) error {
	_, err := c.post(ctx, "upload frame", "/process/image",
		map[string]string{"session_id": sessionID},
		[]filePart{{field: "image", filename: "webcam.jpg", data: image}},
	)
	return err
}

// Transcribe submits a finalized audio artifact for speech-to-text and
// returns the transcript, which may legitimately be empty.
func (c *Client) Transcribe(ctx context.Context, sessionID string, audio []byte) (string, error) {
	data, err := c.post(ctx, "transcribe", "/process/audio",
		map[string]string{"session_id": sessionID},
		[]filePart{{field: "audio", filename: "recording.webm", data: audio}},
	)
	if err != nil {
		return "", err
	}

	var result struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("backend: transcribe: parse response: %w", err)
	}
	return result.Transcript, nil
}

// Converse submits a text turn (with an optional camera still) and returns
// the assistant's reply text. generate_audio is always requested; any audio
// the backend produces plays through the avatar stream, not through this
// client.
func (c *Client) Converse(ctx context.Context, sessionID, text string, image []byte) (string, error) {
	fields := map[string]string{
		"session_id":     sessionID,
		"text":           text,
		"generate_audio": "true",
	}
	var files []filePart
	if len(image) > 0 {
		files = append(files, filePart{field: "image", filename: "webcam.jpg", data: image})
	}

	data, err := c.post(ctx, "converse", "/process/text_with_image", fields, files)
	if err != nil {
		return "", err
	}

	var result struct {
		ResponseText string `json:"response_text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("backend: converse: parse response: %w", err)
	}
	return result.ResponseText, nil
}

// post performs a multipart POST to path and returns the response body.
// A nil fields map with no files sends an empty body instead of multipart.
func (c *Client) post(ctx context.Context, op, path string, fields map[string]string, files []filePart) ([]byte, error) {
	var body bytes.Buffer
	contentType := ""

	if fields != nil || len(files) > 0 {
		mw := multipart.NewWriter(&body)
		for _, f := range files {
			fw, err := mw.CreateFormFile(f.field, f.filename)
			if err != nil {
				return nil, fmt.Errorf("backend: %s: create form file: %w", op, err)
			}
			if _, err := fw.Write(f.data); err != nil {
				return nil, fmt.Errorf("backend: %s: write %s data: %w", op, f.field, err)
			}
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return nil, fmt.Errorf("backend: %s: write %s field: %w", op, k, err)
			}
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("backend: %s: close multipart writer: %w", op, err)
		}
		contentType = mw.FormDataContentType()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: create request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: http request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: read response body: %w", op, err)
	}
	return data, nil
}
