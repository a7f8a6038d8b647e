// Package history is the REST client for persisted conversation state:
// loading a conversation's messages, uploading media blobs and checking
// the chat-unlock key. Auth expiry is surfaced as a distinct sentinel so
// the caller can force re-authentication instead of retrying.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/arcadely/chatd/internal/wire"
)

// ErrAuthExpired reports a 401-equivalent on any REST call. Not locally
// recoverable; the session must return to the authentication entry point.
var ErrAuthExpired = errors.New("history: auth token expired")

// ErrTooLarge reports an explicit server-side size rejection on upload.
var ErrTooLarge = errors.New("history: media too large")

// MediaInfo describes an uploaded blob.
type MediaInfo struct {
	MediaURL string `json:"mediaUrl"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

// Client talks to the REST backend with bearer auth.
type Client struct {
	baseURL string
	token   func() string
	http    *http.Client
}

// NewClient creates a history client. token is called per request so a
// refreshed token is picked up without rebuilding the client.
func NewClient(baseURL string, token func() string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Contact is one chat-capable user known to the backend, with the
// presence snapshot taken at request time.
type Contact struct {
	Username   string `json:"username"`
	Status     string `json:"status,omitempty"`
	LastSeenAt int64  `json:"lastSeenAt,omitempty"`
}

// Contacts lists every user the account can converse with.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out []Contact
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}
	return out, nil
}

// Conversation fetches the persisted messages exchanged with peer,
// sorted by createdAt ascending.
func (c *Client) Conversation(ctx context.Context, peer string) ([]wire.ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s", c.baseURL, url.PathEscape(peer))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var msgs []wire.ChatMessage
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return msgs, nil
}

// UploadMedia posts a media blob and returns its durable URL. A server
// size rejection maps to ErrTooLarge; the caller performs no retry.
func (c *Client) UploadMedia(ctx context.Context, fileName, mimeType string, r io.Reader) (*MediaInfo, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Mime-Type", mimeType)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var info MediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &info, nil
}

// VerifyChatKey checks the secret key that unlocks the chat feature.
func (c *Client) VerifyChatKey(ctx context.Context, key string) (bool, error) {
	body, _ := json.Marshal(map[string]string{"key": key})
	endpoint := c.baseURL + "/chat-key/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode key check: %w", err)
	}
	return out.Valid, nil
}

// do attaches bearer auth, executes the request and maps error statuses.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		_ = resp.Body.Close()
		return nil, ErrAuthExpired
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		_ = resp.Body.Close()
		return nil, ErrTooLarge
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("history: unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}
