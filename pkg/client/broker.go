// Package client is the editor-side SDK for the runtime broker. It wraps the
// broker HTTP API and provides the session lifecycle driver, the debounced
// write coalescer, the directory listing cache, the remote files mirror and
// the preview state projector used by editor frontends.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/session"
)

const brokerRequestTimeout = 30 * time.Second

// Broker is an HTTP client for the runtime broker API. It is stateless apart
// from configuration and safe for concurrent use.
type Broker struct {
	baseURL string
	http    *http.Client
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerHTTPClient overrides the HTTP client, for tests.
func WithBrokerHTTPClient(c *http.Client) BrokerOption {
	return func(b *Broker) {
		b.http = c
	}
}

// NewBroker creates a broker client for the given base URL.
func NewBroker(baseURL string, opts ...BrokerOption) *Broker {
	b := &Broker{
		baseURL: baseURL,
		http:    &http.Client{Timeout: brokerRequestTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SessionPayload is the session envelope returned by create.
type SessionPayload struct {
	RuntimeToken     string                   `json:"runtimeToken"`
	Session          *session.Session         `json:"session"`
	DeploymentStatus session.DeploymentStatus `json:"deploymentStatus"`
}

// SessionSnapshot is the envelope returned by get.
type SessionSnapshot struct {
	SessionStatus    session.Status           `json:"sessionStatus"`
	PreviewURL       string                   `json:"previewUrl"`
	DeploymentStatus session.DeploymentStatus `json:"deploymentStatus"`
	Session          *session.Session         `json:"session"`
}

// HeartbeatPayload is the envelope returned by heartbeat.
type HeartbeatPayload struct {
	Status       session.Status `json:"status"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	RuntimeToken string         `json:"runtimeToken"`
}

// FileEntry is a directory listing entry as returned by the broker.
type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	VirtualPath string `json:"virtualPath"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	ModifiedAt  string `json:"modifiedAt"`
}

// IsDir reports whether the entry is a directory.
func (e FileEntry) IsDir() bool {
	return e.Type == "directory"
}

// FileContent is a file read result.
type FileContent struct {
	FileEntry
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	IsBinary bool   `json:"isBinary"`
}

// CreateSession creates or reuses the session for the chat.
func (b *Broker) CreateSession(ctx context.Context, chatID, templateID string) (*SessionPayload, error) {
	var out SessionPayload
	err := b.do(ctx, http.MethodPost, "/api/runtime/session", "", nil,
		map[string]any{"chatId": chatID, "templateId": templateID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches the current session state.
func (b *Broker) GetSession(ctx context.Context, token string) (*SessionSnapshot, error) {
	var out SessionSnapshot
	if err := b.do(ctx, http.MethodGet, "/api/runtime/session", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession tears down the session.
func (b *Broker) DeleteSession(ctx context.Context, token string) error {
	return b.do(ctx, http.MethodDelete, "/api/runtime/session", token, nil, nil, nil)
}

// Heartbeat extends the idle lease and returns the refreshed token.
func (b *Broker) Heartbeat(ctx context.Context, token string) (*HeartbeatPayload, error) {
	var out HeartbeatPayload
	if err := b.do(ctx, http.MethodPost, "/api/runtime/session/heartbeat", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles lists a directory by virtual path.
func (b *Broker) ListFiles(ctx context.Context, token, path string) ([]FileEntry, error) {
	var out struct {
		Entries []FileEntry `json:"entries"`
	}
	q := url.Values{"path": {path}}
	if err := b.do(ctx, http.MethodGet, "/api/runtime/files/list", token, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ReadFile reads a file by virtual path.
func (b *Broker) ReadFile(ctx context.Context, token, path string) (*FileContent, error) {
	var out struct {
		File FileContent `json:"file"`
	}
	q := url.Values{"path": {path}}
	if err := b.do(ctx, http.MethodGet, "/api/runtime/files/read", token, q, nil, &out); err != nil {
		return nil, err
	}
	return &out.File, nil
}

// WriteFile writes a file by virtual path.
func (b *Broker) WriteFile(ctx context.Context, token, path, content, encoding string) error {
	return b.do(ctx, http.MethodPut, "/api/runtime/files/write", token, nil,
		map[string]any{"path": path, "content": content, "encoding": encoding}, nil)
}

// Mkdir creates a directory by virtual path.
func (b *Broker) Mkdir(ctx context.Context, token, path string) error {
	return b.do(ctx, http.MethodPost, "/api/runtime/files/mkdir", token, nil,
		map[string]any{"path": path}, nil)
}

// DeletePath deletes a file or directory by virtual path.
func (b *Broker) DeletePath(ctx context.Context, token, path string, recursive bool) error {
	return b.do(ctx, http.MethodDelete, "/api/runtime/files/delete", token, nil,
		map[string]any{"path": path, "recursive": recursive}, nil)
}

// SearchFiles searches file names under a virtual path.
func (b *Broker) SearchFiles(ctx context.Context, token, query, path string) ([]FileEntry, error) {
	var out struct {
		Entries []FileEntry `json:"entries"`
	}
	q := url.Values{"query": {query}}
	if path != "" {
		q.Set("path", path)
	}
	if err := b.do(ctx, http.MethodGet, "/api/runtime/files/search", token, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Redeploy queues a redeploy of the session's compose.
func (b *Broker) Redeploy(ctx context.Context, token, reason string) error {
	return b.do(ctx, http.MethodPost, "/api/runtime/deploy/redeploy", token, nil,
		map[string]any{"reason": reason}, nil)
}

// do performs one broker request and decodes either the success payload or
// the error envelope.
func (b *Broker) do(ctx context.Context, method, path, token string, query url.Values, body, out any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return rterrors.NewInternal("failed to encode request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return rterrors.NewInternal("failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return rterrors.New(http.StatusBadGateway, rterrors.CodeNetworkError,
			fmt.Sprintf("broker request %s failed", path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return rterrors.New(http.StatusBadGateway, rterrors.CodeNetworkError,
			"failed to read broker response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeErrorEnvelope(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return rterrors.New(http.StatusBadGateway, rterrors.CodeInvalidJSONResponse,
			"broker returned invalid JSON", err)
	}
	return nil
}

func decodeErrorEnvelope(status int, data []byte) error {
	var envelope struct {
		Error   string         `json:"error"`
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error == "" {
		return rterrors.New(status, rterrors.CodeInternal,
			fmt.Sprintf("broker returned status %d", status), nil)
	}
	re := rterrors.New(status, envelope.Code, envelope.Error, nil)
	if envelope.Details != nil {
		re = re.WithDetails(envelope.Details)
	}
	return re
}
