// Package fieldsync implements the offline-first synchronization core of a
// field-service client: a durable local mutation queue, optimistic writes,
// and a sync engine that replays queued writes when connectivity returns.
//
// Usage:
//
//	store, _ := fieldsync.OpenStore(dataDir)
//	session := fieldsync.NewMemorySession(access, refresh)
//	client := fieldsync.NewClient("https://api.example.com", session)
//	oracle := fieldsync.NewManualOracle(true)
//	manager := fieldsync.NewManager(store, client, oracle)
//	engine := fieldsync.NewEngine(store, client, oracle)
//	engine.Start()
//	defer engine.Stop()
//
//	result, _ := manager.Mutate(ctx, "POST", "/jobs", body, fieldsync.WriteOptions{
//		ResourceType:   fieldsync.ResourceJob,
//		Action:         fieldsync.ActionCreate,
//		OptimisticData: optimistic,
//	})
package fieldsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds a single gateway request.
	DefaultTimeout = 30 * time.Second

	// RefreshEndpoint is the credential refresh path. A 401 from this
	// endpoint is final: the gateway never refreshes recursively.
	RefreshEndpoint = "/auth/refresh"
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP gateway: it issues one logical authenticated API call
// per invocation, transparently handling access-credential expiry exactly
// once, and distinguishes network failures from application failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    Session
	log        *logrus.Logger
	refresh    singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the gateway's logger.
func WithLogger(log *logrus.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a gateway against the given API root, authenticating
// with the injected session.
func NewClient(baseURL string, session Session, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		session:    session,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ============================================================================
// Endpoint normalization
// ============================================================================

// NormalizeEndpoint returns the endpoint relative to the API root. Records
// persisted by legacy clients may carry a full absolute URL; the prefix is
// stripped so replay follows the current base-URL configuration.
//
// Legacy API roots were host-only, so only the scheme and host are dropped.
// A record written against a root that carried a path prefix would keep that
// prefix and double it at replay; no deployed root ever had one.
func NormalizeEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		if u, err := url.Parse(endpoint); err == nil {
			endpoint = u.Path
			if u.RawQuery != "" {
				endpoint += "?" + u.RawQuery
			}
		}
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return endpoint
}

// ============================================================================
// Send
// ============================================================================

type sendOptions struct {
	skipAuth bool
}

// SendOption configures a single Send call.
type SendOption func(*sendOptions)

// SkipAuth sends the request without a bearer credential. Requests sent this
// way never trigger a refresh.
func SkipAuth() SendOption {
	return func(o *sendOptions) { o.skipAuth = true }
}

// Send issues one authenticated request. On a 401 it attempts a single
// credential refresh and retries the original request once; a 401 surviving
// that clears the session and returns ErrUnauthorized. Any other non-2xx
// response becomes an *APIError; transport failures become *NetworkError.
// Empty bodies (204 or zero content length) return nil without a decode
// attempt.
func (c *Client) Send(ctx context.Context, method, endpoint string, body any, opts ...SendOption) (json.RawMessage, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return c.authRetry(ctx, endpoint, o.skipAuth, func() (json.RawMessage, error) {
		return c.do(ctx, method, endpoint, body, o.skipAuth)
	})
}

// SendMultipart uploads a single binary part as multipart/form-data under
// the given field name, with the same auth and error semantics as Send.
func (c *Client) SendMultipart(ctx context.Context, endpoint, field, filename string, blob []byte, extra map[string]string) (json.RawMessage, error) {
	return c.authRetry(ctx, endpoint, false, func() (json.RawMessage, error) {
		return c.doMultipart(ctx, endpoint, field, filename, blob, extra)
	})
}

// authRetry wraps one raw attempt with the 401-refresh-retry policy.
func (c *Client) authRetry(ctx context.Context, endpoint string, skipAuth bool, attempt func() (json.RawMessage, error)) (json.RawMessage, error) {
	data, err := attempt()
	if err == nil {
		return data, nil
	}

	var ae *APIError
	if !errors.As(err, &ae) || ae.Status != http.StatusUnauthorized {
		return nil, err
	}

	// 401 on the refresh endpoint itself is final. Never loop.
	if NormalizeEndpoint(endpoint) == RefreshEndpoint {
		c.session.Clear()
		return nil, ErrUnauthorized
	}

	// Unauthenticated requests carry no credential to refresh.
	if skipAuth {
		return nil, err
	}

	if rerr := c.refreshCredentials(ctx); rerr != nil {
		// A transport failure during refresh says nothing about the
		// credential; keep it and let the caller defer the write.
		if IsNetworkError(rerr) {
			return nil, rerr
		}
		c.session.Clear()
		return nil, ErrUnauthorized
	}

	data, err = attempt()
	if err == nil {
		return data, nil
	}
	if errors.As(err, &ae) && ae.Status == http.StatusUnauthorized {
		c.session.Clear()
		return nil, ErrUnauthorized
	}
	return nil, err
}

// ============================================================================
// Raw attempts
// ============================================================================

func (c *Client) do(ctx context.Context, method, endpoint string, body any, skipAuth bool) (json.RawMessage, error) {
	var bodyReader io.Reader
	if body != nil {
		var b []byte
		// A raw message replays byte-for-byte; anything else is marshaled.
		if rm, ok := body.(json.RawMessage); ok {
			b = rm
		} else {
			var err error
			if b, err = json.Marshal(body); err != nil {
				return nil, err
			}
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+NormalizeEndpoint(endpoint), bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !skipAuth {
		if token := c.session.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return c.roundTrip(req)
}

func (c *Client) doMultipart(ctx context.Context, endpoint, field, filename string, blob []byte, extra map[string]string) (json.RawMessage, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range extra {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(blob); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+NormalizeEndpoint(endpoint), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token := c.session.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.roundTrip(req)
}

// roundTrip executes the request and folds the response into the error
// taxonomy. A transport failure (no response received) is a *NetworkError;
// a received non-2xx response is an *APIError.
func (c *Client) roundTrip(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if resp.StatusCode == http.StatusNoContent || len(data) == 0 {
			return nil, nil
		}
		return json.RawMessage(data), nil
	}

	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var serverErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(data) > 0 && json.Unmarshal(data, &serverErr) == nil {
		if serverErr.Message != "" {
			apiErr.Message = serverErr.Message
		} else if serverErr.Error != "" {
			apiErr.Message = serverErr.Error
		}
		apiErr.Code = serverErr.Code
	}
	return nil, apiErr
}

// ============================================================================
// Credential refresh
// ============================================================================

// refreshCredentials performs a single-flight refresh: concurrent triggers
// share one in-flight attempt and observe the same outcome.
func (c *Client) refreshCredentials(ctx context.Context) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		refreshToken := c.session.RefreshToken()
		if refreshToken == "" {
			return nil, ErrUnauthorized
		}

		data, err := c.do(ctx, http.MethodPost, RefreshEndpoint,
			map[string]string{"refreshToken": refreshToken}, true)
		if err != nil {
			return nil, err
		}

		var tokens struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.Unmarshal(data, &tokens); err != nil || tokens.AccessToken == "" {
			return nil, ErrUnauthorized
		}
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = refreshToken
		}
		c.session.SetTokens(tokens.AccessToken, tokens.RefreshToken)
		c.log.Debug("access credential refreshed")
		return nil, nil
	})
	return err
}
