package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...ClientOption) (*Client, *MemorySession) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	session := NewMemorySession("access-1", "refresh-1")
	opts = append(opts, WithLogger(testLogger()))
	return NewClient(srv.URL, session, opts...), session
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/jobs", "/jobs"},
		{"jobs", "/jobs"},
		{"https://api.example.com/jobs/5", "/jobs/5"},
		{"http://old-host:8080/jobs?active=true", "/jobs?active=true"},
		{"/jobs/5/materials", "/jobs/5/materials"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeEndpoint(c.in), "input %q", c.in)
	}
}

func TestClientSend(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes a 2xx body and sends the bearer credential", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			assert.Equal(t, "/jobs/7", r.URL.Path)
			fmt.Fprint(w, `{"id":"7","title":"Fix pump"}`)
		}))

		data, err := client.Send(ctx, http.MethodGet, "/jobs/7", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"7","title":"Fix pump"}`, string(data))
	})

	t.Run("204 and empty bodies return nil", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/empty" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))

		data, err := client.Send(ctx, http.MethodDelete, "/jobs/7", nil)
		require.NoError(t, err)
		assert.Nil(t, data)

		data, err = client.Send(ctx, http.MethodGet, "/empty", nil)
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("raw message bodies pass through byte-for-byte", func(t *testing.T) {
		payload := `{"b":1,"a":2}`
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, payload, string(body))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusNoContent)
		}))

		_, err := client.Send(ctx, http.MethodPost, "/jobs", json.RawMessage(payload))
		require.NoError(t, err)
	})

	t.Run("non-2xx becomes an APIError with the server message", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"code":"VALIDATION","message":"title is required"}`)
		}))

		_, err := client.Send(ctx, http.MethodPost, "/jobs", json.RawMessage(`{}`))
		var ae *APIError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, http.StatusUnprocessableEntity, ae.Status)
		assert.Equal(t, "VALIDATION", ae.Code)
		assert.Equal(t, "title is required", ae.Message)
		assert.False(t, IsNetworkError(err))
	})

	t.Run("non-JSON error body falls back to the status text", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "<html>upstream broke</html>")
		}))

		_, err := client.Send(ctx, http.MethodGet, "/jobs", nil)
		var ae *APIError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, http.StatusBadGateway, ae.Status)
		assert.Equal(t, http.StatusText(http.StatusBadGateway), ae.Message)
	})

	t.Run("unreachable host is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		client := NewClient(url, NewMemorySession("a", "r"), WithLogger(testLogger()))
		_, err := client.Send(ctx, http.MethodGet, "/jobs", nil)
		require.Error(t, err)
		assert.True(t, IsNetworkError(err))
	})
}

func TestClientRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("401 refreshes once and retries the original request", func(t *testing.T) {
		var refreshCalls int32
		client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshEndpoint {
				atomic.AddInt32(&refreshCalls, 1)
				var body struct {
					RefreshToken string `json:"refreshToken"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "refresh-1", body.RefreshToken)
				fmt.Fprint(w, `{"accessToken":"access-2","refreshToken":"refresh-2"}`)
				return
			}
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"ok":true}`)
		}))

		data, err := client.Send(ctx, http.MethodGet, "/jobs", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(data))
		assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
		assert.Equal(t, "access-2", session.AccessToken())
		assert.Equal(t, "refresh-2", session.RefreshToken())
	})

	t.Run("refresh keeps the old refresh token when none is returned", func(t *testing.T) {
		client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshEndpoint {
				fmt.Fprint(w, `{"accessToken":"access-2"}`)
				return
			}
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))

		_, err := client.Send(ctx, http.MethodGet, "/jobs", nil)
		require.NoError(t, err)
		assert.Equal(t, "refresh-1", session.RefreshToken())
	})

	t.Run("refresh rejection clears the session", func(t *testing.T) {
		client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.Send(ctx, http.MethodGet, "/jobs", nil)
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Empty(t, session.AccessToken())
		assert.Empty(t, session.RefreshToken())
	})

	t.Run("second 401 after a successful refresh clears the session", func(t *testing.T) {
		client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshEndpoint {
				fmt.Fprint(w, `{"accessToken":"access-2","refreshToken":"refresh-2"}`)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.Send(ctx, http.MethodGet, "/jobs", nil)
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Empty(t, session.AccessToken())
	})

	t.Run("direct 401 from the refresh endpoint never loops", func(t *testing.T) {
		var calls int32
		client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.Send(ctx, http.MethodPost, RefreshEndpoint,
			map[string]string{"refreshToken": "refresh-1"}, SkipAuth())
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Empty(t, session.AccessToken())
	})

	t.Run("network failure during refresh keeps the session", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		client, session := newTestClient(t, handler,
			WithHTTPClient(&http.Client{
				Timeout:   time.Second,
				Transport: &refreshBlackholeTransport{},
			}))

		_, err := client.Send(ctx, http.MethodGet, "/jobs", nil)
		require.Error(t, err)
		assert.True(t, IsNetworkError(err))
		assert.NotErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, "access-1", session.AccessToken())
		assert.Equal(t, "refresh-1", session.RefreshToken())
	})

	t.Run("skipAuth 401 propagates without a refresh attempt", func(t *testing.T) {
		var refreshCalls int32
		client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshEndpoint {
				atomic.AddInt32(&refreshCalls, 1)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"bad credentials"}`)
		}))

		_, err := client.Send(ctx, http.MethodPost, "/auth/login",
			map[string]string{"user": "x"}, SkipAuth())
		var ae *APIError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, http.StatusUnauthorized, ae.Status)
		assert.Equal(t, int32(0), atomic.LoadInt32(&refreshCalls))
		assert.Equal(t, "access-1", session.AccessToken())
	})

	t.Run("concurrent 401s share one refresh", func(t *testing.T) {
		var refreshCalls int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == RefreshEndpoint {
				atomic.AddInt32(&refreshCalls, 1)
				time.Sleep(150 * time.Millisecond)
				fmt.Fprint(w, `{"accessToken":"access-2","refreshToken":"refresh-2"}`)
				return
			}
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))

		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = client.Send(ctx, http.MethodGet, "/jobs", nil)
			}(i)
		}
		close(start)
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	})
}

// refreshBlackholeTransport fails refresh requests at the transport level and
// returns 401 for everything else without touching the wire.
type refreshBlackholeTransport struct{}

func (refreshBlackholeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, RefreshEndpoint) {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &http.Response{
		StatusCode: http.StatusUnauthorized,
		Body:       io.NopCloser(strings.NewReader(`{}`)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, IsNetworkError(nil))
	assert.False(t, IsNetworkError(&APIError{Status: 500, Message: "boom"}))
	assert.False(t, IsNetworkError(&APIError{Status: 502, Message: "dial tcp 10.0.0.5:443: connection refused"}),
		"a received response is an application failure even when its message quotes a transport string")
	assert.False(t, IsNetworkError(&APIError{Status: 504, Message: "upstream i/o timeout"}))
	assert.True(t, IsNetworkError(&NetworkError{Err: errors.New("x")}))
	assert.True(t, IsNetworkError(errors.New("Failed to fetch")))
	assert.True(t, IsNetworkError(errors.New("Load failed")))
	assert.True(t, IsNetworkError(errors.New("NetworkError when attempting to fetch resource")))
	assert.True(t, IsNetworkError(errors.New("dial tcp 10.0.0.1:443: connection refused")))
	assert.False(t, IsNetworkError(errors.New("title is required")))
}
