package client

import (
	"bufio"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type seenRequest struct {
	method        string
	path          string
	authorization string
	hasAuth       bool
	body          string
	contentLength int64
	chunked       bool
}

// recordingServer echoes nothing; it records what it received and answers
// with the configured status and body.
func recordingServer(t *testing.T, status int, body string) (*httptest.Server, func() seenRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen seenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = seenRequest{
			method:        r.Method,
			path:          r.URL.RequestURI(),
			authorization: r.Header.Get("Authorization"),
			body:          string(data),
			contentLength: r.ContentLength,
		}
		_, seen.hasAuth = r.Header["Authorization"]
		for _, te := range r.TransferEncoding {
			if te == "chunked" {
				seen.chunked = true
			}
		}
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return seen
	}
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func TestGet_SendsAuthorizationWhenCredentialsGiven(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusOK, "ok")
	host, port := hostPort(t, srv.URL)

	resp, err := New().Get(context.Background(), host, "/item/1", port, "dXNlcjpwYXNz")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "OK", resp.StatusMessage())
	assert.Equal(t, "ok", resp.Body())
	got := seen()
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/item/1", got.path)
	assert.Equal(t, "Basic dXNlcjpwYXNz", got.authorization)
}

func TestGet_NoAuthorizationWithoutCredentials(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusOK, "")
	host, port := hostPort(t, srv.URL)

	resp, err := New().Get(context.Background(), host, "/item/1", port, "")
	require.NoError(t, err)

	assert.Equal(t, "", resp.Body(), "empty body is an empty string")
	assert.False(t, seen().hasAuth)
}

func TestGet_NonSuccessStatusIsAResponse(t *testing.T) {
	tests := []struct {
		status int
		body   string
	}{
		{http.StatusNotFound, "not here"},
		{http.StatusUnauthorized, "who are you"},
		{http.StatusInternalServerError, `{"error":"boom"}`},
		{http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv, _ := recordingServer(t, tt.status, tt.body)
			host, port := hostPort(t, srv.URL)

			resp, err := New().Get(context.Background(), host, "/", port, "")
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode())
			assert.Equal(t, tt.body, resp.Body())
			assert.Equal(t, http.StatusText(tt.status), resp.StatusMessage())
		})
	}
}

func TestPost_SendsBodyChunked(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusCreated, "created")
	host, port := hostPort(t, srv.URL)

	resp, err := New().Post(context.Background(), host, "/items", port, "dXNlcjpwYXNz", `{"name":"x"}`)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode())
	got := seen()
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, `{"name":"x"}`, got.body)
	assert.Equal(t, int64(-1), got.contentLength)
	assert.True(t, got.chunked)
	assert.Equal(t, "Basic dXNlcjpwYXNz", got.authorization)
}

func TestPost_EmptyBodyIsStillSent(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusOK, "")
	host, port := hostPort(t, srv.URL)

	_, err := New().Post(context.Background(), host, "/items", port, "", "")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, seen().method)
	assert.Equal(t, "", seen().body)
	assert.False(t, seen().hasAuth)
}

func TestBodyRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, r.Body)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)
	c := New()

	rapid.Check(t, func(t *rapid.T) {
		body := rapid.OneOf(
			rapid.Just(""),
			rapid.StringMatching(`[ -~]{1,200}`),
			rapid.String(),
		).Draw(t, "body")

		resp, err := c.Post(context.Background(), host, "/echo", port, "", body)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		if resp.Body() != body {
			t.Fatalf("body changed in transit: sent %q, got %q", body, resp.Body())
		}
	})
}

func TestDo_ArbitraryMethods(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusAccepted, "")
	host, port := hostPort(t, srv.URL)
	c := New()

	req, err := NewRequestWithBody(SchemeHTTP, "put", "items/2?x=1", host, port, "", "v")
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode())
	assert.Equal(t, http.MethodPut, seen().method)
	assert.Equal(t, "/items/2?x=1", seen().path)

	req, err = NewRequest(SchemeHTTP, http.MethodDelete, "/items/2", host, port, "")
	require.NoError(t, err)
	_, err = c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, seen().method)
}

func TestResponse_HeadersAndStatusLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	resp, err := New().Get(context.Background(), host, "/", port, "")
	require.NoError(t, err)

	assert.Equal(t, "a", resp.Header("x-multi"))
	assert.Equal(t, []string{"a", "b"}, resp.Headers().Values("X-Multi"))
	assert.Equal(t, "418 I'm a teapot", resp.String())

	h := resp.Headers()
	h.Set("X-Multi", "changed")
	assert.Equal(t, "a", resp.Header("X-Multi"), "Headers returns a copy")
}

func TestResponse_CustomReasonPhrase(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _ = http.ReadRequest(bufio.NewReader(conn))
		_, _ = io.WriteString(conn, "HTTP/1.1 200 All Good\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi")
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	resp, err := New().Get(context.Background(), "127.0.0.1", "/", port, "")
	require.NoError(t, err)
	assert.Equal(t, "All Good", resp.StatusMessage())
	assert.Equal(t, "hi", resp.Body())
}

func TestDo_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	resp, err := New().Get(context.Background(), "127.0.0.1", "/", port, "")
	require.Error(t, err)
	assert.Nil(t, resp)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "connect", terr.Op)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d/", port), terr.URL)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
}

func TestDo_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	host, port := hostPort(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New().Get(ctx, host, "/slow", port, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	host, port := hostPort(t, srv.URL)

	_, err := New(WithTimeout(50*time.Millisecond)).Get(context.Background(), host, "/slow", port, "")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
}

func TestTLS_StubClientAcceptsSelfSigned(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "secure")
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	req, err := NewRequest(SchemeHTTPS, http.MethodGet, "/", host, port, "")
	require.NoError(t, err)

	resp, err := NewStubClient().Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "secure", resp.Body())
}

func TestTLS_DefaultClientVerifies(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	req, err := NewRequest(SchemeHTTPS, http.MethodGet, "/", host, port, "")
	require.NoError(t, err)

	_, err = New().Do(context.Background(), req)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	var unknownAuthority x509.UnknownAuthorityError
	assert.ErrorAs(t, err, &unknownAuthority)
}

func TestTLS_WithTLSConfigOverridesStubPolicy(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	req, err := NewRequest(SchemeHTTPS, http.MethodGet, "/", host, port, "")
	require.NoError(t, err)

	trusted := srv.Client().Transport.(*http.Transport).TLSClientConfig
	resp, err := New(WithTLSConfig(trusted)).Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
}

func TestWithDefaults_TargetLocalhostStubsPort(t *testing.T) {
	ln, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(DefaultStubsPort)))
	if err != nil {
		t.Skipf("port %d unavailable: %v", DefaultStubsPort, err)
	}
	var mu sync.Mutex
	var methods []string
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method+" "+r.Host+r.URL.Path)
		mu.Unlock()
	})}
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Close() }()

	c := New()
	_, err = c.GetWithDefaults(context.Background(), "/g", "")
	require.NoError(t, err)
	_, err = c.PostWithDefaults(context.Background(), "/p", "body", "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"GET localhost:8882/g", "POST localhost:8882/p"}, methods)
}

func TestGetOverTLS_TargetsTLSPort(t *testing.T) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(DefaultTLSPort)))
	if err != nil {
		t.Skipf("port %d unavailable: %v", DefaultTLSPort, err)
	}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	_ = srv.Listener.Close()
	srv.Listener = ln
	srv.StartTLS()
	defer srv.Close()

	resp, err := NewStubClient().GetOverTLS(context.Background(), "127.0.0.1", "/tls", "")
	require.NoError(t, err)
	assert.Equal(t, "/tls", resp.Body())
}

func TestNewRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		build   func() (*Request, error)
		wantErr bool
	}{
		{"get", func() (*Request, error) { return NewRequest(SchemeHTTP, "GET", "/", "h", 80, "") }, false},
		{"get with body", func() (*Request, error) { return NewRequestWithBody(SchemeHTTP, "GET", "/", "h", 80, "", "x") }, true},
		{"post without body", func() (*Request, error) { return NewRequest(SchemeHTTP, "POST", "/", "h", 80, "") }, true},
		{"bad scheme", func() (*Request, error) { return NewRequest("ftp", "GET", "/", "h", 80, "") }, true},
		{"no host", func() (*Request, error) { return NewRequest(SchemeHTTP, "GET", "/", "", 80, "") }, true},
		{"no method", func() (*Request, error) { return NewRequest(SchemeHTTP, "", "/", "h", 80, "") }, true},
		{"port zero", func() (*Request, error) { return NewRequest(SchemeHTTP, "GET", "/", "h", 0, "") }, true},
		{"port too large", func() (*Request, error) { return NewRequest(SchemeHTTPS, "GET", "/", "h", 65536, "") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.build()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				assert.Nil(t, req)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRequest_Accessors(t *testing.T) {
	req, err := NewRequestWithBody(SchemeHTTPS, "post", "a/b?c=d", "example.com", 7443, "Y3JlZHM=", "")
	require.NoError(t, err)

	assert.Equal(t, SchemeHTTPS, req.Scheme())
	assert.Equal(t, http.MethodPost, req.Method())
	assert.Equal(t, "example.com", req.Host())
	assert.Equal(t, 7443, req.Port())
	assert.Equal(t, "/a/b?c=d", req.URI())
	assert.Equal(t, "https://example.com:7443/a/b?c=d", req.URL())

	creds, ok := req.Credentials()
	assert.True(t, ok)
	assert.Equal(t, "Y3JlZHM=", creds)

	body, ok := req.Body()
	assert.True(t, ok, "empty body is still a body")
	assert.Equal(t, "", body)

	get, err := NewRequest(SchemeHTTP, "GET", "/", "h", 1, "")
	require.NoError(t, err)
	_, ok = get.Credentials()
	assert.False(t, ok)
	_, ok = get.Body()
	assert.False(t, ok)
}

func TestEncodeCredentials(t *testing.T) {
	assert.Equal(t, "dXNlcjpwYXNz", EncodeCredentials("user", "pass"))
	assert.Equal(t, "Basic dXNlcjpwYXNz", BasicAuthorization(EncodeCredentials("user", "pass")))
}

func TestTransportError(t *testing.T) {
	inner := errors.New("boom")
	err := &TransportError{Op: "read", URL: "http://h:1/", Err: inner}
	assert.Equal(t, "read http://h:1/: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}
