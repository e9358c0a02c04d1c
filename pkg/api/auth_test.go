package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawboard/clawboard/pkg/config"
)

func authContext(t *testing.T, remoteAddr string, mutate func(*http.Request)) *echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/topics", nil)
	req.RemoteAddr = remoteAddr
	if mutate != nil {
		mutate(req)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	return httpErr.Code
}

func TestAuthorizeLoopbackReadWithoutToken(t *testing.T) {
	ts := newTestServer(func(c *config.Config) { c.Server.Token = "secret" })
	c := authContext(t, "127.0.0.1:52312", nil)
	assert.NoError(t, ts.server.authorize(c, false, false))
}

func TestAuthorizeRemoteReadRequiresToken(t *testing.T) {
	ts := newTestServer(func(c *config.Config) { c.Server.Token = "secret" })
	c := authContext(t, "203.0.113.9:1000", nil)
	assert.Equal(t, http.StatusUnauthorized, httpCode(t, ts.server.authorize(c, false, false)))
}

func TestAuthorizeBearerToken(t *testing.T) {
	ts := newTestServer(func(c *config.Config) { c.Server.Token = "secret" })
	c := authContext(t, "203.0.113.9:1000", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret")
	})
	assert.NoError(t, ts.server.authorize(c, true, false))
}

func TestAuthorizeWrongTokenRejected(t *testing.T) {
	ts := newTestServer(func(c *config.Config) { c.Server.Token = "secret" })
	c := authContext(t, "127.0.0.1:1000", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, httpCode(t, ts.server.authorize(c, true, false)))
}

func TestAuthorizeRemoteWriteWithoutConfiguredToken(t *testing.T) {
	ts := newTestServer()
	c := authContext(t, "203.0.113.9:1000", nil)
	assert.Equal(t, http.StatusServiceUnavailable, httpCode(t, ts.server.authorize(c, true, false)))
}

func TestAuthorizeLoopbackWriteRequiresConfiguredToken(t *testing.T) {
	ts := newTestServer(func(c *config.Config) { c.Server.Token = "secret" })
	c := authContext(t, "127.0.0.1:52312", nil)
	assert.Equal(t, http.StatusUnauthorized, httpCode(t, ts.server.authorize(c, true, false)))

	// Presenting the secret restores loopback writes.
	c = authContext(t, "127.0.0.1:52312", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret")
	})
	assert.NoError(t, ts.server.authorize(c, true, false))
}

func TestAuthorizeLoopbackWriteWithoutConfiguredToken(t *testing.T) {
	ts := newTestServer()
	c := authContext(t, "[::1]:1000", nil)
	assert.NoError(t, ts.server.authorize(c, true, false))
}

func TestAuthorizeForwardedHeaderNeverBypasses(t *testing.T) {
	ts := newTestServer(func(c *config.Config) {
		c.Server.Token = "secret"
		c.Server.TrustProxy = true
	})
	c := authContext(t, "203.0.113.9:1000", func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "127.0.0.1")
	})
	assert.Equal(t, http.StatusUnauthorized, httpCode(t, ts.server.authorize(c, false, false)))
}

func TestAuthorizeQueryTokenRejectedForRemoteReads(t *testing.T) {
	ts := newTestServer(func(c *config.Config) { c.Server.Token = "secret" })
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/topics?token=secret", nil)
	req.RemoteAddr = "203.0.113.9:1000"
	c := e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, http.StatusUnauthorized, httpCode(t, ts.server.authorize(c, false, false)))
}

func TestAuthorizeQueryTokenAcceptedForStream(t *testing.T) {
	ts := newTestServer(func(c *config.Config) { c.Server.Token = "secret" })
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stream?token=secret", nil)
	req.RemoteAddr = "203.0.113.9:1000"
	c := e.NewContext(req, httptest.NewRecorder())
	assert.NoError(t, ts.server.authorize(c, false, true))
}

func TestClientIPHonorsTrustProxyForLoggingOnly(t *testing.T) {
	ts := newTestServer(func(c *config.Config) { c.Server.TrustProxy = true })
	c := authContext(t, "10.0.0.5:900", func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.5")
	})
	assert.Equal(t, "198.51.100.7", ts.server.clientIP(c))

	ts = newTestServer()
	c = authContext(t, "10.0.0.5:900", func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "198.51.100.7")
	})
	assert.Equal(t, "10.0.0.5", ts.server.clientIP(c))
}
