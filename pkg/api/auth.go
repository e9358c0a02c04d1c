package api

import (
	"net"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// Auth model: one shared secret guards all writes. Reads are allowed
// without a token only when the TCP peer itself is loopback; forwarded
// addresses never count, even with TRUST_PROXY on, because forwarding
// headers are spoofable. Query-string tokens exist solely for the SSE
// endpoint, where EventSource clients cannot set headers.

// requireWrite gates mutating endpoints on the shared secret.
func (s *Server) requireWrite() echo.MiddlewareFunc {
	return s.authMiddleware(true, false)
}

// requireRead gates read endpoints: token, or tokenless loopback.
func (s *Server) requireRead() echo.MiddlewareFunc {
	return s.authMiddleware(false, false)
}

// requireStream is requireRead plus the ?token= escape hatch for SSE.
func (s *Server) requireStream() echo.MiddlewareFunc {
	return s.authMiddleware(false, true)
}

func (s *Server) authMiddleware(write, allowQueryToken bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if err := s.authorize(c, write, allowQueryToken); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func (s *Server) authorize(c *echo.Context, write, allowQueryToken bool) error {
	token := s.cfg.Server.Token
	presented := presentedToken(c, allowQueryToken)
	loopback := isLoopback(c.Request().RemoteAddr)

	if !allowQueryToken && !loopback && c.QueryParam("token") != "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "query-string tokens are not accepted here")
	}

	if token != "" && presented == token {
		return nil
	}
	if presented != "" {
		// A token was offered and it is wrong (or none is configured).
		if token == "" {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no API token is configured")
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	// The tokenless loopback exception covers reads only. Once a secret is
	// configured every write must present it, local or not.
	if loopback && (!write || token == "") {
		return nil
	}
	if write && token == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no API token is configured")
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
}

// presentedToken extracts the caller's token: Authorization bearer first,
// then the X-Clawboard-Token header, then (for SSE only) ?token=.
func presentedToken(c *echo.Context, allowQuery bool) string {
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if t := c.Request().Header.Get("X-Clawboard-Token"); t != "" {
		return t
	}
	if allowQuery {
		return c.QueryParam("token")
	}
	return ""
}

// isLoopback reports whether the raw transport peer is a loopback address.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// clientIP resolves the address used for logging. Only with TRUST_PROXY on
// does the leftmost X-Forwarded-For hop win; auth never consults this.
func (s *Server) clientIP(c *echo.Context) string {
	if s.cfg.Server.TrustProxy {
		if fwd := c.Request().Header.Get("X-Forwarded-For"); fwd != "" {
			if first, _, ok := strings.Cut(fwd, ","); ok {
				return strings.TrimSpace(first)
			}
			return strings.TrimSpace(fwd)
		}
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}
