package dashboard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func newTestEcho(s *Server) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = s.errorHandler
	e.Use(s.authMiddleware())
	e.GET("/api/stats", func(c *echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/login", func(c *echo.Context) error { return c.String(http.StatusOK, "login") })
	return e
}

func TestAuthMiddlewareAllowsAllWhenTokenEmpty(t *testing.T) {
	s := &Server{authToken: ""}
	e := newTestEcho(s)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	s := &Server{authToken: "secret"}
	e := newTestEcho(s)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAcceptsBearerHeader(t *testing.T) {
	s := &Server{authToken: "secret"}
	e := newTestEcho(s)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareAcceptsCookie(t *testing.T) {
	s := &Server{authToken: "secret"}
	e := newTestEcho(s)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.AddCookie(&http.Cookie{Name: authCookieName, Value: "secret"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareAllowsLoginPathUnauthenticated(t *testing.T) {
	s := &Server{authToken: "secret"}
	e := newTestEcho(s)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
