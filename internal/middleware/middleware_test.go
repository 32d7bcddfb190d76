package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat-go/internal/config"
	"ragchat-go/internal/model"
	"ragchat-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestClientRateLimiter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewClientRateLimiter(config.RateLimitConfig{RequestsPerSecond: 5, Burst: 5, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "clients are limited independently")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, l.Evict())
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	l := NewClientRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), `"code":429`)
}

type stubRevocations struct{ revoked bool }

func (s stubRevocations) IsRevoked(context.Context, *token.CustomClaims) (bool, error) {
	return s.revoked, nil
}

type stubProfiles map[string]*model.User

func (s stubProfiles) GetProfile(_ context.Context, id string) (*model.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, context.Canceled
}

func newAuthRouter(jwtManager *token.JWTManager, revoked bool) *gin.Engine {
	users := stubProfiles{
		"u1": {ID: "u1", Email: "a@example.com", Role: model.RoleUser},
		"a1": {ID: "a1", Email: "admin@example.com", Role: model.RoleAdmin},
	}
	r := gin.New()
	authed := r.Group("/", AuthMiddleware(jwtManager, stubRevocations{revoked: revoked}, users))
	authed.GET("/me", func(c *gin.Context) {
		user, _ := CurrentUser(c)
		c.String(http.StatusOK, user.ID)
	})
	authed.GET("/admin", AdminAuthMiddleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAuthMiddleware(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1, 1)
	userToken, err := jwtManager.GenerateToken("u1", "a@example.com", "user")
	require.NoError(t, err)
	adminToken, err := jwtManager.GenerateToken("a1", "admin@example.com", "admin")
	require.NoError(t, err)

	r := newAuthRouter(jwtManager, false)
	cases := []struct {
		name   string
		path   string
		header string
		cookie string
		want   int
	}{
		{"missing header", "/me", "", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Token " + userToken, "", http.StatusUnauthorized},
		{"garbage token", "/me", "Bearer nope", "", http.StatusUnauthorized},
		{"valid header", "/me", "Bearer " + userToken, "", http.StatusOK},
		{"valid cookie", "/me", "", userToken, http.StatusOK},
		{"user on admin route", "/admin", "Bearer " + userToken, "", http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + adminToken, "", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: TokenCookie, Value: tc.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestAuthMiddlewareRejectsRevokedToken(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1, 1)
	tok, err := jwtManager.GenerateToken("u1", "a@example.com", "user")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	newAuthRouter(jwtManager, true).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
