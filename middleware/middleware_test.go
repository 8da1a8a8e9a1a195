package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		expected   string
	}{
		{name: "valid bearer token", authHeader: "Bearer test-token-123", expected: "test-token-123"},
		{name: "missing bearer prefix", authHeader: "test-token-123", expected: ""},
		{name: "empty header", authHeader: "", expected: ""},
		{name: "bearer with empty token", authHeader: "Bearer ", expected: ""},
		{name: "lowercase scheme", authHeader: "bearer abc", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractToken(tt.authHeader))
		})
	}
}

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func authRouter(secret string) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(secret))
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "s3cret"
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "missing authorization header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid authorization format",
			authHeader:     "InvalidFormat token123",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "garbage token",
			authHeader:     "Bearer not.a.jwt",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong secret",
			authHeader:     "Bearer " + sign(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": future}),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "expired",
			authHeader:     "Bearer " + sign(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": past}),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "no expiry",
			authHeader:     "Bearer " + sign(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "valid",
			authHeader:     "Bearer " + sign(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": future}),
			expectedStatus: http.StatusOK,
			expectedBody:   "u1",
		},
	}

	router := authRouter(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.Equal(t, tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	w := httptest.NewRecorder()
	authRouter("").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestLoggerRecordsSubject(t *testing.T) {
	const secret = "s3cret"
	mem := memory.New()
	prev := log.Log
	log.Log = &log.Logger{Handler: mem, Level: log.DebugLevel}
	t.Cleanup(func() { log.Log = prev })

	r := gin.New()
	r.Use(RequestLogger())
	r.Use(AuthMiddleware(secret))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	token := sign(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(httptest.NewRecorder(), req)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Len(t, mem.Entries, 3, "request, missing header warning and rejected request")
	assert.Equal(t, "u1", mem.Entries[0].Fields["subject"])
	assert.Equal(t, http.StatusOK, mem.Entries[0].Fields["status"])
	last := mem.Entries[2]
	assert.Equal(t, http.StatusUnauthorized, last.Fields["status"])
	assert.NotContains(t, last.Fields, "subject")
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(5 * time.Minute)
	rl.Allow("b")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.Cleanup())
	assert.Len(t, rl.visitors, 1)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(0.001, 1))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "retry_after")
}
