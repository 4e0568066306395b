package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/crosscheck-finance/crosscheck/config"
)

func securedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecretKeyAuthMiddleware())
	r.GET("/reconciliation/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true, SecretKey: "master-key"},
	})
	router := securedRouter()

	tests := []struct {
		name         string
		key          string
		expectedCode int
	}{
		{
			name:         "Valid key",
			key:          "master-key",
			expectedCode: http.StatusOK,
		},
		{
			name:         "Missing key",
			key:          "",
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "Wrong key",
			key:          "not-the-key",
			expectedCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/reconciliation/sessions", nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestSecretKeyAuthMiddlewareWithoutConfiguredKey(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true},
	})
	router := securedRouter()

	req := httptest.NewRequest("GET", "/reconciliation/sessions", nil)
	req.Header.Set(KeyHeader, "anything")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	rps := 1.0
	burst := 1
	cleanup := 60
	conf := &config.Configuration{
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond:  &rps,
			Burst:              &burst,
			CleanupIntervalSec: &cleanup,
		},
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(conf))
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(&config.Configuration{}))
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
