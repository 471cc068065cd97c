package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, RequestID(c)) })
	return r
}

func get(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := AuthConfig{Enabled: true, APIKeys: []string{"sk_live_abcdefgh", " "}}
	r := newEngine(APIKeyAuth(cfg, zap.NewNop()))

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"缺少Key", nil, http.StatusUnauthorized},
		{"无效Key", map[string]string{"X-API-Key": "sk_live_wrong"}, http.StatusForbidden},
		{"空白Key不会被接受", map[string]string{"X-API-Key": " "}, http.StatusForbidden},
		{"X-API-Key", map[string]string{"X-API-Key": "sk_live_abcdefgh"}, http.StatusOK},
		{"Bearer", map[string]string{"Authorization": "Bearer sk_live_abcdefgh"}, http.StatusOK},
		{"非Bearer格式", map[string]string{"Authorization": "Basic sk_live_abcdefgh"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, get(r, tt.header).Code)
		})
	}

	t.Run("未启用时放行", func(t *testing.T) {
		r := newEngine(APIKeyAuth(AuthConfig{}, zap.NewNop()))
		assert.Equal(t, http.StatusOK, get(r, nil).Code)
	})
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "sk_l****efgh", maskAPIKey("sk_live_abcdefgh"))
}

func TestRateLimit(t *testing.T) {
	t.Run("超过突发量返回429", func(t *testing.T) {
		// 速率足够低，测试期间不会补充令牌
		r := newEngine(RateLimit(RateLimitConfig{PerSecond: 0.001, Burst: 2}, zap.NewNop()))
		assert.Equal(t, http.StatusOK, get(r, nil).Code)
		assert.Equal(t, http.StatusOK, get(r, nil).Code)
		assert.Equal(t, http.StatusTooManyRequests, get(r, nil).Code)
	})

	t.Run("速率为零不限流", func(t *testing.T) {
		r := newEngine(RateLimit(RateLimitConfig{}, zap.NewNop()))
		for i := 0; i < 100; i++ {
			assert.Equal(t, http.StatusOK, get(r, nil).Code)
		}
	})
}

func TestRequestTracing(t *testing.T) {
	r := newEngine(RequestTracing())

	w := get(r, nil)
	id := w.Header().Get(HeaderRequestID)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, w.Body.String())

	w = get(r, map[string]string{HeaderRequestID: "abc"})
	assert.Equal(t, "abc", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "abc", w.Body.String())
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.OPTIONS("/ping", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
