package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRealClientIP(t *testing.T) {
	tests := []struct {
		name              string
		cloudFrontAddress string
		fallbackIP        string
		want              string
	}{
		{
			name:              "CloudFront header with port",
			cloudFrontAddress: "203.0.113.50:12345",
			want:              "203.0.113.50",
		},
		{
			name:              "CloudFront header IPv6 with port",
			cloudFrontAddress: "2001:db8::1:54321",
			want:              "2001:db8::1",
		},
		{
			name:       "No CloudFront header uses fallback",
			fallbackIP: "192.168.1.1",
			want:       "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cloudFrontAddress != "" {
				c.Request.Header.Set("CloudFront-Viewer-Address", tt.cloudFrontAddress)
			}
			if tt.fallbackIP != "" {
				c.Request.RemoteAddr = tt.fallbackIP + ":8080"
			}

			got := GetRealClientIP(c)
			if got != tt.want {
				t.Errorf("GetRealClientIP() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithFieldsDoesNotAliasParent(t *testing.T) {
	parent := WithFields(context.Background(), Field{"call_sid", "CA1"})
	a := WithFields(parent, Field{"stream_sid", "SD1"})
	b := WithFields(parent, Field{"stream_sid", "SD2"})

	assert.Equal(t, []Field{{"call_sid", "CA1"}, {"stream_sid", "SD1"}}, getObservabilityFields(a))
	assert.Equal(t, []Field{{"call_sid", "CA1"}, {"stream_sid", "SD2"}}, getObservabilityFields(b))
	assert.Len(t, getObservabilityFields(parent), 1)
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewNopLogger()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("X-Request-ID"), "req-")
}

func TestNewLoggerWithConfig(t *testing.T) {
	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewLoggerWithConfig(LogConfig{Level: "loud"})
		require.Error(t, err)
	})

	t.Run("writes to rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bridge.log")
		logger, err := NewLoggerWithConfig(LogConfig{Level: "debug", Filename: path, MaxSize: 1})
		require.NoError(t, err)

		logger.Info(WithFields(context.Background(), Field{"call_sid", "CA1"}), "hello")
		_ = logger.Sync()

		assert.FileExists(t, path)
	})
}
