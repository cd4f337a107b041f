package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-bridge/internal/metrics"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/ratelimit"
	voiceCallHandler "voice-bridge/internal/voicecall/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.SessionsStarted.Inc()

	r := gin.New()
	h := voiceCallHandler.New(nil, nil, voiceCallHandler.Config{Greeting: "hi"}, observability.NewNopLogger())
	a := New(r.Group("/"), h, reg, ratelimit.NewService(nil, 10, observability.NewNopLogger()))
	a.RegisterRoutes()
	return r
}

func TestRoutes(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		method   string
		path     string
		wantCode int
		contains string
	}{
		{method: http.MethodGet, path: "/health", wantCode: http.StatusOK, contains: `"ok"`},
		{method: http.MethodGet, path: "/", wantCode: http.StatusOK, contains: "running"},
		{method: http.MethodGet, path: "/metrics", wantCode: http.StatusOK, contains: "voicebridge_sessions_started_total 1"},
		{method: http.MethodGet, path: "/incoming-call", wantCode: http.StatusOK, contains: "<Stream"},
		{method: http.MethodPost, path: "/incoming-call", wantCode: http.StatusOK, contains: "<Stream"},
		{method: http.MethodPost, path: "/calls", wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.contains != "" {
				assert.Contains(t, w.Body.String(), tt.contains)
			}
		})
	}
}
