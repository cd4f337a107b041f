package api

import (
	"net/http"

	"voice-bridge/internal/ratelimit"
	voiceCallHandler "voice-bridge/internal/voicecall/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	router           *gin.RouterGroup
	voiceCallHandler voiceCallHandler.Handler
	gatherer         prometheus.Gatherer
	callLimiter      *ratelimit.Service
}

func New(router *gin.RouterGroup, voiceCallHandler voiceCallHandler.Handler, gatherer prometheus.Gatherer, callLimiter *ratelimit.Service) API {
	return API{
		router:           router,
		voiceCallHandler: voiceCallHandler,
		gatherer:         gatherer,
		callLimiter:      callLimiter,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	a.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	a.router.Any("/incoming-call", a.voiceCallHandler.HandleIncomingCall)
	a.router.POST("/calls", a.callLimiter.Middleware(), a.voiceCallHandler.HandleCreateCall)
	a.router.GET("/media-stream", a.voiceCallHandler.HandleMediaStream)
}

func (a *API) Health() {
	a.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Twilio Media Stream Server is running!"})
	})
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
