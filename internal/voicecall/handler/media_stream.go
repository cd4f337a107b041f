package handler

import (
	"voice-bridge/internal/voicecall/twilio"

	"github.com/gin-gonic/gin"
)

// HandleMediaStream upgrades a Twilio Media Streams connection and runs its
// call loop until the stream ends.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "WebSocket upgrade failed", err)
		return
	}
	h.logger.Info(ctx, "Twilio media stream connected")

	stream := twilio.NewStream(conn, h.logger)
	stream.Start(ctx)
	// ServeStream closes the stream.
	h.voiceProcessor.ServeStream(ctx, stream)

	h.logger.Info(ctx, "Twilio media stream ended")
}
