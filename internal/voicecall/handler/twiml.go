package handler

import (
	"fmt"
	"net/http"
	"strings"

	"voice-bridge/internal/apierrors"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"
)

const mediaStreamPath = "/media-stream"

// HandleIncomingCall answers Twilio's voice webhook with a greeting and a
// bidirectional media stream back to this server.
func (h *Handler) HandleIncomingCall(c *gin.Context) {
	ctx := c.Request.Context()

	elements := []twiml.Element{}
	if h.cfg.Greeting != "" {
		elements = append(elements, &twiml.VoiceSay{Message: h.cfg.Greeting})
	}
	elements = append(elements, connectStream(h.streamURL(c.Request.Host)))

	twimlResult, err := twiml.Voice(elements)
	if err != nil {
		apierrors.InternalError(c, "", fmt.Errorf("failed to build TwiML: %w", err))
		return
	}

	h.logger.Debug(ctx, fmt.Sprintf("Incoming call TwiML: %s", twimlResult))
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twimlResult)
}

func connectStream(url string) twiml.VoiceConnect {
	stream := twiml.VoiceStream{Url: url}
	return twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
}

// streamURL builds the media stream websocket URL from PUBLIC_URL, or from
// the request host when no public URL is configured.
func (h *Handler) streamURL(host string) string {
	base := h.cfg.PublicURL
	switch {
	case base == "":
		return "wss://" + host + mediaStreamPath
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case !strings.Contains(base, "://"):
		base = "wss://" + base
	}
	return strings.TrimRight(base, "/") + mediaStreamPath
}
