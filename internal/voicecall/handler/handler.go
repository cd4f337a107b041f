package handler

import (
	"context"
	"net/http"

	"voice-bridge/internal/observability"
	"voice-bridge/internal/voicecall/processor"

	"github.com/gorilla/websocket"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// StreamServer runs the call loop for an accepted media stream.
type StreamServer interface {
	ServeStream(ctx context.Context, stream processor.Stream)
}

// CallCreator places outbound calls. *twilioApi.ApiService satisfies it.
type CallCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Config holds what the TwiML and outbound call handlers need
type Config struct {
	// PublicURL is the externally reachable base URL; empty means the request host
	PublicURL  string
	Greeting   string
	FromNumber string
}

type Handler struct {
	voiceProcessor StreamServer
	calls          CallCreator
	cfg            Config
	logger         *observability.Logger
}

// New wires the voice call handlers. calls may be nil, which disables outbound calls.
func New(voiceProcessor StreamServer, calls CallCreator, cfg Config, logger *observability.Logger) Handler {
	return Handler{
		voiceProcessor: voiceProcessor,
		calls:          calls,
		cfg:            cfg,
		logger:         logger,
	}
}

// upgrader is a shared WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Media streams come from Twilio, not browsers
		return true
	},
}
