package handler

import (
	"errors"
	"fmt"
	"net/http"

	"voice-bridge/internal/apierrors"
	"voice-bridge/internal/config"
	"voice-bridge/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

var errTelephonyDisabled = errors.New("outbound calls need TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER")

// NewTwilioCallCreator returns the Twilio REST calls API for cfg, or nil when
// outbound calling is not configured.
func NewTwilioCallCreator(cfg config.TwilioConfig) CallCreator {
	if !cfg.Enabled() {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return client.Api
}

type CreateCallRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required,e164"`
}

type CreateCallResponse struct {
	Message string `json:"message"`
	CallSid string `json:"callSid,omitempty"`
}

// HandleCreateCall places an outbound call whose audio is streamed back to /media-stream.
func (h *Handler) HandleCreateCall(c *gin.Context) {
	ctx := c.Request.Context()

	if h.calls == nil {
		apierrors.ServiceUnavailable(c, apierrors.CodeTelephonyDisabled,
			"Outbound calling is not configured", errTelephonyDisabled)
		return
	}

	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	connectTwiML, err := twiml.Voice([]twiml.Element{connectStream(h.streamURL(c.Request.Host))})
	if err != nil {
		apierrors.InternalError(c, "", fmt.Errorf("failed to build TwiML: %w", err))
		return
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.PhoneNumber)
	params.SetFrom(h.cfg.FromNumber)
	params.SetTwiml(connectTwiML)

	call, err := h.calls.CreateCall(params)
	if err != nil {
		apierrors.InternalError(c, apierrors.CodeTelephonyAPIFailed, fmt.Errorf("failed to create call: %w", err))
		return
	}

	resp := CreateCallResponse{Message: "Call initiated successfully!"}
	if call != nil && call.Sid != nil {
		resp.CallSid = *call.Sid
		ctx = observability.WithFields(ctx, observability.Field{Key: "call_sid", Value: resp.CallSid})
	}
	h.logger.Info(ctx, fmt.Sprintf("Outgoing call to %s", req.PhoneNumber))
	c.JSON(http.StatusOK, resp)
}
