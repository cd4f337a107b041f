package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/jobs"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/voicecall/session"
	"voice-bridge/internal/voicecall/twilio"

	"github.com/sethvargo/go-retry"
)

const defaultStableLinkAfter = 30 * time.Second

// Stream is the telephony side of one call.
type Stream interface {
	Events() <-chan twilio.Event
	SendMedia(streamSid string, frame []byte) error
	SendClear(streamSid string) error
	Close() error
}

// Link is one realtime agent session.
type Link interface {
	session.Link
	Events() <-chan openai.RealtimeEvent
}

// LinkDialer opens realtime links.
type LinkDialer interface {
	Dial(ctx context.Context) (Link, error)
}

// Dispatcher hands finished calls to post-processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, job jobs.MixJob) error
}

// Config holds the per-call capture and reconnect settings
type Config struct {
	RecordingsDir string
	FrameInterval time.Duration
	Now           func() time.Time

	// A link that drops mid-call is redialed after an exponential delay
	// starting at ReconnectDelay, at most MaxReconnects times in a row. A
	// link that stayed up for StableLinkAfter restores the full budget.
	ReconnectDelay  time.Duration
	MaxReconnects   uint64
	StableLinkAfter time.Duration
}

type VoiceCallProcessor struct {
	dialer     LinkDialer
	dispatcher Dispatcher
	registry   *session.Registry
	cfg        Config
	logger     *observability.Logger
	metrics    *metrics.Metrics
	active     sync.WaitGroup
}

func NewVoiceCallProcessor(dialer LinkDialer, dispatcher Dispatcher, registry *session.Registry, cfg Config, logger *observability.Logger, m *metrics.Metrics) *VoiceCallProcessor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.StableLinkAfter <= 0 {
		cfg.StableLinkAfter = defaultStableLinkAfter
	}
	return &VoiceCallProcessor{
		dialer:     dialer,
		dispatcher: dispatcher,
		registry:   registry,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics.OrDiscard(m),
	}
}

// Drain waits for every running call loop to finish its cleanup, or for ctx.
func (v *VoiceCallProcessor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		v.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("calls still running: %w", ctx.Err())
	}
}

type dialResult struct {
	link Link
	err  error
}

// call is the state owned by one ServeStream loop.
type call struct {
	v       *VoiceCallProcessor
	stream  Stream
	sess    *session.Session
	ctx     context.Context
	started bool

	linkEvents  <-chan openai.RealtimeEvent
	linkSince   time.Time
	dialResults chan dialResult
	dialing     bool
	cancelDial  context.CancelFunc
	reconnects  retry.Backoff
}

// ServeStream runs the call loop for one telephony connection until the
// transport closes or ctx is done. Every mutation of the call's session
// happens on this goroutine.
func (v *VoiceCallProcessor) ServeStream(ctx context.Context, stream Stream) {
	v.active.Add(1)
	defer v.active.Done()

	c := &call{
		v:      v,
		stream: stream,
		sess: session.New(session.Config{
			FrameInterval: v.cfg.FrameInterval,
			Now:           v.cfg.Now,
			Metrics:       v.metrics,
		}),
		ctx:         ctx,
		dialResults: make(chan dialResult, 1),
	}
	defer c.shutdown()

	events := stream.Events()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				c.v.logger.Info(c.ctx, "Telephony stream closed")
				return
			}
			if !c.handleStreamEvent(event) {
				return
			}

		case event, ok := <-c.linkEvents:
			if !ok {
				c.handleLinkEnded()
				continue
			}
			c.handleLinkEvent(event)

		case <-c.sess.FillerC():
			if _, err := c.sess.FillSilence(c.v.cfg.Now()); err != nil {
				c.v.logger.Error(c.ctx, "Failed to write silence filler", err)
			}

		case res := <-c.dialResults:
			c.handleDialResult(res)

		case <-ctx.Done():
			c.v.logger.Info(c.ctx, "Call loop cancelled")
			return
		}
	}
}

// handleStreamEvent applies one telephony event. It returns false when the
// loop should end.
func (c *call) handleStreamEvent(event twilio.Event) bool {
	switch event.Type {
	case twilio.EventStart:
		return c.handleStart(event)

	case twilio.EventMedia:
		if !c.started {
			c.v.logger.Debug(c.ctx, "Dropping media received before start")
			return true
		}
		sinkErr, linkErr := c.sess.HandleCallerAudio(event.Audio)
		if sinkErr != nil && !errors.Is(sinkErr, session.ErrNotActive) {
			c.v.logger.Error(c.ctx, "Failed to record caller audio", sinkErr)
		}
		if linkErr != nil {
			c.v.logger.InfoWithError(c.ctx, "Failed to forward caller audio", linkErr)
		}

	case twilio.EventStop:
		if !c.started {
			return true
		}
		c.v.logger.Info(c.ctx, "Telephony stream stopped")
		finalizeErr, commitErr := c.sess.Stop()
		if finalizeErr != nil {
			c.v.logger.Error(c.ctx, "Failed to finalize recordings", finalizeErr)
		}
		if commitErr != nil {
			c.v.logger.InfoWithError(c.ctx, "Failed to commit audio buffer", commitErr)
		}

	case twilio.EventMark:
		c.v.logger.Debug(c.ctx, fmt.Sprintf("Playback mark reached: %s", event.Mark))
	}
	return true
}

func (c *call) handleStart(event twilio.Event) bool {
	if c.started {
		c.v.logger.Warn(c.ctx, "Ignoring repeated start event")
		return true
	}

	c.ctx = observability.WithFields(c.ctx,
		observability.Field{Key: "stream_sid", Value: event.StreamSid},
		observability.Field{Key: "call_sid", Value: event.CallSid},
	)

	if err := c.v.registry.Put(event.StreamSid, c.sess); err != nil {
		c.v.logger.Error(c.ctx, "Rejecting stream", err)
		return false
	}
	c.started = true

	if err := c.sess.Start(c.v.cfg.RecordingsDir, event.StreamSid, event.CallSid); err != nil {
		if errors.Is(err, session.ErrNoCallSid) {
			c.v.logger.Error(c.ctx, "Rejecting stream", err)
			return false
		}
		c.v.logger.Error(c.ctx, "Failed to open recordings", err)
	}
	c.v.logger.Info(c.ctx, "Call session started")

	c.startDial(0)
	return true
}

func (c *call) handleLinkEvent(event openai.RealtimeEvent) {
	switch event.Type {
	case openai.EventAudioDelta:
		if err := c.sess.HandleAgentAudio(event.Audio); err != nil {
			if errors.Is(err, session.ErrNotActive) {
				return
			}
			c.v.logger.Error(c.ctx, "Failed to record agent audio", err)
		}
		if err := c.stream.SendMedia(c.sess.StreamSid(), event.Audio); err != nil {
			c.v.logger.InfoWithError(c.ctx, "Failed to play agent audio", err)
		}

	case openai.EventSpeechStarted:
		if err := c.stream.SendClear(c.sess.StreamSid()); err != nil {
			c.v.logger.InfoWithError(c.ctx, "Failed to clear agent playback", err)
		}

	case openai.EventError:
		c.v.logger.Error(c.ctx, "Realtime service error",
			fmt.Errorf("%s: %s", event.ErrorCode, event.ErrorMessage))

	case openai.EventSessionUpdated:
		c.v.logger.Debug(c.ctx, "Realtime session configured")
	}
}

func (c *call) handleLinkEnded() {
	c.linkEvents = nil
	if err := c.sess.DetachLink(); err != nil {
		c.v.logger.InfoWithError(c.ctx, "Error closing ended realtime link", err)
	}
	if c.sess.State() != session.StateActive {
		return
	}

	if c.reconnects == nil || c.v.cfg.Now().Sub(c.linkSince) >= c.v.cfg.StableLinkAfter {
		c.reconnects = retry.WithMaxRetries(c.v.cfg.MaxReconnects, retry.NewExponential(c.v.cfg.ReconnectDelay))
	}
	delay, stop := c.reconnects.Next()
	if stop {
		c.v.logger.Error(c.ctx, "Realtime link keeps dropping, continuing with caller-only capture",
			fmt.Errorf("gave up after %d reconnects", c.v.cfg.MaxReconnects))
		return
	}

	c.v.logger.Warn(c.ctx, fmt.Sprintf("Realtime link ended mid-call, reconnecting in %s", delay))
	c.v.metrics.LinkReconnects.Inc()
	c.startDial(delay)
}

func (c *call) handleDialResult(res dialResult) {
	c.dialing = false
	c.cancelDial()
	if res.err != nil {
		c.v.logger.Error(c.ctx, "Realtime link unavailable, continuing with caller-only capture", res.err)
		return
	}
	if !c.sess.AttachLink(res.link) {
		c.v.logger.Info(c.ctx, "Closing realtime link that arrived after the call left ACTIVE")
		_ = res.link.Close()
		return
	}
	c.linkEvents = res.link.Events()
	c.linkSince = c.v.cfg.Now()
	c.v.logger.Info(c.ctx, "Realtime link attached")
}

// startDial dials off the loop after delay; the result comes back on dialResults.
func (c *call) startDial(delay time.Duration) {
	if c.dialing {
		return
	}
	c.dialing = true

	var dialCtx context.Context
	dialCtx, c.cancelDial = context.WithCancel(c.ctx)
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-dialCtx.Done():
				timer.Stop()
				c.dialResults <- dialResult{err: dialCtx.Err()}
				return
			}
		}
		link, err := c.v.dialer.Dial(dialCtx)
		c.dialResults <- dialResult{link: link, err: err}
	}()
}

// shutdown closes the session, releases the stream sid and dispatches the call.
func (c *call) shutdown() {
	if err := c.sess.Close(); err != nil {
		c.v.logger.Error(c.ctx, "Failed to close call session", err)
	}
	if c.started {
		c.v.registry.Remove(c.sess.StreamSid(), c.sess)
	}

	if c.dialing {
		c.cancelDial()
		go func() {
			if res := <-c.dialResults; res.link != nil {
				_ = res.link.Close()
			}
		}()
	}

	if c.sess.Dispatchable() {
		c.dispatch()
	}

	if err := c.stream.Close(); err != nil {
		c.v.logger.InfoWithError(c.ctx, "Error closing telephony stream", err)
	}
}

func (c *call) dispatch() {
	ctx := context.WithoutCancel(c.ctx)
	err := c.v.dispatcher.Dispatch(ctx, c.sess.MixJob())
	if err != nil && !errors.Is(err, jobs.ErrAlreadyDispatched) {
		c.v.logger.Error(ctx, "Mix job not dispatched", err)
		return
	}
	if err := c.sess.MarkDispatched(); err != nil {
		c.v.logger.Error(ctx, "Failed to mark session dispatched", err)
		return
	}
	c.v.logger.Info(ctx, "Call session dispatched")
}
