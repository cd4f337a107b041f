package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"voice-bridge/internal/observability"
	"voice-bridge/internal/voice/audio"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	eventsBuffer = 32
)

var ErrStreamClosed = errors.New("media stream closed")

// Stream wraps one Twilio Media Streams websocket. Inbound messages are decoded
// by a read pump; outbound writes are serialized.
type Stream struct {
	conn       *websocket.Conn
	logger     *observability.Logger
	writeMutex sync.Mutex
	events     chan Event
	done       chan struct{}
	closeOnce  sync.Once
}

func NewStream(conn *websocket.Conn, logger *observability.Logger) *Stream {
	return &Stream{
		conn:   conn,
		logger: logger,
		events: make(chan Event, eventsBuffer),
		done:   make(chan struct{}),
	}
}

// Start launches the read pump. Events closes when the socket ends.
func (s *Stream) Start(ctx context.Context) {
	go s.receive(ctx)
}

// Events returns decoded inbound events in arrival order.
func (s *Stream) Events() <-chan Event {
	return s.events
}

func (s *Stream) receive(ctx context.Context) {
	defer close(s.events)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Info(ctx, "WebSocket closed normally")
				} else {
					s.logger.InfoWithError(ctx, "WebSocket read ended", err)
				}
			}
			return
		}

		event, ok := s.decode(ctx, msg)
		if !ok {
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// decode maps a raw message to an Event; malformed messages are dropped.
func (s *Stream) decode(ctx context.Context, msg []byte) (Event, bool) {
	var me MediaEvent
	if err := json.Unmarshal(msg, &me); err != nil {
		s.logger.Error(ctx, "Failed to parse Twilio event", err)
		return Event{}, false
	}

	event := Event{Type: me.Event, StreamSid: me.StreamSid}
	switch me.Event {
	case EventConnected:
		s.logger.Debug(ctx, "Twilio media stream connected")
		return Event{}, false

	case EventStart:
		if me.Start == nil || me.Start.StreamSid == "" {
			s.logger.Warn(ctx, "Twilio start event without streamSid")
			return Event{}, false
		}
		event.StreamSid = me.Start.StreamSid
		event.CallSid = me.Start.CallSid

	case EventMedia:
		if me.Media == nil {
			s.logger.Warn(ctx, "Twilio media event without payload")
			return Event{}, false
		}
		audioBytes, err := audio.Base64ToBytes(me.Media.Payload)
		if err != nil {
			s.logger.Error(ctx, "Failed to decode audio", err)
			return Event{}, false
		}
		event.Audio = audioBytes

	case EventStop:
		if me.Stop != nil {
			event.CallSid = me.Stop.CallSid
		}

	case EventMark:
		if me.Mark != nil {
			event.Mark = me.Mark.Name
		}

	default:
		s.logger.Debug(ctx, fmt.Sprintf("Unknown Twilio event: %s", me.Event))
		return Event{}, false
	}
	return event, true
}

// SendMedia plays a μ-law frame to the caller.
func (s *Stream) SendMedia(streamSid string, frame []byte) error {
	return s.write(MediaEvent{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: audio.BytesToBase64(frame)},
	})
}

// SendClear drops audio Twilio has buffered for playback.
func (s *Stream) SendClear(streamSid string) error {
	return s.write(MediaEvent{Event: EventClear, StreamSid: streamSid})
}

func (s *Stream) write(event MediaEvent) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", event.Event, err)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, msgBytes)
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMutex.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMutex.Unlock()
		err = s.conn.Close()
	})
	return err
}
