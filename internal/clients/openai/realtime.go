package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"voice-bridge/internal/observability"

	"github.com/gorilla/websocket"
)

const DefaultRealtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"

// Realtime server event types the bridge acts on
const (
	EventAudioDelta     = "response.audio.delta"
	EventSpeechStarted  = "input_audio_buffer.speech_started"
	EventError          = "error"
	EventSessionUpdated = "session.updated"
)

const (
	writeWait    = 5 * time.Second
	eventsBuffer = 64
)

var ErrLinkClosed = errors.New("realtime link closed")

// RealtimeConfig holds the session parameters sent on connect.
type RealtimeConfig struct {
	URL          string
	APIKey       string
	Voice        string
	Instructions string
	Temperature  float64
}

// RealtimeEvent is a decoded server message.
type RealtimeEvent struct {
	Type string
	// Audio holds the decoded μ-law payload of response.audio.delta events.
	Audio []byte
	// ErrorCode and ErrorMessage are set for error events.
	ErrorCode    string
	ErrorMessage string
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	TurnDetection     turnDetection `json:"turn_detection"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	Voice             string        `json:"voice"`
	Instructions      string        `json:"instructions"`
	Modalities        []string      `json:"modalities"`
	Temperature       float64       `json:"temperature"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type clientEvent struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RealtimeClient dials realtime voice sessions.
type RealtimeClient struct {
	cfg    RealtimeConfig
	dialer *websocket.Dialer
	logger *observability.Logger
}

func NewRealtimeClient(cfg RealtimeConfig, logger *observability.Logger) (*RealtimeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultRealtimeURL
	}
	return &RealtimeClient{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

// Connect opens the websocket, configures the session for G.711 μ-law with
// server VAD, and starts decoding server events. ctx bounds the dial only.
func (c *RealtimeClient) Connect(ctx context.Context) (*RealtimeLink, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OpenAI realtime endpoint: %w", err)
	}

	link := &RealtimeLink{
		conn:   conn,
		events: make(chan RealtimeEvent, eventsBuffer),
		done:   make(chan struct{}),
		logger: c.logger,
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			TurnDetection:     turnDetection{Type: "server_vad"},
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			Voice:             c.cfg.Voice,
			Instructions:      c.cfg.Instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       c.cfg.Temperature,
		},
	}
	if err := link.writeJSON(update); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send session update: %w", err)
	}

	go link.readPump(ctx)
	return link, nil
}

// RealtimeLink is one duplex realtime session. Writes are serialized; events
// are delivered on Events until the connection ends.
type RealtimeLink struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	events    chan RealtimeEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    *observability.Logger
}

// Events returns the decoded server events. The channel closes when the link ends.
func (l *RealtimeLink) Events() <-chan RealtimeEvent {
	return l.events
}

// SendAudio appends a μ-law frame to the service input buffer.
func (l *RealtimeLink) SendAudio(frame []byte) error {
	return l.writeJSON(audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// Commit flushes the input buffer.
func (l *RealtimeLink) Commit() error {
	return l.writeJSON(clientEvent{Type: "input_audio_buffer.commit"})
}

// Close ends the session. It is safe to call more than once.
func (l *RealtimeLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

func (l *RealtimeLink) writeJSON(v interface{}) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.conn.WriteJSON(v)
}

func (l *RealtimeLink) readPump(ctx context.Context) {
	defer close(l.events)

	for {
		_, msg, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				l.logger.InfoWithError(ctx, "realtime link read ended", err)
			}
			return
		}

		event, ok := l.decode(ctx, msg)
		if !ok {
			continue
		}

		select {
		case l.events <- event:
		case <-l.done:
			return
		}
	}
}

// decode turns a server message into an event; malformed messages are dropped.
func (l *RealtimeLink) decode(ctx context.Context, msg []byte) (RealtimeEvent, bool) {
	var sm serverMessage
	if err := json.Unmarshal(msg, &sm); err != nil || sm.Type == "" {
		l.logger.Debug(ctx, "dropping malformed realtime message")
		return RealtimeEvent{}, false
	}

	event := RealtimeEvent{Type: sm.Type}
	switch sm.Type {
	case EventAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(sm.Delta)
		if err != nil {
			l.logger.Debug(ctx, "dropping audio delta with invalid base64")
			return RealtimeEvent{}, false
		}
		event.Audio = audio
	case EventError:
		if sm.Error != nil {
			event.ErrorCode = sm.Error.Code
			if event.ErrorCode == "" {
				event.ErrorCode = sm.Error.Type
			}
			event.ErrorMessage = sm.Error.Message
		}
	}
	return event, true
}
