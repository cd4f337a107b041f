package twilio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voice-bridge/internal/observability"
	"voice-bridge/internal/voice/audio"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStreamPair returns a server-side Stream and the client connection dialed to it.
func newStreamPair(t *testing.T) (*Stream, *websocket.Conn) {
	t.Helper()
	streams := make(chan *Stream, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		streams <- NewStream(conn, observability.NewNopLogger())
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case s := <-streams:
		t.Cleanup(func() { s.Close() })
		return s, client
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept the stream")
		return nil, nil
	}
}

func nextEvent(t *testing.T, s *Stream) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestStream_DecodesInboundEvents(t *testing.T) {
	s, client := newStreamPair(t)
	s.Start(context.Background())

	payload := audio.BytesToBase64([]byte{0x7F, 0xFF})
	messages := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ1","accountSid":"AC1","callSid":"CA1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ1"}`,
		`{not json`,
		`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"1","timestamp":"5","payload":"` + payload + `"}}`,
		`{"event":"media","streamSid":"MZ1","media":{"payload":"***"}}`,
		`{"event":"mark","streamSid":"MZ1","mark":{"name":"greeting"}}`,
		`{"event":"stop","streamSid":"MZ1","stop":{"accountSid":"AC1","callSid":"CA1"}}`,
	}
	for _, m := range messages {
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(m)))
	}

	start := nextEvent(t, s)
	assert.Equal(t, EventStart, start.Type)
	assert.Equal(t, "MZ1", start.StreamSid)
	assert.Equal(t, "CA1", start.CallSid)

	media := nextEvent(t, s)
	assert.Equal(t, EventMedia, media.Type)
	assert.Equal(t, []byte{0x7F, 0xFF}, media.Audio)

	mark := nextEvent(t, s)
	assert.Equal(t, EventMark, mark.Type)
	assert.Equal(t, "greeting", mark.Mark)

	stop := nextEvent(t, s)
	assert.Equal(t, EventStop, stop.Type)
	assert.Equal(t, "CA1", stop.CallSid)
}

func TestStream_EventsCloseWhenClientLeaves(t *testing.T) {
	s, client := newStreamPair(t)
	s.Start(context.Background())

	require.NoError(t, client.Close())

	select {
	case _, ok := <-s.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events not closed after client disconnect")
	}
}

func TestStream_SendMediaAndClear(t *testing.T) {
	s, client := newStreamPair(t)

	require.NoError(t, s.SendMedia("MZ9", []byte{0x01, 0x02}))
	require.NoError(t, s.SendClear("MZ9"))

	var media MediaEvent
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &media))
	assert.Equal(t, EventMedia, media.Event)
	assert.Equal(t, "MZ9", media.StreamSid)
	require.NotNil(t, media.Media)
	assert.Equal(t, audio.BytesToBase64([]byte{0x01, 0x02}), media.Media.Payload)

	_, raw, err = client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"clear","streamSid":"MZ9"}`, string(raw))
}

func TestStream_WriteAfterClose(t *testing.T) {
	s, _ := newStreamPair(t)

	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { s.Close() })
	assert.ErrorIs(t, s.SendMedia("MZ1", []byte{0}), ErrStreamClosed)
}
