package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/jobs"
	"voice-bridge/internal/voicecall/twilio"
)

const waitFor = 2 * time.Second

type playedFrame struct {
	streamSid string
	frame     []byte
}

type fakeStream struct {
	events chan twilio.Event

	mu     sync.Mutex
	played []playedFrame
	clears []string
	closed int
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan twilio.Event)}
}

func (s *fakeStream) Events() <-chan twilio.Event { return s.events }

func (s *fakeStream) SendMedia(streamSid string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, playedFrame{streamSid: streamSid, frame: frame})
	return nil
}

func (s *fakeStream) SendClear(streamSid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears = append(s.clears, streamSid)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) Clears() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clears...)
}

func (s *fakeStream) Played() []playedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playedFrame(nil), s.played...)
}

func (s *fakeStream) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// send delivers one event; the unbuffered channel returns once the loop took it.
func (s *fakeStream) send(t *testing.T, event twilio.Event) {
	t.Helper()
	select {
	case s.events <- event:
	case <-time.After(waitFor):
		t.Fatalf("call loop did not take %s event", event.Type)
	}
}

func (s *fakeStream) start(t *testing.T, streamSid, callSid string) {
	s.send(t, twilio.Event{Type: twilio.EventStart, StreamSid: streamSid, CallSid: callSid})
}

func (s *fakeStream) media(t *testing.T, frame []byte) {
	s.send(t, twilio.Event{Type: twilio.EventMedia, Audio: frame})
}

func (s *fakeStream) stop(t *testing.T) {
	s.send(t, twilio.Event{Type: twilio.EventStop})
}

type fakeLink struct {
	events chan openai.RealtimeEvent

	mu        sync.Mutex
	sent      [][]byte
	commits   int
	closed    bool
	closeOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan openai.RealtimeEvent)}
}

func (l *fakeLink) Events() <-chan openai.RealtimeEvent { return l.events }

func (l *fakeLink) SendAudio(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return openai.ErrLinkClosed
	}
	l.sent = append(l.sent, frame)
	return nil
}

func (l *fakeLink) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits++
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}

func (l *fakeLink) Commits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits
}

// emit delivers one server event; it returns once the loop took it.
func (l *fakeLink) emit(t *testing.T, event openai.RealtimeEvent) {
	t.Helper()
	select {
	case l.events <- event:
	case <-time.After(waitFor):
		t.Fatalf("call loop did not take %s event", event.Type)
	}
}

// end simulates the service dropping the connection.
func (l *fakeLink) end() {
	l.closeOnce.Do(func() { close(l.events) })
}

// dialStep is one scripted Dial outcome. A step with wait set blocks until
// wait is closed, ignoring cancellation, then returns link.
type dialStep struct {
	link *fakeLink
	err  error
	wait chan struct{}
}

// fakeDialer plays its steps in order and fails once they run out.
type fakeDialer struct {
	mu    sync.Mutex
	steps []dialStep
	calls int
}

func newFakeDialer(steps ...dialStep) *fakeDialer {
	return &fakeDialer{steps: steps}
}

func (d *fakeDialer) Dial(_ context.Context) (Link, error) {
	d.mu.Lock()
	d.calls++
	step := dialStep{err: errors.New("realtime service unavailable")}
	if len(d.steps) > 0 {
		step = d.steps[0]
		d.steps = d.steps[1:]
	}
	d.mu.Unlock()

	if step.wait != nil {
		<-step.wait
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.link, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// droppingDialer connects every time with a link that has already ended.
type droppingDialer struct {
	mu    sync.Mutex
	calls int
}

func (d *droppingDialer) Dial(_ context.Context) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	link := newFakeLink()
	link.end()
	return link, nil
}

func (d *droppingDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []jobs.MixJob
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job jobs.MixJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return d.err
}

func (d *fakeDispatcher) Jobs() []jobs.MixJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]jobs.MixJob(nil), d.jobs...)
}
