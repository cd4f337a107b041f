// Package session holds the per-call state machine and the registry of live calls.
//
// A Session is owned by the goroutine running its call loop and is not safe
// for concurrent use. Only the Registry is shared.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"voice-bridge/internal/jobs"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/voice/audio"
)

// State is the lifecycle position of a call session
type State int

const (
	StateInit State = iota
	StateActive
	StateStopping
	StateClosed
	StateDispatched
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateClosed:
		return "CLOSED"
	case StateDispatched:
		return "DISPATCHED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrNotActive = errors.New("session not active")
	ErrBadState  = errors.New("invalid session state transition")
	ErrNoCallSid = errors.New("start event without callSid")
)

// Link is the realtime side of a call as seen by the session.
type Link interface {
	SendAudio(frame []byte) error
	Commit() error
	Close() error
}

// Paths are the recording files of one call
type Paths struct {
	Caller string
	Agent  string
	Mixed  string
}

var unsafeSidChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// PathsFor derives the recording paths of a call from its sid. The sid is
// reduced to a safe base name so it cannot escape dir.
func PathsFor(dir, callSid string) Paths {
	base := unsafeSidChars.ReplaceAllString(filepath.Base(callSid), "_")
	return Paths{
		Caller: filepath.Join(dir, base+"_caller.wav"),
		Agent:  filepath.Join(dir, base+"_agent.wav"),
		Mixed:  filepath.Join(dir, base+"_mixed.wav"),
	}
}

// Config holds what every session of a process shares
type Config struct {
	FrameInterval time.Duration
	// Now is the session clock; time.Now when nil
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Session is one call between a caller and the realtime agent
type Session struct {
	streamSid string
	callSid   string
	paths     Paths
	state     State

	caller *audio.CaptureSink
	agent  *audio.CaptureSink
	filler *audio.SilenceFiller
	link   Link

	frameInterval  time.Duration
	silence        []byte
	lastAgentWrite time.Time
	startedAt      time.Time
	now            func() time.Time
	metrics        *metrics.Metrics
}

// New returns a session in INIT.
func New(cfg Config) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &Session{
		state:         StateInit,
		filler:        audio.NewSilenceFiller(interval),
		frameInterval: interval,
		silence:       audio.SilenceFrame(audio.FrameBytes(int(interval / time.Millisecond))),
		now:           now,
		metrics:       metrics.OrDiscard(cfg.Metrics),
	}
}

func (s *Session) StreamSid() string { return s.streamSid }
func (s *Session) CallSid() string   { return s.callSid }
func (s *Session) State() State      { return s.state }
func (s *Session) Paths() Paths      { return s.paths }

// HasLink reports whether a realtime link is attached.
func (s *Session) HasLink() bool { return s.link != nil }

// LastAgentWrite returns when agent audio or filler last covered the agent track.
func (s *Session) LastAgentWrite() time.Time { return s.lastAgentWrite }

// FillerC is the filler tick channel; nil unless the session is active.
func (s *Session) FillerC() <-chan time.Time { return s.filler.C() }

// Start moves INIT to ACTIVE: it derives the paths, opens both capture files
// and arms the filler. File errors are returned but the session still becomes
// ACTIVE so the call continues; tracks that failed to open are not recorded.
func (s *Session) Start(dir, streamSid, callSid string) error {
	if s.state != StateInit {
		return fmt.Errorf("%w: start in %s", ErrBadState, s.state)
	}
	if callSid == "" {
		return ErrNoCallSid
	}

	s.streamSid = streamSid
	s.callSid = callSid
	s.paths = PathsFor(dir, callSid)

	var errs []error
	caller, err := audio.OpenCaptureSink(s.paths.Caller)
	if err != nil {
		s.sinkError("caller")
		errs = append(errs, err)
	}
	agent, err := audio.OpenCaptureSink(s.paths.Agent)
	if err != nil {
		s.sinkError("agent")
		errs = append(errs, err)
	}
	s.caller = caller
	s.agent = agent

	s.startedAt = s.now()
	s.lastAgentWrite = s.startedAt
	s.filler.Start()
	s.state = StateActive

	s.metrics.SessionsStarted.Inc()
	s.metrics.ActiveSessions.Inc()
	return errors.Join(errs...)
}

// HandleCallerAudio records a caller frame and forwards it to the link when
// one is attached. The returned errors are the sink error and the link error.
func (s *Session) HandleCallerAudio(frame []byte) (sinkErr, linkErr error) {
	if s.state != StateActive {
		return ErrNotActive, nil
	}
	if s.caller != nil {
		if sinkErr = s.caller.Append(frame); sinkErr != nil {
			s.sinkError("caller")
		} else {
			s.metrics.CallerBytes.Add(float64(len(frame)))
		}
	}
	if s.link != nil {
		linkErr = s.link.SendAudio(frame)
	}
	return sinkErr, linkErr
}

// HandleAgentAudio records agent audio and resets the filler gap clock. The
// caller plays the same frame to the telephony side in the same loop turn.
func (s *Session) HandleAgentAudio(frame []byte) error {
	if s.state != StateActive {
		return ErrNotActive
	}
	s.lastAgentWrite = s.now()
	if s.agent == nil {
		return nil
	}
	if err := s.agent.Append(frame); err != nil {
		s.sinkError("agent")
		return err
	}
	s.metrics.AgentBytes.Add(float64(len(frame)))
	return nil
}

// FillSilence writes one silence frame for every whole frame interval since
// the last agent write and advances the gap clock by that many intervals.
// It returns the number of frames written.
func (s *Session) FillSilence(now time.Time) (int, error) {
	if s.state != StateActive || !s.filler.Running() {
		return 0, nil
	}
	gap := now.Sub(s.lastAgentWrite)
	if gap < s.frameInterval {
		return 0, nil
	}
	n := int(gap / s.frameInterval)

	s.lastAgentWrite = s.lastAgentWrite.Add(time.Duration(n) * s.frameInterval)
	if s.agent == nil {
		return n, nil
	}

	buf := make([]byte, 0, n*len(s.silence))
	for i := 0; i < n; i++ {
		buf = append(buf, s.silence...)
	}
	if err := s.agent.Append(buf); err != nil {
		s.sinkError("agent")
		return 0, err
	}
	s.metrics.FillerFrames.Add(float64(n))
	return n, nil
}

// Stop moves ACTIVE to STOPPING: both files are finalized, the filler is
// disarmed and buffered caller audio is committed to the link.
// The returned errors are the finalize error and the commit error.
func (s *Session) Stop() (finalizeErr, commitErr error) {
	if s.state != StateActive {
		return fmt.Errorf("%w: stop in %s", ErrBadState, s.state), nil
	}
	s.state = StateStopping
	s.filler.Stop()
	finalizeErr = s.finalize()
	if s.link != nil {
		commitErr = s.link.Commit()
	}
	return finalizeErr, commitErr
}

// Close moves the session to CLOSED from any earlier state. It finalizes the
// files if Stop has not, disarms the filler and closes the link. Calling it
// on a closed session does nothing.
func (s *Session) Close() error {
	if s.state == StateClosed || s.state == StateDispatched {
		return nil
	}
	wasLive := s.state == StateActive || s.state == StateStopping
	s.state = StateClosed
	s.filler.Stop()

	errs := []error{s.finalize()}
	if s.link != nil {
		errs = append(errs, s.link.Close())
		s.link = nil
	}

	if wasLive {
		s.metrics.ActiveSessions.Dec()
		s.metrics.SessionDuration.Observe(s.now().Sub(s.startedAt).Seconds())
	}
	return errors.Join(errs...)
}

// Dispatchable reports whether the call produced recordings that should be mixed.
func (s *Session) Dispatchable() bool {
	return s.state == StateClosed && s.callSid != ""
}

// MixJob describes the finished call for the post-processing queue.
func (s *Session) MixJob() jobs.MixJob {
	return jobs.MixJob{
		CallSid:    s.callSid,
		StreamSid:  s.streamSid,
		CallerPath: s.paths.Caller,
		AgentPath:  s.paths.Agent,
		OutputPath: s.paths.Mixed,
	}
}

// MarkDispatched moves CLOSED to DISPATCHED.
func (s *Session) MarkDispatched() error {
	if !s.Dispatchable() {
		return fmt.Errorf("%w: dispatch in %s", ErrBadState, s.state)
	}
	s.state = StateDispatched
	return nil
}

// AttachLink installs a newly dialed link. It returns false when the session
// can no longer use one (not ACTIVE, or a link is already attached); the
// caller must then close l.
func (s *Session) AttachLink(l Link) bool {
	if s.state != StateActive || s.link != nil {
		return false
	}
	s.link = l
	return true
}

// DetachLink closes and forgets the current link, if any.
func (s *Session) DetachLink() error {
	if s.link == nil {
		return nil
	}
	err := s.link.Close()
	s.link = nil
	return err
}

func (s *Session) finalize() error {
	var errs []error
	if s.caller != nil {
		if err := s.caller.Finalize(); err != nil {
			s.sinkError("caller")
			errs = append(errs, err)
		}
	}
	if s.agent != nil {
		if err := s.agent.Finalize(); err != nil {
			s.sinkError("agent")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) sinkError(track string) {
	s.metrics.SinkErrors.WithLabelValues(track).Inc()
}
