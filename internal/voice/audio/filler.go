package audio

import "time"

// SilenceFiller arms a recurring tick for one session's agent track. The tick
// only signals; the owning loop decides how many silence frames to write.
type SilenceFiller struct {
	interval time.Duration
	ticker   *time.Ticker
}

// NewSilenceFiller returns a stopped filler ticking every interval.
func NewSilenceFiller(interval time.Duration) *SilenceFiller {
	return &SilenceFiller{interval: interval}
}

// Start arms the ticker. Starting an armed filler is a no-op.
func (f *SilenceFiller) Start() {
	if f.ticker != nil {
		return
	}
	f.ticker = time.NewTicker(f.interval)
}

// Stop disarms the ticker. Stopping a stopped filler is a no-op.
func (f *SilenceFiller) Stop() {
	if f.ticker == nil {
		return
	}
	f.ticker.Stop()
	f.ticker = nil
}

// Running reports whether the filler is armed.
func (f *SilenceFiller) Running() bool {
	return f.ticker != nil
}

// C returns the tick channel, or nil when stopped so a select on it blocks.
func (f *SilenceFiller) C() <-chan time.Time {
	if f.ticker == nil {
		return nil
	}
	return f.ticker.C
}
