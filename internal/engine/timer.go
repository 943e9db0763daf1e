package engine

// Stopwatch is a tick-driven whole-second counter. It only advances when a
// tick is delivered while running, so pausing and resuming preserves the
// elapsed value exactly; wall-clock time spent paused is never counted.
type Stopwatch struct {
	seconds int
	running bool
}

// Start begins counting. Starting a running stopwatch is a no-op.
func (s *Stopwatch) Start() { s.running = true }

// Stop pauses counting, preserving the elapsed value.
func (s *Stopwatch) Stop() { s.running = false }

// Reset stops the stopwatch and clears the elapsed value.
func (s *Stopwatch) Reset() {
	s.running = false
	s.seconds = 0
}

// Tick advances the counter by one second if running.
func (s *Stopwatch) Tick() {
	if s.running {
		s.seconds++
	}
}

// Seconds returns the elapsed whole seconds.
func (s *Stopwatch) Seconds() int { return s.seconds }

// Running reports whether the stopwatch is counting.
func (s *Stopwatch) Running() bool { return s.running }
