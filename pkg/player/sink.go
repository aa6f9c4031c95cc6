package player

import "sync"

// Sink is the audio device lifecycle the controller drives. Samples reach
// the device through Controller.Read from the device's own pull loop; the
// sink only hears about state changes. Implementations must not call back
// into the controller.
type Sink interface {
	Start(sampleRate, channels int) error
	Pause()
	Resume()
	Close() error
}

// MockSink records lifecycle calls for tests and for the headless listener.
type MockSink struct {
	mu         sync.Mutex
	starts     int
	pauses     int
	resumes    int
	closed     bool
	sampleRate int
	channels   int
}

// NewMockSink returns an empty recorder.
func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) Start(sampleRate, channels int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.sampleRate = sampleRate
	m.channels = channels
	return nil
}

func (m *MockSink) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses++
}

func (m *MockSink) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes++
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Starts returns how many times playback was started.
func (m *MockSink) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Pauses returns how many times playback was paused.
func (m *MockSink) Pauses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauses
}

// Resumes returns how many times playback was resumed.
func (m *MockSink) Resumes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumes
}

// Shape returns the sample rate and channel count playback started with.
func (m *MockSink) Shape() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleRate, m.channels
}
