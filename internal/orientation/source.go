package orientation

// Source delivers raw orientation readings in degrees (0-359, or Undetectable)
type Source interface {
	// CanDetect reports whether the sensor can report orientation at all
	CanDetect() bool
	Degrees() <-chan int
}

// ChannelSource is an in-process sensor fed by Push
type ChannelSource struct {
	ch chan int
}

// NewChannelSource creates a source buffering up to size readings
func NewChannelSource(size int) *ChannelSource {
	if size < 1 {
		size = 1
	}
	return &ChannelSource{ch: make(chan int, size)}
}

// CanDetect implements Source
func (s *ChannelSource) CanDetect() bool { return true }

// Degrees implements Source
func (s *ChannelSource) Degrees() <-chan int { return s.ch }

// Push queues a reading without blocking. Readings arriving while the buffer
// is full are dropped and Push returns false.
func (s *ChannelSource) Push(degrees int) bool {
	select {
	case s.ch <- degrees:
		return true
	default:
		return false
	}
}

// Close ends the stream
func (s *ChannelSource) Close() {
	close(s.ch)
}

// Fixed is a source for rigs whose mounting never changes: it reports a
// single reading and then stays silent.
type Fixed int

// CanDetect implements Source
func (f Fixed) CanDetect() bool { return true }

// Degrees implements Source
func (f Fixed) Degrees() <-chan int {
	ch := make(chan int, 1)
	ch <- int(f)
	return ch
}

// Disabled is a source for hosts without an orientation sensor
type Disabled struct{}

// CanDetect implements Source
func (Disabled) CanDetect() bool { return false }

// Degrees implements Source
func (Disabled) Degrees() <-chan int { return nil }
