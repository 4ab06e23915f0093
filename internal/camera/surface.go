package camera

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/geometry"
	"github.com/vzahanych/digit-recognizer/internal/logger"
)

// Surface plays the active stream and holds its most recent frame.
// A playback goroutine copies frames out of the stream until Detach.
type Surface struct {
	logger *logger.Logger

	mu       sync.RWMutex
	frame    image.Image
	frameAt  time.Time
	frames   uint64
	stopping chan struct{}
	done     chan struct{}
}

// NewSurface creates an empty surface
func NewSurface(log *logger.Logger) *Surface {
	return &Surface{logger: log}
}

// Attach starts playback of stream, replacing any previous stream
func (s *Surface) Attach(stream Stream) {
	s.Detach()

	s.mu.Lock()
	s.frame = nil
	s.frameAt = time.Time{}
	s.stopping = make(chan struct{})
	s.done = make(chan struct{})
	stopping, done := s.stopping, s.done
	s.mu.Unlock()

	go s.play(stream, stopping, done)
}

// Detach stops playback and clears the frame. The stream's tracks must be
// stopped first so a blocked ReadFrame returns.
func (s *Surface) Detach() {
	s.mu.Lock()
	stopping, done := s.stopping, s.done
	s.stopping, s.done = nil, nil
	s.frame = nil
	s.frameAt = time.Time{}
	s.mu.Unlock()

	if stopping == nil {
		return
	}
	close(stopping)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.logger.Warn("Playback did not stop after tracks were released")
	}
}

func (s *Surface) play(stream Stream, stopping <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		img, err := stream.ReadFrame()

		select {
		case <-stopping:
			return
		default:
		}

		if err != nil {
			// Playback failures never reach the caller; the surface keeps its
			// last frame and the sampler keeps sampling it.
			if !errors.Is(err, ErrStreamClosed) {
				s.logger.Warn("Video playback stopped", "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.stopping == stopping {
			s.frame = img
			s.frameAt = time.Now()
			s.frames++
		}
		s.mu.Unlock()
	}
}

// Frame returns the latest frame and when it was decoded. The image must
// not be modified.
func (s *Surface) Frame() (image.Image, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.frameAt
}

// IntrinsicSize is the size of the latest frame, or zero before the first frame
func (s *Surface) IntrinsicSize() geometry.Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return geometry.SizeOf(s.frame)
}

// FrameCount returns the number of frames decoded since creation
func (s *Surface) FrameCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}
