package client

import (
	"fmt"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// MediaSource produces a local media track to attach to a peer session.
// Implementations own their capture loop; Open starts producing samples
// into the returned track and Close stops it.
type MediaSource interface {
	// Label identifies the source, e.g. a camera name.
	Label() string

	// Open returns a live track. Calling Open on an already open source is
	// an error.
	Open() (*pion.TrackLocalStaticSample, error)

	// Close stops sample production and releases the source.
	Close() error
}

// SyntheticSource is a MediaSource that produces an empty VP8 sample stream
// at a fixed frame rate. It stands in for camera capture in headless
// deployments and tests.
type SyntheticSource struct {
	label     string
	frameRate int

	mu     sync.Mutex
	track  *pion.TrackLocalStaticSample
	stopCh chan struct{}
}

// NewSyntheticSource creates a synthetic source with the given label and
// frame rate (frames per second).
func NewSyntheticSource(label string, frameRate int) *SyntheticSource {
	if frameRate <= 0 {
		frameRate = 30
	}
	return &SyntheticSource{label: label, frameRate: frameRate}
}

// Label returns the source label.
func (s *SyntheticSource) Label() string {
	return s.label
}

// Open creates the track and starts the sample loop.
func (s *SyntheticSource) Open() (*pion.TrackLocalStaticSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.track != nil {
		return nil, fmt.Errorf("client: source %q already open", s.label)
	}

	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8},
		"video", s.label,
	)
	if err != nil {
		return nil, fmt.Errorf("client: create track for %q: %w", s.label, err)
	}

	s.track = track
	s.stopCh = make(chan struct{})
	go s.produce(track, s.stopCh)
	return track, nil
}

// produce writes empty samples at the configured frame rate until stopped.
func (s *SyntheticSource) produce(track *pion.TrackLocalStaticSample, stop chan struct{}) {
	interval := time.Second / time.Duration(s.frameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = track.WriteSample(media.Sample{
				Data:     []byte{0},
				Duration: interval,
			})
		}
	}
}

// Close stops the sample loop. Safe to call on a source that was never
// opened.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.track = nil
	return nil
}
