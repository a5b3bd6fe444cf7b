package webrtc

import (
	"math/rand"
	"sync"
	"time"

	"rtcclient/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// TrackProvider is implemented by media sources backed by a pion local
// track. The adapter requires it for sending.
type TrackProvider interface {
	TrackLocal() webrtc.TrackLocal
}

// RtpSource is a synthetic media source that clocks generated RTP packets
// into a local track. Useful for demos and bandwidth testing where no real
// capture device exists.
type RtpSource struct {
	id        string
	kind      domain.MediaKind
	track     *webrtc.TrackLocalStaticRTP
	clockRate uint32
	frameDur  time.Duration
	payload   int

	mu      sync.Mutex
	ended   bool
	enabled bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewVideoTestSource builds a VP8-framed pattern source at roughly 30 fps.
func NewVideoTestSource(id string) (*RtpSource, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id, id+"-stream",
	)
	if err != nil {
		return nil, err
	}
	source := &RtpSource{
		id:        id,
		kind:      domain.MediaKindVideo,
		track:     track,
		clockRate: 90000,
		frameDur:  33 * time.Millisecond,
		payload:   1100,
		enabled:   true,
		stopCh:    make(chan struct{}),
	}
	go source.run()
	return source, nil
}

// NewAudioTestSource builds an opus-framed noise source at 20 ms ptime.
func NewAudioTestSource(id string) (*RtpSource, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		id, id+"-stream",
	)
	if err != nil {
		return nil, err
	}
	source := &RtpSource{
		id:        id,
		kind:      domain.MediaKindAudio,
		track:     track,
		clockRate: 48000,
		frameDur:  20 * time.Millisecond,
		payload:   120,
		enabled:   true,
		stopCh:    make(chan struct{}),
	}
	go source.run()
	return source, nil
}

func (s *RtpSource) ID() string             { return s.id }
func (s *RtpSource) Kind() domain.MediaKind { return s.kind }

func (s *RtpSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Stop permanently ends packet generation. Idempotent.
func (s *RtpSource) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		close(s.stopCh)
	})
}

// SetEnabled toggles generation without ending the source. While disabled
// the clock keeps running so timestamps stay continuous.
func (s *RtpSource) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// TrackLocal implements TrackProvider.
func (s *RtpSource) TrackLocal() webrtc.TrackLocal { return s.track }

func (s *RtpSource) run() {
	ticker := time.NewTicker(s.frameDur)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sequence := uint16(rng.Intn(1 << 16))
	timestamp := rng.Uint32()
	timestampStep := uint32(uint64(s.clockRate) * uint64(s.frameDur) / uint64(time.Second))

	buf := make([]byte, s.payload)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		sequence++
		timestamp += timestampStep

		s.mu.Lock()
		enabled := s.enabled
		s.mu.Unlock()
		if !enabled {
			continue
		}

		rng.Read(buf)
		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: sequence,
				Timestamp:      timestamp,
			},
			Payload: buf,
		}
		if err := s.track.WriteRTP(packet); err != nil {
			// No bound sender yet, or the track went away.
			continue
		}
	}
}
