package services

import (
	"context"
	"fmt"
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ports"

	"go.uber.org/zap"
)

// fakeSource is an in-memory media source for tests.
type fakeSource struct {
	mu      sync.Mutex
	id      string
	kind    domain.MediaKind
	ended   bool
	stopped bool
	enabled bool
}

func newFakeSource(id string, kind domain.MediaKind) *fakeSource {
	return &fakeSource{id: id, kind: kind, enabled: true}
}

func (s *fakeSource) ID() string            { return s.id }
func (s *fakeSource) Kind() domain.MediaKind { return s.kind }

func (s *fakeSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.ended = true
}

func (s *fakeSource) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *fakeSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeSource) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// fakeChannel is an in-memory data channel for tests.
type fakeChannel struct {
	mu       sync.Mutex
	label    string
	protocol string
	closed   bool
	sent     [][]byte
}

func (c *fakeChannel) Label() string    { return c.label }
func (c *fakeChannel) Protocol() string { return c.protocol }

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("channel closed")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeAdapter records every call the transport core issues, in order, and
// lets tests inject failures per operation or per receive track.
type fakeAdapter struct {
	mu       sync.Mutex
	calls    []string
	listener ports.AdapterListener
	closed   bool

	nextLocalID int

	runErr        error
	sendErr       error
	receiveErrByID map[string]error
	sendRtp       func() *domain.RtpParameters

	nativeRtp  *domain.RtpCapabilities
	nativeSctp *domain.SctpCapabilities
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{receiveErrByID: map[string]error{}}
}

func (a *fakeAdapter) factory() ports.AdapterFactory {
	return func(*zap.SugaredLogger) ports.EngineAdapter { return a }
}

func (a *fakeAdapter) record(call string) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()
}

func (a *fakeAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *fakeAdapter) Listener() ports.AdapterListener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listener
}

func (a *fakeAdapter) Run(ctx context.Context, options ports.RunOptions) error {
	a.record("Run")
	a.mu.Lock()
	a.listener = options.Listener
	a.mu.Unlock()
	return a.runErr
}

func (a *fakeAdapter) Send(ctx context.Context, requests []ports.SendRequest) ([]ports.SendResult, error) {
	a.record("Send")
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	results := make([]ports.SendResult, 0, len(requests))
	for range requests {
		a.mu.Lock()
		a.nextLocalID++
		localID := fmt.Sprintf("send-%d", a.nextLocalID)
		a.mu.Unlock()

		rtp := validRtpParameters()
		if a.sendRtp != nil {
			rtp = a.sendRtp()
		}
		results = append(results, ports.SendResult{LocalID: localID, RtpParameters: rtp})
	}
	return results, nil
}

func (a *fakeAdapter) StopSending(ctx context.Context, localIDs ...string) error {
	a.record("StopSending " + localIDs[0])
	return nil
}

func (a *fakeAdapter) PauseSending(ctx context.Context, localIDs ...string) error {
	a.record("PauseSending")
	return nil
}

func (a *fakeAdapter) ResumeSending(ctx context.Context, localIDs ...string) error {
	a.record("ResumeSending")
	return nil
}

func (a *fakeAdapter) ReplaceSource(ctx context.Context, localID string, source ports.MediaSource) error {
	a.record("ReplaceSource")
	return nil
}

func (a *fakeAdapter) SetMaxSpatialLayer(ctx context.Context, localID string, spatialLayer int) error {
	a.record("SetMaxSpatialLayer")
	return nil
}

func (a *fakeAdapter) SetRtpEncodingParameters(ctx context.Context, localID string, params *domain.RtpEncodingParameters) error {
	a.record("SetRtpEncodingParameters")
	return nil
}

func (a *fakeAdapter) GetSenderStats(ctx context.Context, localID string) (*domain.StreamStats, error) {
	a.record("GetSenderStats")
	return &domain.StreamStats{}, nil
}

func (a *fakeAdapter) SendDataChannel(ctx context.Context, params *domain.SctpStreamParameters, label, protocol string) (*ports.DataChannelResult, error) {
	a.record("SendDataChannel")
	return &ports.DataChannelResult{
		Channel:              &fakeChannel{label: label, protocol: protocol},
		SctpStreamParameters: params.Clone(),
	}, nil
}

func (a *fakeAdapter) Receive(ctx context.Context, requests []ports.ReceiveRequest) ([]ports.ReceiveResult, error) {
	results := make([]ports.ReceiveResult, 0, len(requests))
	for _, request := range requests {
		a.record("Receive " + request.TrackID)
		if err := a.receiveErrByID[request.TrackID]; err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.nextLocalID++
		localID := fmt.Sprintf("recv-%d", a.nextLocalID)
		a.mu.Unlock()

		results = append(results, ports.ReceiveResult{
			LocalID: localID,
			Source:  newFakeSource(request.TrackID, request.Kind),
		})
	}
	return results, nil
}

func (a *fakeAdapter) StopReceiving(ctx context.Context, localIDs ...string) error {
	a.record("StopReceiving " + localIDs[0])
	return nil
}

func (a *fakeAdapter) PauseReceiving(ctx context.Context, localIDs ...string) error {
	a.record("PauseReceiving")
	return nil
}

func (a *fakeAdapter) ResumeReceiving(ctx context.Context, localIDs ...string) error {
	a.record("ResumeReceiving")
	return nil
}

func (a *fakeAdapter) GetReceiverStats(ctx context.Context, localID string) (*domain.StreamStats, error) {
	a.record("GetReceiverStats")
	return &domain.StreamStats{}, nil
}

func (a *fakeAdapter) ReceiveDataChannel(ctx context.Context, params *domain.SctpStreamParameters, label, protocol string) (*ports.DataChannelResult, error) {
	a.record("ReceiveDataChannel")
	return &ports.DataChannelResult{
		Channel:              &fakeChannel{label: label, protocol: protocol},
		SctpStreamParameters: params.Clone(),
	}, nil
}

func (a *fakeAdapter) GetTransportStats(ctx context.Context) (*domain.TransportStats, error) {
	a.record("GetTransportStats")
	return &domain.TransportStats{}, nil
}

func (a *fakeAdapter) RestartIce(ctx context.Context, iceParameters *domain.IceParameters) error {
	a.record("RestartIce")
	return nil
}

func (a *fakeAdapter) UpdateIceServers(ctx context.Context, iceServers []domain.IceServer) error {
	a.record("UpdateIceServers")
	return nil
}

func (a *fakeAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

func (a *fakeAdapter) NativeRtpCapabilities(ctx context.Context) (*domain.RtpCapabilities, error) {
	if a.nativeRtp == nil {
		return fullCapabilities(), nil
	}
	return a.nativeRtp, nil
}

func (a *fakeAdapter) NativeSctpCapabilities(ctx context.Context) (*domain.SctpCapabilities, error) {
	if a.nativeSctp == nil {
		return &domain.SctpCapabilities{NumStreams: domain.NumSctpStreams{OS: 1024, MIS: 1024}}, nil
	}
	return a.nativeSctp, nil
}

func validRtpParameters() *domain.RtpParameters {
	return &domain.RtpParameters{
		Mid: "0",
		Codecs: []*domain.RtpCodecParameters{
			{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000},
		},
		HeaderExtensions: []*domain.RtpHeaderExtensionParams{
			{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 1},
		},
		Encodings: []*domain.RtpEncodingParameters{{Ssrc: 11111111}},
	}
}

func validAudioRtpParameters() *domain.RtpParameters {
	return &domain.RtpParameters{
		Mid: "1",
		Codecs: []*domain.RtpCodecParameters{
			{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
		},
		Encodings: []*domain.RtpEncodingParameters{{Ssrc: 22222222}},
	}
}

func fullCapabilities() *domain.RtpCapabilities {
	return &domain.RtpCapabilities{
		Codecs: []*domain.RtpCodecCapability{
			{Kind: domain.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000, PreferredPayloadType: 101},
			{Kind: domain.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PreferredPayloadType: 111},
		},
		HeaderExtensions: []*domain.RtpHeaderExtension{
			{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
		},
	}
}

func testTransportOptions(adapter *fakeAdapter) TransportOptions {
	return TransportOptions{
		ID:            "transport-1",
		IceParameters: &domain.IceParameters{UsernameFragment: "ufrag", Password: "pwd"},
		DtlsParameters: &domain.DtlsParameters{
			Role: domain.DtlsRoleAuto,
			Fingerprints: []domain.DtlsFingerprint{
				{Algorithm: "sha-256", Value: "aa:bb"},
			},
		},
		SctpParameters: &domain.SctpParameters{
			Port:           5000,
			OS:             1024,
			MIS:            1024,
			MaxMessageSize: 262144,
		},
		RtpCapabilities: fullCapabilities(),
		CanProduceByKind: map[domain.MediaKind]bool{
			domain.MediaKindAudio: true,
			domain.MediaKindVideo: true,
		},
		AdapterFactory: adapter.factory(),
	}
}

// drainQueue waits for everything queued so far to settle.
func drainQueue(t *Transport) {
	t.enqueue(context.Background(), "drain", func(context.Context) (interface{}, error) {
		return nil, nil
	})
}
