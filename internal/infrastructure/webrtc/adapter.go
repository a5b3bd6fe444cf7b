// Package webrtc implements the engine adapter on top of pion. The transport
// core drives it exclusively through ports.EngineAdapter and serializes every
// call, so no internal locking is needed around negotiation; the mutex only
// guards state shared with pion callbacks and the stat readers.
package webrtc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const trackArrivalTimeout = 10 * time.Second

// Config carries the engine-level settings shared by every adapter built
// from one factory.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// NewAdapterFactory builds the factory the transport core consumes.
func NewAdapterFactory(config Config) ports.AdapterFactory {
	return func(logger *zap.SugaredLogger) ports.EngineAdapter {
		if logger == nil {
			logger = zap.NewNop().Sugar()
		}
		return &Adapter{
			config:      config,
			logger:      logger,
			sendTracks:  make(map[string]webrtc.TrackLocal),
			senders:     make(map[string]*webrtc.RTPSender),
			receivers:   make(map[string]*remoteSource),
			arrivals:    make(map[uint32]chan *trackArrival),
			streamStats: make(map[string]*domain.StreamStats),
		}
	}
}

// Adapter drives one pion peer connection.
type Adapter struct {
	config Config
	logger *zap.SugaredLogger

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	listener  ports.AdapterListener
	remoteSdp *RemoteSdp
	direction domain.Direction

	connectSignaled bool
	nextMid         int
	sctpAnnounced   bool
	closed          bool

	sendTracks map[string]webrtc.TrackLocal
	senders    map[string]*webrtc.RTPSender
	receivers  map[string]*remoteSource

	// arrivals routes OnTrack callbacks to the pending Receive call, keyed
	// by the expected SSRC.
	arrivals map[uint32]chan *trackArrival

	streamStats map[string]*domain.StreamStats

	lastStats     *domain.TransportStats
	lastStatsTime time.Time
}

type trackArrival struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

// Run arms the peer connection with the negotiated parameter bundle.
func (a *Adapter) Run(ctx context.Context, options ports.RunOptions) error {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("registering codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if a.config.PortRange.Min > 0 && a.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(a.config.PortRange.Min, a.config.PortRange.Max); err != nil {
			return fmt.Errorf("setting port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	iceServers := a.config.ICEServers
	for _, server := range options.IceServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	a.mu.Lock()
	a.pc = pc
	a.listener = options.Listener
	a.direction = options.Direction
	a.remoteSdp = NewRemoteSdp(options.IceParameters, options.IceCandidates,
		options.DtlsParameters, options.SctpParameters)
	a.mu.Unlock()

	pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		options.Listener.OnIceGatheringStateChange(mapGatheringState(state))
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		options.Listener.OnConnectionStateChange(mapConnectionState(state))
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		a.handleTrack(track, receiver)
	})

	a.logger.Debugw("engine adapter armed", "direction", options.Direction)
	return nil
}

// Send starts sending the requested sources and reports the negotiated
// parameters per stream.
func (a *Adapter) Send(ctx context.Context, requests []ports.SendRequest) ([]ports.SendResult, error) {
	pc, remoteSdp, err := a.session()
	if err != nil {
		return nil, err
	}

	type added struct {
		request     ports.SendRequest
		transceiver *webrtc.RTPTransceiver
	}
	addedList := make([]added, 0, len(requests))
	for _, request := range requests {
		provider, ok := request.Source.(TrackProvider)
		if !ok {
			return nil, fmt.Errorf("media source %s does not expose a local track", request.Source.ID())
		}
		transceiver, err := pc.AddTransceiverFromTrack(provider.TrackLocal(),
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly})
		if err != nil {
			return nil, fmt.Errorf("adding track %s: %w", request.Source.ID(), err)
		}
		addedList = append(addedList, added{request: request, transceiver: transceiver})
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("applying local offer: %w", err)
	}
	if err := a.signalConnect(ctx); err != nil {
		return nil, err
	}

	results := make([]ports.SendResult, 0, len(addedList))
	for _, item := range addedList {
		mid := item.transceiver.Mid()
		sender := item.transceiver.Sender()
		params := convertSendParameters(mid, sender.GetParameters())

		remoteSdp.Send(params, item.request.Source.Kind())

		a.mu.Lock()
		a.senders[mid] = sender
		a.sendTracks[mid] = sender.Track()
		a.mu.Unlock()

		go a.readSenderReports(mid, item.request.Source.Kind(), sender)
		results = append(results, ports.SendResult{LocalID: mid, RtpParameters: params})
	}

	answer, err := remoteSdp.Marshal()
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return nil, fmt.Errorf("applying remote answer: %w", err)
	}

	return results, nil
}

// StopSending tears the given send streams down and renegotiates.
func (a *Adapter) StopSending(ctx context.Context, localIDs ...string) error {
	pc, remoteSdp, err := a.session()
	if err != nil {
		return err
	}

	for _, localID := range localIDs {
		a.mu.Lock()
		sender, ok := a.senders[localID]
		delete(a.senders, localID)
		delete(a.sendTracks, localID)
		delete(a.streamStats, localID)
		a.mu.Unlock()
		if !ok {
			return fmt.Errorf("unknown send stream %s", localID)
		}
		if err := sender.Stop(); err != nil {
			a.logger.Warnw("failed to stop sender", "local_id", localID, "error", err)
		}
		remoteSdp.CloseMediaSection(localID)
	}

	return a.renegotiateAsOfferer(pc, remoteSdp)
}

// PauseSending detaches the local track so nothing is emitted.
func (a *Adapter) PauseSending(ctx context.Context, localIDs ...string) error {
	for _, localID := range localIDs {
		sender, err := a.sender(localID)
		if err != nil {
			return err
		}
		if err := sender.ReplaceTrack(nil); err != nil {
			return fmt.Errorf("pausing %s: %w", localID, err)
		}
	}
	return nil
}

// ResumeSending reattaches the last known local track.
func (a *Adapter) ResumeSending(ctx context.Context, localIDs ...string) error {
	for _, localID := range localIDs {
		sender, err := a.sender(localID)
		if err != nil {
			return err
		}
		a.mu.Lock()
		track := a.sendTracks[localID]
		a.mu.Unlock()
		if track == nil {
			return fmt.Errorf("no track recorded for %s", localID)
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("resuming %s: %w", localID, err)
		}
	}
	return nil
}

// ReplaceSource swaps the track being sent without renegotiating.
func (a *Adapter) ReplaceSource(ctx context.Context, localID string, source ports.MediaSource) error {
	provider, ok := source.(TrackProvider)
	if !ok {
		return fmt.Errorf("media source %s does not expose a local track", source.ID())
	}
	sender, err := a.sender(localID)
	if err != nil {
		return err
	}
	if err := sender.ReplaceTrack(provider.TrackLocal()); err != nil {
		return fmt.Errorf("replacing track for %s: %w", localID, err)
	}
	a.mu.Lock()
	a.sendTracks[localID] = provider.TrackLocal()
	a.mu.Unlock()
	return nil
}

// SetMaxSpatialLayer records the requested cap. Synthetic single-encoding
// sources have no layers to drop, so this is bookkeeping only.
func (a *Adapter) SetMaxSpatialLayer(ctx context.Context, localID string, spatialLayer int) error {
	if _, err := a.sender(localID); err != nil {
		return err
	}
	a.logger.Debugw("spatial layer cap recorded", "local_id", localID, "layer", spatialLayer)
	return nil
}

// SetRtpEncodingParameters records live encoding updates.
func (a *Adapter) SetRtpEncodingParameters(ctx context.Context, localID string, params *domain.RtpEncodingParameters) error {
	if _, err := a.sender(localID); err != nil {
		return err
	}
	a.logger.Debugw("encoding update recorded", "local_id", localID)
	return nil
}

// GetSenderStats reports the RTCP-derived view of one send stream.
func (a *Adapter) GetSenderStats(ctx context.Context, localID string) (*domain.StreamStats, error) {
	return a.statsFor(localID)
}

// SendDataChannel opens an outgoing data channel.
func (a *Adapter) SendDataChannel(ctx context.Context, params *domain.SctpStreamParameters, label, protocol string) (*ports.DataChannelResult, error) {
	pc, remoteSdp, err := a.session()
	if err != nil {
		return nil, err
	}

	init := &webrtc.DataChannelInit{Ordered: params.Ordered}
	if params.MaxPacketLifeTime > 0 {
		lifetime := params.MaxPacketLifeTime
		init.MaxPacketLifeTime = &lifetime
	}
	if params.MaxRetransmits > 0 {
		retransmits := params.MaxRetransmits
		init.MaxRetransmits = &retransmits
	}
	if protocol != "" {
		init.Protocol = &protocol
	}

	channel, err := pc.CreateDataChannel(label, init)
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}

	a.mu.Lock()
	firstChannel := !a.sctpAnnounced
	if firstChannel {
		a.sctpAnnounced = true
		mid := strconv.Itoa(a.nextMid)
		a.nextMid++
		remoteSdp.SendSctpAssociation(mid)
	}
	a.mu.Unlock()

	// The first channel brings the SCTP association up, which needs a
	// negotiation round.
	if firstChannel {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return nil, fmt.Errorf("creating offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return nil, fmt.Errorf("applying local offer: %w", err)
		}
		if err := a.signalConnect(ctx); err != nil {
			return nil, err
		}
		answer, err := remoteSdp.Marshal()
		if err != nil {
			return nil, err
		}
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  answer,
		}); err != nil {
			return nil, fmt.Errorf("applying remote answer: %w", err)
		}
	}

	result := params.Clone()
	if id := channel.ID(); id != nil {
		result.StreamId = *id
	}
	return &ports.DataChannelResult{
		Channel:              &dataChannel{dc: channel},
		SctpStreamParameters: result,
	}, nil
}

// Receive starts receiving the described remote streams.
func (a *Adapter) Receive(ctx context.Context, requests []ports.ReceiveRequest) ([]ports.ReceiveResult, error) {
	pc, remoteSdp, err := a.session()
	if err != nil {
		return nil, err
	}

	type pending struct {
		request ports.ReceiveRequest
		mid     string
		ssrc    uint32
		arrival chan *trackArrival
	}
	pendingList := make([]pending, 0, len(requests))

	for _, request := range requests {
		mid := request.RtpParameters.Mid
		if mid == "" {
			a.mu.Lock()
			mid = strconv.Itoa(a.nextMid)
			a.nextMid++
			a.mu.Unlock()
		}
		var ssrc uint32
		if len(request.RtpParameters.Encodings) > 0 {
			ssrc = request.RtpParameters.Encodings[0].Ssrc
		}

		arrival := make(chan *trackArrival, 1)
		a.mu.Lock()
		a.arrivals[ssrc] = arrival
		a.mu.Unlock()

		streamID := request.StreamID
		if streamID == "" {
			streamID = request.TrackID
		}
		remoteSdp.Receive(mid, request.Kind, request.RtpParameters, streamID, request.TrackID)
		pendingList = append(pendingList, pending{request: request, mid: mid, ssrc: ssrc, arrival: arrival})
	}

	offer, err := remoteSdp.Marshal()
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return nil, fmt.Errorf("applying remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("applying local answer: %w", err)
	}
	if err := a.signalConnect(ctx); err != nil {
		return nil, err
	}

	results := make([]ports.ReceiveResult, 0, len(pendingList))
	for _, item := range pendingList {
		timer := time.NewTimer(trackArrivalTimeout)
		select {
		case arrival := <-item.arrival:
			timer.Stop()
			source := newRemoteSource(item.request.TrackID, item.request.Kind, arrival.track, arrival.receiver)
			a.mu.Lock()
			a.receivers[item.mid] = source
			delete(a.arrivals, item.ssrc)
			a.mu.Unlock()

			go a.readReceiverStats(item.mid, item.request.Kind, source)
			results = append(results, ports.ReceiveResult{LocalID: item.mid, Source: source})
		case <-timer.C:
			a.dropArrival(item.ssrc)
			return nil, fmt.Errorf("no media arrived for track %s within %s", item.request.TrackID, trackArrivalTimeout)
		case <-ctx.Done():
			timer.Stop()
			a.dropArrival(item.ssrc)
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// StopReceiving tears the given receive streams down and renegotiates.
func (a *Adapter) StopReceiving(ctx context.Context, localIDs ...string) error {
	pc, remoteSdp, err := a.session()
	if err != nil {
		return err
	}

	for _, localID := range localIDs {
		a.mu.Lock()
		source, ok := a.receivers[localID]
		delete(a.receivers, localID)
		delete(a.streamStats, localID)
		a.mu.Unlock()
		if !ok {
			return fmt.Errorf("unknown receive stream %s", localID)
		}
		source.Stop()
		remoteSdp.CloseMediaSection(localID)
	}

	offer, err := remoteSdp.Marshal()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return fmt.Errorf("applying remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	return pc.SetLocalDescription(answer)
}

// PauseReceiving mutes local delivery of the given streams.
func (a *Adapter) PauseReceiving(ctx context.Context, localIDs ...string) error {
	return a.setReceiversPaused(localIDs, true)
}

// ResumeReceiving restores local delivery of the given streams.
func (a *Adapter) ResumeReceiving(ctx context.Context, localIDs ...string) error {
	return a.setReceiversPaused(localIDs, false)
}

func (a *Adapter) setReceiversPaused(localIDs []string, paused bool) error {
	for _, localID := range localIDs {
		a.mu.Lock()
		source, ok := a.receivers[localID]
		a.mu.Unlock()
		if !ok {
			return fmt.Errorf("unknown receive stream %s", localID)
		}
		source.setPaused(paused)
	}
	return nil
}

// GetReceiverStats reports the view of one receive stream.
func (a *Adapter) GetReceiverStats(ctx context.Context, localID string) (*domain.StreamStats, error) {
	return a.statsFor(localID)
}

// ReceiveDataChannel attaches to a remotely announced data channel using
// out-of-band negotiation on the announced stream id.
func (a *Adapter) ReceiveDataChannel(ctx context.Context, params *domain.SctpStreamParameters, label, protocol string) (*ports.DataChannelResult, error) {
	pc, _, err := a.session()
	if err != nil {
		return nil, err
	}

	negotiated := true
	streamID := params.StreamId
	init := &webrtc.DataChannelInit{
		Ordered:    params.Ordered,
		Negotiated: &negotiated,
		ID:         &streamID,
	}
	if params.MaxPacketLifeTime > 0 {
		lifetime := params.MaxPacketLifeTime
		init.MaxPacketLifeTime = &lifetime
	}
	if params.MaxRetransmits > 0 {
		retransmits := params.MaxRetransmits
		init.MaxRetransmits = &retransmits
	}
	if protocol != "" {
		init.Protocol = &protocol
	}

	channel, err := pc.CreateDataChannel(label, init)
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	return &ports.DataChannelResult{
		Channel:              &dataChannel{dc: channel},
		SctpStreamParameters: params.Clone(),
	}, nil
}

// GetTransportStats samples the peer connection level counters.
func (a *Adapter) GetTransportStats(ctx context.Context) (*domain.TransportStats, error) {
	a.mu.Lock()
	pc := a.pc
	last := a.lastStats
	lastTime := a.lastStatsTime
	a.mu.Unlock()
	if pc == nil {
		return nil, fmt.Errorf("adapter not running")
	}

	stats := &domain.TransportStats{
		Timestamp: time.Now(),
		IceState:  pc.ICEConnectionState().String(),
		DtlsState: pc.ConnectionState().String(),
	}

	report := pc.GetStats()
	for _, entry := range report {
		switch s := entry.(type) {
		case webrtc.TransportStats:
			stats.BytesSent += s.BytesSent
			stats.BytesReceived += s.BytesReceived
		case webrtc.ICECandidatePairStats:
			if s.Nominated {
				stats.SelectedPair = s.LocalCandidateID + " -> " + s.RemoteCandidateID
			}
		}
	}

	if last != nil {
		elapsed := stats.Timestamp.Sub(lastTime).Seconds()
		if elapsed > 0 {
			stats.SendBitrate = uint32(float64(stats.BytesSent-last.BytesSent) * 8 / elapsed)
			stats.RecvBitrate = uint32(float64(stats.BytesReceived-last.BytesReceived) * 8 / elapsed)
		}
	}

	a.mu.Lock()
	a.lastStats = stats
	a.lastStatsTime = stats.Timestamp
	a.mu.Unlock()
	return stats, nil
}

// RestartIce applies fresh remote connectivity credentials.
func (a *Adapter) RestartIce(ctx context.Context, iceParameters *domain.IceParameters) error {
	pc, remoteSdp, err := a.session()
	if err != nil {
		return err
	}
	remoteSdp.UpdateIceParameters(iceParameters)

	a.mu.Lock()
	direction := a.direction
	a.mu.Unlock()

	if direction == domain.DirectionSend {
		offer, err := pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
		if err != nil {
			return fmt.Errorf("creating restart offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("applying restart offer: %w", err)
		}
		answer, err := remoteSdp.Marshal()
		if err != nil {
			return err
		}
		return pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  answer,
		})
	}

	offer, err := remoteSdp.Marshal()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return fmt.Errorf("applying restart offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating restart answer: %w", err)
	}
	return pc.SetLocalDescription(answer)
}

// UpdateIceServers records the replacement set. Pion cannot swap servers on
// a live connection; the new set applies from the next full gathering cycle.
func (a *Adapter) UpdateIceServers(ctx context.Context, iceServers []domain.IceServer) error {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, server := range iceServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	a.mu.Lock()
	a.config.ICEServers = servers
	a.mu.Unlock()
	a.logger.Debugw("ice servers updated", "count", len(servers))
	return nil
}

// Close releases the peer connection.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	pc := a.pc
	a.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			a.logger.Warnw("failed to close peer connection", "error", err)
		}
	}
}

// NativeRtpCapabilities probes pion's default codec and extension set by
// offering from a throwaway peer connection.
func (a *Adapter) NativeRtpCapabilities(ctx context.Context) (*domain.RtpCapabilities, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("creating probe connection: %w", err)
	}
	defer pc.Close()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating probe offer: %w", err)
	}
	return parseCapabilities(offer.SDP)
}

// NativeSctpCapabilities reports pion's SCTP stream limits.
func (a *Adapter) NativeSctpCapabilities(ctx context.Context) (*domain.SctpCapabilities, error) {
	return &domain.SctpCapabilities{
		NumStreams: domain.NumSctpStreams{OS: 1024, MIS: 1024},
	}, nil
}

func (a *Adapter) session() (*webrtc.PeerConnection, *RemoteSdp, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pc == nil || a.remoteSdp == nil {
		return nil, nil, fmt.Errorf("adapter not running")
	}
	if a.closed {
		return nil, nil, fmt.Errorf("adapter closed")
	}
	return a.pc, a.remoteSdp, nil
}

func (a *Adapter) sender(localID string) (*webrtc.RTPSender, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sender, ok := a.senders[localID]
	if !ok {
		return nil, fmt.Errorf("unknown send stream %s", localID)
	}
	return sender, nil
}

// signalConnect raises the one-time connect-authorization request with the
// local security parameters extracted from the local description.
func (a *Adapter) signalConnect(ctx context.Context) error {
	a.mu.Lock()
	if a.connectSignaled {
		a.mu.Unlock()
		return nil
	}
	pc := a.pc
	listener := a.listener
	a.mu.Unlock()

	local := pc.LocalDescription()
	if local == nil {
		return fmt.Errorf("no local description to extract security parameters from")
	}
	dtlsParameters, err := extractDtlsParameters(local.SDP)
	if err != nil {
		return err
	}
	if err := listener.OnConnect(ctx, dtlsParameters); err != nil {
		return fmt.Errorf("connect denied: %w", err)
	}

	a.mu.Lock()
	a.connectSignaled = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) renegotiateAsOfferer(pc *webrtc.PeerConnection, remoteSdp *RemoteSdp) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("applying local offer: %w", err)
	}
	answer, err := remoteSdp.Marshal()
	if err != nil {
		return err
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	})
}

func (a *Adapter) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	ssrc := uint32(track.SSRC())
	a.mu.Lock()
	arrival, ok := a.arrivals[ssrc]
	a.mu.Unlock()
	if !ok {
		a.logger.Warnw("unexpected track", "ssrc", ssrc, "id", track.ID())
		return
	}
	arrival <- &trackArrival{track: track, receiver: receiver}
}

func (a *Adapter) dropArrival(ssrc uint32) {
	a.mu.Lock()
	delete(a.arrivals, ssrc)
	a.mu.Unlock()
}

func (a *Adapter) statsFor(localID string) (*domain.StreamStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats, ok := a.streamStats[localID]
	if !ok {
		return &domain.StreamStats{Timestamp: time.Now()}, nil
	}
	out := *stats
	out.Timestamp = time.Now()
	return &out, nil
}

// readSenderReports folds incoming receiver reports into the send stream's
// stat entry until the sender stops.
func (a *Adapter) readSenderReports(localID string, kind domain.MediaKind, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, reception := range report.Reports {
				a.mu.Lock()
				entry := a.streamStats[localID]
				if entry == nil {
					entry = &domain.StreamStats{Kind: kind, Ssrc: reception.SSRC}
					a.streamStats[localID] = entry
				}
				entry.PacketsLost = uint64(reception.TotalLost)
				entry.Jitter = time.Duration(reception.Jitter) * time.Millisecond
				if reception.LastSenderReport != 0 && reception.Delay != 0 {
					entry.RoundTrip = time.Duration(reception.Delay) * time.Second / 65536
				}
				a.mu.Unlock()
			}
		}
	}
}

// readReceiverStats counts the packets flowing through one remote source.
func (a *Adapter) readReceiverStats(localID string, kind domain.MediaKind, source *remoteSource) {
	for {
		size, err := source.readPacket()
		if err != nil {
			return
		}
		a.mu.Lock()
		entry := a.streamStats[localID]
		if entry == nil {
			entry = &domain.StreamStats{Kind: kind, Ssrc: source.ssrc}
			a.streamStats[localID] = entry
		}
		entry.Packets++
		entry.Bytes += uint64(size)
		a.mu.Unlock()
	}
}

func mapGatheringState(state webrtc.ICEGathererState) domain.IceGatheringState {
	switch state {
	case webrtc.ICEGathererStateGathering:
		return domain.IceGatheringStateGathering
	case webrtc.ICEGathererStateComplete:
		return domain.IceGatheringStateComplete
	default:
		return domain.IceGatheringStateNew
	}
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionStateClosed
	default:
		return domain.ConnectionStateNew
	}
}

// convertSendParameters maps pion's negotiated sender parameters into the
// wire-level parameter model.
func convertSendParameters(mid string, params webrtc.RTPSendParameters) *domain.RtpParameters {
	out := &domain.RtpParameters{Mid: mid}

	for _, codec := range params.Codecs {
		converted := &domain.RtpCodecParameters{
			MimeType:    codec.MimeType,
			PayloadType: uint8(codec.PayloadType),
			ClockRate:   codec.ClockRate,
			Channels:    uint8(codec.Channels),
			Parameters:  parseFmtp(codec.SDPFmtpLine),
		}
		for _, fb := range codec.RTCPFeedback {
			converted.RtcpFeedback = append(converted.RtcpFeedback, &domain.RtcpFeedback{
				Type:      fb.Type,
				Parameter: fb.Parameter,
			})
		}
		out.Codecs = append(out.Codecs, converted)
	}

	for _, ext := range params.HeaderExtensions {
		out.HeaderExtensions = append(out.HeaderExtensions, &domain.RtpHeaderExtensionParams{
			URI: ext.URI,
			ID:  uint8(ext.ID),
		})
	}

	for _, encoding := range params.Encodings {
		out.Encodings = append(out.Encodings, &domain.RtpEncodingParameters{
			Ssrc: uint32(encoding.SSRC),
			Rid:  encoding.RID,
		})
	}

	return out
}

func parseFmtp(line string) map[string]interface{} {
	params := map[string]interface{}{}
	if line == "" {
		return params
	}
	for _, pair := range strings.Split(line, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			params[pair[:idx]] = pair[idx+1:]
		} else {
			params[pair] = ""
		}
	}
	return params
}

// parseCapabilities reads the codec and extension set out of a probe offer.
func parseCapabilities(rawSdp string) (*domain.RtpCapabilities, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(rawSdp)); err != nil {
		return nil, fmt.Errorf("parsing probe offer: %w", err)
	}

	caps := &domain.RtpCapabilities{}
	seenExt := map[string]bool{}

	for _, media := range desc.MediaDescriptions {
		var kind domain.MediaKind
		switch media.MediaName.Media {
		case "audio":
			kind = domain.MediaKindAudio
		case "video":
			kind = domain.MediaKindVideo
		default:
			continue
		}

		fmtpByPayload := map[string]string{}
		feedbackByPayload := map[string][]*domain.RtcpFeedback{}
		for _, attr := range media.Attributes {
			switch attr.Key {
			case "fmtp":
				if parts := strings.SplitN(attr.Value, " ", 2); len(parts) == 2 {
					fmtpByPayload[parts[0]] = parts[1]
				}
			case "rtcp-fb":
				parts := strings.SplitN(attr.Value, " ", 3)
				if len(parts) < 2 {
					continue
				}
				fb := &domain.RtcpFeedback{Type: parts[1]}
				if len(parts) == 3 {
					fb.Parameter = parts[2]
				}
				feedbackByPayload[parts[0]] = append(feedbackByPayload[parts[0]], fb)
			}
		}

		for _, attr := range media.Attributes {
			switch attr.Key {
			case "rtpmap":
				parts := strings.SplitN(attr.Value, " ", 2)
				if len(parts) != 2 {
					continue
				}
				payload := parts[0]
				spec := strings.Split(parts[1], "/")
				if len(spec) < 2 {
					continue
				}
				clockRate, err := strconv.ParseUint(spec[1], 10, 32)
				if err != nil {
					continue
				}
				codec := &domain.RtpCodecCapability{
					Kind:         kind,
					MimeType:     string(kind) + "/" + spec[0],
					ClockRate:    uint32(clockRate),
					RtcpFeedback: feedbackByPayload[payload],
				}
				if pt, err := strconv.ParseUint(payload, 10, 8); err == nil {
					codec.PreferredPayloadType = uint8(pt)
				}
				if len(spec) == 3 {
					if channels, err := strconv.ParseUint(spec[2], 10, 8); err == nil {
						codec.Channels = uint8(channels)
					}
				}
				if fmtp := fmtpByPayload[payload]; fmtp != "" {
					codec.Parameters = parseFmtp(fmtp)
				}
				caps.Codecs = append(caps.Codecs, codec)
			case "extmap":
				parts := strings.SplitN(attr.Value, " ", 2)
				if len(parts) != 2 {
					continue
				}
				key := string(kind) + "|" + parts[1]
				if seenExt[key] {
					continue
				}
				seenExt[key] = true
				ext := &domain.RtpHeaderExtension{Kind: kind, URI: parts[1]}
				if id, err := strconv.ParseUint(parts[0], 10, 8); err == nil {
					ext.PreferredID = uint8(id)
				}
				caps.HeaderExtensions = append(caps.HeaderExtensions, ext)
			}
		}
	}
	return caps, nil
}

// dataChannel adapts pion's data channel to the boundary contract.
type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string    { return d.dc.Label() }
func (d *dataChannel) Protocol() string { return d.dc.Protocol() }

func (d *dataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}

// remoteSource wraps a remote track as a media source handle.
type remoteSource struct {
	id   string
	kind domain.MediaKind
	ssrc uint32

	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver

	mu      sync.Mutex
	ended   bool
	paused  bool
	stopped bool
}

func newRemoteSource(id string, kind domain.MediaKind, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *remoteSource {
	return &remoteSource{
		id:       id,
		kind:     kind,
		ssrc:     uint32(track.SSRC()),
		track:    track,
		receiver: receiver,
	}
}

func (s *remoteSource) ID() string             { return s.id }
func (s *remoteSource) Kind() domain.MediaKind { return s.kind }

func (s *remoteSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *remoteSource) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.ended = true
	s.mu.Unlock()
	s.receiver.Stop()
}

func (s *remoteSource) setPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// readPacket pulls one RTP packet off the track, reporting its size.
// Paused sources still drain the socket so sequence state stays intact.
func (s *remoteSource) readPacket() (int, error) {
	packet, _, err := s.track.ReadRTP()
	if err != nil {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		return 0, err
	}
	return packet.MarshalSize(), nil
}
