// Package ports declares the boundary contracts between the transport core
// and its external collaborators. The engine adapter is the per-engine
// implementation that performs actual connectivity and media operations; the
// core only talks to it through the EngineAdapter interface and never
// concurrently (its command queue serializes every call).
package ports

import (
	"context"

	"rtcclient/internal/core/domain"

	"go.uber.org/zap"
)

// MediaSource is a caller-supplied producible media source (or, on the
// receiving side, the handle of a remote stream surfaced by the adapter).
type MediaSource interface {
	ID() string
	Kind() domain.MediaKind
	// Ended reports whether the source stopped delivering media for good.
	Ended() bool
	// Stop permanently releases the source. Idempotent.
	Stop()
}

// EnablableSource is implemented by media sources that can be muted in
// place. Producers use it to silence the source while paused.
type EnablableSource interface {
	SetEnabled(enabled bool)
}

// DataChannel is the handle of one auxiliary data stream created by the
// adapter.
type DataChannel interface {
	Label() string
	Protocol() string
	Send(data []byte) error
	Close() error
}

// AdapterListener receives the three outbound notifications an engine
// adapter raises toward the core. OnConnect is the connect-authorization
// request: the core approves by returning nil and denies with an error; it
// always denies once the transport has closed.
type AdapterListener interface {
	OnConnect(ctx context.Context, dtlsParameters *domain.DtlsParameters) error
	OnIceGatheringStateChange(state domain.IceGatheringState)
	OnConnectionStateChange(state domain.ConnectionState)
}

// RunOptions is the full negotiated parameter bundle the adapter is started
// with.
type RunOptions struct {
	Direction      domain.Direction
	IceParameters  *domain.IceParameters
	IceCandidates  []*domain.IceCandidate
	DtlsParameters *domain.DtlsParameters
	SctpParameters *domain.SctpParameters
	IceServers     []domain.IceServer
	RtpCapabilities *domain.RtpCapabilities
	Listener       AdapterListener
}

// SendRequest asks the adapter to begin sending one media source.
// ZeroOnPause asks the engine to keep emitting zeroed media while the
// stream is paused instead of going silent.
type SendRequest struct {
	Source       MediaSource
	Encodings    []*domain.RtpEncodingParameters
	CodecOptions *domain.ProducerCodecOptions
	Codec        *domain.RtpCodecParameters
	ZeroOnPause  bool
}

// SendResult is the adapter's answer to one SendRequest. LocalID keys every
// later per-stream operation; RtpParameters is validated by the core before
// the stream is exposed.
type SendResult struct {
	LocalID       string
	RtpParameters *domain.RtpParameters
}

// ReceiveRequest asks the adapter to begin receiving one remote stream.
type ReceiveRequest struct {
	TrackID       string
	Kind          domain.MediaKind
	RtpParameters *domain.RtpParameters
	StreamID      string
}

// ReceiveResult is the adapter's answer to one ReceiveRequest.
type ReceiveResult struct {
	LocalID string
	Source  MediaSource
}

// DataChannelResult is the adapter's answer to a data-channel request.
type DataChannelResult struct {
	Channel              DataChannel
	SctpStreamParameters *domain.SctpStreamParameters
}

// EngineAdapter is the capability surface a pluggable per-engine
// implementation must expose. Implementations may assume calls never
// overlap, except GetTransportStats/GetSenderStats/GetReceiverStats which
// bypass the queue and must tolerate interleaving with an in-flight call.
type EngineAdapter interface {
	// Run arms the adapter with the negotiated parameter bundle. It is the
	// first call the core issues and no other method is called before it
	// returns successfully.
	Run(ctx context.Context, options RunOptions) error

	Send(ctx context.Context, requests []SendRequest) ([]SendResult, error)
	StopSending(ctx context.Context, localIDs ...string) error
	PauseSending(ctx context.Context, localIDs ...string) error
	ResumeSending(ctx context.Context, localIDs ...string) error
	ReplaceSource(ctx context.Context, localID string, source MediaSource) error
	SetMaxSpatialLayer(ctx context.Context, localID string, spatialLayer int) error
	SetRtpEncodingParameters(ctx context.Context, localID string, params *domain.RtpEncodingParameters) error
	GetSenderStats(ctx context.Context, localID string) (*domain.StreamStats, error)
	SendDataChannel(ctx context.Context, params *domain.SctpStreamParameters, label, protocol string) (*DataChannelResult, error)

	Receive(ctx context.Context, requests []ReceiveRequest) ([]ReceiveResult, error)
	StopReceiving(ctx context.Context, localIDs ...string) error
	PauseReceiving(ctx context.Context, localIDs ...string) error
	ResumeReceiving(ctx context.Context, localIDs ...string) error
	GetReceiverStats(ctx context.Context, localID string) (*domain.StreamStats, error)
	ReceiveDataChannel(ctx context.Context, params *domain.SctpStreamParameters, label, protocol string) (*DataChannelResult, error)

	GetTransportStats(ctx context.Context) (*domain.TransportStats, error)
	RestartIce(ctx context.Context, iceParameters *domain.IceParameters) error
	UpdateIceServers(ctx context.Context, iceServers []domain.IceServer) error

	// Close releases every engine resource. It must be safe to call at any
	// point after construction and must never block indefinitely.
	Close()
}

// AdapterFactory builds the engine adapter a transport will own. Injected at
// transport construction so the core never depends on a concrete engine.
type AdapterFactory func(logger *zap.SugaredLogger) EngineAdapter

// NativeCapabilities is implemented by engine adapters that can report the
// engine's own RTP and SCTP capabilities, used by the device during the
// capability-discovery phase.
type NativeCapabilities interface {
	NativeRtpCapabilities(ctx context.Context) (*domain.RtpCapabilities, error)
	NativeSctpCapabilities(ctx context.Context) (*domain.SctpCapabilities, error)
}
