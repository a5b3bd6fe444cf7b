package services

import (
	"context"
	"fmt"
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ortc"
	"rtcclient/internal/core/ports"

	"github.com/google/uuid"
)

// SendTransport is the sending specialization: it produces media and
// auxiliary data streams on top of the transport core.
type SendTransport struct {
	*Transport

	producersMu   sync.Mutex
	producers     map[string]*Producer
	dataProducers map[string]*DataProducer
}

// NewSendTransport constructs a sending transport. The returned transport is
// usable immediately; adapter setup runs as the first queued task.
func NewSendTransport(options TransportOptions) (*SendTransport, error) {
	base, err := newTransport(domain.DirectionSend, options)
	if err != nil {
		return nil, err
	}
	return &SendTransport{
		Transport:     base,
		producers:     make(map[string]*Producer),
		dataProducers: make(map[string]*DataProducer),
	}, nil
}

// ProduceOptions configures one produced media stream.
type ProduceOptions struct {
	Source       ports.MediaSource
	Encodings    []*domain.RtpEncodingParameters
	CodecOptions *domain.ProducerCodecOptions
	Codec        *domain.RtpCodecParameters

	// StopSourceOnFailure (default true) releases the source when the
	// overall operation fails, regardless of the failure's origin.
	StopSourceOnFailure *bool
	// DisableSourceOnPause (default true) disables the source while the
	// producer is paused.
	DisableSourceOnPause *bool
	// ZeroOnPause asks the engine to emit zeroed media instead of nothing
	// while paused.
	ZeroOnPause bool

	AppData domain.AppData
}

type sendOutcome struct {
	localID       string
	rtpParameters *domain.RtpParameters
}

// Produce asks the engine to start sending the given source and returns the
// stream handle once the adapter confirms and the negotiated parameters
// validate.
func (s *SendTransport) Produce(ctx context.Context, options ProduceOptions) (*Producer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if options.Source == nil {
		return nil, fmt.Errorf("missing media source: %w", domain.ErrBadArgument)
	}

	stopOnFailure := orDefault(options.StopSourceOnFailure, true)
	fail := func(err error) (*Producer, error) {
		if stopOnFailure {
			options.Source.Stop()
		}
		return nil, err
	}

	if s.direction != domain.DirectionSend {
		return fail(fmt.Errorf("transport direction is %s: %w", s.direction, domain.ErrUnsupported))
	}
	kind := options.Source.Kind()
	if !s.canProduceByKind[kind] {
		return fail(fmt.Errorf("cannot produce %s: %w", kind, domain.ErrUnsupported))
	}
	if options.Source.Ended() {
		return fail(fmt.Errorf("media source already ended: %w", domain.ErrInvalidState))
	}

	value, err := s.enqueue(ctx, "produce", func(ctx context.Context) (interface{}, error) {
		request := ports.SendRequest{
			Source:       options.Source,
			Encodings:    normalizeEncodings(options.Encodings),
			CodecOptions: options.CodecOptions,
			Codec:        options.Codec,
			ZeroOnPause:  options.ZeroOnPause,
		}
		results, err := s.adapter.Send(ctx, []ports.SendRequest{request})
		if err != nil {
			return nil, err
		}
		if len(results) != 1 {
			return nil, fmt.Errorf("adapter returned %d send results for one request: %w",
				len(results), domain.ErrMalformedParameters)
		}
		result := results[0]
		if err := ortc.ValidateRtpParameters(result.RtpParameters); err != nil {
			// Unwind the half-created send state before surfacing.
			if stopErr := s.adapter.StopSending(ctx, result.LocalID); stopErr != nil {
				s.logger.Warnw("failed to unwind send state", "local_id", result.LocalID, "error", stopErr)
			}
			return nil, err
		}
		return sendOutcome{localID: result.LocalID, rtpParameters: result.RtpParameters}, nil
	})
	if err != nil {
		return fail(err)
	}
	outcome := value.(sendOutcome)

	producer := &Producer{
		id:                   uuid.NewString(),
		localID:              outcome.localID,
		kind:                 kind,
		source:               options.Source,
		rtpParameters:        outcome.rtpParameters,
		stopSourceOnClose:    stopOnFailure,
		disableSourceOnPause: orDefault(options.DisableSourceOnPause, true),
		zeroOnPause:          options.ZeroOnPause,
		appData:              options.AppData,
		transport:            s,
	}

	s.producersMu.Lock()
	s.producers[producer.id] = producer
	s.producersMu.Unlock()

	s.logger.Debugw("producer created", "producer_id", producer.id, "kind", kind)
	return producer, nil
}

// ProduceDataOptions configures one produced auxiliary data stream.
type ProduceDataOptions struct {
	// Ordered defaults to true; it is forced to false when a lifetime or
	// retransmit limit is given.
	Ordered           *bool
	MaxPacketLifeTime uint16
	MaxRetransmits    uint16
	Label             string
	Protocol          string
	AppData           domain.AppData
}

// ProduceData asks the engine to open an auxiliary data stream.
func (s *SendTransport) ProduceData(ctx context.Context, options ProduceDataOptions) (*DataProducer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.direction != domain.DirectionSend {
		return nil, fmt.Errorf("transport direction is %s: %w", s.direction, domain.ErrUnsupported)
	}
	if s.maxSctpMessageSize == 0 {
		return nil, fmt.Errorf("data channels not negotiated: %w", domain.ErrUnsupported)
	}

	params := &domain.SctpStreamParameters{
		Ordered:           options.Ordered,
		MaxPacketLifeTime: options.MaxPacketLifeTime,
		MaxRetransmits:    options.MaxRetransmits,
	}
	if err := ortc.ValidateSctpStreamParameters(params); err != nil {
		return nil, err
	}

	value, err := s.enqueue(ctx, "produceData", func(ctx context.Context) (interface{}, error) {
		result, err := s.adapter.SendDataChannel(ctx, params, options.Label, options.Protocol)
		if err != nil {
			return nil, err
		}
		if err := ortc.ValidateSctpStreamParameters(result.SctpStreamParameters); err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	result := value.(*ports.DataChannelResult)

	dataProducer := &DataProducer{
		id:                   uuid.NewString(),
		channel:              result.Channel,
		sctpStreamParameters: result.SctpStreamParameters,
		label:                options.Label,
		protocol:             options.Protocol,
		maxMessageSize:       s.maxSctpMessageSize,
		appData:              options.AppData,
		transport:            s,
	}

	s.producersMu.Lock()
	s.dataProducers[dataProducer.id] = dataProducer
	s.producersMu.Unlock()

	s.logger.Debugw("data producer created", "data_producer_id", dataProducer.id, "label", options.Label)
	return dataProducer, nil
}

// Close shuts down the transport and every producer created on it. Stream
// handles are closed locally; no adapter calls are issued for them.
func (s *SendTransport) Close() {
	if s.Closed() {
		return
	}
	s.Transport.Close()

	s.producersMu.Lock()
	producers := make([]*Producer, 0, len(s.producers))
	for _, producer := range s.producers {
		producers = append(producers, producer)
	}
	dataProducers := make([]*DataProducer, 0, len(s.dataProducers))
	for _, dataProducer := range s.dataProducers {
		dataProducers = append(dataProducers, dataProducer)
	}
	s.producers = make(map[string]*Producer)
	s.dataProducers = make(map[string]*DataProducer)
	s.producersMu.Unlock()

	for _, producer := range producers {
		producer.transportClosed()
	}
	for _, dataProducer := range dataProducers {
		dataProducer.transportClosed()
	}
}

func (s *SendTransport) removeProducer(id string) {
	s.producersMu.Lock()
	delete(s.producers, id)
	s.producersMu.Unlock()
}

func (s *SendTransport) removeDataProducer(id string) {
	s.producersMu.Lock()
	delete(s.dataProducers, id)
	s.producersMu.Unlock()
}

// normalizeEncodings keeps only the recognized per-encoding fields,
// silently dropping everything else the caller may have set. The activation
// flag defaults to true.
func normalizeEncodings(encodings []*domain.RtpEncodingParameters) []*domain.RtpEncodingParameters {
	if len(encodings) == 0 {
		return nil
	}
	out := make([]*domain.RtpEncodingParameters, 0, len(encodings))
	for _, encoding := range encodings {
		if encoding == nil {
			continue
		}
		active := true
		if encoding.Active != nil {
			active = *encoding.Active
		}
		out = append(out, &domain.RtpEncodingParameters{
			Active:                &active,
			Dtx:                   encoding.Dtx,
			ScalabilityMode:       encoding.ScalabilityMode,
			ScaleResolutionDownBy: encoding.ScaleResolutionDownBy,
			MaxBitrate:            encoding.MaxBitrate,
			MaxFramerate:          encoding.MaxFramerate,
			Priority:              encoding.Priority,
			NetworkPriority:       encoding.NetworkPriority,
		})
	}
	return out
}
