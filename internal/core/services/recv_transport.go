package services

import (
	"context"
	"fmt"
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ortc"
	"rtcclient/internal/core/ports"
)

// RecvTransport is the receiving specialization: it consumes remote media
// and auxiliary data streams on top of the transport core.
type RecvTransport struct {
	*Transport

	consumersMu     sync.Mutex
	consumers       map[string]*Consumer
	dataConsumers   map[string]*DataConsumer
	probatorCreated bool
}

// NewRecvTransport constructs a receiving transport. The returned transport
// is usable immediately; adapter setup runs as the first queued task.
func NewRecvTransport(options TransportOptions) (*RecvTransport, error) {
	base, err := newTransport(domain.DirectionRecv, options)
	if err != nil {
		return nil, err
	}
	return &RecvTransport{
		Transport:     base,
		consumers:     make(map[string]*Consumer),
		dataConsumers: make(map[string]*DataConsumer),
	}, nil
}

// ConsumeOptions describes one remote stream to start receiving. ID and
// ProducerID are remote-assigned identities; RtpParameters is the stream
// description negotiated by the remote side.
type ConsumeOptions struct {
	ID            string
	ProducerID    string
	Kind          domain.MediaKind
	RtpParameters *domain.RtpParameters
	StreamID      string
	AppData       domain.AppData
}

// Consume asks the engine to start receiving the described remote stream.
// The stream description must fit within the transport's capability set;
// descriptions that do not are rejected before the engine is touched.
func (r *RecvTransport) Consume(ctx context.Context, options ConsumeOptions) (*Consumer, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if r.direction != domain.DirectionRecv {
		return nil, fmt.Errorf("transport direction is %s: %w", r.direction, domain.ErrUnsupported)
	}
	if options.ID == "" || options.ProducerID == "" {
		return nil, fmt.Errorf("missing consumer or producer id: %w", domain.ErrBadArgument)
	}
	if options.Kind != domain.MediaKindAudio && options.Kind != domain.MediaKindVideo {
		return nil, fmt.Errorf("invalid media kind %q: %w", options.Kind, domain.ErrBadArgument)
	}

	rtpParameters := options.RtpParameters.Clone()
	if err := ortc.ValidateRtpParameters(rtpParameters); err != nil {
		return nil, err
	}
	if !ortc.CanReceive(rtpParameters, r.rtpCapabilities) {
		return nil, fmt.Errorf("stream parameters not receivable with current capabilities: %w",
			domain.ErrUnsupported)
	}

	value, err := r.enqueue(ctx, "consume", func(ctx context.Context) (interface{}, error) {
		request := ports.ReceiveRequest{
			TrackID:       options.ID,
			Kind:          options.Kind,
			RtpParameters: rtpParameters,
			StreamID:      options.StreamID,
		}
		results, err := r.adapter.Receive(ctx, []ports.ReceiveRequest{request})
		if err != nil {
			return nil, err
		}
		if len(results) != 1 {
			return nil, fmt.Errorf("adapter returned %d receive results for one request: %w",
				len(results), domain.ErrMalformedParameters)
		}

		// A bandwidth probe stream rides along with the first video
		// consumer. Probe failures never fail the consume; the next video
		// consume retries.
		if options.Kind == domain.MediaKindVideo && !r.probatorConsumed() {
			if err := r.consumeProbator(ctx, rtpParameters); err != nil {
				r.logger.Warnw("failed to create probe stream", "error", err)
			} else {
				r.markProbatorConsumed()
				r.logger.Debugw("probe stream created")
			}
		}
		return results[0], nil
	})
	if err != nil {
		return nil, err
	}
	result := value.(ports.ReceiveResult)

	consumer := &Consumer{
		id:            options.ID,
		producerID:    options.ProducerID,
		localID:       result.LocalID,
		kind:          options.Kind,
		source:        result.Source,
		rtpParameters: rtpParameters,
		appData:       options.AppData,
		transport:     r,
	}

	r.consumersMu.Lock()
	r.consumers[consumer.id] = consumer
	r.consumersMu.Unlock()

	r.logger.Debugw("consumer created", "consumer_id", consumer.id, "kind", options.Kind)
	return consumer, nil
}

// consumeProbator starts the synthetic probe stream derived from the video
// parameters being consumed. Runs inside the consume task, so it is already
// serialized with every other adapter call.
func (r *RecvTransport) consumeProbator(ctx context.Context, videoParams *domain.RtpParameters) error {
	probatorParams, err := ortc.GenerateProbatorRtpParameters(videoParams)
	if err != nil {
		return err
	}
	request := ports.ReceiveRequest{
		TrackID:       ortc.ProbatorID,
		Kind:          domain.MediaKindVideo,
		RtpParameters: probatorParams,
		StreamID:      ortc.ProbatorID,
	}
	_, err = r.adapter.Receive(ctx, []ports.ReceiveRequest{request})
	return err
}

func (r *RecvTransport) probatorConsumed() bool {
	r.consumersMu.Lock()
	defer r.consumersMu.Unlock()
	return r.probatorCreated
}

func (r *RecvTransport) markProbatorConsumed() {
	r.consumersMu.Lock()
	r.probatorCreated = true
	r.consumersMu.Unlock()
}

// ConsumeDataOptions describes one remote auxiliary data stream.
type ConsumeDataOptions struct {
	ID                   string
	DataProducerID       string
	SctpStreamParameters *domain.SctpStreamParameters
	Label                string
	Protocol             string
	AppData              domain.AppData
}

// ConsumeData asks the engine to start receiving the described remote data
// stream.
func (r *RecvTransport) ConsumeData(ctx context.Context, options ConsumeDataOptions) (*DataConsumer, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if r.direction != domain.DirectionRecv {
		return nil, fmt.Errorf("transport direction is %s: %w", r.direction, domain.ErrUnsupported)
	}
	if r.maxSctpMessageSize == 0 {
		return nil, fmt.Errorf("data channels not negotiated: %w", domain.ErrUnsupported)
	}
	if options.ID == "" || options.DataProducerID == "" {
		return nil, fmt.Errorf("missing data consumer or data producer id: %w", domain.ErrBadArgument)
	}

	params := options.SctpStreamParameters.Clone()
	if err := ortc.ValidateSctpStreamParameters(params); err != nil {
		return nil, err
	}

	value, err := r.enqueue(ctx, "consumeData", func(ctx context.Context) (interface{}, error) {
		return r.adapter.ReceiveDataChannel(ctx, params, options.Label, options.Protocol)
	})
	if err != nil {
		return nil, err
	}
	result := value.(*ports.DataChannelResult)

	dataConsumer := &DataConsumer{
		id:                   options.ID,
		dataProducerID:       options.DataProducerID,
		channel:              result.Channel,
		sctpStreamParameters: params,
		label:                options.Label,
		protocol:             options.Protocol,
		appData:              options.AppData,
		transport:            r,
	}

	r.consumersMu.Lock()
	r.dataConsumers[dataConsumer.id] = dataConsumer
	r.consumersMu.Unlock()

	r.logger.Debugw("data consumer created", "data_consumer_id", dataConsumer.id, "label", options.Label)
	return dataConsumer, nil
}

// Close shuts down the transport and every consumer created on it. Stream
// handles are closed locally; no adapter calls are issued for them.
func (r *RecvTransport) Close() {
	if r.Closed() {
		return
	}
	r.Transport.Close()

	r.consumersMu.Lock()
	consumers := make([]*Consumer, 0, len(r.consumers))
	for _, consumer := range r.consumers {
		consumers = append(consumers, consumer)
	}
	dataConsumers := make([]*DataConsumer, 0, len(r.dataConsumers))
	for _, dataConsumer := range r.dataConsumers {
		dataConsumers = append(dataConsumers, dataConsumer)
	}
	r.consumers = make(map[string]*Consumer)
	r.dataConsumers = make(map[string]*DataConsumer)
	r.consumersMu.Unlock()

	for _, consumer := range consumers {
		consumer.transportClosed()
	}
	for _, dataConsumer := range dataConsumers {
		dataConsumer.transportClosed()
	}
}

func (r *RecvTransport) removeConsumer(id string) {
	r.consumersMu.Lock()
	delete(r.consumers, id)
	r.consumersMu.Unlock()
}

func (r *RecvTransport) removeDataConsumer(id string) {
	r.consumersMu.Lock()
	delete(r.dataConsumers, id)
	r.consumersMu.Unlock()
}
