package services

import (
	"context"
	"fmt"
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ortc"
	"rtcclient/internal/core/ports"

	"go.uber.org/zap"
)

// Device is the entry point of a session: it discovers what the local engine
// can do, intersects that with the remote endpoint's capabilities and mints
// transports bound to the resulting shared capability set.
type Device struct {
	mu sync.Mutex

	loaded           bool
	rtpCapabilities  *domain.RtpCapabilities
	sctpCapabilities *domain.SctpCapabilities
	canProduceByKind map[domain.MediaKind]bool

	adapterFactory ports.AdapterFactory
	logger         *zap.SugaredLogger
}

// NewDevice constructs an unloaded device around the given engine adapter
// factory.
func NewDevice(factory ports.AdapterFactory, logger *zap.SugaredLogger) (*Device, error) {
	if factory == nil {
		return nil, fmt.Errorf("missing adapter factory: %w", domain.ErrBadArgument)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Device{
		adapterFactory:   factory,
		canProduceByKind: map[domain.MediaKind]bool{},
		logger:           logger,
	}, nil
}

// Load probes the engine for its native capabilities, intersects them with
// the remote endpoint's and records the result. It runs once per device;
// loading again fails.
func (d *Device) Load(ctx context.Context, remoteCaps *domain.RtpCapabilities) error {
	if remoteCaps == nil {
		return fmt.Errorf("missing remote capabilities: %w", domain.ErrBadArgument)
	}
	d.mu.Lock()
	if d.loaded {
		d.mu.Unlock()
		return fmt.Errorf("device already loaded: %w", domain.ErrInvalidState)
	}
	d.mu.Unlock()

	// A throwaway probe adapter reports what the engine natively supports.
	probe := d.adapterFactory(d.logger)
	defer probe.Close()

	native, ok := probe.(ports.NativeCapabilities)
	if !ok {
		return fmt.Errorf("engine adapter cannot report native capabilities: %w", domain.ErrUnsupported)
	}
	nativeRtp, err := native.NativeRtpCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("probing native rtp capabilities: %w", err)
	}
	nativeSctp, err := native.NativeSctpCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("probing native sctp capabilities: %w", err)
	}

	shared := ortc.IntersectRtpCapabilities(nativeRtp, remoteCaps)

	d.mu.Lock()
	d.loaded = true
	d.rtpCapabilities = shared
	d.sctpCapabilities = nativeSctp
	d.canProduceByKind = map[domain.MediaKind]bool{
		domain.MediaKindAudio: ortc.CanSend(domain.MediaKindAudio, shared),
		domain.MediaKindVideo: ortc.CanSend(domain.MediaKindVideo, shared),
	}
	d.mu.Unlock()

	d.logger.Infow("device loaded",
		"codecs", len(shared.Codecs),
		"header_extensions", len(shared.HeaderExtensions),
		"can_produce_audio", d.canProduceByKind[domain.MediaKindAudio],
		"can_produce_video", d.canProduceByKind[domain.MediaKindVideo])
	return nil
}

// Loaded reports whether Load has completed.
func (d *Device) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// RtpCapabilities returns the shared capability set. Nil until loaded.
func (d *Device) RtpCapabilities() *domain.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rtpCapabilities
}

// SctpCapabilities returns the engine's native data-stream limits. Nil until
// loaded.
func (d *Device) SctpCapabilities() *domain.SctpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sctpCapabilities
}

// CanProduce reports whether the shared capability set allows sending media
// of the given kind.
func (d *Device) CanProduce(kind domain.MediaKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canProduceByKind[kind]
}

// CreateSendTransport mints a sending transport bound to the device's shared
// capability set.
func (d *Device) CreateSendTransport(options TransportOptions) (*SendTransport, error) {
	if err := d.fillTransportOptions(&options); err != nil {
		return nil, err
	}
	return NewSendTransport(options)
}

// CreateRecvTransport mints a receiving transport bound to the device's
// shared capability set.
func (d *Device) CreateRecvTransport(options TransportOptions) (*RecvTransport, error) {
	if err := d.fillTransportOptions(&options); err != nil {
		return nil, err
	}
	return NewRecvTransport(options)
}

func (d *Device) fillTransportOptions(options *TransportOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return fmt.Errorf("device not loaded: %w", domain.ErrDeviceNotLoaded)
	}
	options.RtpCapabilities = d.rtpCapabilities
	options.CanProduceByKind = d.canProduceByKind
	options.AdapterFactory = d.adapterFactory
	if options.Logger == nil {
		options.Logger = d.logger
	}
	return nil
}
