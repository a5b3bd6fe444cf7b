package services

import (
	"context"
	"fmt"
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ports"
)

// Producer is the handle of one locally produced media stream. Every
// lifecycle operation funnels through the owning transport's command queue.
type Producer struct {
	mu sync.Mutex

	id            string
	localID       string
	kind          domain.MediaKind
	source        ports.MediaSource
	rtpParameters *domain.RtpParameters
	paused        bool
	closed        bool

	stopSourceOnClose    bool
	disableSourceOnPause bool
	zeroOnPause          bool

	appData   domain.AppData
	transport *SendTransport

	closeHandlers []func()
}

// ID returns the producer identity.
func (p *Producer) ID() string { return p.id }

// Kind returns the media kind of the produced stream.
func (p *Producer) Kind() domain.MediaKind { return p.kind }

// RtpParameters returns the negotiated send parameters.
func (p *Producer) RtpParameters() *domain.RtpParameters { return p.rtpParameters }

// AppData returns the application-defined metadata.
func (p *Producer) AppData() domain.AppData { return p.appData }

// Source returns the media source currently being sent.
func (p *Producer) Source() ports.MediaSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Paused reports whether the producer is paused.
func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Closed reports whether the producer has been closed.
func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// HandleClose registers an observer of the producer's shutdown.
func (p *Producer) HandleClose(handler func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeHandlers = append(p.closeHandlers, handler)
}

// Pause stops sending media without releasing any negotiated state.
func (p *Producer) Pause(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	_, err := p.transport.enqueue(ctx, "pauseProducer", func(ctx context.Context) (interface{}, error) {
		return nil, p.transport.adapter.PauseSending(ctx, p.localID)
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.paused = true
	source := p.source
	p.mu.Unlock()

	// A zeroing engine still consumes the source while paused, so it stays
	// enabled in that mode.
	if p.disableSourceOnPause && !p.zeroOnPause {
		if enablable, ok := source.(ports.EnablableSource); ok {
			enablable.SetEnabled(false)
		}
	}
	return nil
}

// Resume restarts sending after a pause.
func (p *Producer) Resume(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	_, err := p.transport.enqueue(ctx, "resumeProducer", func(ctx context.Context) (interface{}, error) {
		return nil, p.transport.adapter.ResumeSending(ctx, p.localID)
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.paused = false
	source := p.source
	p.mu.Unlock()

	if p.disableSourceOnPause && !p.zeroOnPause {
		if enablable, ok := source.(ports.EnablableSource); ok {
			enablable.SetEnabled(true)
		}
	}
	return nil
}

// ReplaceSource swaps the media being sent without renegotiation. The
// previous source is left untouched.
func (p *Producer) ReplaceSource(ctx context.Context, source ports.MediaSource) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("missing media source: %w", domain.ErrBadArgument)
	}
	if source.Ended() {
		return fmt.Errorf("media source already ended: %w", domain.ErrInvalidState)
	}
	if source.Kind() != p.kind {
		return fmt.Errorf("source kind %s does not match producer kind %s: %w",
			source.Kind(), p.kind, domain.ErrBadArgument)
	}

	_, err := p.transport.enqueue(ctx, "replaceSource", func(ctx context.Context) (interface{}, error) {
		return nil, p.transport.adapter.ReplaceSource(ctx, p.localID, source)
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	paused := p.paused
	p.source = source
	p.mu.Unlock()

	if paused && p.disableSourceOnPause && !p.zeroOnPause {
		if enablable, ok := source.(ports.EnablableSource); ok {
			enablable.SetEnabled(false)
		}
	}
	return nil
}

// SetMaxSpatialLayer caps the spatial layer being sent. Video only.
func (p *Producer) SetMaxSpatialLayer(ctx context.Context, spatialLayer int) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.kind != domain.MediaKindVideo {
		return fmt.Errorf("spatial layers apply to video only: %w", domain.ErrUnsupported)
	}
	if spatialLayer < 0 {
		return fmt.Errorf("negative spatial layer: %w", domain.ErrBadArgument)
	}
	_, err := p.transport.enqueue(ctx, "setMaxSpatialLayer", func(ctx context.Context) (interface{}, error) {
		return nil, p.transport.adapter.SetMaxSpatialLayer(ctx, p.localID, spatialLayer)
	})
	return err
}

// SetRtpEncodingParameters updates live encoding settings.
func (p *Producer) SetRtpEncodingParameters(ctx context.Context, params *domain.RtpEncodingParameters) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if params == nil {
		return fmt.Errorf("missing encoding parameters: %w", domain.ErrBadArgument)
	}
	_, err := p.transport.enqueue(ctx, "setRtpEncodingParameters", func(ctx context.Context) (interface{}, error) {
		return nil, p.transport.adapter.SetRtpEncodingParameters(ctx, p.localID, params)
	})
	return err
}

// GetStats reads adapter-reported send statistics, bypassing the queue.
func (p *Producer) GetStats(ctx context.Context) (*domain.StreamStats, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	return p.transport.adapter.GetSenderStats(ctx, p.localID)
}

// Close releases the produced stream. Idempotent. After the owning transport
// has closed only local state is torn down.
func (p *Producer) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	source := p.source
	closeHandlers := p.closeHandlers
	p.closeHandlers = nil
	p.mu.Unlock()

	p.transport.removeProducer(p.id)

	if !p.transport.Closed() {
		_, err := p.transport.enqueue(ctx, "closeProducer", func(ctx context.Context) (interface{}, error) {
			return nil, p.transport.adapter.StopSending(ctx, p.localID)
		})
		if err != nil {
			p.transport.logger.Warnw("failed to stop sending", "producer_id", p.id, "error", err)
		}
	}
	if p.stopSourceOnClose && source != nil {
		source.Stop()
	}
	for _, handler := range closeHandlers {
		handler()
	}
}

// transportClosed tears the handle down locally when the owning transport
// shuts down.
func (p *Producer) transportClosed() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	source := p.source
	closeHandlers := p.closeHandlers
	p.closeHandlers = nil
	p.mu.Unlock()

	if p.stopSourceOnClose && source != nil {
		source.Stop()
	}
	for _, handler := range closeHandlers {
		handler()
	}
}

func (p *Producer) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("producer closed: %w", domain.ErrInvalidState)
	}
	return nil
}
