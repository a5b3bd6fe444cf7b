package services

import (
	"fmt"
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ports"
)

// DataProducer is the handle of one locally produced auxiliary data stream.
type DataProducer struct {
	mu sync.Mutex

	id                   string
	channel              ports.DataChannel
	sctpStreamParameters *domain.SctpStreamParameters
	label                string
	protocol             string
	maxMessageSize       uint32
	closed               bool

	appData   domain.AppData
	transport *SendTransport

	closeHandlers []func()
}

// ID returns the data producer identity.
func (p *DataProducer) ID() string { return p.id }

// SctpStreamParameters returns the negotiated stream settings.
func (p *DataProducer) SctpStreamParameters() *domain.SctpStreamParameters {
	return p.sctpStreamParameters
}

// Label returns the application-chosen channel label.
func (p *DataProducer) Label() string { return p.label }

// Protocol returns the application-chosen subprotocol.
func (p *DataProducer) Protocol() string { return p.protocol }

// AppData returns the application-defined metadata.
func (p *DataProducer) AppData() domain.AppData { return p.appData }

// Closed reports whether the data producer has been closed.
func (p *DataProducer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// HandleClose registers an observer of the data producer's shutdown.
func (p *DataProducer) HandleClose(handler func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeHandlers = append(p.closeHandlers, handler)
}

// Send delivers one message over the data stream. Messages larger than the
// transport's negotiated ceiling are rejected without touching the channel.
func (p *DataProducer) Send(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("data producer closed: %w", domain.ErrInvalidState)
	}
	p.mu.Unlock()

	if p.maxMessageSize > 0 && uint32(len(data)) > p.maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit of %d: %w",
			len(data), p.maxMessageSize, domain.ErrBadArgument)
	}
	return p.channel.Send(data)
}

// Close releases the data stream. Idempotent.
func (p *DataProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	closeHandlers := p.closeHandlers
	p.closeHandlers = nil
	p.mu.Unlock()

	p.transport.removeDataProducer(p.id)
	if err := p.channel.Close(); err != nil {
		p.transport.logger.Warnw("failed to close data channel", "data_producer_id", p.id, "error", err)
	}
	for _, handler := range closeHandlers {
		handler()
	}
}

func (p *DataProducer) transportClosed() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	closeHandlers := p.closeHandlers
	p.closeHandlers = nil
	p.mu.Unlock()

	for _, handler := range closeHandlers {
		handler()
	}
}
