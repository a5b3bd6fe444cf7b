package services

import (
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ports"
)

// DataConsumer is the handle of one remote auxiliary data stream being
// received.
type DataConsumer struct {
	mu sync.Mutex

	id                   string
	dataProducerID       string
	channel              ports.DataChannel
	sctpStreamParameters *domain.SctpStreamParameters
	label                string
	protocol             string
	closed               bool

	appData   domain.AppData
	transport *RecvTransport

	closeHandlers []func()
}

// ID returns the remote-assigned data consumer identity.
func (c *DataConsumer) ID() string { return c.id }

// DataProducerID returns the identity of the remote data stream.
func (c *DataConsumer) DataProducerID() string { return c.dataProducerID }

// Channel returns the underlying data stream handle for reading.
func (c *DataConsumer) Channel() ports.DataChannel { return c.channel }

// SctpStreamParameters returns the normalized stream settings.
func (c *DataConsumer) SctpStreamParameters() *domain.SctpStreamParameters {
	return c.sctpStreamParameters
}

// Label returns the channel label chosen by the remote side.
func (c *DataConsumer) Label() string { return c.label }

// Protocol returns the channel subprotocol chosen by the remote side.
func (c *DataConsumer) Protocol() string { return c.protocol }

// AppData returns the application-defined metadata.
func (c *DataConsumer) AppData() domain.AppData { return c.appData }

// Closed reports whether the data consumer has been closed.
func (c *DataConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// HandleClose registers an observer of the data consumer's shutdown.
func (c *DataConsumer) HandleClose(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeHandlers = append(c.closeHandlers, handler)
}

// Close releases the data stream. Idempotent.
func (c *DataConsumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	closeHandlers := c.closeHandlers
	c.closeHandlers = nil
	c.mu.Unlock()

	c.transport.removeDataConsumer(c.id)
	if err := c.channel.Close(); err != nil {
		c.transport.logger.Warnw("failed to close data channel", "data_consumer_id", c.id, "error", err)
	}
	for _, handler := range closeHandlers {
		handler()
	}
}

func (c *DataConsumer) transportClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	closeHandlers := c.closeHandlers
	c.closeHandlers = nil
	c.mu.Unlock()

	for _, handler := range closeHandlers {
		handler()
	}
}
