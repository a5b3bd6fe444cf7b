package services

import (
	"context"
	"fmt"
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ports"
)

// Consumer is the handle of one remote media stream being received.
type Consumer struct {
	mu sync.Mutex

	id            string
	producerID    string
	localID       string
	kind          domain.MediaKind
	source        ports.MediaSource
	rtpParameters *domain.RtpParameters
	paused        bool
	closed        bool

	appData   domain.AppData
	transport *RecvTransport

	closeHandlers []func()
}

// ID returns the remote-assigned consumer identity.
func (c *Consumer) ID() string { return c.id }

// ProducerID returns the identity of the remote stream being consumed.
func (c *Consumer) ProducerID() string { return c.producerID }

// Kind returns the media kind of the consumed stream.
func (c *Consumer) Kind() domain.MediaKind { return c.kind }

// RtpParameters returns the normalized receive parameters.
func (c *Consumer) RtpParameters() *domain.RtpParameters { return c.rtpParameters }

// Source returns the local handle of the received media.
func (c *Consumer) Source() ports.MediaSource { return c.source }

// AppData returns the application-defined metadata.
func (c *Consumer) AppData() domain.AppData { return c.appData }

// Paused reports whether the consumer is paused locally.
func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Closed reports whether the consumer has been closed.
func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// HandleClose registers an observer of the consumer's shutdown.
func (c *Consumer) HandleClose(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeHandlers = append(c.closeHandlers, handler)
}

// Pause stops delivering received media locally.
func (c *Consumer) Pause(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.transport.enqueue(ctx, "pauseConsumer", func(ctx context.Context) (interface{}, error) {
		return nil, c.transport.adapter.PauseReceiving(ctx, c.localID)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

// Resume restarts local delivery after a pause.
func (c *Consumer) Resume(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.transport.enqueue(ctx, "resumeConsumer", func(ctx context.Context) (interface{}, error) {
		return nil, c.transport.adapter.ResumeReceiving(ctx, c.localID)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

// GetStats reads adapter-reported receive statistics, bypassing the queue.
func (c *Consumer) GetStats(ctx context.Context) (*domain.StreamStats, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.transport.adapter.GetReceiverStats(ctx, c.localID)
}

// Close releases the consumed stream. Idempotent. After the owning transport
// has closed only local state is torn down.
func (c *Consumer) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	source := c.source
	closeHandlers := c.closeHandlers
	c.closeHandlers = nil
	c.mu.Unlock()

	c.transport.removeConsumer(c.id)

	if !c.transport.Closed() {
		_, err := c.transport.enqueue(ctx, "closeConsumer", func(ctx context.Context) (interface{}, error) {
			return nil, c.transport.adapter.StopReceiving(ctx, c.localID)
		})
		if err != nil {
			c.transport.logger.Warnw("failed to stop receiving", "consumer_id", c.id, "error", err)
		}
	}
	if source != nil {
		source.Stop()
	}
	for _, handler := range closeHandlers {
		handler()
	}
}

func (c *Consumer) transportClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	source := c.source
	closeHandlers := c.closeHandlers
	c.closeHandlers = nil
	c.mu.Unlock()

	if source != nil {
		source.Stop()
	}
	for _, handler := range closeHandlers {
		handler()
	}
}

func (c *Consumer) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("consumer closed: %w", domain.ErrInvalidState)
	}
	return nil
}
