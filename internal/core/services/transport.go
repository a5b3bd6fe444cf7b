package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ports"
	"rtcclient/pkg/cmdqueue"

	"go.uber.org/zap"
)

var gatheringRank = map[domain.IceGatheringState]int{
	domain.IceGatheringStateNew:       0,
	domain.IceGatheringStateGathering: 1,
	domain.IceGatheringStateComplete:  2,
}

// TransportOptions carries everything a transport needs at construction.
// The parameter bundle (ICE/DTLS/SCTP) is value data copied in and never
// mutated afterwards; RtpCapabilities is the shared read-only capability set.
type TransportOptions struct {
	ID               string
	IceParameters    *domain.IceParameters
	IceCandidates    []*domain.IceCandidate
	DtlsParameters   *domain.DtlsParameters
	SctpParameters   *domain.SctpParameters
	IceServers       []domain.IceServer
	RtpCapabilities  *domain.RtpCapabilities
	CanProduceByKind map[domain.MediaKind]bool
	AdapterFactory   ports.AdapterFactory
	AppData          domain.AppData
	Logger           *zap.SugaredLogger
}

// Transport owns one connectivity+security context bound to one direction,
// together with its command queue and engine adapter. Construction returns a
// usable object immediately; the adapter setup phase runs as the first task
// on the queue, so every operation enqueued afterwards executes strictly
// after setup has settled.
type Transport struct {
	mu sync.Mutex

	id                 string
	direction          domain.Direction
	closed             bool
	connectionState    domain.ConnectionState
	iceGatheringState  domain.IceGatheringState
	maxSctpMessageSize uint32
	rtpCapabilities    *domain.RtpCapabilities
	canProduceByKind   map[domain.MediaKind]bool
	appData            domain.AppData

	adapter ports.EngineAdapter
	queue   *cmdqueue.Queue
	logger  *zap.SugaredLogger

	// setupErr records a failed adapter setup; every later queued operation
	// fails with it instead of hitting a half-armed adapter.
	setupErr error

	connectHandler           func(ctx context.Context, dtlsParameters *domain.DtlsParameters) error
	connectionStateHandlers  []func(domain.ConnectionState)
	gatheringStateHandlers   []func(domain.IceGatheringState)
	closeHandlers            []func()
}

func newTransport(direction domain.Direction, options TransportOptions) (*Transport, error) {
	if options.ID == "" {
		return nil, fmt.Errorf("missing transport id: %w", domain.ErrBadArgument)
	}
	if options.IceParameters == nil || options.DtlsParameters == nil {
		return nil, fmt.Errorf("missing ice or dtls parameters: %w", domain.ErrBadArgument)
	}
	if options.AdapterFactory == nil {
		return nil, fmt.Errorf("missing adapter factory: %w", domain.ErrBadArgument)
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.With("transport_id", options.ID, "direction", direction)

	t := &Transport{
		id:                options.ID,
		direction:         direction,
		connectionState:   domain.ConnectionStateNew,
		iceGatheringState: domain.IceGatheringStateNew,
		rtpCapabilities:   options.RtpCapabilities,
		canProduceByKind:  options.CanProduceByKind,
		appData:           options.AppData,
		adapter:           options.AdapterFactory(logger),
		queue:             cmdqueue.New(logger),
		logger:            logger,
	}
	if options.SctpParameters != nil {
		t.maxSctpMessageSize = options.SctpParameters.MaxMessageSize
	}

	runOptions := ports.RunOptions{
		Direction:       direction,
		IceParameters:   options.IceParameters,
		IceCandidates:   options.IceCandidates,
		DtlsParameters:  options.DtlsParameters,
		SctpParameters:  options.SctpParameters,
		IceServers:      options.IceServers,
		RtpCapabilities: options.RtpCapabilities,
		Listener:        t,
	}

	// Setup is the first queued task: certificate generation and adapter
	// startup happen here, ahead of any operation enqueued by callers.
	t.queue.Push(context.Background(), "setup", func(ctx context.Context) (interface{}, error) {
		if err := t.adapter.Run(ctx, runOptions); err != nil {
			t.mu.Lock()
			t.setupErr = err
			t.mu.Unlock()
			t.logger.Errorw("adapter setup failed", "error", err)
			return nil, err
		}
		return nil, nil
	})

	return t, nil
}

// ID returns the transport identity.
func (t *Transport) ID() string { return t.id }

// Direction returns the media direction fixed at construction.
func (t *Transport) Direction() domain.Direction { return t.direction }

// AppData returns the application-defined metadata.
func (t *Transport) AppData() domain.AppData { return t.appData }

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ConnectionState returns the current connection state.
func (t *Transport) ConnectionState() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectionState
}

// IceGatheringState returns the current gathering state.
func (t *Transport) IceGatheringState() domain.IceGatheringState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iceGatheringState
}

// HandleConnect registers the application callback answering the adapter's
// connect-authorization request. The callback delivers the local security
// parameters to the remote side and returns nil to approve.
func (t *Transport) HandleConnect(handler func(ctx context.Context, dtlsParameters *domain.DtlsParameters) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectHandler = handler
}

// HandleConnectionStateChange registers an observer of connection state
// changes. Observers fire once per change, never for repeated identical
// assignments.
func (t *Transport) HandleConnectionStateChange(handler func(domain.ConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectionStateHandlers = append(t.connectionStateHandlers, handler)
}

// HandleIceGatheringStateChange registers an observer of gathering state
// changes.
func (t *Transport) HandleIceGatheringStateChange(handler func(domain.IceGatheringState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gatheringStateHandlers = append(t.gatheringStateHandlers, handler)
}

// HandleClose registers an observer of the single shutdown notification.
func (t *Transport) HandleClose(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandlers = append(t.closeHandlers, handler)
}

// RestartIce provides fresh connectivity credentials to the engine.
func (t *Transport) RestartIce(ctx context.Context, iceParameters *domain.IceParameters) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if iceParameters == nil {
		return fmt.Errorf("missing ice parameters: %w", domain.ErrBadArgument)
	}
	_, err := t.enqueue(ctx, "restartIce", func(ctx context.Context) (interface{}, error) {
		return nil, t.adapter.RestartIce(ctx, iceParameters)
	})
	return err
}

// UpdateIceServers replaces the connectivity option set used by the engine.
func (t *Transport) UpdateIceServers(ctx context.Context, iceServers []domain.IceServer) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if iceServers == nil {
		return fmt.Errorf("missing ice servers: %w", domain.ErrBadArgument)
	}
	_, err := t.enqueue(ctx, "updateIceServers", func(ctx context.Context) (interface{}, error) {
		return nil, t.adapter.UpdateIceServers(ctx, iceServers)
	})
	return err
}

// GetStats reads adapter-reported statistics. It is side-effect free and
// deliberately bypasses the command queue.
func (t *Transport) GetStats(ctx context.Context) (*domain.TransportStats, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.adapter.GetTransportStats(ctx)
}

// Close shuts the transport down: it stops the queue (rejecting every task
// not yet started), releases the adapter, forces the connection state to
// closed and raises a single shutdown notification. Idempotent; it never
// fails.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	closeHandlers := t.closeHandlers
	t.closeHandlers = nil
	t.mu.Unlock()

	t.logger.Debugw("closing transport")
	t.queue.Stop()
	t.adapter.Close()
	t.setConnectionState(domain.ConnectionStateClosed)

	for _, handler := range closeHandlers {
		handler()
	}
}

// OnConnect implements ports.AdapterListener. It denies the adapter's
// connect request once closed, otherwise defers to the application handler.
func (t *Transport) OnConnect(ctx context.Context, dtlsParameters *domain.DtlsParameters) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrTransportClosed
	}
	handler := t.connectHandler
	t.mu.Unlock()

	if handler == nil {
		return fmt.Errorf("no connect handler registered: %w", domain.ErrInvalidState)
	}
	return handler(ctx, dtlsParameters)
}

// OnIceGatheringStateChange implements ports.AdapterListener. Gathering
// only moves forward; regressions and repeated values are silent no-ops.
func (t *Transport) OnIceGatheringStateChange(state domain.IceGatheringState) {
	t.mu.Lock()
	if t.closed || gatheringRank[state] <= gatheringRank[t.iceGatheringState] {
		t.mu.Unlock()
		return
	}
	t.iceGatheringState = state
	handlers := t.gatheringStateHandlers
	t.mu.Unlock()

	t.logger.Debugw("ice gathering state changed", "state", state)
	for _, handler := range handlers {
		handler(state)
	}
}

// OnConnectionStateChange implements ports.AdapterListener.
func (t *Transport) OnConnectionStateChange(state domain.ConnectionState) {
	t.setConnectionState(state)
}

// setConnectionState assigns the connection state, notifying observers only
// when the value actually changes. Once closed the state never changes
// again.
func (t *Transport) setConnectionState(state domain.ConnectionState) {
	t.mu.Lock()
	if t.connectionState == state || t.connectionState == domain.ConnectionStateClosed {
		t.mu.Unlock()
		return
	}
	t.connectionState = state
	handlers := t.connectionStateHandlers
	t.mu.Unlock()

	t.logger.Debugw("connection state changed", "state", state)
	for _, handler := range handlers {
		handler(state)
	}
}

// checkOpen is the synchronous pre-flight closed check every public
// operation runs before touching the queue.
func (t *Transport) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportClosed
	}
	return nil
}

// enqueue submits a task behind everything already queued. Tasks rejected
// because the queue stopped surface as ErrTransportClosed; tasks running
// after a failed setup surface the recorded setup failure.
func (t *Transport) enqueue(ctx context.Context, name string, task cmdqueue.Task) (interface{}, error) {
	value, err := t.queue.Do(ctx, name, func(ctx context.Context) (interface{}, error) {
		t.mu.Lock()
		closed, setupErr := t.closed, t.setupErr
		t.mu.Unlock()
		if closed {
			return nil, domain.ErrTransportClosed
		}
		if setupErr != nil {
			return nil, fmt.Errorf("adapter setup failed: %w", setupErr)
		}
		return task(ctx)
	})
	if errors.Is(err, cmdqueue.ErrStopped) {
		return nil, domain.ErrTransportClosed
	}
	return value, err
}

func orDefault(value *bool, def bool) bool {
	if value == nil {
		return def
	}
	return *value
}
