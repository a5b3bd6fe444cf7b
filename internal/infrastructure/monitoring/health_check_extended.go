package monitoring

import (
	"context"
	"fmt"
	"time"

	"rtcclient/internal/core/domain"
)

// SignalConnection is the slice of the signaling client the checker probes.
type SignalConnection interface {
	Connected() bool
}

// TransportProbe is the slice of a transport the checker probes.
type TransportProbe interface {
	ID() string
	Closed() bool
	ConnectionState() domain.ConnectionState
}

// AddSignalCheck reports unhealthy while the signaling connection is down.
func (h *HealthChecker) AddSignalCheck(client SignalConnection, interval, timeout time.Duration) {
	h.AddCheck("signal", func(ctx context.Context) (bool, error) {
		if !client.Connected() {
			return false, fmt.Errorf("signaling connection down")
		}
		return true, nil
	}, interval, timeout)
}

// AddTransportCheck reports unhealthy once a transport fails or closes.
func (h *HealthChecker) AddTransportCheck(transport TransportProbe, interval, timeout time.Duration) {
	h.AddCheck("transport-"+transport.ID(), func(ctx context.Context) (bool, error) {
		if transport.Closed() {
			return false, fmt.Errorf("transport closed")
		}
		if state := transport.ConnectionState(); state == domain.ConnectionStateFailed {
			return false, fmt.Errorf("transport in state %s", state)
		}
		return true, nil
	}, interval, timeout)
}

// AddReadinessCheck verifies the session is ready end to end: the signaling
// connection is up and every given transport is still usable.
func (h *HealthChecker) AddReadinessCheck(
	client SignalConnection,
	transports []TransportProbe,
	interval, timeout time.Duration,
) {
	h.AddCheck("readiness", func(ctx context.Context) (bool, error) {
		if client != nil && !client.Connected() {
			return false, fmt.Errorf("signaling connection down")
		}
		for _, transport := range transports {
			if transport.Closed() {
				return false, fmt.Errorf("transport %s closed", transport.ID())
			}
		}
		return true, nil
	}, interval, timeout)
}

// IsReady checks if the session is in a usable state.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
