package monitoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rtcclient/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

type fakeSignal struct{ connected bool }

func (f *fakeSignal) Connected() bool { return f.connected }

type fakeTransport struct {
	id     string
	closed bool
	state  domain.ConnectionState
}

func (f *fakeTransport) ID() string                             { return f.id }
func (f *fakeTransport) Closed() bool                           { return f.closed }
func (f *fakeTransport) ConnectionState() domain.ConnectionState { return f.state }

func TestHealthChecker(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		checker := NewHealthChecker()
		checker.AddSignalCheck(&fakeSignal{connected: true}, time.Second, time.Second)
		checker.AddTransportCheck(&fakeTransport{id: "t1", state: domain.ConnectionStateConnected}, time.Second, time.Second)

		status := checker.CheckAll(context.Background())
		assert.Equal(t, "healthy", status.Status)
		assert.Equal(t, "healthy", status.Checks["signal"])
		assert.Equal(t, "healthy", status.Checks["transport-t1"])
		assert.True(t, checker.IsReady(context.Background()))
	})

	t.Run("signal down marks unhealthy", func(t *testing.T) {
		checker := NewHealthChecker()
		checker.AddSignalCheck(&fakeSignal{connected: false}, time.Second, time.Second)

		status := checker.CheckAll(context.Background())
		assert.Equal(t, "unhealthy", status.Status)
		assert.Contains(t, status.Checks["signal"], "down")
	})

	t.Run("failed transport marks unhealthy", func(t *testing.T) {
		checker := NewHealthChecker()
		checker.AddTransportCheck(&fakeTransport{id: "t1", state: domain.ConnectionStateFailed}, time.Second, time.Second)

		status := checker.CheckAll(context.Background())
		assert.Equal(t, "unhealthy", status.Status)
		assert.False(t, checker.IsReady(context.Background()))
	})

	t.Run("readiness covers every transport", func(t *testing.T) {
		checker := NewHealthChecker()
		checker.AddReadinessCheck(&fakeSignal{connected: true}, []TransportProbe{
			&fakeTransport{id: "t1"},
			&fakeTransport{id: "t2", closed: true},
		}, time.Second, time.Second)

		status := checker.CheckAll(context.Background())
		assert.Equal(t, "unhealthy", status.Status)
		assert.Contains(t, status.Checks["readiness"], "t2")
	})

	t.Run("probe error is reported verbatim", func(t *testing.T) {
		checker := NewHealthChecker()
		checker.AddCheck("flaky", func(context.Context) (bool, error) {
			return false, fmt.Errorf("boom")
		}, time.Second, time.Second)

		status := checker.CheckAll(context.Background())
		assert.Equal(t, "boom", status.Checks["flaky"])
	})
}
