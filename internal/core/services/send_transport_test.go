package services

import (
	"context"
	"errors"
	"testing"

	"rtcclient/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSendTransport(t *testing.T, adapter *fakeAdapter) *SendTransport {
	t.Helper()
	transport, err := NewSendTransport(testTransportOptions(adapter))
	require.NoError(t, err)
	t.Cleanup(transport.Close)
	return transport
}

func TestProduce(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newSendTransport(t, adapter)
		source := newFakeSource("cam", domain.MediaKindVideo)

		producer, err := transport.Produce(context.Background(), ProduceOptions{Source: source})
		require.NoError(t, err)

		assert.NotEmpty(t, producer.ID())
		assert.Equal(t, domain.MediaKindVideo, producer.Kind())
		assert.Same(t, source, producer.Source())
		assert.False(t, producer.Paused())

		params := producer.RtpParameters()
		require.NotNil(t, params)
		require.NotNil(t, params.Rtcp)
		assert.True(t, *params.Rtcp.ReducedSize)
	})

	t.Run("encoding normalization keeps the allow-list only", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newSendTransport(t, adapter)

		_, err := transport.Produce(context.Background(), ProduceOptions{
			Source: newFakeSource("cam", domain.MediaKindVideo),
			Encodings: []*domain.RtpEncodingParameters{
				{Ssrc: 99, Rid: "r0", MaxBitrate: 500000},
				{Ssrc: 98, Rid: "r1", ScalabilityMode: "L1T3"},
			},
		})
		require.NoError(t, err)
		// Adapter sees normalized encodings: identifiers stripped, the
		// activation flag defaulted.
		normalized := normalizeEncodings([]*domain.RtpEncodingParameters{
			{Ssrc: 99, Rid: "r0", MaxBitrate: 500000},
		})
		require.Len(t, normalized, 1)
		assert.Zero(t, normalized[0].Ssrc)
		assert.Empty(t, normalized[0].Rid)
		assert.Equal(t, uint32(500000), normalized[0].MaxBitrate)
		require.NotNil(t, normalized[0].Active)
		assert.True(t, *normalized[0].Active)
	})

	t.Run("pre-flight failures never reach the adapter", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newSendTransport(t, adapter)
		drainQueue(transport.Transport)

		_, err := transport.Produce(context.Background(), ProduceOptions{})
		assert.ErrorIs(t, err, domain.ErrBadArgument)

		ended := newFakeSource("cam", domain.MediaKindVideo)
		ended.Stop()
		_, err = transport.Produce(context.Background(), ProduceOptions{Source: ended})
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		assert.Equal(t, []string{"Run"}, adapter.Calls())
	})

	t.Run("unsupported kind rejected", func(t *testing.T) {
		adapter := newFakeAdapter()
		options := testTransportOptions(adapter)
		options.CanProduceByKind = map[domain.MediaKind]bool{domain.MediaKindVideo: true}
		transport, err := NewSendTransport(options)
		require.NoError(t, err)
		defer transport.Close()

		_, err = transport.Produce(context.Background(), ProduceOptions{
			Source: newFakeSource("mic", domain.MediaKindAudio),
		})
		assert.ErrorIs(t, err, domain.ErrUnsupported)
	})

	t.Run("failure stops the source by default", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.sendErr = errors.New("engine refused")
		transport := newSendTransport(t, adapter)
		source := newFakeSource("cam", domain.MediaKindVideo)

		_, err := transport.Produce(context.Background(), ProduceOptions{Source: source})
		require.Error(t, err)
		assert.True(t, source.Stopped())
	})

	t.Run("failure leaves the source alone when asked", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.sendErr = errors.New("engine refused")
		transport := newSendTransport(t, adapter)
		source := newFakeSource("cam", domain.MediaKindVideo)

		keep := false
		_, err := transport.Produce(context.Background(), ProduceOptions{
			Source:              source,
			StopSourceOnFailure: &keep,
		})
		require.Error(t, err)
		assert.False(t, source.Stopped())
	})

	t.Run("malformed adapter parameters unwind the send", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.sendRtp = func() *domain.RtpParameters { return &domain.RtpParameters{} }
		transport := newSendTransport(t, adapter)

		_, err := transport.Produce(context.Background(), ProduceOptions{
			Source: newFakeSource("cam", domain.MediaKindVideo),
		})
		assert.ErrorIs(t, err, domain.ErrMalformedParameters)
		assert.Contains(t, adapter.Calls(), "StopSending send-1")
	})
}

func TestProducerLifecycle(t *testing.T) {
	produce := func(t *testing.T) (*SendTransport, *fakeAdapter, *Producer, *fakeSource) {
		adapter := newFakeAdapter()
		transport := newSendTransport(t, adapter)
		source := newFakeSource("cam", domain.MediaKindVideo)
		producer, err := transport.Produce(context.Background(), ProduceOptions{Source: source})
		require.NoError(t, err)
		return transport, adapter, producer, source
	}

	t.Run("pause and resume drive the adapter and the source", func(t *testing.T) {
		_, adapter, producer, source := produce(t)

		require.NoError(t, producer.Pause(context.Background()))
		assert.True(t, producer.Paused())
		assert.False(t, source.Enabled())

		require.NoError(t, producer.Resume(context.Background()))
		assert.False(t, producer.Paused())
		assert.True(t, source.Enabled())

		calls := adapter.Calls()
		assert.Contains(t, calls, "PauseSending")
		assert.Contains(t, calls, "ResumeSending")
	})

	t.Run("replace source", func(t *testing.T) {
		_, adapter, producer, _ := produce(t)
		replacement := newFakeSource("cam2", domain.MediaKindVideo)

		require.NoError(t, producer.ReplaceSource(context.Background(), replacement))
		assert.Same(t, replacement, producer.Source())
		assert.Contains(t, adapter.Calls(), "ReplaceSource")

		mismatched := newFakeSource("mic", domain.MediaKindAudio)
		assert.ErrorIs(t, producer.ReplaceSource(context.Background(), mismatched), domain.ErrBadArgument)
	})

	t.Run("spatial layers are video only", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newSendTransport(t, adapter)
		producer, err := transport.Produce(context.Background(), ProduceOptions{
			Source: newFakeSource("mic", domain.MediaKindAudio),
		})
		require.NoError(t, err)

		err = producer.SetMaxSpatialLayer(context.Background(), 1)
		assert.ErrorIs(t, err, domain.ErrUnsupported)
	})

	t.Run("close stops sending and releases the source", func(t *testing.T) {
		transport, adapter, producer, source := produce(t)

		producer.Close(context.Background())
		assert.True(t, producer.Closed())
		assert.True(t, source.Stopped())
		assert.Contains(t, adapter.Calls(), "StopSending send-1")

		// Idempotent, and operations fail afterwards.
		producer.Close(context.Background())
		assert.ErrorIs(t, producer.Pause(context.Background()), domain.ErrInvalidState)

		transport.producersMu.Lock()
		assert.Empty(t, transport.producers)
		transport.producersMu.Unlock()
	})

	t.Run("transport close tears producers down locally", func(t *testing.T) {
		transport, adapter, producer, source := produce(t)

		transport.Close()
		assert.True(t, producer.Closed())
		assert.True(t, source.Stopped())
		assert.NotContains(t, adapter.Calls(), "StopSending send-1")
	})
}

func TestProduceData(t *testing.T) {
	t.Run("happy path with ordering defaults", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newSendTransport(t, adapter)

		dataProducer, err := transport.ProduceData(context.Background(), ProduceDataOptions{
			Label:    "chat",
			Protocol: "json",
		})
		require.NoError(t, err)

		assert.Equal(t, "chat", dataProducer.Label())
		params := dataProducer.SctpStreamParameters()
		require.NotNil(t, params)
		require.NotNil(t, params.Ordered)
		assert.True(t, *params.Ordered)
	})

	t.Run("retransmit limit forces unordered", func(t *testing.T) {
		transport := newSendTransport(t, newFakeAdapter())

		dataProducer, err := transport.ProduceData(context.Background(), ProduceDataOptions{
			Label:          "telemetry",
			MaxRetransmits: 2,
		})
		require.NoError(t, err)
		assert.False(t, *dataProducer.SctpStreamParameters().Ordered)
	})

	t.Run("both reliability limits rejected", func(t *testing.T) {
		transport := newSendTransport(t, newFakeAdapter())

		_, err := transport.ProduceData(context.Background(), ProduceDataOptions{
			MaxPacketLifeTime: 2000,
			MaxRetransmits:    2,
		})
		assert.ErrorIs(t, err, domain.ErrMalformedParameters)
	})

	t.Run("requires negotiated data channels", func(t *testing.T) {
		adapter := newFakeAdapter()
		options := testTransportOptions(adapter)
		options.SctpParameters = nil
		transport, err := NewSendTransport(options)
		require.NoError(t, err)
		defer transport.Close()

		_, err = transport.ProduceData(context.Background(), ProduceDataOptions{Label: "chat"})
		assert.ErrorIs(t, err, domain.ErrUnsupported)
	})

	t.Run("send respects the message size ceiling", func(t *testing.T) {
		transport := newSendTransport(t, newFakeAdapter())

		dataProducer, err := transport.ProduceData(context.Background(), ProduceDataOptions{Label: "chat"})
		require.NoError(t, err)

		require.NoError(t, dataProducer.Send([]byte("hello")))
		oversized := make([]byte, 262145)
		assert.ErrorIs(t, dataProducer.Send(oversized), domain.ErrBadArgument)
	})
}

func TestSendTransportQueueOrdering(t *testing.T) {
	adapter := newFakeAdapter()
	transport := newSendTransport(t, adapter)

	producer, err := transport.Produce(context.Background(), ProduceOptions{
		Source: newFakeSource("cam", domain.MediaKindVideo),
	})
	require.NoError(t, err)

	require.NoError(t, producer.Pause(context.Background()))
	require.NoError(t, transport.RestartIce(context.Background(),
		&domain.IceParameters{UsernameFragment: "u2", Password: "p2"}))
	require.NoError(t, producer.Resume(context.Background()))

	assert.Equal(t, []string{"Run", "Send", "PauseSending", "RestartIce", "ResumeSending"}, adapter.Calls())
}
