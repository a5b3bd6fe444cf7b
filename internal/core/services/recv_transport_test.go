package services

import (
	"context"
	"errors"
	"testing"

	"rtcclient/internal/core/domain"
	"rtcclient/internal/core/ortc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecvTransport(t *testing.T, adapter *fakeAdapter) *RecvTransport {
	t.Helper()
	transport, err := NewRecvTransport(testTransportOptions(adapter))
	require.NoError(t, err)
	t.Cleanup(transport.Close)
	return transport
}

func videoConsumeOptions(id string) ConsumeOptions {
	return ConsumeOptions{
		ID:            id,
		ProducerID:    "remote-" + id,
		Kind:          domain.MediaKindVideo,
		RtpParameters: validRtpParameters(),
	}
}

func TestConsume(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newRecvTransport(t, adapter)

		consumer, err := transport.Consume(context.Background(), videoConsumeOptions("c1"))
		require.NoError(t, err)

		assert.Equal(t, "c1", consumer.ID())
		assert.Equal(t, "remote-c1", consumer.ProducerID())
		assert.Equal(t, domain.MediaKindVideo, consumer.Kind())
		require.NotNil(t, consumer.Source())
		assert.Equal(t, "c1", consumer.Source().ID())
	})

	t.Run("caller parameters never mutated", func(t *testing.T) {
		transport := newRecvTransport(t, newFakeAdapter())

		options := videoConsumeOptions("c1")
		options.RtpParameters.Rtcp = nil
		_, err := transport.Consume(context.Background(), options)
		require.NoError(t, err)
		assert.Nil(t, options.RtpParameters.Rtcp)
	})

	t.Run("identity and kind are required", func(t *testing.T) {
		transport := newRecvTransport(t, newFakeAdapter())

		options := videoConsumeOptions("c1")
		options.ID = ""
		_, err := transport.Consume(context.Background(), options)
		assert.ErrorIs(t, err, domain.ErrBadArgument)

		options = videoConsumeOptions("c1")
		options.Kind = "screen"
		_, err = transport.Consume(context.Background(), options)
		assert.ErrorIs(t, err, domain.ErrBadArgument)
	})

	t.Run("unreceivable parameters rejected before the adapter", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newRecvTransport(t, adapter)
		drainQueue(transport.Transport)

		options := videoConsumeOptions("c1")
		options.RtpParameters.Codecs[0].MimeType = "video/H264"
		_, err := transport.Consume(context.Background(), options)
		assert.ErrorIs(t, err, domain.ErrUnsupported)
		assert.Equal(t, []string{"Run"}, adapter.Calls())
	})

	t.Run("malformed parameters rejected", func(t *testing.T) {
		transport := newRecvTransport(t, newFakeAdapter())

		options := videoConsumeOptions("c1")
		options.RtpParameters = &domain.RtpParameters{}
		_, err := transport.Consume(context.Background(), options)
		assert.ErrorIs(t, err, domain.ErrMalformedParameters)
	})
}

func TestConsumeProbator(t *testing.T) {
	t.Run("created with the first video consumer only", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newRecvTransport(t, adapter)

		_, err := transport.Consume(context.Background(), videoConsumeOptions("c1"))
		require.NoError(t, err)
		_, err = transport.Consume(context.Background(), videoConsumeOptions("c2"))
		require.NoError(t, err)

		probes := 0
		for _, call := range adapter.Calls() {
			if call == "Receive "+ortc.ProbatorID {
				probes++
			}
		}
		assert.Equal(t, 1, probes)
	})

	t.Run("not created for audio", func(t *testing.T) {
		adapter := newFakeAdapter()
		transport := newRecvTransport(t, adapter)

		_, err := transport.Consume(context.Background(), ConsumeOptions{
			ID:            "a1",
			ProducerID:    "remote-a1",
			Kind:          domain.MediaKindAudio,
			RtpParameters: validAudioRtpParameters(),
		})
		require.NoError(t, err)
		assert.NotContains(t, adapter.Calls(), "Receive "+ortc.ProbatorID)
	})

	t.Run("probe failure never fails the consume and is retried", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.receiveErrByID[ortc.ProbatorID] = errors.New("probe refused")
		transport := newRecvTransport(t, adapter)

		consumer, err := transport.Consume(context.Background(), videoConsumeOptions("c1"))
		require.NoError(t, err)
		assert.False(t, consumer.Closed())

		delete(adapter.receiveErrByID, ortc.ProbatorID)
		_, err = transport.Consume(context.Background(), videoConsumeOptions("c2"))
		require.NoError(t, err)

		probes := 0
		for _, call := range adapter.Calls() {
			if call == "Receive "+ortc.ProbatorID {
				probes++
			}
		}
		assert.Equal(t, 2, probes)
	})
}

func TestConsumerLifecycle(t *testing.T) {
	consume := func(t *testing.T) (*RecvTransport, *fakeAdapter, *Consumer) {
		adapter := newFakeAdapter()
		transport := newRecvTransport(t, adapter)
		consumer, err := transport.Consume(context.Background(), videoConsumeOptions("c1"))
		require.NoError(t, err)
		return transport, adapter, consumer
	}

	t.Run("pause and resume", func(t *testing.T) {
		_, adapter, consumer := consume(t)

		require.NoError(t, consumer.Pause(context.Background()))
		assert.True(t, consumer.Paused())
		require.NoError(t, consumer.Resume(context.Background()))
		assert.False(t, consumer.Paused())

		calls := adapter.Calls()
		assert.Contains(t, calls, "PauseReceiving")
		assert.Contains(t, calls, "ResumeReceiving")
	})

	t.Run("close stops receiving and the source", func(t *testing.T) {
		transport, adapter, consumer := consume(t)
		source := consumer.Source().(*fakeSource)

		consumer.Close(context.Background())
		assert.True(t, consumer.Closed())
		assert.True(t, source.Stopped())
		assert.Contains(t, adapter.Calls(), "StopReceiving recv-1")

		assert.ErrorIs(t, consumer.Pause(context.Background()), domain.ErrInvalidState)

		transport.consumersMu.Lock()
		assert.Empty(t, transport.consumers)
		transport.consumersMu.Unlock()
	})

	t.Run("transport close tears consumers down locally", func(t *testing.T) {
		transport, adapter, consumer := consume(t)
		source := consumer.Source().(*fakeSource)

		transport.Close()
		assert.True(t, consumer.Closed())
		assert.True(t, source.Stopped())
		assert.NotContains(t, adapter.Calls(), "StopReceiving recv-1")
	})
}

func TestConsumeData(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		transport := newRecvTransport(t, newFakeAdapter())

		dataConsumer, err := transport.ConsumeData(context.Background(), ConsumeDataOptions{
			ID:                   "d1",
			DataProducerID:       "remote-d1",
			SctpStreamParameters: &domain.SctpStreamParameters{StreamId: 7},
			Label:                "chat",
		})
		require.NoError(t, err)

		assert.Equal(t, "d1", dataConsumer.ID())
		assert.Equal(t, "remote-d1", dataConsumer.DataProducerID())
		require.NotNil(t, dataConsumer.SctpStreamParameters().Ordered)
		assert.True(t, *dataConsumer.SctpStreamParameters().Ordered)
		require.NotNil(t, dataConsumer.Channel())
	})

	t.Run("requires negotiated data channels", func(t *testing.T) {
		options := testTransportOptions(newFakeAdapter())
		options.SctpParameters = nil
		transport, err := NewRecvTransport(options)
		require.NoError(t, err)
		defer transport.Close()

		_, err = transport.ConsumeData(context.Background(), ConsumeDataOptions{
			ID:                   "d1",
			DataProducerID:       "remote-d1",
			SctpStreamParameters: &domain.SctpStreamParameters{StreamId: 7},
		})
		assert.ErrorIs(t, err, domain.ErrUnsupported)
	})

	t.Run("missing stream parameters rejected", func(t *testing.T) {
		transport := newRecvTransport(t, newFakeAdapter())

		_, err := transport.ConsumeData(context.Background(), ConsumeDataOptions{
			ID:             "d1",
			DataProducerID: "remote-d1",
		})
		assert.ErrorIs(t, err, domain.ErrMalformedParameters)
	})
}
