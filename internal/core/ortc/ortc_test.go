package ortc

import (
	"testing"

	"rtcclient/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoRtpParameters() *domain.RtpParameters {
	return &domain.RtpParameters{
		Mid: "0",
		Codecs: []*domain.RtpCodecParameters{
			{
				MimeType:    "video/VP8",
				PayloadType: 101,
				ClockRate:   90000,
			},
		},
		HeaderExtensions: []*domain.RtpHeaderExtensionParams{
			{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 1},
		},
		Encodings: []*domain.RtpEncodingParameters{{Ssrc: 22222222}},
	}
}

func videoCapabilities() *domain.RtpCapabilities {
	return &domain.RtpCapabilities{
		Codecs: []*domain.RtpCodecCapability{
			{Kind: domain.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000},
			{Kind: domain.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		},
		HeaderExtensions: []*domain.RtpHeaderExtension{
			{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
		},
	}
}

func TestValidateRtpParameters(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		params := videoRtpParameters()
		require.NoError(t, ValidateRtpParameters(params))

		assert.NotNil(t, params.Codecs[0].Parameters)
		assert.NotNil(t, params.Codecs[0].RtcpFeedback)
		require.NotNil(t, params.Rtcp)
		require.NotNil(t, params.Rtcp.ReducedSize)
		assert.True(t, *params.Rtcp.ReducedSize)
	})

	t.Run("audio channels default to one", func(t *testing.T) {
		params := &domain.RtpParameters{
			Codecs: []*domain.RtpCodecParameters{
				{MimeType: "audio/PCMU", PayloadType: 0, ClockRate: 8000},
			},
		}
		require.NoError(t, ValidateRtpParameters(params))
		assert.Equal(t, uint8(1), params.Codecs[0].Channels)
	})

	t.Run("idempotent on normalized input", func(t *testing.T) {
		params := videoRtpParameters()
		require.NoError(t, ValidateRtpParameters(params))
		normalized := params.Clone()

		require.NoError(t, ValidateRtpParameters(params))
		assert.Equal(t, normalized, params)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		tests := []struct {
			name   string
			params *domain.RtpParameters
		}{
			{"nil params", nil},
			{"no codecs", &domain.RtpParameters{}},
			{"bad mime type", &domain.RtpParameters{
				Codecs: []*domain.RtpCodecParameters{{MimeType: "bogus", ClockRate: 90000}},
			}},
			{"missing clock rate", &domain.RtpParameters{
				Codecs: []*domain.RtpCodecParameters{{MimeType: "video/VP8"}},
			}},
			{"header extension without uri", &domain.RtpParameters{
				Codecs:           []*domain.RtpCodecParameters{{MimeType: "video/VP8", ClockRate: 90000}},
				HeaderExtensions: []*domain.RtpHeaderExtensionParams{{ID: 4}},
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := ValidateRtpParameters(tt.params)
				assert.ErrorIs(t, err, domain.ErrMalformedParameters)
			})
		}
	})
}

func TestValidateSctpStreamParameters(t *testing.T) {
	t.Run("ordered defaults to true", func(t *testing.T) {
		params := &domain.SctpStreamParameters{StreamId: 3}
		require.NoError(t, ValidateSctpStreamParameters(params))
		require.NotNil(t, params.Ordered)
		assert.True(t, *params.Ordered)
	})

	t.Run("lifetime limit forces unordered", func(t *testing.T) {
		ordered := true
		params := &domain.SctpStreamParameters{StreamId: 3, Ordered: &ordered, MaxPacketLifeTime: 5000}
		require.NoError(t, ValidateSctpStreamParameters(params))
		assert.False(t, *params.Ordered)
	})

	t.Run("retransmit limit forces unordered", func(t *testing.T) {
		params := &domain.SctpStreamParameters{StreamId: 3, MaxRetransmits: 3}
		require.NoError(t, ValidateSctpStreamParameters(params))
		assert.False(t, *params.Ordered)
	})

	t.Run("both limits rejected", func(t *testing.T) {
		params := &domain.SctpStreamParameters{StreamId: 3, MaxPacketLifeTime: 5000, MaxRetransmits: 3}
		assert.ErrorIs(t, ValidateSctpStreamParameters(params), domain.ErrMalformedParameters)
	})
}

func TestCanReceive(t *testing.T) {
	caps := videoCapabilities()

	t.Run("matching codec and extension", func(t *testing.T) {
		assert.True(t, CanReceive(videoRtpParameters(), caps))
	})

	t.Run("codec outside capability set", func(t *testing.T) {
		params := videoRtpParameters()
		params.Codecs[0].MimeType = "video/H264"
		assert.False(t, CanReceive(params, caps))
	})

	t.Run("clock rate mismatch", func(t *testing.T) {
		params := videoRtpParameters()
		params.Codecs[0].ClockRate = 48000
		assert.False(t, CanReceive(params, caps))
	})

	t.Run("unknown header extension", func(t *testing.T) {
		params := videoRtpParameters()
		params.HeaderExtensions[0].URI = "urn:3gpp:video-orientation"
		assert.False(t, CanReceive(params, caps))
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.False(t, CanReceive(nil, caps))
		assert.False(t, CanReceive(videoRtpParameters(), nil))
		assert.False(t, CanReceive(&domain.RtpParameters{}, caps))
	})
}

func TestCanSend(t *testing.T) {
	caps := videoCapabilities()
	assert.True(t, CanSend(domain.MediaKindVideo, caps))
	assert.True(t, CanSend(domain.MediaKindAudio, caps))

	rtxOnly := &domain.RtpCapabilities{
		Codecs: []*domain.RtpCodecCapability{
			{Kind: domain.MediaKindVideo, MimeType: "video/rtx", ClockRate: 90000},
		},
	}
	assert.False(t, CanSend(domain.MediaKindVideo, rtxOnly))
	assert.False(t, CanSend(domain.MediaKindVideo, nil))
}

func TestIntersectRtpCapabilities(t *testing.T) {
	local := &domain.RtpCapabilities{
		Codecs: []*domain.RtpCodecCapability{
			{Kind: domain.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000},
			{Kind: domain.MediaKindVideo, MimeType: "video/rtx", ClockRate: 90000},
			{Kind: domain.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		},
		HeaderExtensions: []*domain.RtpHeaderExtension{
			{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 4},
			{Kind: domain.MediaKindVideo, URI: "urn:3gpp:video-orientation", PreferredID: 5},
		},
	}
	remote := &domain.RtpCapabilities{
		Codecs: []*domain.RtpCodecCapability{
			{Kind: domain.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000, PreferredPayloadType: 101},
			{Kind: domain.MediaKindVideo, MimeType: "video/H264", ClockRate: 90000, PreferredPayloadType: 103},
			{Kind: domain.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PreferredPayloadType: 111},
		},
		HeaderExtensions: []*domain.RtpHeaderExtension{
			{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
		},
	}

	t.Run("keeps only shared entries with remote numbering", func(t *testing.T) {
		shared := IntersectRtpCapabilities(local, remote)

		require.Len(t, shared.Codecs, 2)
		assert.Equal(t, "video/VP8", shared.Codecs[0].MimeType)
		assert.Equal(t, uint8(101), shared.Codecs[0].PreferredPayloadType)
		assert.Equal(t, "audio/opus", shared.Codecs[1].MimeType)

		require.Len(t, shared.HeaderExtensions, 1)
		assert.Equal(t, "urn:ietf:params:rtp-hdrext:sdes:mid", shared.HeaderExtensions[0].URI)
		assert.Equal(t, uint8(1), shared.HeaderExtensions[0].PreferredID)
	})

	t.Run("feature codecs never intersect", func(t *testing.T) {
		rtxRemote := &domain.RtpCapabilities{
			Codecs: []*domain.RtpCodecCapability{
				{Kind: domain.MediaKindVideo, MimeType: "video/rtx", ClockRate: 90000},
			},
		}
		shared := IntersectRtpCapabilities(local, rtxRemote)
		assert.Empty(t, shared.Codecs)
	})

	t.Run("nil inputs yield empty set", func(t *testing.T) {
		shared := IntersectRtpCapabilities(nil, remote)
		assert.Empty(t, shared.Codecs)
		assert.Empty(t, shared.HeaderExtensions)
	})

	t.Run("inputs left untouched", func(t *testing.T) {
		shared := IntersectRtpCapabilities(local, remote)
		shared.Codecs[0].MimeType = "video/changed"
		assert.Equal(t, "video/VP8", remote.Codecs[0].MimeType)
	})
}

func TestGenerateProbatorRtpParameters(t *testing.T) {
	t.Run("synthetic single codec stream", func(t *testing.T) {
		probator, err := GenerateProbatorRtpParameters(videoRtpParameters())
		require.NoError(t, err)

		assert.Equal(t, ProbatorMid, probator.Mid)
		require.Len(t, probator.Codecs, 1)
		assert.Equal(t, "video/VP8", probator.Codecs[0].MimeType)
		require.Len(t, probator.Encodings, 1)
		assert.Equal(t, ProbatorSsrc, probator.Encodings[0].Ssrc)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := GenerateProbatorRtpParameters(videoRtpParameters())
		require.NoError(t, err)
		b, err := GenerateProbatorRtpParameters(videoRtpParameters())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("input left untouched", func(t *testing.T) {
		params := videoRtpParameters()
		_, err := GenerateProbatorRtpParameters(params)
		require.NoError(t, err)
		assert.Equal(t, "0", params.Mid)
		assert.Equal(t, uint32(22222222), params.Encodings[0].Ssrc)
	})

	t.Run("requires codecs", func(t *testing.T) {
		_, err := GenerateProbatorRtpParameters(&domain.RtpParameters{})
		assert.ErrorIs(t, err, domain.ErrMalformedParameters)
	})
}
