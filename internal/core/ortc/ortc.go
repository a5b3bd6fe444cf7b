// Package ortc implements capability matching and parameter validation for
// negotiated RTP/SCTP parameter sets. All functions are pure: they normalize
// the given structure in place and never call into the engine.
package ortc

import (
	"fmt"
	"strings"

	"rtcclient/internal/core/domain"
)

// Reserved identifiers for the synthetic bandwidth-probe stream.
const (
	ProbatorID   = "probator"
	ProbatorMid  = "probator"
	ProbatorSsrc = uint32(1234)
)

// ValidateRtpParameters normalizes params, filling unset optional fields with
// defaults, and fails with domain.ErrMalformedParameters when a required
// field is absent or malformed. Applying it twice yields the same structure.
func ValidateRtpParameters(params *domain.RtpParameters) error {
	if params == nil {
		return fmt.Errorf("params is nil: %w", domain.ErrMalformedParameters)
	}
	if len(params.Codecs) == 0 {
		return fmt.Errorf("missing codecs: %w", domain.ErrMalformedParameters)
	}
	for _, codec := range params.Codecs {
		if err := validateRtpCodecParameters(codec); err != nil {
			return err
		}
	}
	for _, ext := range params.HeaderExtensions {
		if ext == nil || ext.URI == "" {
			return fmt.Errorf("missing header extension uri: %w", domain.ErrMalformedParameters)
		}
		if ext.Parameters == nil {
			ext.Parameters = map[string]interface{}{}
		}
	}
	for _, encoding := range params.Encodings {
		if encoding == nil {
			return fmt.Errorf("nil encoding: %w", domain.ErrMalformedParameters)
		}
	}
	if params.Rtcp == nil {
		params.Rtcp = &domain.RtcpParameters{}
	}
	if params.Rtcp.ReducedSize == nil {
		reducedSize := true
		params.Rtcp.ReducedSize = &reducedSize
	}
	return nil
}

func validateRtpCodecParameters(codec *domain.RtpCodecParameters) error {
	if codec == nil {
		return fmt.Errorf("nil codec: %w", domain.ErrMalformedParameters)
	}
	kind, ok := kindFromMimeType(codec.MimeType)
	if !ok {
		return fmt.Errorf("invalid codec mimeType %q: %w", codec.MimeType, domain.ErrMalformedParameters)
	}
	if codec.ClockRate == 0 {
		return fmt.Errorf("missing codec clockRate: %w", domain.ErrMalformedParameters)
	}
	if kind == domain.MediaKindAudio && codec.Channels == 0 {
		codec.Channels = 1
	}
	if codec.Parameters == nil {
		codec.Parameters = map[string]interface{}{}
	}
	if codec.RtcpFeedback == nil {
		codec.RtcpFeedback = []*domain.RtcpFeedback{}
	}
	return nil
}

// ValidateSctpStreamParameters normalizes params for one auxiliary data
// stream. Ordered defaults to true and is forced to false whenever a
// lifetime or retransmit limit is present.
func ValidateSctpStreamParameters(params *domain.SctpStreamParameters) error {
	if params == nil {
		return fmt.Errorf("params is nil: %w", domain.ErrMalformedParameters)
	}
	if params.MaxPacketLifeTime > 0 && params.MaxRetransmits > 0 {
		return fmt.Errorf("cannot set both maxPacketLifeTime and maxRetransmits: %w",
			domain.ErrMalformedParameters)
	}
	ordered := true
	if params.Ordered != nil {
		ordered = *params.Ordered
	}
	if params.MaxPacketLifeTime > 0 || params.MaxRetransmits > 0 {
		ordered = false
	}
	params.Ordered = &ordered
	return nil
}

// CanSend reports whether the capability set carries at least one media
// codec of the given kind (RTX and FEC entries do not count).
func CanSend(kind domain.MediaKind, caps *domain.RtpCapabilities) bool {
	if caps == nil {
		return false
	}
	for _, codec := range caps.Codecs {
		if codec.Kind == kind && !isFeatureCodec(codec.MimeType) {
			return true
		}
	}
	return false
}

// CanReceive reports whether every codec and header extension referenced by
// params is present in the capability set's matching kind. It is the
// synchronous pre-flight gate run before a consume operation is enqueued.
func CanReceive(params *domain.RtpParameters, caps *domain.RtpCapabilities) bool {
	if params == nil || caps == nil || len(params.Codecs) == 0 {
		return false
	}
	for _, codec := range params.Codecs {
		if findMatchingCapabilityCodec(codec, caps) == nil {
			return false
		}
	}
	for _, ext := range params.HeaderExtensions {
		if !hasHeaderExtension(ext, params, caps) {
			return false
		}
	}
	return true
}

// IntersectRtpCapabilities computes the capability set shared by the local
// engine and the remote endpoint: codecs matching by mime type, clock rate
// and (for audio) channel count, and header extensions matching by kind and
// URI. Preferred payload types and IDs come from the remote side so both
// ends agree on wire numbering.
func IntersectRtpCapabilities(local, remote *domain.RtpCapabilities) *domain.RtpCapabilities {
	out := &domain.RtpCapabilities{
		Codecs:           []*domain.RtpCodecCapability{},
		HeaderExtensions: []*domain.RtpHeaderExtension{},
	}
	if local == nil || remote == nil {
		return out
	}
	for _, remoteCodec := range remote.Codecs {
		if remoteCodec == nil || isFeatureCodec(remoteCodec.MimeType) {
			continue
		}
		localCodec := findMatchingCodecCapability(remoteCodec, local)
		if localCodec == nil {
			continue
		}
		matched := *remoteCodec
		out.Codecs = append(out.Codecs, &matched)
	}
	for _, remoteExt := range remote.HeaderExtensions {
		if remoteExt == nil {
			continue
		}
		for _, localExt := range local.HeaderExtensions {
			if localExt != nil && localExt.Kind == remoteExt.Kind && localExt.URI == remoteExt.URI {
				matched := *remoteExt
				out.HeaderExtensions = append(out.HeaderExtensions, &matched)
				break
			}
		}
	}
	return out
}

func findMatchingCodecCapability(codec *domain.RtpCodecCapability, caps *domain.RtpCapabilities) *domain.RtpCodecCapability {
	for _, capCodec := range caps.Codecs {
		if capCodec == nil {
			continue
		}
		if !strings.EqualFold(capCodec.MimeType, codec.MimeType) {
			continue
		}
		if capCodec.ClockRate != codec.ClockRate {
			continue
		}
		if capCodec.Kind == domain.MediaKindAudio {
			capChannels := capCodec.Channels
			if capChannels == 0 {
				capChannels = 1
			}
			channels := codec.Channels
			if channels == 0 {
				channels = 1
			}
			if capChannels != channels {
				continue
			}
		}
		return capCodec
	}
	return nil
}

// GenerateProbatorRtpParameters derives the parameter set for the synthetic
// receive-only bandwidth-probe stream from real video parameters. The result
// is deterministic given the same input.
func GenerateProbatorRtpParameters(videoParams *domain.RtpParameters) (*domain.RtpParameters, error) {
	if videoParams == nil || len(videoParams.Codecs) == 0 {
		return nil, fmt.Errorf("missing video codecs: %w", domain.ErrMalformedParameters)
	}
	params := videoParams.Clone()
	if err := ValidateRtpParameters(params); err != nil {
		return nil, err
	}

	probator := &domain.RtpParameters{
		Mid:              ProbatorMid,
		Codecs:           params.Codecs[:1],
		HeaderExtensions: params.HeaderExtensions,
		Encodings:        []*domain.RtpEncodingParameters{{Ssrc: ProbatorSsrc}},
		Rtcp:             &domain.RtcpParameters{Cname: ProbatorID},
	}
	return probator, nil
}

func findMatchingCapabilityCodec(codec *domain.RtpCodecParameters, caps *domain.RtpCapabilities) *domain.RtpCodecCapability {
	if codec == nil {
		return nil
	}
	for _, capCodec := range caps.Codecs {
		if !strings.EqualFold(capCodec.MimeType, codec.MimeType) {
			continue
		}
		if capCodec.ClockRate != codec.ClockRate {
			continue
		}
		if kind, _ := kindFromMimeType(codec.MimeType); kind == domain.MediaKindAudio {
			capChannels := capCodec.Channels
			if capChannels == 0 {
				capChannels = 1
			}
			channels := codec.Channels
			if channels == 0 {
				channels = 1
			}
			if capChannels != channels {
				continue
			}
		}
		return capCodec
	}
	return nil
}

func hasHeaderExtension(ext *domain.RtpHeaderExtensionParams, params *domain.RtpParameters, caps *domain.RtpCapabilities) bool {
	if ext == nil {
		return false
	}
	kind, ok := kindFromMimeType(params.Codecs[0].MimeType)
	if !ok {
		return false
	}
	for _, capExt := range caps.HeaderExtensions {
		if capExt.Kind == kind && capExt.URI == ext.URI {
			return true
		}
	}
	return false
}

func kindFromMimeType(mimeType string) (domain.MediaKind, bool) {
	lower := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(lower, "audio/"):
		return domain.MediaKindAudio, true
	case strings.HasPrefix(lower, "video/"):
		return domain.MediaKindVideo, true
	default:
		return "", false
	}
}

func isFeatureCodec(mimeType string) bool {
	lower := strings.ToLower(mimeType)
	return strings.HasSuffix(lower, "/rtx") ||
		strings.HasSuffix(lower, "/ulpfec") ||
		strings.HasSuffix(lower, "/flexfec-03") ||
		strings.HasSuffix(lower, "/red")
}
