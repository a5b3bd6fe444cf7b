package webrtc

import (
	"fmt"
	"strings"

	"rtcclient/internal/core/domain"

	"github.com/pion/sdp/v3"
)

// RemoteSdp builds the remote end's session description from the negotiated
// parameter bundle. The local engine only ever sees the remote side through
// descriptions produced here: an answer for sections we offered (sending) and
// an offer for sections the remote sends to us (receiving).
type RemoteSdp struct {
	iceParameters  *domain.IceParameters
	iceCandidates  []*domain.IceCandidate
	dtlsParameters *domain.DtlsParameters
	sctpParameters *domain.SctpParameters

	sections   []*mediaSection
	midToIndex map[string]int
}

type mediaSection struct {
	mid       string
	kind      string // "audio", "video" or "application"
	direction string // direction from the remote's perspective
	params    *domain.RtpParameters
	streamID  string
	trackID   string
	closed    bool
}

func NewRemoteSdp(ice *domain.IceParameters, candidates []*domain.IceCandidate, dtls *domain.DtlsParameters, sctp *domain.SctpParameters) *RemoteSdp {
	return &RemoteSdp{
		iceParameters:  ice,
		iceCandidates:  candidates,
		dtlsParameters: dtls,
		sctpParameters: sctp,
		midToIndex:     map[string]int{},
	}
}

// UpdateIceParameters swaps in fresh connectivity credentials (ICE restart).
func (r *RemoteSdp) UpdateIceParameters(ice *domain.IceParameters) {
	r.iceParameters = ice
}

// Send records the remote's answering section for a stream we send. The
// parameters are ours; the remote mirrors them and receives.
func (r *RemoteSdp) Send(params *domain.RtpParameters, kind domain.MediaKind) {
	r.upsert(&mediaSection{
		mid:       params.Mid,
		kind:      string(kind),
		direction: "recvonly",
		params:    params,
	})
}

// Receive records the remote's offering section for a stream it sends to us.
func (r *RemoteSdp) Receive(mid string, kind domain.MediaKind, params *domain.RtpParameters, streamID, trackID string) {
	r.upsert(&mediaSection{
		mid:       mid,
		kind:      string(kind),
		direction: "sendonly",
		params:    params,
		streamID:  streamID,
		trackID:   trackID,
	})
}

// SendSctpAssociation records the application section carrying data channels.
func (r *RemoteSdp) SendSctpAssociation(mid string) {
	r.upsert(&mediaSection{mid: mid, kind: "application"})
}

// CloseMediaSection marks a section as rejected. The mid slot stays occupied
// so later sections keep their numbering.
func (r *RemoteSdp) CloseMediaSection(mid string) {
	if idx, ok := r.midToIndex[mid]; ok {
		r.sections[idx].closed = true
	}
}

func (r *RemoteSdp) upsert(section *mediaSection) {
	if idx, ok := r.midToIndex[section.mid]; ok {
		r.sections[idx] = section
		return
	}
	r.midToIndex[section.mid] = len(r.sections)
	r.sections = append(r.sections, section)
}

// Marshal renders the full remote description.
func (r *RemoteSdp) Marshal() (string, error) {
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      10000,
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName:      "-",
		TimeDescriptions: []sdp.TimeDescription{{}},
	}

	mids := make([]string, 0, len(r.sections))
	for _, section := range r.sections {
		if !section.closed {
			mids = append(mids, section.mid)
		}
	}
	desc.Attributes = append(desc.Attributes,
		sdp.Attribute{Key: "group", Value: "BUNDLE " + strings.Join(mids, " ")},
		sdp.Attribute{Key: "msid-semantic", Value: "WMS *"},
	)
	if r.iceParameters != nil && r.iceParameters.IceLite {
		desc.Attributes = append(desc.Attributes, sdp.Attribute{Key: "ice-lite"})
	}

	for _, section := range r.sections {
		media, err := r.buildMediaDescription(section)
		if err != nil {
			return "", err
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, media)
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshaling remote description: %w", err)
	}
	return string(raw), nil
}

func (r *RemoteSdp) buildMediaDescription(section *mediaSection) (*sdp.MediaDescription, error) {
	media := &sdp.MediaDescription{
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
	}
	port := 7
	if section.closed {
		port = 0
	}

	if section.kind == "application" {
		media.MediaName = sdp.MediaName{
			Media:   "application",
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"UDP", "DTLS", "SCTP"},
			Formats: []string{"webrtc-datachannel"},
		}
		if r.sctpParameters != nil {
			media.Attributes = append(media.Attributes,
				sdp.Attribute{Key: "sctp-port", Value: fmt.Sprintf("%d", r.sctpParameters.Port)},
				sdp.Attribute{Key: "max-message-size", Value: fmt.Sprintf("%d", r.sctpParameters.MaxMessageSize)},
			)
		}
	} else {
		formats := make([]string, 0, len(section.params.Codecs))
		for _, codec := range section.params.Codecs {
			formats = append(formats, fmt.Sprintf("%d", codec.PayloadType))
		}
		media.MediaName = sdp.MediaName{
			Media:   section.kind,
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: formats,
		}

		for _, codec := range section.params.Codecs {
			rtpmap := fmt.Sprintf("%d %s/%d", codec.PayloadType, shortMimeType(codec.MimeType), codec.ClockRate)
			if strings.HasPrefix(strings.ToLower(codec.MimeType), "audio/") && codec.Channels > 1 {
				rtpmap = fmt.Sprintf("%s/%d", rtpmap, codec.Channels)
			}
			media.Attributes = append(media.Attributes, sdp.Attribute{Key: "rtpmap", Value: rtpmap})

			if fmtp := formatFmtp(codec.Parameters); fmtp != "" {
				media.Attributes = append(media.Attributes,
					sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d %s", codec.PayloadType, fmtp)})
			}
			for _, fb := range codec.RtcpFeedback {
				value := fmt.Sprintf("%d %s", codec.PayloadType, fb.Type)
				if fb.Parameter != "" {
					value += " " + fb.Parameter
				}
				media.Attributes = append(media.Attributes, sdp.Attribute{Key: "rtcp-fb", Value: value})
			}
		}

		for _, ext := range section.params.HeaderExtensions {
			media.Attributes = append(media.Attributes,
				sdp.Attribute{Key: "extmap", Value: fmt.Sprintf("%d %s", ext.ID, ext.URI)})
		}

		media.Attributes = append(media.Attributes, sdp.Attribute{Key: section.direction})
		media.Attributes = append(media.Attributes, sdp.Attribute{Key: "rtcp-mux"})
		if section.params.Rtcp != nil && section.params.Rtcp.ReducedSize != nil && *section.params.Rtcp.ReducedSize {
			media.Attributes = append(media.Attributes, sdp.Attribute{Key: "rtcp-rsize"})
		}

		// Sending sections carry the remote stream's SSRC and msid lines.
		if section.direction == "sendonly" {
			cname := ""
			if section.params.Rtcp != nil {
				cname = section.params.Rtcp.Cname
			}
			for _, encoding := range section.params.Encodings {
				if encoding.Ssrc == 0 {
					continue
				}
				if cname != "" {
					media.Attributes = append(media.Attributes, sdp.Attribute{
						Key:   "ssrc",
						Value: fmt.Sprintf("%d cname:%s", encoding.Ssrc, cname),
					})
				}
				media.Attributes = append(media.Attributes, sdp.Attribute{
					Key:   "ssrc",
					Value: fmt.Sprintf("%d msid:%s %s", encoding.Ssrc, section.streamID, section.trackID),
				})
				if encoding.Rtx != nil && encoding.Rtx.Ssrc != 0 {
					media.Attributes = append(media.Attributes, sdp.Attribute{
						Key:   "ssrc-group",
						Value: fmt.Sprintf("FID %d %d", encoding.Ssrc, encoding.Rtx.Ssrc),
					})
				}
			}
		}
	}

	media.Attributes = append(media.Attributes, sdp.Attribute{Key: "mid", Value: section.mid})

	if r.iceParameters != nil {
		media.Attributes = append(media.Attributes,
			sdp.Attribute{Key: "ice-ufrag", Value: r.iceParameters.UsernameFragment},
			sdp.Attribute{Key: "ice-pwd", Value: r.iceParameters.Password},
		)
	}
	for _, candidate := range r.iceCandidates {
		media.Attributes = append(media.Attributes, sdp.Attribute{
			Key: "candidate",
			Value: fmt.Sprintf("%s 1 %s %d %s %d typ %s",
				candidate.Foundation, candidate.Protocol, candidate.Priority,
				candidate.Address, candidate.Port, candidate.Type),
		})
	}
	media.Attributes = append(media.Attributes, sdp.Attribute{Key: "end-of-candidates"})

	if r.dtlsParameters != nil {
		for _, fingerprint := range r.dtlsParameters.Fingerprints {
			media.Attributes = append(media.Attributes, sdp.Attribute{
				Key:   "fingerprint",
				Value: fingerprint.Algorithm + " " + fingerprint.ExportValue(),
			})
		}
		media.Attributes = append(media.Attributes,
			sdp.Attribute{Key: "setup", Value: dtlsSetup(r.dtlsParameters.Role)})
	}

	return media, nil
}

// dtlsSetup maps the remote's DTLS role to its setup attribute.
func dtlsSetup(role domain.DtlsRole) string {
	switch role {
	case domain.DtlsRoleServer:
		return "passive"
	default:
		return "active"
	}
}

func shortMimeType(mimeType string) string {
	if idx := strings.IndexByte(mimeType, '/'); idx >= 0 {
		return mimeType[idx+1:]
	}
	return mimeType
}

func formatFmtp(parameters map[string]interface{}) string {
	if len(parameters) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(parameters))
	for key, value := range parameters {
		pairs = append(pairs, fmt.Sprintf("%s=%v", key, value))
	}
	return strings.Join(pairs, ";")
}

// extractDtlsParameters pulls the local fingerprints and role out of a local
// session description.
func extractDtlsParameters(rawSdp string) (*domain.DtlsParameters, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(rawSdp)); err != nil {
		return nil, fmt.Errorf("parsing local description: %w", err)
	}

	var fingerprints []domain.DtlsFingerprint
	collect := func(attributes []sdp.Attribute) {
		for _, attr := range attributes {
			if attr.Key != "fingerprint" {
				continue
			}
			parts := strings.SplitN(attr.Value, " ", 2)
			if len(parts) != 2 {
				continue
			}
			fingerprints = append(fingerprints, domain.DtlsFingerprint{
				Algorithm: strings.ToLower(parts[0]),
				Value:     strings.ToLower(parts[1]),
			})
		}
	}
	collect(desc.Attributes)
	if len(fingerprints) == 0 {
		for _, media := range desc.MediaDescriptions {
			collect(media.Attributes)
			if len(fingerprints) > 0 {
				break
			}
		}
	}
	if len(fingerprints) == 0 {
		return nil, fmt.Errorf("no dtls fingerprint in local description")
	}

	return &domain.DtlsParameters{
		Role:         domain.DtlsRoleClient,
		Fingerprints: fingerprints,
	}, nil
}
