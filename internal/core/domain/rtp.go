package domain

// RtpCapabilities is the negotiated codec/header-extension intersection.
// It is computed once, before any transport exists, and treated as
// read-only by every transport created from it.
type RtpCapabilities struct {
	Codecs           []*RtpCodecCapability `json:"codecs,omitempty"`
	HeaderExtensions []*RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// RtpCodecCapability describes one codec the capability set supports.
type RtpCodecCapability struct {
	Kind                 MediaKind              `json:"kind"`
	MimeType             string                 `json:"mimeType"`
	PreferredPayloadType uint8                  `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32                 `json:"clockRate"`
	Channels             uint8                  `json:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback         []*RtcpFeedback        `json:"rtcpFeedback,omitempty"`
}

// RtpHeaderExtension describes one header extension the capability set
// supports for a given kind.
type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind"`
	URI              string    `json:"uri"`
	PreferredID      uint8     `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

// RtpParameters describes one negotiated media stream: the codecs, header
// extensions and encodings the engine must send or expect to receive.
type RtpParameters struct {
	Mid              string                      `json:"mid,omitempty"`
	Codecs           []*RtpCodecParameters       `json:"codecs"`
	HeaderExtensions []*RtpHeaderExtensionParams `json:"headerExtensions,omitempty"`
	Encodings        []*RtpEncodingParameters    `json:"encodings,omitempty"`
	Rtcp             *RtcpParameters             `json:"rtcp,omitempty"`
}

// RtpCodecParameters is a codec entry inside RtpParameters.
type RtpCodecParameters struct {
	MimeType     string                 `json:"mimeType"`
	PayloadType  uint8                  `json:"payloadType"`
	ClockRate    uint32                 `json:"clockRate"`
	Channels     uint8                  `json:"channels,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback []*RtcpFeedback        `json:"rtcpFeedback,omitempty"`
}

// RtcpFeedback is one RTCP feedback mechanism supported by a codec.
type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpHeaderExtensionParams is a header extension entry inside RtpParameters.
type RtpHeaderExtensionParams struct {
	URI        string                 `json:"uri"`
	ID         uint8                  `json:"id"`
	Encrypt    bool                   `json:"encrypt,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// RtpEncodingParameters describes one encoding (simulcast layer or the
// single stream) of a produced or consumed media stream.
type RtpEncodingParameters struct {
	Ssrc                  uint32   `json:"ssrc,omitempty"`
	Rid                   string   `json:"rid,omitempty"`
	CodecPayloadType      uint8    `json:"codecPayloadType,omitempty"`
	Rtx                   *RtpRtx  `json:"rtx,omitempty"`
	Dtx                   bool     `json:"dtx,omitempty"`
	ScalabilityMode       string   `json:"scalabilityMode,omitempty"`
	ScaleResolutionDownBy float64  `json:"scaleResolutionDownBy,omitempty"`
	MaxBitrate            uint32   `json:"maxBitrate,omitempty"`
	MaxFramerate          float64  `json:"maxFramerate,omitempty"`
	Priority              string   `json:"priority,omitempty"`
	NetworkPriority       string   `json:"networkPriority,omitempty"`
	Active                *bool    `json:"active,omitempty"`
	AdaptivePtime         bool     `json:"adaptivePtime,omitempty"`
}

// RtpRtx holds the retransmission SSRC associated with an encoding.
type RtpRtx struct {
	Ssrc uint32 `json:"ssrc"`
}

// RtcpParameters holds the stream's RTCP settings.
type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize *bool  `json:"reducedSize,omitempty"`
	Mux         *bool  `json:"mux,omitempty"`
}

// Clone returns a deep copy. Validation normalizes in place, so callers that
// must keep their input untouched clone first.
func (p *RtpParameters) Clone() *RtpParameters {
	if p == nil {
		return nil
	}
	out := &RtpParameters{Mid: p.Mid}
	for _, c := range p.Codecs {
		cc := *c
		cc.Parameters = cloneMap(c.Parameters)
		cc.RtcpFeedback = make([]*RtcpFeedback, 0, len(c.RtcpFeedback))
		for _, fb := range c.RtcpFeedback {
			fbCopy := *fb
			cc.RtcpFeedback = append(cc.RtcpFeedback, &fbCopy)
		}
		out.Codecs = append(out.Codecs, &cc)
	}
	for _, e := range p.HeaderExtensions {
		ee := *e
		ee.Parameters = cloneMap(e.Parameters)
		out.HeaderExtensions = append(out.HeaderExtensions, &ee)
	}
	for _, e := range p.Encodings {
		ee := *e
		if e.Rtx != nil {
			rtx := *e.Rtx
			ee.Rtx = &rtx
		}
		if e.Active != nil {
			active := *e.Active
			ee.Active = &active
		}
		out.Encodings = append(out.Encodings, &ee)
	}
	if p.Rtcp != nil {
		rtcp := *p.Rtcp
		if p.Rtcp.ReducedSize != nil {
			v := *p.Rtcp.ReducedSize
			rtcp.ReducedSize = &v
		}
		if p.Rtcp.Mux != nil {
			v := *p.Rtcp.Mux
			rtcp.Mux = &v
		}
		out.Rtcp = &rtcp
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
