package domain

// SctpCapabilities is the number of SCTP streams the endpoint supports.
type SctpCapabilities struct {
	NumStreams NumSctpStreams `json:"numStreams"`
}

// NumSctpStreams holds the outgoing (OS) and maximum incoming (MIS) SCTP
// stream counts exchanged during the SCTP handshake.
type NumSctpStreams struct {
	OS  uint16 `json:"OS"`
	MIS uint16 `json:"MIS"`
}

// SctpParameters is the negotiated SCTP association for a transport.
// MaxMessageSize is the ceiling for auxiliary data-channel messages; a zero
// value means data channels were not negotiated.
type SctpParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"os"`
	MIS            uint16 `json:"mis"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

// SctpStreamParameters describe the reliability of one SCTP stream. When a
// lifetime or retransmit limit is set, Ordered is forced to false.
type SctpStreamParameters struct {
	StreamId          uint16 `json:"streamId"`
	Ordered           *bool  `json:"ordered,omitempty"`
	MaxPacketLifeTime uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    uint16 `json:"maxRetransmits,omitempty"`
}

// Clone returns a deep copy.
func (p *SctpStreamParameters) Clone() *SctpStreamParameters {
	if p == nil {
		return nil
	}
	out := *p
	if p.Ordered != nil {
		v := *p.Ordered
		out.Ordered = &v
	}
	return &out
}
