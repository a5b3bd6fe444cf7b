package domain

import "time"

// TransportStats is the adapter-reported view of a transport. Retrieval is
// side-effect free and bypasses the command queue.
type TransportStats struct {
	Timestamp     time.Time `json:"timestamp"`
	BytesSent     uint64    `json:"bytesSent"`
	BytesReceived uint64    `json:"bytesReceived"`
	SendBitrate   uint32    `json:"sendBitrate"`
	RecvBitrate   uint32    `json:"recvBitrate"`
	IceState      string    `json:"iceState,omitempty"`
	DtlsState     string    `json:"dtlsState,omitempty"`
	SelectedPair  string    `json:"selectedPair,omitempty"`
}

// StreamStats is the adapter-reported view of one media stream.
type StreamStats struct {
	Timestamp   time.Time     `json:"timestamp"`
	Kind        MediaKind     `json:"kind"`
	Ssrc        uint32        `json:"ssrc,omitempty"`
	Packets     uint64        `json:"packets"`
	Bytes       uint64        `json:"bytes"`
	PacketsLost uint64        `json:"packetsLost,omitempty"`
	Jitter      time.Duration `json:"jitter,omitempty"`
	RoundTrip   time.Duration `json:"roundTrip,omitempty"`
}
