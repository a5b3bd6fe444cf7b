package domain

// TransportProtocol is the candidate transport protocol.
type TransportProtocol string

const (
	ProtocolUDP TransportProtocol = "udp"
	ProtocolTCP TransportProtocol = "tcp"
)

// IceParameters is the local connectivity identity issued to a transport.
// Immutable once handed to a transport instance; RestartIce replaces the
// whole value.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

// IceCandidate describes one reachable network path. Priority ordering is
// consumed by the engine adapter, never by the core.
type IceCandidate struct {
	Foundation string            `json:"foundation"`
	Priority   uint32            `json:"priority"`
	Address    string            `json:"address"`
	Protocol   TransportProtocol `json:"protocol"`
	Port       uint16            `json:"port"`
	Type       string            `json:"type"` // "host" | "srflx" | "prflx" | "relay"
	TcpType    string            `json:"tcpType,omitempty"`
}

// IceServer is a STUN/TURN server entry passed to the engine adapter.
type IceServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}
