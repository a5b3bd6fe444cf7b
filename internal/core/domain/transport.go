package domain

// MediaKind is the media type of a stream.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Direction is the media direction a transport is bound to. It is fixed at
// construction and never changes.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// IceGatheringState tracks candidate discovery progress. It only moves
// forward: new -> gathering -> complete.
type IceGatheringState string

const (
	IceGatheringStateNew       IceGatheringState = "new"
	IceGatheringStateGathering IceGatheringState = "gathering"
	IceGatheringStateComplete  IceGatheringState = "complete"
)

// ConnectionState is the overall transport connectivity state. "closed" is
// terminal and reachable from any state.
type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateClosed       ConnectionState = "closed"
)

// AppData carries application-defined opaque metadata attached to transports
// and streams. The core never inspects it.
type AppData map[string]interface{}
