package handshake

// Role is the handshake participant role.
type Role int

const (
	// RoleInitiator is the side that sends Init.
	RoleInitiator Role = iota
	// RoleResponder is the side that answers Init.
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// State is the handshake state machine position.
type State int

const (
	// StateIdle is the initial state before any message.
	StateIdle State = iota
	// StateSentInit means the initiator sent Init and awaits Response.
	StateSentInit
	// StateReceivedInit means the responder decrypted Init and awaits an
	// admission decision.
	StateReceivedInit
	// StateSentResponse means the responder sent Response and awaits Confirm.
	StateSentResponse
	// StateReceivedResponse means the initiator verified Response and is
	// producing Confirm. It is transient within HandleResponse.
	StateReceivedResponse
	// StateEstablished means key material is available.
	StateEstablished
	// StateExpired means the negotiation timed out or was abandoned.
	StateExpired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSentInit:
		return "SentInit"
	case StateReceivedInit:
		return "ReceivedInit"
	case StateSentResponse:
		return "SentResponse"
	case StateReceivedResponse:
		return "ReceivedResponse"
	case StateEstablished:
		return "Established"
	case StateExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true for states from which no handshake message is
// retransmitted.
func (s State) IsTerminal() bool {
	return s == StateEstablished || s == StateExpired
}
