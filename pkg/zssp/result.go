package zssp

import "github.com/backkem/zssp/pkg/session"

// ResultKind classifies the outcome of Context.Receive.
type ResultKind int

const (
	// ResultOk means the packet was consumed by the protocol and carries
	// nothing for the application.
	ResultOk ResultKind = iota

	// ResultOkData means a complete application message was delivered.
	ResultOkData

	// ResultOkNewSession means an incoming handshake completed.
	ResultOkNewSession

	// ResultRejected means an Init was refused by the Application. No state
	// was kept.
	ResultRejected
)

// String returns the string representation of the result kind.
func (k ResultKind) String() string {
	switch k {
	case ResultOk:
		return "Ok"
	case ResultOkData:
		return "OkData"
	case ResultOkNewSession:
		return "OkNewSession"
	case ResultRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// ReceiveResult is returned by Context.Receive.
type ReceiveResult struct {
	Kind ResultKind

	// Session is the session the packet belonged to, if any.
	Session *session.Session

	// Data is the delivered message for ResultOkData. ResultOkNewSession
	// also carries one when the initiator's first message arrived ahead of
	// its Confirm and completed the handshake. It is owned by the
	// caller.
	Data []byte

	// AppData is the RemoteIdentity.AppData returned by the resolver, set
	// for ResultOkNewSession.
	AppData any
}
