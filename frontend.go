package steward

import "context"

// Frontend is the transport adapter contract. Adapters translate their
// channel's message format into TurnRequest values, deliver TurnReply
// values back, and own attachment download and temp-directory lifecycle.
//
// When a reply carries PendingConfirmation, the adapter must keep the
// turn's temp directory alive until the confirmation token is consumed or
// expires.
type Frontend interface {
	// Poll starts receiving inbound messages. The channel closes when the
	// adapter shuts down.
	Poll(ctx context.Context) (<-chan TurnRequest, error)
	// Send delivers a reply for the given channel/user.
	Send(ctx context.Context, channel, userID string, reply TurnReply) error
}
