package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the sync engine and its collaborators.
const (
	KindChannelStateChanged  = "channel.state_changed"
	KindChannelEmitDropped   = "channel.emit_dropped"
	KindChannelTransportDrop = "channel.transport_drop"
	KindChannelError         = "channel.error"

	KindMessageUpserted     = "state.message_upserted"
	KindMessageRemoved      = "state.message_removed"
	KindConversationUpdated = "state.conversation_updated"
	KindPresenceChanged     = "state.presence_changed"
	KindTypingChanged       = "state.typing_changed"
	KindStateReset          = "state.reset"

	KindSendFailed = "send.failed"

	KindSessionSignedIn    = "session.signed_in"
	KindSessionSignedOut   = "session.signed_out"
	KindSessionInvalidated = "session.invalidated"
)
