package wire

// Outbound send destinations.
const (
	DestPresenceOnline  = "/app/presence.online"
	DestPresenceOffline = "/app/presence.offline"
	DestSendMessage     = "/app/chat.send"
	DestTyping          = "/app/chat.typing"
	DestEditMessage     = "/app/chat.edit"
	DestReadReceipt     = "/app/chat.read"
)

// Inbound subscriptions. /topic/* are broadcasts, /user/queue/* are
// delivered only to this connection's user.
const (
	SubPresenceBroadcast = "/topic/presence"
	SubPresenceDirect    = "/user/queue/presence"
	SubMessages          = "/user/queue/messages"
	SubTyping            = "/user/queue/typing"
	SubSendAcks          = "/user/queue/acks"
	SubEdits             = "/user/queue/edits"
	SubEditAcks          = "/user/queue/edit-acks"
	SubReadReceipts      = "/user/queue/receipts"
)

// Subscriptions lists every subscription the session (re)issues on each
// successful connect, in a stable order.
var Subscriptions = []string{
	SubPresenceBroadcast,
	SubPresenceDirect,
	SubMessages,
	SubTyping,
	SubSendAcks,
	SubEdits,
	SubEditAcks,
	SubReadReceipts,
}
