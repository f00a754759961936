package hrlive

// EventName identifies a real-time channel event.
type EventName string

// Outgoing events (client -> server).
const (
	EventRegister       EventName = "register"
	EventSendMessage    EventName = "send-message"
	EventLoadHistory    EventName = "load-history"
	EventGetActiveUsers EventName = "get-active-users"
)

// Incoming events (server -> client).
const (
	EventReceiveMessage  EventName = "receive-message"
	EventMessageSent     EventName = "message-sent"
	EventUserOnline      EventName = "user-online"
	EventUserOffline     EventName = "user-offline"
	EventActiveUsersList EventName = "active-users-list"
	EventChatHistory     EventName = "chat-history"
	EventNotificationNew EventName = "notification:new"
)

// Lifecycle events raised locally by ConnectionManager. They travel the same
// dispatch queue as server events, so their order relative to them holds.
const (
	EventConnected       EventName = "connected"
	EventConnectionError EventName = "connectionError"
	EventDisconnected    EventName = "disconnected"
	EventReconnectFailed EventName = "reconnectFailed"
	EventStateChanged    EventName = "stateChanged"
	EventError           EventName = "error"
)

// Frame is a decoded envelope read from the transport.
type Frame struct {
	Event string
	Data  []byte
	Error *ProtocolError
}

// ProtocolError describes a server error frame.
type ProtocolError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// RegisterPayload attaches a notification-push subscription for a user.
type RegisterPayload struct {
	UserID string `json:"userId"`
}

// SendMessagePayload sends a chat message to a peer.
type SendMessagePayload struct {
	ToUserID string `json:"toUserId"`
	Text     string `json:"text"`
	LocalID  string `json:"localId"`
}

// LoadHistoryPayload requests the conversation history with a peer.
type LoadHistoryPayload struct {
	TargetUserID string `json:"targetUserId"`
}

// wireMessage is the loose shape of receive-message, message-sent and
// chat-history entries. Anything may be missing.
type wireMessage struct {
	ID         string `json:"id"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Text       string `json:"text"`
	LocalID    string `json:"localId"`
	CreatedAt  string `json:"createdAt"`
}

// wirePeer is the shape of user-online, user-offline and active-users-list entries.
type wirePeer struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// wireNotification is the shape of notification:new and REST list entries.
type wireNotification struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Type      string  `json:"type"`
	Read      *bool   `json:"read"`
	CreatedAt string  `json:"createdAt"`
	Link      *string `json:"link"`
}
