package models

// Client command types.
const (
	CommandSendMessage    = "send_message"
	CommandGuardianAction = "guardian_action"
)

// Guardian action kinds.
const (
	ActionMute     = "mute"
	ActionDelete   = "delete"
	ActionBan      = "ban"
	ActionSlowMode = "slow_mode"
)

// Machine-distinguishable rejection kinds carried on error events.
const (
	ReasonEmpty       = "empty"
	ReasonTooLong     = "too_long"
	ReasonMuted       = "muted"
	ReasonBanned      = "banned"
	ReasonRateLimited = "rate_limited"
	ReasonSlowMode    = "slow_mode"
	ReasonForbidden   = "forbidden"
	ReasonNotFound    = "not_found"
	ReasonBadRequest  = "bad_request"
)

// ClientCommand is an inbound frame from a connected client.
type ClientCommand struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ReplyToID int64  `json:"reply_to_id,omitempty"`
	Action    string `json:"action,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	Seconds   int    `json:"seconds,omitempty"`
}

// MessageEvent announces a newly accepted message.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

// InitialMessagesEvent is sent once per subscribed channel, oldest first.
type InitialMessagesEvent struct {
	Type     string    `json:"type"`
	Channel  string    `json:"channel"`
	Messages []Message `json:"messages"`
}

// MessageDeletedEvent instructs clients to drop a message from their view.
type MessageDeletedEvent struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	MessageID int64  `json:"message_id"`
}

// GuardianStatusEvent tells a client whether it holds guardian privilege.
type GuardianStatusEvent struct {
	Type       string `json:"type"`
	IsGuardian bool   `json:"is_guardian"`
}

// OnlineCountEvent carries the subscriber count of a channel.
type OnlineCountEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

// SystemMessageEvent is a broadcast notice that is not attributed to a sender.
type SystemMessageEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlowModeChangedEvent announces the new slow-mode interval for a channel.
type SlowModeChangedEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Seconds int    `json:"seconds"`
}

// ErrorEvent is delivered to the originating connection only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewMessageEvent(msg Message) MessageEvent {
	return MessageEvent{Type: "message", Message: &msg}
}

func NewInitialMessagesEvent(channel string, msgs []Message) InitialMessagesEvent {
	if msgs == nil {
		msgs = []Message{}
	}
	return InitialMessagesEvent{Type: "initial_messages", Channel: channel, Messages: msgs}
}

func NewMessageDeletedEvent(channel string, messageID int64) MessageDeletedEvent {
	return MessageDeletedEvent{Type: "message_deleted", Channel: channel, MessageID: messageID}
}

func NewGuardianStatusEvent(isGuardian bool) GuardianStatusEvent {
	return GuardianStatusEvent{Type: "guardian_status", IsGuardian: isGuardian}
}

func NewOnlineCountEvent(channel string, count int) OnlineCountEvent {
	return OnlineCountEvent{Type: "online_count", Channel: channel, Count: count}
}

func NewSystemMessageEvent(text string) SystemMessageEvent {
	return SystemMessageEvent{Type: "system_message", Text: text}
}

func NewSlowModeChangedEvent(channel string, seconds int) SlowModeChangedEvent {
	return SlowModeChangedEvent{Type: "slow_mode_changed", Channel: channel, Seconds: seconds}
}

func NewErrorEvent(kind, message string) ErrorEvent {
	return ErrorEvent{Type: "error", Kind: kind, Message: message}
}
