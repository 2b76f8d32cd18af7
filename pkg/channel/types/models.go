package types

// InboundMessage is the normalized message portion of a channel event,
// one shape regardless of provider.
type InboundMessage struct {
	ID           string `json:"id"`
	Body         string `json:"body"`
	FromMe       bool   `json:"fromMe"`
	HasMedia     bool   `json:"hasMedia"`
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	From         string `json:"from"`
	To           string `json:"to"`
	HasQuotedMsg bool   `json:"hasQuotedMsg,omitempty"`
	QuotedMsgID  string `json:"quotedMsgId,omitempty"`
	Ack          *int   `json:"ack,omitempty"`
}

// ContactDescriptor carries the identity/profile data of the counterpart.
type ContactDescriptor struct {
	Name          string `json:"name"`
	Number        string `json:"number"`
	AltID         string `json:"altId,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
	IsGroup       bool   `json:"isGroup"`
}

// EventContext carries the delivery context of a channel event.
type EventContext struct {
	ChannelConnectionID int64              `json:"channelConnectionId"`
	UnreadMessages      int                `json:"unreadMessages"`
	GroupContact        *ContactDescriptor `json:"groupContact,omitempty"`
}

// InlineMedia is an optional media payload delivered with the event.
type InlineMedia struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mimetype"`
	Base64Data string `json:"base64Data"`
}

// MessageEvent is a complete normalized inbound event from a channel adapter.
type MessageEvent struct {
	Message InboundMessage    `json:"message"`
	Contact ContactDescriptor `json:"contact"`
	Context EventContext      `json:"context"`
	Media   *InlineMedia      `json:"media,omitempty"`
}

// AckEvent is a delivery-state update. Level is ordinal:
// 0 none, 1 sent, 2 delivered, 3 read, 4 played.
type AckEvent struct {
	MessageID string `json:"messageId"`
	Level     int    `json:"ackLevel"`
}

// SendOptions carries optional parameters of an outbound send.
type SendOptions struct {
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

// MediaInput is an outbound media payload.
type MediaInput struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mimetype"`
	Base64Data string `json:"base64Data"`
}

// SendResponse is the adapter's view of a sent message.
type SendResponse struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	Ack       int    `json:"ack"`
	Timestamp int64  `json:"timestamp"`
}
