package models

import "time"

// Message is a direct message from one user to another.
type Message struct {
	ID         string    `db:"id" json:"_id"`
	SenderID   string    `db:"sender_id" json:"sender"`
	ReceiverID string    `db:"receiver_id" json:"receiver"`
	Content    string    `db:"content" json:"content"`
	IsRead     bool      `db:"is_read" json:"isRead"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Counterpart returns the participant of the message that is not userID.
func (m Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether the message belongs to the pair {a, b}.
func (m Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// MessageView is a message with both participants expanded for rendering.
type MessageView struct {
	ID        string      `json:"_id"`
	Sender    UserSummary `json:"sender"`
	Receiver  UserSummary `json:"receiver"`
	Content   string      `json:"content"`
	IsRead    bool        `json:"isRead"`
	CreatedAt time.Time   `json:"createdAt"`
}

// LastMessage is the projection of a message shown in a conversation row.
type LastMessage struct {
	ID        string    `json:"_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
}

// Conversation summarises the latest exchange with one counterpart.
type Conversation struct {
	User        UserSummary `json:"user"`
	LastMessage LastMessage `json:"lastMessage"`
}

// ChatEvent is pushed to websocket clients.
type ChatEvent struct {
	Type     string       `json:"type"`
	Message  *MessageView `json:"message,omitempty"`
	ReaderID string       `json:"readerId,omitempty"`
	Count    int64        `json:"count,omitempty"`
}

// MessageEvent is published to the event broker.
type MessageEvent struct {
	EventType  string   `json:"event_type"`
	OccurredAt string   `json:"occurred_at"`
	Message    *Message `json:"message,omitempty"`
	ReaderID   string   `json:"reader_id,omitempty"`
	SenderID   string   `json:"sender_id,omitempty"`
	Count      int64    `json:"count,omitempty"`
}
