// Package domain defines the persistence models for conversations, turns,
// and processed inbound messages. These types are mapped with GORM and form
// the core data layer of the email assistant.
package domain

import (
	"time"
)

// Conversation is the durable unit of state for one logical customer
// exchange. A conversation is created on the first inbound message of a
// never-before-seen thread and mutated on every subsequent message or
// booking outcome; it is never physically deleted.
//
// Fields:
//   - ID: stable conversation identity ("<thread key>#<seq>").
//   - ThreadKey: hash of the normalized subject + counterpart address;
//     shared by every restart of the same thread (indexed).
//   - Seq: restart sequence within the thread, starting at 1.
//   - CounterpartEmail / CounterpartName: the customer on the other side.
//   - Subject: original (un-normalized) subject, kept for reply headers.
//   - Stage: current conversation stage (see stage.go).
//   - Slots: extracted booking slots, stored as JSON.
//   - Language: BCP-47-ish language hint reported by the engine ("en", "fi").
//   - BookingRef: confirmation reference once a booking succeeded.
//   - BookingFailures: retryable booking failures seen so far.
//   - LastProcessedMessageID: most recent inbound message folded into this
//     record; idempotency guard and resumption cursor.
//   - Version: optimistic-concurrency counter, incremented on every mutation.
type Conversation struct {
	ID                     string    `json:"id"                gorm:"type:varchar(80);primaryKey"`
	ThreadKey              string    `json:"thread_key"        gorm:"type:char(24);not null;index:idx_thread_seq,priority:1"`
	Seq                    int       `json:"seq"               gorm:"not null;index:idx_thread_seq,priority:2"`
	CounterpartEmail       string    `json:"counterpart_email" gorm:"type:varchar(255);not null;index"`
	CounterpartName        string    `json:"counterpart_name"  gorm:"type:varchar(255)"`
	Subject                string    `json:"subject"           gorm:"type:varchar(998)"`
	Stage                  Stage     `json:"stage"             gorm:"type:varchar(16);not null"`
	Slots                  Slots     `json:"slots"             gorm:"serializer:json"`
	Language               string    `json:"language"          gorm:"type:varchar(8)"`
	BookingRef             string    `json:"booking_ref"       gorm:"type:varchar(128)"`
	BookingFailures        int       `json:"booking_failures"  gorm:"not null;default:0"`
	LastProcessedMessageID string    `json:"last_processed_message_id" gorm:"type:varchar(128)"`
	Version                int64     `json:"version"           gorm:"not null"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`

	// Turns is the append-only history, ordered by Seq ascending.
	Turns []Turn `json:"turns,omitempty" gorm:"foreignKey:ConversationID;references:ID"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Terminal reports whether the conversation reached a final stage.
func (c Conversation) Terminal() bool { return c.Stage.Terminal() }

// CustomerTurns counts turns authored by the customer.
func (c Conversation) CustomerTurns() int {
	n := 0
	for _, t := range c.Turns {
		if t.Role == RoleCustomer {
			n++
		}
	}
	return n
}

// Roles a turn can be authored by.
const (
	RoleCustomer  = "customer"
	RoleAssistant = "assistant"
)

// Turn is a single utterance within a conversation. Turns are append-only:
// once written they are never reordered or mutated.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: owning conversation (indexed together with Seq).
//   - Seq: position within the conversation history, starting at 1.
//   - Role: "customer" or "assistant" (enforced by DB constraint).
//   - Content: full text of the turn.
//   - SourceMessageID: inbound message id for customer turns; empty for
//     assistant turns.
type Turn struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	ConversationID  string    `json:"conversation_id"   gorm:"type:varchar(80);not null;uniqueIndex:ux_conv_turn,priority:1"`
	Seq             int       `json:"seq"               gorm:"not null;uniqueIndex:ux_conv_turn,priority:2"`
	Role            string    `json:"role"              gorm:"type:varchar(16);not null;check:role IN ('customer','assistant')"`
	Content         string    `json:"content"           gorm:"type:text;not null"`
	SourceMessageID string    `json:"source_message_id" gorm:"type:varchar(128)"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName returns the database table name for Turn.
func (Turn) TableName() string { return "turns" }

// ProcessedMessage records that an inbound message id has been folded into
// some conversation's state. Write-once; existence of a row is the sole
// deduplication signal.
type ProcessedMessage struct {
	MessageID      string    `gorm:"type:varchar(128);primaryKey"`
	ConversationID string    `gorm:"type:varchar(80);not null;index"`
	ProcessedAt    time.Time `gorm:"type:DATETIME;not null"`
}

// TableName returns the database table name for ProcessedMessage.
func (ProcessedMessage) TableName() string { return "processed_messages" }
