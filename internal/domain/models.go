// Package domain defines the persistence models for chat sessions, messages,
// attachments, and feedback. These types are mapped with GORM and form the
// core data layer of the support-widget backend.
package domain

import "time"

// Message sender values.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Processing states of a user message's reply generation. A user message is
// created as StatusPending, moves to StatusProcessing when the generator is
// dispatched, and terminates in StatusCompleted or StatusFailed. Transitions
// never go backward. Bot messages are created as StatusCompleted and are
// never updated afterwards.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Session represents one widget conversation. The ID is an opaque string
// generated (or cached and re-supplied) by the embedding page; the backend
// accepts client-minted IDs so a reopened widget keeps its history.
//
// Sessions are immutable after creation and are never deleted.
type Session struct {
	ID            string    `json:"session_id"               gorm:"type:char(36);primaryKey"`
	OriginWebsite string    `json:"origin_website,omitempty" gorm:"type:varchar(255)"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Message represents a single chat turn. User messages carry the reply
// lifecycle in ProcessingStatus and (once generation finishes) the raw
// generator payload in GeneratorOutput. Bot messages are terminal on
// creation.
//
// Fields:
//   - ID: monotonic ordinal assigned by the store (AUTOINCREMENT). Within a
//     session, (CreatedAt, ID) gives a stable total order.
//   - Body: optional; absent for file-only user messages.
//   - GeneratorOutput: raw JSON emitted by the response generator on success,
//     or an error payload on failure. Nil while pending/processing.
type Message struct {
	ID               uint         `json:"id"                         gorm:"primaryKey;autoIncrement"`
	SessionID        string       `json:"session_id"                 gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	Body             *string      `json:"body,omitempty"             gorm:"type:text"`
	Sender           string       `json:"sender"                     gorm:"type:varchar(8);not null;check:sender IN ('user','bot')"`
	HasAttachments   bool         `json:"has_attachments"            gorm:"not null;default:false"`
	ProcessingStatus string       `json:"processing_status"          gorm:"type:varchar(16);not null;check:processing_status IN ('pending','processing','completed','failed')"`
	GeneratorOutput  *string      `json:"generator_output,omitempty" gorm:"type:text"`
	CreatedAt        time.Time    `json:"created_at"                 gorm:"index:idx_session_msgs,priority:2"`
	Attachments      []Attachment `json:"attachments,omitempty"      gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	// Session is the parent conversation (weak reference by SessionID).
	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Terminal reports whether the message's reply lifecycle has finished.
// Bot messages are always terminal.
func (m *Message) Terminal() bool {
	return m.ProcessingStatus == StatusCompleted || m.ProcessingStatus == StatusFailed
}

// Attachment is a file uploaded alongside a user message. Rows are created
// only with their parent message, validated beforehand by the upload store,
// and immutable afterwards. Their lifecycle is tied to the parent message.
type Attachment struct {
	ID           uint      `json:"id"            gorm:"primaryKey;autoIncrement"`
	MessageID    uint      `json:"message_id"    gorm:"not null;index"`
	StoredName   string    `json:"stored_name"   gorm:"type:varchar(255);not null"`
	OriginalName string    `json:"original_name" gorm:"type:varchar(255);not null"`
	MimeType     string    `json:"mime_type"     gorm:"type:varchar(128);not null"`
	SizeBytes    int64     `json:"size_bytes"    gorm:"not null"`
	Path         string    `json:"-"             gorm:"type:varchar(512);not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for Attachment.
func (Attachment) TableName() string { return "attachments" }

// Feedback is a single helpful/not-helpful vote on a bot message. The unique
// index on MessageID enforces the at-most-one-row-per-message invariant;
// repeated votes update IsHelpful and UpdatedAt in place and keep the ID
// stable.
type Feedback struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	SessionID string    `json:"session_id" gorm:"type:char(36);not null;index"`
	MessageID uint      `json:"message_id" gorm:"not null;uniqueIndex:ux_feedback_message"`
	IsHelpful bool      `json:"is_helpful" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Message is the rated bot message. Feedback is cascade-deleted if the
	// underlying message is removed.
	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string { return "feedback" }
