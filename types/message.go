package types

import (
	"strings"
	"time"
)

const (
	AttachmentTypeImage = "image"
	AttachmentTypeVideo = "video"
	AttachmentTypeFile  = "file"
)

// EnvelopePrefix marks message text that carries an encryption envelope instead of plaintext.
const EnvelopePrefix = "e2e1:"

// Message is the persisted chat message. Text is opaque to the server: it may
// be plaintext or an encryption envelope.
//
// Once DeletedAt is set the row is frozen; EditedAt and Text never change again.
type Message struct {
	Id     uint64 `gorm:"primaryKey;autoIncrement"`
	RoomId uint64 `gorm:"not null;index:idx_messages_room_created,priority:1"`
	UserId string `gorm:"size:190;not null;index"`
	Text   string `gorm:"type:text;not null;default:''"`

	AttachmentURL  string `gorm:"size:512"`
	AttachmentType string `gorm:"size:16"`
	AttachmentName string `gorm:"size:255"`
	AttachmentSize int64
	AttachmentMime string `gorm:"size:128"`
	Encrypted      bool   `gorm:"not null;default:false"`
	IV             string `gorm:"size:64"`

	ReplyToId                   *uint64 `gorm:"index"`
	ForwardFromMessageId        *uint64
	ForwardedByUserId           *string `gorm:"size:190"`
	ForwardedOriginalSenderName *string `gorm:"size:128"`
	ForwardedOriginalTimestamp  *time.Time

	CreatedAt time.Time `gorm:"not null;index:idx_messages_room_created,priority:2"`
	EditedAt  *time.Time
	DeletedAt *time.Time
}

func (m *Message) HasAttachment() bool {
	return m.AttachmentURL != ""
}

func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Attachment is the wire form of a message attachment.
type Attachment struct {
	URL       string `json:"url" mapstructure:"url"`
	Type      string `json:"type" mapstructure:"type"`
	Name      string `json:"name" mapstructure:"name"`
	Size      int64  `json:"size" mapstructure:"size"`
	Mime      string `json:"mime" mapstructure:"mime"`
	Encrypted bool   `json:"encrypted" mapstructure:"encrypted"`
	IV        string `json:"iv,omitempty" mapstructure:"iv"`
}

// Validate checks the attachment shape: a url, a known type and an iv that is
// present exactly when the payload is encrypted.
func (a *Attachment) Validate() error {
	if strings.TrimSpace(a.URL) == "" {
		return NewValidationError("attachment", "attachment url is required")
	}
	switch a.Type {
	case AttachmentTypeImage, AttachmentTypeVideo, AttachmentTypeFile:
	default:
		return NewValidationError("attachment", "unknown attachment type %q", a.Type)
	}
	if a.Size < 0 {
		return NewValidationError("attachment", "attachment size must not be negative")
	}
	if a.Encrypted && a.IV == "" {
		return NewValidationError("attachment", "encrypted attachment requires an iv")
	}
	if !a.Encrypted && a.IV != "" {
		return NewValidationError("attachment", "iv given for an unencrypted attachment")
	}
	return nil
}

// WireMessage is a message materialized for clients: the sender's display name
// is resolved and every lifecycle field is carried so that a client can rebuild
// its state from a single frame.
type WireMessage struct {
	Id                          uint64      `json:"id"`
	RoomCode                    string      `json:"roomCode"`
	UserId                      string      `json:"userId"`
	From                        string      `json:"from"`
	Text                        string      `json:"text"`
	Ts                          int64       `json:"ts"`
	CreatedAt                   time.Time   `json:"createdAt"`
	EditedAt                    *time.Time  `json:"editedAt"`
	DeletedAt                   *time.Time  `json:"deletedAt"`
	ReplyToId                   *uint64     `json:"replyToId"`
	ForwardFromMessageId        *uint64     `json:"forwardFromMessageId"`
	ForwardedByUserId           *string     `json:"forwardedByUserId"`
	ForwardedOriginalSenderName *string     `json:"forwardedOriginalSenderName"`
	ForwardedOriginalTimestamp  *time.Time  `json:"forwardedOriginalTimestamp"`
	Attachment                  *Attachment `json:"attachment,omitempty"`
}

// Materialize builds the wire form of m for the given room code and sender name.
func Materialize(m *Message, roomCode, from string) *WireMessage {
	wm := &WireMessage{
		Id:                          m.Id,
		RoomCode:                    roomCode,
		UserId:                      m.UserId,
		From:                        from,
		Text:                        m.Text,
		Ts:                          m.CreatedAt.UnixNano() / int64(time.Millisecond),
		CreatedAt:                   m.CreatedAt,
		EditedAt:                    m.EditedAt,
		DeletedAt:                   m.DeletedAt,
		ReplyToId:                   m.ReplyToId,
		ForwardFromMessageId:        m.ForwardFromMessageId,
		ForwardedByUserId:           m.ForwardedByUserId,
		ForwardedOriginalSenderName: m.ForwardedOriginalSenderName,
		ForwardedOriginalTimestamp:  m.ForwardedOriginalTimestamp,
	}
	if m.HasAttachment() {
		wm.Attachment = &Attachment{
			URL:       m.AttachmentURL,
			Type:      m.AttachmentType,
			Name:      m.AttachmentName,
			Size:      m.AttachmentSize,
			Mime:      m.AttachmentMime,
			Encrypted: m.Encrypted,
			IV:        m.IV,
		}
	}
	return wm
}
