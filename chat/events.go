package chat

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/halverson-labs/bookline-chat/models"
	"github.com/pkg/errors"
)

// Inbound event names.
const (
	EventJoinRoom       = "joinAppointmentRoom"
	EventSendMessage    = "sendMessage"
	EventMarkDelivered  = "markMessageAsDelivered"
	EventMarkRead       = "markMessageAsRead"
	EventMarkReadBatch  = "markMessagesAsRead"
	EventResetUnread    = "resetUnreadCount"
	EventReact          = "reactToMessage"
	EventRemoveReaction = "removeReaction"
	EventDeleteMessage  = "deleteMessage"
)

// Outbound event names.
const (
	EventReceiveMessage    = "receiveMessage"
	EventMessageDelivered  = "messageDelivered"
	EventMessageRead       = "messageRead"
	EventMessagesRead      = "messagesRead"
	EventUnreadCountUpdate = "unreadCountUpdate"
	EventMessageReaction   = "messageReaction"
	EventMessageDeleted    = "messageDeleted"
	EventError             = "error"
)

var validate = validator.New()

// envelope is the wire shape of every inbound frame; Type selects the
// variant and decides which of the remaining fields matter.
type envelope struct {
	Type          string   `json:"type" validate:"required"`
	AppointmentID string   `json:"appointmentId,omitempty"`
	MessageID     string   `json:"messageId,omitempty"`
	MessageIDs    []string `json:"messageIds,omitempty"`
	UserID        string   `json:"userId,omitempty"`
	Sender        string   `json:"sender,omitempty"`
	Message       string   `json:"message,omitempty"`
	MessageType   string   `json:"messageType,omitempty"`
	FileURL       string   `json:"fileUrl,omitempty"`
	FileName      string   `json:"fileName,omitempty"`
	FileSize      int64    `json:"fileSize,omitempty"`
	Emoji         string   `json:"emoji,omitempty"`
	ForEveryone   bool     `json:"forEveryone,omitempty"`
}

// Event is the closed set of inbound variants the gateway dispatches over.
type Event interface{ isEvent() }

type JoinRoom struct {
	AppointmentID uuid.UUID
}

type SendMessage struct {
	AppointmentID uuid.UUID
	Content       string
	MessageType   string
	FileURL       *string
	FileName      *string
	FileSize      *int64
}

type AckDelivered struct {
	AppointmentID uuid.UUID
	MessageID     uuid.UUID
}

type AckRead struct {
	AppointmentID uuid.UUID
	MessageID     uuid.UUID
}

type AckReadBatch struct {
	AppointmentID uuid.UUID
	MessageIDs    []uuid.UUID
}

type ResetUnread struct {
	AppointmentID uuid.UUID
}

type React struct {
	AppointmentID uuid.UUID
	MessageID     uuid.UUID
	Emoji         string
	Remove        bool
}

type DeleteMessage struct {
	AppointmentID uuid.UUID
	MessageID     uuid.UUID
	ForEveryone   bool
}

func (JoinRoom) isEvent()      {}
func (SendMessage) isEvent()   {}
func (AckDelivered) isEvent()  {}
func (AckRead) isEvent()       {}
func (AckReadBatch) isEvent()  {}
func (ResetUnread) isEvent()   {}
func (React) isEvent()         {}
func (DeleteMessage) isEvent() {}

func parseID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errors.Wrapf(ErrValidation, "missing %s", field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Wrapf(ErrValidation, "malformed %s", field)
	}
	return id, nil
}

// ParseEvent decodes one inbound frame into its tagged variant, rejecting
// missing or malformed ids before any store is touched.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrValidation, "malformed event")
	}
	if err := validate.Struct(&env); err != nil {
		return nil, errors.Wrap(ErrValidation, "missing event type")
	}

	apptID, err := parseID("appointmentId", env.AppointmentID)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case EventJoinRoom:
		return JoinRoom{AppointmentID: apptID}, nil

	case EventSendMessage:
		if env.Message == "" && env.FileURL == "" {
			return nil, errors.Wrap(ErrValidation, "empty message")
		}
		mt := env.MessageType
		if mt == "" {
			mt = models.MessageTypeText
		}
		switch mt {
		case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeDocument:
		default:
			return nil, errors.Wrapf(ErrValidation, "unknown messageType %q", mt)
		}
		ev := SendMessage{AppointmentID: apptID, Content: env.Message, MessageType: mt}
		if env.FileURL != "" {
			ev.FileURL = &env.FileURL
		}
		if env.FileName != "" {
			ev.FileName = &env.FileName
		}
		if env.FileSize > 0 {
			ev.FileSize = &env.FileSize
		}
		return ev, nil

	case EventMarkDelivered:
		msgID, err := parseID("messageId", env.MessageID)
		if err != nil {
			return nil, err
		}
		return AckDelivered{AppointmentID: apptID, MessageID: msgID}, nil

	case EventMarkRead:
		msgID, err := parseID("messageId", env.MessageID)
		if err != nil {
			return nil, err
		}
		return AckRead{AppointmentID: apptID, MessageID: msgID}, nil

	case EventMarkReadBatch:
		if len(env.MessageIDs) == 0 {
			return nil, errors.Wrap(ErrValidation, "missing messageIds")
		}
		ids := make([]uuid.UUID, 0, len(env.MessageIDs))
		for _, raw := range env.MessageIDs {
			id, err := parseID("messageIds", raw)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return AckReadBatch{AppointmentID: apptID, MessageIDs: ids}, nil

	case EventResetUnread:
		return ResetUnread{AppointmentID: apptID}, nil

	case EventReact, EventRemoveReaction:
		msgID, err := parseID("messageId", env.MessageID)
		if err != nil {
			return nil, err
		}
		if env.Emoji == "" {
			return nil, errors.Wrap(ErrValidation, "missing emoji")
		}
		return React{
			AppointmentID: apptID,
			MessageID:     msgID,
			Emoji:         env.Emoji,
			Remove:        env.Type == EventRemoveReaction,
		}, nil

	case EventDeleteMessage:
		msgID, err := parseID("messageId", env.MessageID)
		if err != nil {
			return nil, err
		}
		return DeleteMessage{AppointmentID: apptID, MessageID: msgID, ForEveryone: env.ForEveryone}, nil
	}
	return nil, errors.Wrapf(ErrValidation, "unknown event type %q", env.Type)
}

// ReactionView is the wire shape of one reaction.
type ReactionView struct {
	ParticipantID uuid.UUID `json:"participantId"`
	Emoji         string    `json:"emoji"`
	ReactedAt     time.Time `json:"reactedAt"`
}

// MessageView is the wire shape of a message, used both by receiveMessage
// broadcasts and the pull surface. Globally deleted messages keep their slot
// in the thread but carry no body.
type MessageView struct {
	ID            uuid.UUID      `json:"id"`
	AppointmentID uuid.UUID      `json:"appointmentId"`
	Sender        uuid.UUID      `json:"sender"`
	SenderRole    string         `json:"senderRole"`
	Message       string         `json:"message"`
	MessageType   string         `json:"messageType"`
	FileURL       *string        `json:"fileUrl,omitempty"`
	FileName      *string        `json:"fileName,omitempty"`
	FileSize      *int64         `json:"fileSize,omitempty"`
	Status        string         `json:"status"`
	DeliveredAt   *time.Time     `json:"deliveredAt,omitempty"`
	ReadAt        *time.Time     `json:"readAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	Deleted       bool           `json:"deleted,omitempty"`
	Reactions     []ReactionView `json:"reactions,omitempty"`
}

// NewMessageView renders a message for the wire.
func NewMessageView(m *models.Message, appointmentID uuid.UUID, reactions []models.MessageReaction) MessageView {
	v := MessageView{
		ID:            m.ID,
		AppointmentID: appointmentID,
		Sender:        m.SenderID,
		SenderRole:    m.SenderRole,
		Message:       m.Content,
		MessageType:   m.MessageType,
		FileURL:       m.FileURL,
		FileName:      m.FileName,
		FileSize:      m.FileSize,
		Status:        m.Status,
		DeliveredAt:   m.DeliveredAt,
		ReadAt:        m.ReadAt,
		CreatedAt:     m.CreatedAt,
	}
	if m.DeletedForEveryone {
		v.Deleted = true
		v.Message = ""
		v.FileURL = nil
		v.FileName = nil
		v.FileSize = nil
	}
	for _, r := range reactions {
		v.Reactions = append(v.Reactions, ReactionView{
			ParticipantID: r.ParticipantID,
			Emoji:         r.Emoji,
			ReactedAt:     r.CreatedAt,
		})
	}
	return v
}

// Outbound broadcast payloads. Every frame carries its event name.

type ReceiveMessage struct {
	Event   string      `json:"event"`
	Message MessageView `json:"message"`
}

type MessageDelivered struct {
	Event       string     `json:"event"`
	MessageID   uuid.UUID  `json:"messageId"`
	DeliveredAt *time.Time `json:"deliveredAt"`
}

type MessageRead struct {
	Event     string     `json:"event"`
	MessageID uuid.UUID  `json:"messageId"`
	ReadAt    *time.Time `json:"readAt"`
}

type MessagesRead struct {
	Event      string      `json:"event"`
	MessageIDs []uuid.UUID `json:"messageIds"`
	ReadAt     time.Time   `json:"readAt"`
}

type UnreadCountUpdate struct {
	Event         string            `json:"event"`
	AppointmentID uuid.UUID         `json:"appointmentId"`
	UnreadCounts  map[uuid.UUID]int `json:"unreadCounts"`
}

type MessageReactionEvent struct {
	Event         string    `json:"event"`
	MessageID     uuid.UUID `json:"messageId"`
	ParticipantID uuid.UUID `json:"participantId"`
	Emoji         string    `json:"emoji"`
	ReactedAt     time.Time `json:"reactedAt"`
	Removed       bool      `json:"removed,omitempty"`
}

type MessageDeleted struct {
	Event     string    `json:"event"`
	MessageID uuid.UUID `json:"messageId"`
}

type ErrorFrame struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
