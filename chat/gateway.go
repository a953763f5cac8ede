package chat

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/halverson-labs/bookline-chat/models"
	"github.com/pkg/errors"
)

// MessageLog is what the gateway needs from the message store.
type MessageLog interface {
	Create(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id uuid.UUID) (*models.Message, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, target string) (*models.Message, error)
	BatchTransitionStatus(ctx context.Context, ids []uuid.UUID, target string, receiverID uuid.UUID) error
	ListVisible(ctx context.Context, conversationID, participantID uuid.UUID) ([]models.Message, error)
	CountUnread(ctx context.Context, conversationID, receiverID uuid.UUID) (int64, error)
	AddReaction(ctx context.Context, messageID, participantID uuid.UUID, emoji string) (*models.MessageReaction, error)
	RemoveReaction(ctx context.Context, messageID, participantID uuid.UUID, emoji string) error
	ReactionsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]models.MessageReaction, error)
	MarkDeletedFor(ctx context.Context, messageID, participantID uuid.UUID) error
	MarkDeletedForEveryone(ctx context.Context, messageID, senderID uuid.UUID) error
}

// ConversationLog is what the gateway needs from the conversation store.
type ConversationLog interface {
	GetOrCreate(ctx context.Context, appointmentID uuid.UUID) (*models.Conversation, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, messageID uuid.UUID, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID, participantID uuid.UUID, delta int) error
	SetUnread(ctx context.Context, conversationID, participantID uuid.UUID, value int) error
	UnreadCount(ctx context.Context, conversationID, participantID uuid.UUID) (int, error)
	UnreadCounts(ctx context.Context, conversationID uuid.UUID) (map[uuid.UUID]int, error)
	ConversationsFor(ctx context.Context, participantID uuid.UUID) ([]models.Conversation, error)
	ResetAll(ctx context.Context, participantID uuid.UUID) error
}

// Publication is an event to fan out to an appointment's room. The gateway
// returns publications instead of talking to the hub so dispatch stays
// deterministic and testable without a live socket.
type Publication struct {
	AppointmentID uuid.UUID
	Event         interface{}
}

const defaultStoreTimeout = 5 * time.Second

// Gateway translates inbound chat events into store operations and
// broadcasts. Each event is handled independently; the only ordering
// guarantees come from the stores' atomic single-row operations.
type Gateway struct {
	Messages      MessageLog
	Conversations ConversationLog

	// StoreTimeout bounds each event's persistence work so a wedged store
	// surfaces as a transient error instead of hanging the connection.
	StoreTimeout time.Duration
}

func NewGateway(messages MessageLog, conversations ConversationLog) *Gateway {
	return &Gateway{
		Messages:      messages,
		Conversations: conversations,
		StoreTimeout:  defaultStoreTimeout,
	}
}

// Handle dispatches one inbound event for the acting participant and returns
// the room publications it produced. Broadcasts are emitted only for writes
// that persisted; on error the returned publications still cover whatever
// did persist (the send pipeline's deliberate cross-store exception).
// JoinRoom carries no persistence and is the caller's to apply to the hub.
func (g *Gateway) Handle(ctx context.Context, actor models.Participant, ev Event) ([]Publication, error) {
	timeout := g.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch e := ev.(type) {
	case JoinRoom:
		return nil, nil
	case SendMessage:
		return g.handleSend(ctx, actor, e)
	case AckDelivered:
		return g.handleAckDelivered(ctx, e)
	case AckRead:
		return g.handleAckRead(ctx, e)
	case AckReadBatch:
		return g.handleAckReadBatch(ctx, actor, e)
	case ResetUnread:
		return g.handleResetUnread(ctx, actor, e)
	case React:
		return g.handleReact(ctx, actor, e)
	case DeleteMessage:
		return g.handleDelete(ctx, actor, e)
	}
	return nil, errors.Wrap(ErrValidation, "unhandled event")
}

// handleSend runs the send pipeline: get-or-create the conversation, write
// the message, append it, bump the receiver's counter, then broadcast. The
// two stores are independent persistence units; a failure after the message
// write leaves an orphaned message rather than a duplicate, logged for
// operators and never auto-repaired here.
func (g *Gateway) handleSend(ctx context.Context, actor models.Participant, e SendMessage) ([]Publication, error) {
	conv, err := g.Conversations.GetOrCreate(ctx, e.AppointmentID)
	if err != nil {
		return nil, err
	}

	sender, ok := conv.ParticipantByID(actor.ID)
	if !ok {
		return nil, errors.Wrap(ErrValidation, "sender is not a participant of this appointment")
	}
	receiver, _ := conv.Counterpart(sender.ID)

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		SenderRole:     sender.Role,
		ReceiverID:     receiver.ID,
		ReceiverRole:   receiver.Role,
		Content:        e.Content,
		MessageType:    e.MessageType,
		FileURL:        e.FileURL,
		FileName:       e.FileName,
		FileSize:       e.FileSize,
	}
	if err := g.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	if err := g.Conversations.AppendMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		log.Printf("[chat] orphaned message %s: persisted but not appended to conversation %s: %v",
			msg.ID, conv.ID, err)
		return nil, err
	}

	pubs := []Publication{{
		AppointmentID: e.AppointmentID,
		Event:         ReceiveMessage{Event: EventReceiveMessage, Message: NewMessageView(msg, e.AppointmentID, nil)},
	}}

	if err := g.Conversations.IncrementUnread(ctx, conv.ID, receiver.ID, 1); err != nil {
		// The message itself persisted and was appended; its broadcast
		// stands, only the counter update is withheld.
		return pubs, err
	}
	counts, err := g.Conversations.UnreadCounts(ctx, conv.ID)
	if err != nil {
		return pubs, err
	}
	pubs = append(pubs, Publication{
		AppointmentID: e.AppointmentID,
		Event:         UnreadCountUpdate{Event: EventUnreadCountUpdate, AppointmentID: e.AppointmentID, UnreadCounts: counts},
	})
	return pubs, nil
}

func (g *Gateway) handleAckDelivered(ctx context.Context, e AckDelivered) ([]Publication, error) {
	msg, err := g.Messages.TransitionStatus(ctx, e.MessageID, models.MessageStatusDelivered)
	if err != nil {
		return nil, err
	}
	return []Publication{{
		AppointmentID: e.AppointmentID,
		Event:         MessageDelivered{Event: EventMessageDelivered, MessageID: msg.ID, DeliveredAt: msg.DeliveredAt},
	}}, nil
}

func (g *Gateway) handleAckRead(ctx context.Context, e AckRead) ([]Publication, error) {
	msg, err := g.Messages.TransitionStatus(ctx, e.MessageID, models.MessageStatusRead)
	if err != nil {
		return nil, err
	}
	return []Publication{{
		AppointmentID: e.AppointmentID,
		Event:         MessageRead{Event: EventMessageRead, MessageID: msg.ID, ReadAt: msg.ReadAt},
	}}, nil
}

// handleAckReadBatch marks every acked message addressed to the actor as
// read, then zeroes the actor's counter absolutely: an open-chat read means
// everything visible has been seen. Ids not addressed to the actor are
// skipped, not failures.
func (g *Gateway) handleAckReadBatch(ctx context.Context, actor models.Participant, e AckReadBatch) ([]Publication, error) {
	if err := g.Messages.BatchTransitionStatus(ctx, e.MessageIDs, models.MessageStatusRead, actor.ID); err != nil {
		return nil, err
	}
	pubs := []Publication{{
		AppointmentID: e.AppointmentID,
		Event:         MessagesRead{Event: EventMessagesRead, MessageIDs: e.MessageIDs, ReadAt: time.Now()},
	}}

	conv, err := g.Conversations.GetByAppointment(ctx, e.AppointmentID)
	if err != nil {
		return pubs, err
	}
	if err := g.Conversations.SetUnread(ctx, conv.ID, actor.ID, 0); err != nil {
		return pubs, err
	}
	counts, err := g.Conversations.UnreadCounts(ctx, conv.ID)
	if err != nil {
		return pubs, err
	}
	pubs = append(pubs, Publication{
		AppointmentID: e.AppointmentID,
		Event:         UnreadCountUpdate{Event: EventUnreadCountUpdate, AppointmentID: e.AppointmentID, UnreadCounts: counts},
	})
	return pubs, nil
}

func (g *Gateway) handleResetUnread(ctx context.Context, actor models.Participant, e ResetUnread) ([]Publication, error) {
	conv, err := g.Conversations.GetByAppointment(ctx, e.AppointmentID)
	if err != nil {
		return nil, err
	}
	if err := g.Conversations.SetUnread(ctx, conv.ID, actor.ID, 0); err != nil {
		return nil, err
	}
	counts, err := g.Conversations.UnreadCounts(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return []Publication{{
		AppointmentID: e.AppointmentID,
		Event:         UnreadCountUpdate{Event: EventUnreadCountUpdate, AppointmentID: e.AppointmentID, UnreadCounts: counts},
	}}, nil
}

func (g *Gateway) handleReact(ctx context.Context, actor models.Participant, e React) ([]Publication, error) {
	if e.Remove {
		if err := g.Messages.RemoveReaction(ctx, e.MessageID, actor.ID, e.Emoji); err != nil {
			return nil, err
		}
		return []Publication{{
			AppointmentID: e.AppointmentID,
			Event: MessageReactionEvent{
				Event:         EventMessageReaction,
				MessageID:     e.MessageID,
				ParticipantID: actor.ID,
				Emoji:         e.Emoji,
				ReactedAt:     time.Now(),
				Removed:       true,
			},
		}}, nil
	}

	r, err := g.Messages.AddReaction(ctx, e.MessageID, actor.ID, e.Emoji)
	if err != nil {
		return nil, err
	}
	return []Publication{{
		AppointmentID: e.AppointmentID,
		Event: MessageReactionEvent{
			Event:         EventMessageReaction,
			MessageID:     r.MessageID,
			ParticipantID: r.ParticipantID,
			Emoji:         r.Emoji,
			ReactedAt:     r.CreatedAt,
		},
	}}, nil
}

// handleDelete applies a soft delete. Per-participant deletion is private
// and broadcasts nothing; delete-for-everyone tells the room.
func (g *Gateway) handleDelete(ctx context.Context, actor models.Participant, e DeleteMessage) ([]Publication, error) {
	if e.ForEveryone {
		if err := g.Messages.MarkDeletedForEveryone(ctx, e.MessageID, actor.ID); err != nil {
			return nil, err
		}
		return []Publication{{
			AppointmentID: e.AppointmentID,
			Event:         MessageDeleted{Event: EventMessageDeleted, MessageID: e.MessageID},
		}}, nil
	}
	if err := g.Messages.MarkDeletedFor(ctx, e.MessageID, actor.ID); err != nil {
		return nil, err
	}
	return nil, nil
}
