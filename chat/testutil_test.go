package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/halverson-labs/bookline-chat/models"
	"github.com/pkg/errors"
)

// In-memory stand-ins for the gorm-backed stores. They implement the same
// atomicity contract (all mutation under one lock, monotonic transitions via
// Message.AdvanceStatus) so gateway and reconciler behavior can be exercised
// without a database.

type memMessageLog struct {
	mu        sync.Mutex
	seq       int64
	msgs      map[uuid.UUID]*models.Message
	reactions []models.MessageReaction

	createErr error
}

func newMemMessageLog() *memMessageLog {
	return &memMessageLog{msgs: make(map[uuid.UUID]*models.Message)}
}

func (l *memMessageLog) Create(ctx context.Context, m *models.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		return &TransientStoreError{Op: "create message", Err: l.createErr}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	l.seq++
	m.Seq = l.seq
	m.Status = models.MessageStatusSent
	m.CreatedAt = time.Now()
	stored := *m
	l.msgs[m.ID] = &stored
	return nil
}

func (l *memMessageLog) Get(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.msgs[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "get message")
	}
	cp := *m
	return &cp, nil
}

func (l *memMessageLog) TransitionStatus(ctx context.Context, id uuid.UUID, target string) (*models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.msgs[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "transition status")
	}
	m.AdvanceStatus(target, time.Now())
	cp := *m
	return &cp, nil
}

func (l *memMessageLog) BatchTransitionStatus(ctx context.Context, ids []uuid.UUID, target string, receiverID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		m, ok := l.msgs[id]
		if !ok || m.ReceiverID != receiverID {
			continue
		}
		m.AdvanceStatus(target, time.Now())
	}
	return nil
}

func (l *memMessageLog) ListVisible(ctx context.Context, conversationID, participantID uuid.UUID) ([]models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Message
	for _, m := range l.msgs {
		if m.ConversationID != conversationID || m.HiddenFor(participantID) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (l *memMessageLog) CountUnread(ctx context.Context, conversationID, receiverID uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, m := range l.msgs {
		if m.ConversationID == conversationID && m.ReceiverID == receiverID && m.Status != models.MessageStatusRead {
			n++
		}
	}
	return n, nil
}

func (l *memMessageLog) AddReaction(ctx context.Context, messageID, participantID uuid.UUID, emoji string) (*models.MessageReaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.msgs[messageID]; !ok {
		return nil, errors.Wrap(ErrNotFound, "add reaction")
	}
	for i := range l.reactions {
		r := l.reactions[i]
		if r.MessageID == messageID && r.ParticipantID == participantID && r.Emoji == emoji {
			return &r, nil
		}
	}
	r := models.MessageReaction{
		ID:            uuid.New(),
		MessageID:     messageID,
		ParticipantID: participantID,
		Emoji:         emoji,
		CreatedAt:     time.Now(),
	}
	l.reactions = append(l.reactions, r)
	return &r, nil
}

func (l *memMessageLog) RemoveReaction(ctx context.Context, messageID, participantID uuid.UUID, emoji string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.reactions {
		if r.MessageID == messageID && r.ParticipantID == participantID && r.Emoji == emoji {
			l.reactions = append(l.reactions[:i], l.reactions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (l *memMessageLog) ReactionsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]models.MessageReaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	out := make(map[uuid.UUID][]models.MessageReaction)
	for _, r := range l.reactions {
		if want[r.MessageID] {
			out[r.MessageID] = append(out[r.MessageID], r)
		}
	}
	return out, nil
}

func (l *memMessageLog) MarkDeletedFor(ctx context.Context, messageID, participantID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.msgs[messageID]
	if !ok {
		return errors.Wrap(ErrNotFound, "delete message")
	}
	switch participantID {
	case m.SenderID:
		m.DeletedForSender = true
	case m.ReceiverID:
		m.DeletedForReceiver = true
	default:
		return errors.Wrap(ErrNotFound, "delete message")
	}
	return nil
}

func (l *memMessageLog) MarkDeletedForEveryone(ctx context.Context, messageID, senderID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.msgs[messageID]
	if !ok {
		return errors.Wrap(ErrNotFound, "delete message for everyone")
	}
	if m.SenderID != senderID {
		return errors.Wrap(ErrValidation, "only the sender can delete a message for everyone")
	}
	m.DeletedForEveryone = true
	return nil
}

type counterKey struct {
	conversationID uuid.UUID
	participantID  uuid.UUID
}

type memConversationLog struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]AppointmentRecord
	convs        map[uuid.UUID]*models.Conversation
	byAppt       map[uuid.UUID]uuid.UUID
	counters     map[counterKey]int

	appendErr error
}

func newMemConversationLog() *memConversationLog {
	return &memConversationLog{
		appointments: make(map[uuid.UUID]AppointmentRecord),
		convs:        make(map[uuid.UUID]*models.Conversation),
		byAppt:       make(map[uuid.UUID]uuid.UUID),
		counters:     make(map[counterKey]int),
	}
}

func (l *memConversationLog) addAppointment(appointmentID, requesterID, providerID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appointments[appointmentID] = AppointmentRecord{RequesterID: requesterID, ProviderID: providerID}
}

func (l *memConversationLog) GetOrCreate(ctx context.Context, appointmentID uuid.UUID) (*models.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byAppt[appointmentID]; ok {
		cp := *l.convs[id]
		return &cp, nil
	}
	rec, ok := l.appointments[appointmentID]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "lookup appointment")
	}
	conv := &models.Conversation{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		RequesterID:   rec.RequesterID,
		ProviderID:    rec.ProviderID,
		CreatedAt:     time.Now(),
	}
	l.convs[conv.ID] = conv
	l.byAppt[appointmentID] = conv.ID
	l.counters[counterKey{conv.ID, rec.RequesterID}] = 0
	l.counters[counterKey{conv.ID, rec.ProviderID}] = 0
	cp := *conv
	return &cp, nil
}

func (l *memConversationLog) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byAppt[appointmentID]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "get conversation")
	}
	cp := *l.convs[id]
	return &cp, nil
}

func (l *memConversationLog) AppendMessage(ctx context.Context, conversationID, messageID uuid.UUID, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return &TransientStoreError{Op: "append message", Err: l.appendErr}
	}
	conv, ok := l.convs[conversationID]
	if !ok {
		return errors.Wrap(ErrNotFound, "append message")
	}
	id := messageID
	t := at
	conv.LastMessageID = &id
	conv.LastMessageAt = &t
	return nil
}

func (l *memConversationLog) IncrementUnread(ctx context.Context, conversationID, participantID uuid.UUID, delta int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.convs[conversationID]; !ok {
		return errors.Wrap(ErrNotFound, "increment unread")
	}
	l.counters[counterKey{conversationID, participantID}] += delta
	return nil
}

func (l *memConversationLog) SetUnread(ctx context.Context, conversationID, participantID uuid.UUID, value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.convs[conversationID]; !ok {
		return errors.Wrap(ErrNotFound, "set unread")
	}
	l.counters[counterKey{conversationID, participantID}] = value
	return nil
}

func (l *memConversationLog) UnreadCount(ctx context.Context, conversationID, participantID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters[counterKey{conversationID, participantID}], nil
}

func (l *memConversationLog) UnreadCounts(ctx context.Context, conversationID uuid.UUID) (map[uuid.UUID]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conv, ok := l.convs[conversationID]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "get unread counts")
	}
	return map[uuid.UUID]int{
		conv.RequesterID: l.counters[counterKey{conversationID, conv.RequesterID}],
		conv.ProviderID:  l.counters[counterKey{conversationID, conv.ProviderID}],
	}, nil
}

func (l *memConversationLog) ConversationsFor(ctx context.Context, participantID uuid.UUID) ([]models.Conversation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Conversation
	for _, conv := range l.convs {
		if conv.RequesterID == participantID || conv.ProviderID == participantID {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (l *memConversationLog) ResetAll(ctx context.Context, participantID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.counters {
		if k.participantID == participantID {
			l.counters[k] = 0
		}
	}
	return nil
}

// fixture wires a gateway over the in-memory stores with one appointment
// between a requester and a provider.
type fixture struct {
	msgs      *memMessageLog
	convs     *memConversationLog
	gw        *Gateway
	appt      uuid.UUID
	requester models.Participant
	provider  models.Participant
}

func newFixture() *fixture {
	f := &fixture{
		msgs:      newMemMessageLog(),
		convs:     newMemConversationLog(),
		appt:      uuid.New(),
		requester: models.Participant{ID: uuid.New(), Role: models.RoleRequester},
		provider:  models.Participant{ID: uuid.New(), Role: models.RoleProvider},
	}
	f.convs.addAppointment(f.appt, f.requester.ID, f.provider.ID)
	f.gw = NewGateway(f.msgs, f.convs)
	return f
}

func (f *fixture) send(ctx context.Context, from models.Participant, content string) ([]Publication, error) {
	return f.gw.Handle(ctx, from, SendMessage{
		AppointmentID: f.appt,
		Content:       content,
		MessageType:   models.MessageTypeText,
	})
}
