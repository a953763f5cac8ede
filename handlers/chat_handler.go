package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/halverson-labs/bookline-chat/chat"
	"github.com/halverson-labs/bookline-chat/models"
	ws "github.com/halverson-labs/bookline-chat/websocket"
	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

type ChatHandler struct {
	Gateway       *chat.Gateway
	Hub           *ws.Hub
	Messages      chat.MessageLog
	Conversations chat.ConversationLog
	Reconciler    *chat.UnreadReconciler
	JWTSecret     string
}

func NewChatHandler(gateway *chat.Gateway, hub *ws.Hub, messages chat.MessageLog, conversations chat.ConversationLog, reconciler *chat.UnreadReconciler, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		Gateway:       gateway,
		Hub:           hub,
		Messages:      messages,
		Conversations: conversations,
		Reconciler:    reconciler,
		JWTSecret:     jwtSecret,
	}
}

// participantFromClaims resolves the acting participant from verified token
// claims. A token that validates but lacks a usable user_id is rejected, not
// trusted partially.
func participantFromClaims(claims jwt.MapClaims) (models.Participant, error) {
	raw, ok := claims["user_id"].(string)
	if !ok {
		return models.Participant{}, errors.New("missing user_id claim")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return models.Participant{}, errors.New("malformed user_id claim")
	}
	role, _ := claims["role"].(string)
	return models.Participant{ID: id, Role: role}, nil
}

// actorFromCtx reads the participant identity the auth middleware attached.
// The chat layer trusts it and never re-derives roles.
func actorFromCtx(c *fiber.Ctx) (models.Participant, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return models.Participant{}, errors.New("missing token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Participant{}, errors.New("missing claims")
	}
	return participantFromClaims(claims)
}

func statusFor(err error) int {
	switch {
	case chat.IsNotFound(err):
		return fiber.StatusNotFound
	case chat.IsValidation(err):
		return fiber.StatusBadRequest
	case chat.IsTransient(err):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// GetAppointmentMessages returns the appointment's thread in creation order,
// minus messages the caller deleted for themselves.
func (h *ChatHandler) GetAppointmentMessages(c *fiber.Ctx) error {
	actor, err := actorFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	appointmentID, err := uuid.Parse(c.Params("appointmentId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid appointment ID"})
	}

	conv, err := h.Conversations.GetByAppointment(c.Context(), appointmentID)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "Conversation not found"})
	}
	if _, ok := conv.ParticipantByID(actor.ID); !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Not a participant of this appointment"})
	}

	msgs, err := h.Messages.ListVisible(c.Context(), conv.ID, actor.ID)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}

	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	reactions, err := h.Messages.ReactionsFor(c.Context(), ids)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}

	views := make([]chat.MessageView, len(msgs))
	for i := range msgs {
		views[i] = chat.NewMessageView(&msgs[i], appointmentID, reactions[msgs[i].ID])
	}
	return c.JSON(views)
}

// GetUnreadCounts returns appointmentId -> unread count for the caller, each
// entry reconciled against the message log before it is reported.
func (h *ChatHandler) GetUnreadCounts(c *fiber.Ctx) error {
	actor, err := actorFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	convs, err := h.Conversations.ConversationsFor(c.Context(), actor.ID)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "Failed to fetch unread counts"})
	}

	counts := make(map[uuid.UUID]int, len(convs))
	for _, conv := range convs {
		n, err := h.Reconciler.Reconcile(c.Context(), conv.ID, actor.ID)
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": "Failed to fetch unread counts"})
		}
		counts[conv.AppointmentID] = n
	}
	return c.JSON(fiber.Map{"unreadCounts": counts})
}

// ResetAllUnreadCounts zeroes every conversation's counter for the caller.
func (h *ChatHandler) ResetAllUnreadCounts(c *fiber.Ctx) error {
	actor, err := actorFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if err := h.Conversations.ResetAll(c.Context(), actor.ID); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "Failed to reset unread counts"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type conversationSummary struct {
	AppointmentID uuid.UUID            `json:"appointmentId"`
	Participants  []models.Participant `json:"participants"`
	LastMessageID *uuid.UUID           `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time           `json:"lastMessageAt,omitempty"`
	UnreadCount   int                  `json:"unreadCount"`
}

// GetConversations lists the caller's conversations, most recently active
// first, with their cached unread counts.
func (h *ChatHandler) GetConversations(c *fiber.Ctx) error {
	actor, err := actorFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	convs, err := h.Conversations.ConversationsFor(c.Context(), actor.ID)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": "Failed to fetch conversations"})
	}

	out := make([]conversationSummary, 0, len(convs))
	for _, conv := range convs {
		n, err := h.Conversations.UnreadCount(c.Context(), conv.ID, actor.ID)
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": "Failed to fetch conversations"})
		}
		out = append(out, conversationSummary{
			AppointmentID: conv.AppointmentID,
			Participants:  conv.Participants(),
			LastMessageID: conv.LastMessageID,
			LastMessageAt: conv.LastMessageAt,
			UnreadCount:   n,
		})
	}
	return c.JSON(out)
}

// ServeWs authenticates the connection with a first auth frame, then feeds
// every inbound frame through the gateway. Join events go straight to the
// hub; everything else persists first and broadcasts only what persisted.
func (h *ChatHandler) ServeWs(c *websocketcontrib.Conn) {
	type AuthMessage struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	var authMsg AuthMessage
	if err := c.ReadJSON(&authMsg); err != nil || authMsg.Type != "auth" {
		log.Printf("WebSocket auth failed: invalid or missing auth message, error: %v", err)
		_ = c.WriteJSON(fiber.Map{"error": "Invalid or missing auth message"})
		c.Close()
		return
	}

	claims, err := h.parseToken(authMsg.Token)
	if err != nil {
		log.Printf("WebSocket auth failed: invalid token, error: %v", err)
		_ = c.WriteJSON(fiber.Map{"error": "Invalid token"})
		c.Close()
		return
	}

	actor, err := participantFromClaims(claims)
	if err != nil {
		log.Printf("WebSocket auth failed: %v", err)
		_ = c.WriteJSON(fiber.Map{"error": "Invalid user ID"})
		c.Close()
		return
	}
	userID := actor.ID

	log.Printf("WebSocket client authenticated: %s (%s)", userID, actor.Role)
	client := ws.NewClient(userID, actor.Role, c)
	go client.WritePump()
	defer func() {
		log.Printf("WebSocket client disconnected: %s", userID)
		h.Hub.Leave(client)
		client.CloseSend()
		c.Close()
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocketcontrib.IsCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseAbnormalClosure) {
				log.Printf("WebSocket closed for client %s: %v", userID, err)
			} else {
				log.Printf("WebSocket read error for client %s: %v", userID, err)
			}
			return
		}

		ev, err := chat.ParseEvent(data)
		if err != nil {
			h.sendError(client, err)
			continue
		}

		if join, ok := ev.(chat.JoinRoom); ok {
			h.Hub.Join(client, join.AppointmentID)
			continue
		}

		pubs, err := h.Gateway.Handle(context.Background(), actor, ev)
		for _, pub := range pubs {
			h.Hub.Publish(pub.AppointmentID, pub.Event)
		}
		if err != nil {
			// Contained to this connection and event; the room and the
			// other participant's connections are unaffected.
			log.Printf("Chat event failed for client %s: %v", userID, err)
			h.sendError(client, err)
		}
	}
}

func (h *ChatHandler) sendError(client *ws.Client, err error) {
	msg := "Internal error"
	switch {
	case chat.IsValidation(err):
		msg = err.Error()
	case chat.IsNotFound(err):
		msg = "Not found"
	case chat.IsTransient(err):
		msg = "Temporarily unavailable, please retry"
	}
	data, merr := json.Marshal(chat.ErrorFrame{Event: chat.EventError, Message: msg})
	if merr != nil {
		return
	}
	client.TrySend(data)
}

func (h *ChatHandler) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(h.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
