package chat

import (
	"context"

	"github.com/google/uuid"
)

// UnreadReconciler recomputes the authoritative unread count from message
// statuses and corrects the cached counter when it has drifted. Drift is
// never surfaced as an error; it is repaired silently at read time.
type UnreadReconciler struct {
	Messages      MessageLog
	Conversations ConversationLog
}

func NewUnreadReconciler(messages MessageLog, conversations ConversationLog) *UnreadReconciler {
	return &UnreadReconciler{Messages: messages, Conversations: conversations}
}

// ComputeActual is ground truth: the number of messages addressed to the
// participant with status other than read.
func (r *UnreadReconciler) ComputeActual(ctx context.Context, conversationID, participantID uuid.UUID) (int, error) {
	n, err := r.Messages.CountUnread(ctx, conversationID, participantID)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Reconcile compares the cached counter to the recomputed truth, corrects
// the cache on mismatch and returns the actual value.
func (r *UnreadReconciler) Reconcile(ctx context.Context, conversationID, participantID uuid.UUID) (int, error) {
	actual, err := r.ComputeActual(ctx, conversationID, participantID)
	if err != nil {
		return 0, err
	}
	cached, err := r.Conversations.UnreadCount(ctx, conversationID, participantID)
	if err != nil {
		return 0, err
	}
	if cached != actual {
		if err := r.Conversations.SetUnread(ctx, conversationID, participantID, actual); err != nil {
			return 0, err
		}
	}
	return actual, nil
}
