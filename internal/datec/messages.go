package datec

import (
	"context"
	"strings"
	"unicode/utf8"

	"datec-go/internal/model"
)

const (
	maxMessageLength   = 5000
	defaultThreadLimit = 50
)

// MessageService sends direct messages between users.
type MessageService struct {
	users    UserStore
	messages MessageStore
	clock    Clock
	idgen    IDGenerator
}

// NewMessageService creates a MessageService.
func NewMessageService(users UserStore, messages MessageStore, clock Clock, idgen IDGenerator) *MessageService {
	return &MessageService{users: users, messages: messages, clock: clock, idgen: idgen}
}

// Send delivers body from sender to recipientID.
func (s *MessageService) Send(ctx context.Context, sender *Identity, recipientID, body string) (*model.Message, error) {
	const op = "message.send"
	if sender == nil {
		return nil, forbidden(op, "authentication required")
	}
	body = strings.TrimSpace(body)
	if n := utf8.RuneCountInString(body); n == 0 || n > maxMessageLength {
		return nil, invalidInput(op, "message must be 1-%d characters", maxMessageLength)
	}
	if sender.is(recipientID) {
		return nil, invalidState(op, "you cannot message yourself")
	}
	recipient, err := s.users.GetUser(ctx, recipientID)
	if err != nil {
		return nil, upstream(op, "loading recipient", err)
	}
	if recipient == nil {
		return nil, notFound(op, "user %s not found", recipientID)
	}

	m := &model.Message{
		ID:          s.idgen.New(),
		SenderID:    sender.UserID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.messages.InsertMessage(ctx, m); err != nil {
		return nil, upstream(op, "inserting message", err)
	}
	return m, nil
}

// Thread returns the messages exchanged between the caller and other, oldest first.
func (s *MessageService) Thread(ctx context.Context, viewer *Identity, otherID string, limit int) ([]*model.Message, error) {
	if viewer == nil {
		return nil, forbidden("message.thread", "authentication required")
	}
	if limit <= 0 {
		limit = defaultThreadLimit
	}
	msgs, err := s.messages.ListThread(ctx, viewer.UserID, otherID, limit)
	if err != nil {
		return nil, upstream("message.thread", "listing messages", err)
	}
	return msgs, nil
}
