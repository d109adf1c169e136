package relay

import (
	"context"
	"io"
	"strings"

	"chatgpt-ui-server/backend/internal/chatgpt"
	"chatgpt-ui-server/backend/internal/models"
	"chatgpt-ui-server/backend/pkg/logger"
	"chatgpt-ui-server/backend/shared/observability"

	"github.com/google/uuid"
)

// Event names of the outbound server-sent-event stream
const (
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

// Event is one outbound stream event. Ephemeral; never stored.
type Event struct {
	Name    string
	Payload any
}

// MessagePayload carries one text delta
type MessagePayload struct {
	Content string `json:"content"`
}

// DonePayload closes a successful stream. The referenced message is
// committed before this event is emitted.
type DonePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// ErrorPayload reports a failed stream
type ErrorPayload struct {
	Error string `json:"error"`
}

// EmitFunc delivers one event to the client. An error means the client
// is gone and the stream should be torn down.
type EmitFunc func(Event) error

// MessageStore is the slice of persistence the relay needs
type MessageStore interface {
	CreateMessage(ctx context.Context, message *models.Message) error
}

// Relay pumps a completion stream to the client, accumulates the full
// reply and persists it as the assistant's message once the stream
// completes.
type Relay struct {
	store MessageStore
	log   *logger.Logger
}

func New(store MessageStore, log *logger.Logger) *Relay {
	return &Relay{store: store, log: log}
}

// Run consumes the stream and emits events in transport order. On
// success exactly one assistant message is created, with the triggering
// user message as its parent, and the done event is emitted only after
// the row is committed. On any failure no assistant message is
// persisted; the client sees an error event and the conversation keeps
// only the user's original message.
func (r *Relay) Run(ctx context.Context, stream chatgpt.Stream, conversationID, parentMessageID uuid.UUID, emit EmitFunc) (*models.Message, error) {
	defer stream.Close()

	var text strings.Builder
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.log.Warn("Completion stream failed", "error", err.Error(), "conversation_id", conversationID)
			observability.UpstreamErrors.Inc()
			emit(Event{Name: EventError, Payload: ErrorPayload{Error: err.Error()}})
			return nil, err
		}
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		observability.StreamDeltas.Inc()
		if err := emit(Event{Name: EventMessage, Payload: MessagePayload{Content: delta}}); err != nil {
			// Client went away; the request context cancellation
			// aborts the upstream call
			return nil, err
		}
	}

	result := stream.Result()
	if result.Text == "" {
		result.Text = text.String()
	}

	message := &models.Message{
		ConversationID:  conversationID,
		ParentMessageID: &parentMessageID,
		Content:         result.Text,
		IsBot:           true,
	}
	// The web backend assigns the assistant message id; adopt it so
	// clients can thread replies with upstream ids
	if id, err := uuid.Parse(result.MessageID); err == nil {
		message.ID = id
	}

	if err := r.store.CreateMessage(ctx, message); err != nil {
		r.log.Error("Failed to persist assistant message", "error", err.Error(), "conversation_id", conversationID)
		emit(Event{Name: EventError, Payload: ErrorPayload{Error: "failed to save response"}})
		return nil, err
	}

	err := emit(Event{Name: EventDone, Payload: DonePayload{
		MessageID:      message.ID.String(),
		ConversationID: conversationID.String(),
	}})
	return message, err
}
