package service

import (
	"context"
	"errors"
	"fmt"

	"chatgpt-ui-server/backend/internal/chatgpt"
	"chatgpt-ui-server/backend/internal/llm"
	"chatgpt-ui-server/backend/internal/models"
	"chatgpt-ui-server/backend/internal/relay"
	"chatgpt-ui-server/backend/internal/store"
	"chatgpt-ui-server/backend/pkg/config"
	"chatgpt-ui-server/backend/pkg/logger"
	"chatgpt-ui-server/backend/shared/observability"

	"github.com/google/uuid"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyMessage         = errors.New("message content is empty")
)

// ChatRequest is one user turn. A nil ConversationID starts a new
// conversation; ParentMessageID threads the turn under an earlier
// message when the client tracks the reply tree.
type ChatRequest struct {
	ConversationID  *uuid.UUID
	ParentMessageID *uuid.UUID
	Content         string
}

// ChatResult reports a completed turn
type ChatResult struct {
	Message        *models.Message
	ConversationID uuid.UUID
}

// ChatService orchestrates a chat turn: conversation bookkeeping, the
// upstream completion call on the configured backend, and the relay of
// the reply stream back to the caller.
type ChatService struct {
	store      store.ConversationStore
	builder    *llm.ContextBuilder
	profile    llm.ModelProfile
	official   *chatgpt.OfficialClient
	unofficial *chatgpt.UnofficialClient
	session    chatgpt.CredentialManager
	backend    string
	relay      *relay.Relay
	titles     *relay.TitleGenerator
	log        *logger.Logger
}

// ChatServiceDeps bundles the collaborators of a ChatService
type ChatServiceDeps struct {
	Store      store.ConversationStore
	Builder    *llm.ContextBuilder
	Profile    llm.ModelProfile
	Official   *chatgpt.OfficialClient
	Unofficial *chatgpt.UnofficialClient
	Session    chatgpt.CredentialManager
	Backend    string
	Relay      *relay.Relay
	Titles     *relay.TitleGenerator
	Logger     *logger.Logger
}

func NewChatService(deps ChatServiceDeps) *ChatService {
	return &ChatService{
		store:      deps.Store,
		builder:    deps.Builder,
		profile:    deps.Profile,
		official:   deps.Official,
		unofficial: deps.Unofficial,
		session:    deps.Session,
		backend:    deps.Backend,
		relay:      deps.Relay,
		titles:     deps.Titles,
		log:        deps.Logger,
	}
}

// SendMessage runs one turn. The user message is persisted before the
// upstream call, so a failed completion still leaves the question in the
// conversation. Events flow through emit in transport order; the
// assistant message is committed before the final done event.
func (s *ChatService) SendMessage(ctx context.Context, userID uint, req ChatRequest, emit relay.EmitFunc) (*ChatResult, error) {
	if req.Content == "" {
		return nil, ErrEmptyMessage
	}

	conversation, err := s.resolveConversation(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	userMsg := &models.Message{
		ConversationID:  conversation.ID,
		ParentMessageID: req.ParentMessageID,
		Content:         req.Content,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	observability.ChatRequests.WithLabelValues(s.backend).Inc()

	stream, err := s.startStream(ctx, conversation, req)
	if err != nil {
		observability.UpstreamErrors.Inc()
		return nil, err
	}

	botMsg, err := s.relay.Run(ctx, stream, conversation.ID, userMsg.ID, emit)
	if err != nil {
		return nil, err
	}

	if s.backend == config.BackendUnofficial && conversation.UpstreamID == "" {
		if upstream := stream.Result().ConversationID; upstream != "" {
			if err := s.store.UpdateConversationUpstreamID(ctx, conversation.ID, upstream); err != nil {
				s.log.Warn("Failed to record upstream conversation id", "error", err.Error(), "conversation_id", conversation.ID)
			}
		}
	}

	return &ChatResult{Message: botMsg, ConversationID: conversation.ID}, nil
}

// GenerateTitle summarizes the conversation's opening message into a
// short topic. Only the owner may trigger it.
func (s *ChatService) GenerateTitle(ctx context.Context, userID uint, conversationID uuid.UUID) (string, error) {
	if _, err := s.ownedConversation(ctx, userID, conversationID); err != nil {
		return "", err
	}
	return s.titles.Generate(ctx, conversationID), nil
}

func (s *ChatService) resolveConversation(ctx context.Context, userID uint, id *uuid.UUID) (*models.Conversation, error) {
	if id != nil {
		return s.ownedConversation(ctx, userID, *id)
	}

	conversation := &models.Conversation{UserID: userID}
	if err := s.store.CreateConversation(ctx, conversation); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conversation, nil
}

func (s *ChatService) ownedConversation(ctx context.Context, userID uint, id uuid.UUID) (*models.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, ErrConversationNotFound
	}
	if conversation.UserID != userID {
		// Indistinguishable from absent to avoid leaking ids across users
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

// startStream opens the completion stream on the configured backend. A
// session credential rejected upstream is refreshed once and the call
// retried; a second rejection surfaces as-is.
func (s *ChatService) startStream(ctx context.Context, conversation *models.Conversation, req ChatRequest) (chatgpt.Stream, error) {
	stream, err := s.openStream(ctx, conversation, req)
	if errors.Is(err, chatgpt.ErrAuthExpired) && s.session != nil {
		observability.CredentialRefreshes.Inc()
		if refreshErr := s.session.Refresh(ctx); refreshErr != nil {
			return nil, refreshErr
		}
		stream, err = s.openStream(ctx, conversation, req)
	}
	return stream, err
}

func (s *ChatService) openStream(ctx context.Context, conversation *models.Conversation, req ChatRequest) (chatgpt.Stream, error) {
	switch s.backend {
	case config.BackendUnofficial:
		parent := ""
		if req.ParentMessageID != nil {
			parent = req.ParentMessageID.String()
		}
		return s.unofficial.StreamCompletion(ctx, req.Content, conversation.UpstreamID, parent)

	default:
		history, err := s.store.GetOrderedMessages(ctx, conversation.ID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation history: %w", err)
		}
		messages, promptTokens, err := s.builder.Build(history)
		if err != nil {
			return nil, err
		}
		params := chatgpt.DefaultSamplingParams(s.profile.ResponseBudget(promptTokens))
		return s.official.StreamCompletion(ctx, messages, params)
	}
}
