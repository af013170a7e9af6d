package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"gwi.com/apex-chat/internal/store"
)

// FallbackReply is stored as the bot entry when the generation endpoint returns no text.
const FallbackReply = "I couldn't generate a response."

type ThreadStore interface {
	ListThreads(ctx context.Context, userID string) ([]store.Thread, error)
	GetThread(ctx context.Context, chatID string) (*store.Thread, error)
	CreateThread(ctx context.Context, thread *store.Thread) error
	AppendMessages(ctx context.Context, chatID string, lastUpdated time.Time, msgs ...store.Message) (int64, error)
}

type Generator interface {
	Generate(ctx context.Context, text string) (GenerationResult, error)
}

type ChatService struct {
	threads   ThreadStore
	generator Generator
	now       func() time.Time
}

func NewChatService(threads ThreadStore, generator Generator) *ChatService {
	return &ChatService{
		threads:   threads,
		generator: generator,
		now:       time.Now,
	}
}

type PostMessageRequest struct {
	UserID  string
	Message string
	// ChatID is empty to start a new thread.
	ChatID string
}

type PostMessageResult struct {
	ChatID string `json:"chatId"`
	Reply  string `json:"reply"`
}

// ListThreads returns the user's threads, most recently active first.
func (s *ChatService) ListThreads(ctx context.Context, userID string) ([]store.Thread, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	threads, err := s.threads.ListThreads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return threads, nil
}

func (s *ChatService) GetThread(ctx context.Context, chatID string) (*store.Thread, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: chatId is required", ErrValidation)
	}
	thread, err := s.threads.GetThread(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return thread, nil
}

// PostMessage asks the generator for a reply and then persists the user entry and the bot entry
// in a single store write. Nothing is written when generation or persistence fails, so a thread
// only ever grows by whole exchanges.
func (s *ChatService) PostMessage(ctx context.Context, req PostMessageRequest) (*PostMessageResult, error) {
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: userId and message are required", ErrValidation)
	}

	if req.ChatID != "" {
		thread, err := s.threads.GetThread(ctx, req.ChatID)
		if err != nil {
			return nil, fmt.Errorf("failed to load chat: %w", err)
		}
		if thread.UserID != req.UserID {
			return nil, fmt.Errorf("%w: chat %s belongs to another user", ErrForbidden, req.ChatID)
		}
	}

	reply, err := s.generateReply(ctx, req.Message)
	if err != nil {
		log.Error().Err(err).Str("chat_id", req.ChatID).Str("user_id", req.UserID).Msg("Error generating bot reply")
		return nil, err
	}

	now := s.now().UTC()
	exchange := []store.Message{
		{Text: req.Message, Sender: store.SenderUser, Timestamp: now},
		{Text: reply, Sender: store.SenderBot, Timestamp: now},
	}

	chatID := req.ChatID
	if chatID == "" {
		thread := &store.Thread{UserID: req.UserID, Messages: exchange, LastUpdated: now}
		if err := s.threads.CreateThread(ctx, thread); err != nil {
			return nil, fmt.Errorf("failed to save chat: %w", err)
		}
		chatID = thread.ChatID
	} else if _, err := s.threads.AppendMessages(ctx, chatID, now, exchange...); err != nil {
		return nil, fmt.Errorf("failed to save chat: %w", err)
	}

	log.Debug().Str("chat_id", chatID).Str("user_id", req.UserID).Msg("Chat exchange saved")
	return &PostMessageResult{ChatID: chatID, Reply: reply}, nil
}

func (s *ChatService) generateReply(ctx context.Context, message string) (string, error) {
	result, err := s.generator.Generate(ctx, message)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownstream, err)
	}
	switch result.Status {
	case GenerationOK:
		return result.Text, nil
	case GenerationEmpty:
		return FallbackReply, nil
	case GenerationMalformed:
		return "", fmt.Errorf("%w: unexpected response shape", ErrDownstream)
	}
	return "", errors.Join(ErrDownstream, fmt.Errorf("unknown generation status %v", result.Status))
}
