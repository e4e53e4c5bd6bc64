// Package store owns the conversation collection: identity-scoped loading,
// mutation, whole-collection persistence, and the streaming reply protocol.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/auth"
	"github.com/capitalize-ai/chatdesk/internal/kv"
	"github.com/capitalize-ai/chatdesk/internal/llm"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

var (
	// ErrNotAuthenticated is returned when an operation requires a bound
	// identity and none is present.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound is returned when a conversation or message id is absent.
	// Callers treat it as a no-op; "already deleted" and "never existed" are
	// deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveConversation is returned by SendUserMessage when no
	// conversation is active.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrBusy is returned when a send is attempted while one is in flight.
	ErrBusy = errors.New("a reply is already being generated")

	// ErrEmptyMessage is returned when the message content is empty after
	// trimming.
	ErrEmptyMessage = errors.New("message content is empty")
)

const (
	// DefaultTitle is the sentinel title of a conversation created without one.
	DefaultTitle = "untitled"

	// titleMaxRunes is the derived-title length cap.
	titleMaxRunes = 50

	// ErrorReply is the fixed user-facing content written into the pending
	// assistant message when the reply stream fails.
	ErrorReply = "Sorry, I encountered an error. Please try again."

	keyPrefix = "chats."
)

// FragmentCallback is invoked once per reply fragment, after the stored
// placeholder content has been updated.
type FragmentCallback func(fragment string, index int) error

// Store is the single-writer conversation state store. Reads hand out deep
// copies so renderers and search never observe a half-mutated collection.
type Store struct {
	kv     kv.Store
	llm    llm.Client
	logger *logger.Logger

	mu            sync.RWMutex
	conversations []*model.Conversation
	activeID      string
	busy          bool
	identity      *auth.Identity

	now         func() time.Time
	newID       func() string
	unsubscribe func()
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock. Useful in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides identifier allocation. Useful in tests.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New creates a conversation store persisting into kvStore and generating
// replies through llmClient.
func New(kvStore kv.Store, llmClient llm.Client, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		kv:     kvStore,
		llm:    llmClient,
		logger: log,
		now:    time.Now,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind subscribes the store to identity changes. The provider delivers the
// current identity immediately, so the initial load happens here too. Call
// Close to release the subscription.
func (s *Store) Bind(provider auth.Provider) {
	s.unsubscribe = provider.OnIdentityChange(func(identity *auth.Identity) {
		s.handleIdentityChange(context.Background(), identity)
	})
}

// Close releases the identity subscription.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// handleIdentityChange replaces in-memory state wholesale for the new
// identity. State never merges across identities.
func (s *Store) handleIdentityChange(ctx context.Context, identity *auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identity = identity
	s.activeID = ""
	s.conversations = nil

	if identity == nil {
		return
	}

	value, found, err := s.kv.Get(ctx, keyPrefix+identity.UserID)
	if err != nil {
		s.logger.Error("failed to load conversations", zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}
	if !found {
		return
	}

	var loaded []*model.Conversation
	if err := json.Unmarshal([]byte(value), &loaded); err != nil {
		metrics.CorruptSnapshotsTotal.Inc()
		s.logger.Error("persisted conversations are malformed, starting empty",
			zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}

	s.conversations = loaded
}

// persistLocked writes the full collection for the bound identity.
// Callers must hold s.mu.
func (s *Store) persistLocked(ctx context.Context) {
	if s.identity == nil {
		return
	}

	data, err := json.Marshal(s.conversations)
	if err != nil {
		s.logger.Error("failed to encode conversations", zap.Error(err))
		return
	}

	if err := s.kv.Set(ctx, keyPrefix+s.identity.UserID, string(data)); err != nil {
		s.logger.Error("failed to persist conversations", zap.Error(err))
	}
}

// CreateConversation allocates a new conversation and prepends it to the
// collection. The new id is returned for the caller to activate if desired.
func (s *Store) CreateConversation(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity == nil {
		return "", ErrNotAuthenticated
	}

	now := s.now()
	conv := &model.Conversation{
		ID:        s.newID(),
		UserID:    s.identity.UserID,
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []model.Message{},
	}

	s.conversations = append([]*model.Conversation{conv}, s.conversations...)
	s.persistLocked(ctx)

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))

	return conv.ID, nil
}

// RenameConversation sets the title verbatim and bumps updated_at.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(id)
	if conv == nil {
		return ErrNotFound
	}

	conv.Title = title
	conv.UpdatedAt = s.now()
	s.persistLocked(ctx)

	return nil
}

// DeleteConversation removes the conversation. If it was active, activation
// falls back to the first remaining conversation, or to none.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, conv := range s.conversations {
		if conv.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)

	if s.activeID == id {
		if len(s.conversations) > 0 {
			s.activeID = s.conversations[0].ID
		} else {
			s.activeID = ""
		}
	}

	s.persistLocked(ctx)
	return nil
}

// AppendMessage appends a message to the conversation. The first user message
// with non-empty trimmed content derives the conversation title.
func (s *Store) AppendMessage(ctx context.Context, chatID string, role model.Role, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity == nil {
		return model.Message{}, ErrNotAuthenticated
	}

	conv := s.findLocked(chatID)
	if conv == nil {
		return model.Message{}, ErrNotFound
	}

	now := s.now()
	msg := model.Message{
		ID:        s.newID(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}

	if len(conv.Messages) == 0 && role == model.RoleUser {
		if trimmed := strings.TrimSpace(content); trimmed != "" {
			conv.Title = deriveTitle(trimmed)
		}
	}

	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	s.persistLocked(ctx)

	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()

	return msg, nil
}

// UpdateMessageContent replaces the content of the addressed message in
// place. Identity and role are unchanged.
func (s *Store) UpdateMessageContent(ctx context.Context, chatID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(chatID)
	if conv == nil {
		return ErrNotFound
	}

	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			conv.Messages[i].Content = content
			conv.UpdatedAt = s.now()
			s.persistLocked(ctx)
			return nil
		}
	}

	return ErrNotFound
}

// SendUserMessage runs the streaming reply protocol: append the user message,
// append an empty assistant placeholder, then fill the placeholder with the
// accumulated reply one fragment at a time. Each stored update is a full
// replacement, so observers see monotonically growing content on one message
// id. On failure the placeholder content is replaced with ErrorReply.
//
// Only one send may be in flight at a time; overlapping calls get ErrBusy.
func (s *Store) SendUserMessage(ctx context.Context, content, modelName string, onFragment FragmentCallback) (model.Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return model.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return model.Message{}, ErrNotAuthenticated
	}
	if s.activeID == "" {
		s.mu.Unlock()
		return model.Message{}, ErrNoActiveConversation
	}
	if s.busy {
		s.mu.Unlock()
		return model.Message{}, ErrBusy
	}
	s.busy = true
	chatID := s.activeID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	start := s.now()

	if _, err := s.AppendMessage(ctx, chatID, model.RoleUser, trimmed); err != nil {
		return model.Message{}, err
	}

	placeholder, err := s.AppendMessage(ctx, chatID, model.RoleAssistant, "")
	if err != nil {
		return model.Message{}, err
	}

	history := s.historyFor(chatID, placeholder.ID)

	var accumulated string
	index := 0

	_, err = s.llm.StreamReply(ctx, history, modelName, func(fragment string) error {
		accumulated += fragment
		if err := s.UpdateMessageContent(ctx, chatID, placeholder.ID, accumulated); err != nil {
			return err
		}
		if onFragment != nil {
			if err := onFragment(fragment, index); err != nil {
				return err
			}
		}
		index++
		return nil
	})
	if err != nil {
		metrics.StreamFailuresTotal.Inc()
		metrics.RecordSend(modelName, "error", s.now().Sub(start).Seconds())
		s.logger.Error("reply stream failed",
			zap.String("conversation_id", chatID),
			zap.String("message_id", placeholder.ID),
			zap.Error(err))

		// The partial reply must never be left behind without an explanation.
		if updateErr := s.UpdateMessageContent(ctx, chatID, placeholder.ID, ErrorReply); updateErr != nil {
			s.logger.Error("failed to write error reply", zap.Error(updateErr))
		}
		placeholder.Content = ErrorReply
		return placeholder, err
	}

	metrics.RecordSend(modelName, "success", s.now().Sub(start).Seconds())

	placeholder.Content = accumulated
	return placeholder, nil
}

// historyFor builds the LLM history for a conversation, excluding the
// placeholder that the reply will fill.
func (s *Store) historyFor(chatID, excludeID string) []llm.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.findLocked(chatID)
	if conv == nil {
		return nil
	}

	history := make([]llm.ChatMessage, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if msg.ID == excludeID {
			continue
		}
		history = append(history, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return history
}

// SetActive activates the conversation with the given id. An empty id clears
// the active conversation.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && s.findLocked(id) == nil {
		return ErrNotFound
	}
	s.activeID = id
	return nil
}

// ActiveConversation returns a copy of the active conversation, or nil.
func (s *Store) ActiveConversation() *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.findLocked(s.activeID)
	if conv == nil {
		return nil
	}
	clone := conv.Clone()
	return &clone
}

// ActiveID returns the active conversation id, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Conversation returns a copy of the conversation with the given id.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.findLocked(id)
	if conv == nil {
		return model.Conversation{}, false
	}
	return conv.Clone(), true
}

// Snapshot returns a deep copy of the conversation collection in list order.
func (s *Store) Snapshot() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, len(s.conversations))
	for i, conv := range s.conversations {
		out[i] = conv.Clone()
	}
	return out
}

// IsBusy reports whether a reply is being generated. The flag is an advisory
// single-writer guard; callers disable sending while it is set.
func (s *Store) IsBusy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

// Identity returns the bound identity, or nil.
func (s *Store) Identity() *auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// findLocked returns the conversation with the given id. Callers hold s.mu.
func (s *Store) findLocked(id string) *model.Conversation {
	if id == "" {
		return nil
	}
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// deriveTitle caps the trimmed first message at titleMaxRunes characters,
// marking truncation with an ellipsis. Rune-aware so multi-byte titles never
// split a character.
func deriveTitle(trimmed string) string {
	runes := []rune(trimmed)
	if len(runes) <= titleMaxRunes {
		return trimmed
	}
	return string(runes[:titleMaxRunes]) + "..."
}
