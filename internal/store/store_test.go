package store_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatdesk/internal/auth"
	"github.com/capitalize-ai/chatdesk/internal/kv"
	"github.com/capitalize-ai/chatdesk/internal/llm"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/store"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fixture struct {
	store    *store.Store
	notifier *auth.Notifier
	kv       *kv.MemoryStore
}

func newFixture(t *testing.T, llmClient llm.Client) *fixture {
	t.Helper()

	mem := kv.NewMemoryStore()
	s := store.New(mem, llmClient, logger.NewNop(), store.WithClock(newFakeClock().Now))

	notifier := auth.NewNotifier()
	s.Bind(notifier)
	t.Cleanup(s.Close)

	return &fixture{store: s, notifier: notifier, kv: mem}
}

func (f *fixture) signIn(userID string) {
	f.notifier.Set(&auth.Identity{UserID: userID})
}

func TestCreateConversationRequiresIdentity(t *testing.T) {
	f := newFixture(t, llm.NewMock())

	_, err := f.store.CreateConversation(context.Background())
	assert.ErrorIs(t, err, store.ErrNotAuthenticated)
}

func TestCreateConversationPrepends(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")
	ctx := context.Background()

	first, err := f.store.CreateConversation(ctx)
	require.NoError(t, err)
	second, err := f.store.CreateConversation(ctx)
	require.NoError(t, err)

	snapshot := f.store.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, second, snapshot[0].ID)
	assert.Equal(t, first, snapshot[1].ID)
	assert.Equal(t, store.DefaultTitle, snapshot[0].Title)
	assert.Equal(t, "user-1", snapshot[0].UserID)
}

func TestAppendMessageKeepsCallOrder(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")
	ctx := context.Background()

	id, err := f.store.CreateConversation(ctx)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 10; i++ {
		content := fmt.Sprintf("message %d", i)
		msg, err := f.store.AppendMessage(ctx, id, model.RoleUser, content)
		require.NoError(t, err)
		want = append(want, msg.ID)
	}

	conv, ok := f.store.Conversation(id)
	require.True(t, ok)
	require.Len(t, conv.Messages, 10)
	for i, msg := range conv.Messages {
		assert.Equal(t, want[i], msg.ID)
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Content)
	}
}

func TestAppendMessageToUnknownConversation(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")

	_, err := f.store.AppendMessage(context.Background(), "missing", model.RoleUser, "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTitleDerivation(t *testing.T) {
	ctx := context.Background()

	t.Run("short first user message becomes the title verbatim", func(t *testing.T) {
		f := newFixture(t, llm.NewMock())
		f.signIn("user-1")

		id, _ := f.store.CreateConversation(ctx)
		_, err := f.store.AppendMessage(ctx, id, model.RoleUser, "Plan my trip to Peru")
		require.NoError(t, err)

		conv, _ := f.store.Conversation(id)
		assert.Equal(t, "Plan my trip to Peru", conv.Title)
	})

	t.Run("long first user message is truncated with ellipsis", func(t *testing.T) {
		f := newFixture(t, llm.NewMock())
		f.signIn("user-1")

		long := strings.Repeat("abcdef", 10) // 60 chars
		id, _ := f.store.CreateConversation(ctx)
		_, err := f.store.AppendMessage(ctx, id, model.RoleUser, long)
		require.NoError(t, err)

		conv, _ := f.store.Conversation(id)
		assert.Equal(t, long[:50]+"...", conv.Title)
	})

	t.Run("second user message never changes a derived title", func(t *testing.T) {
		f := newFixture(t, llm.NewMock())
		f.signIn("user-1")

		id, _ := f.store.CreateConversation(ctx)
		f.store.AppendMessage(ctx, id, model.RoleUser, "first")
		f.store.AppendMessage(ctx, id, model.RoleUser, "second")

		conv, _ := f.store.Conversation(id)
		assert.Equal(t, "first", conv.Title)
	})

	t.Run("first assistant message does not derive a title", func(t *testing.T) {
		f := newFixture(t, llm.NewMock())
		f.signIn("user-1")

		id, _ := f.store.CreateConversation(ctx)
		f.store.AppendMessage(ctx, id, model.RoleAssistant, "hello there")

		conv, _ := f.store.Conversation(id)
		assert.Equal(t, store.DefaultTitle, conv.Title)
	})

	t.Run("whitespace-only first user message leaves the title", func(t *testing.T) {
		f := newFixture(t, llm.NewMock())
		f.signIn("user-1")

		id, _ := f.store.CreateConversation(ctx)
		f.store.AppendMessage(ctx, id, model.RoleUser, "   ")

		conv, _ := f.store.Conversation(id)
		assert.Equal(t, store.DefaultTitle, conv.Title)
	})
}

func TestMutationsBumpUpdatedAt(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")
	ctx := context.Background()

	id, _ := f.store.CreateConversation(ctx)
	before, _ := f.store.Conversation(id)

	_, err := f.store.AppendMessage(ctx, id, model.RoleUser, "hi")
	require.NoError(t, err)
	afterAppend, _ := f.store.Conversation(id)
	assert.True(t, afterAppend.UpdatedAt.After(before.UpdatedAt))

	require.NoError(t, f.store.RenameConversation(ctx, id, "renamed"))
	afterRename, _ := f.store.Conversation(id)
	assert.True(t, afterRename.UpdatedAt.After(afterAppend.UpdatedAt))

	msgID := afterRename.Messages[0].ID
	require.NoError(t, f.store.UpdateMessageContent(ctx, id, msgID, "edited"))
	afterUpdate, _ := f.store.Conversation(id)
	assert.True(t, afterUpdate.UpdatedAt.After(afterRename.UpdatedAt))

	// CreatedAt never moves.
	assert.Equal(t, before.CreatedAt, afterUpdate.CreatedAt)
}

func TestRenameUnknownConversation(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")

	err := f.store.RenameConversation(context.Background(), "missing", "title")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateMessageContentUnknownMessage(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")
	ctx := context.Background()

	id, _ := f.store.CreateConversation(ctx)

	err := f.store.UpdateMessageContent(ctx, id, "missing", "content")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = f.store.UpdateMessageContent(ctx, "missing", "missing", "content")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteActiveConversationFallsBack(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")
	ctx := context.Background()

	f.store.CreateConversation(ctx)
	f.store.CreateConversation(ctx)
	f.store.CreateConversation(ctx)

	snapshot := f.store.Snapshot()
	require.Len(t, snapshot, 3)

	active := snapshot[0].ID
	next := snapshot[1].ID
	require.NoError(t, f.store.SetActive(active))

	require.NoError(t, f.store.DeleteConversation(ctx, active))
	assert.Equal(t, next, f.store.ActiveID())

	// Deleting a non-active conversation leaves activation alone.
	require.NoError(t, f.store.DeleteConversation(ctx, f.store.Snapshot()[1].ID))
	assert.Equal(t, next, f.store.ActiveID())

	// Deleting the last conversation leaves nothing active.
	require.NoError(t, f.store.DeleteConversation(ctx, next))
	assert.Equal(t, "", f.store.ActiveID())
	assert.Nil(t, f.store.ActiveConversation())
}

func TestDeleteUnknownConversation(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")

	err := f.store.DeleteConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendUserMessageStreamsReply(t *testing.T) {
	mock := llm.NewMock("Hel", "lo ", "Peru")
	f := newFixture(t, mock)
	f.signIn("user-1")
	ctx := context.Background()

	id, _ := f.store.CreateConversation(ctx)
	require.NoError(t, f.store.SetActive(id))

	var seen []string
	assistantMsg, err := f.store.SendUserMessage(ctx, "  Plan my trip  ", "", func(fragment string, index int) error {
		seen = append(seen, fragment)
		assert.Equal(t, len(seen)-1, index)

		// Stored content always reflects the complete text so far.
		conv, _ := f.store.Conversation(id)
		assert.Equal(t, strings.Join(seen, ""), conv.Messages[1].Content)

		// The advisory busy flag is visible mid-stream.
		assert.True(t, f.store.IsBusy())
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo ", "Peru"}, seen)
	assert.Equal(t, "Hello Peru", assistantMsg.Content)
	assert.Equal(t, model.RoleAssistant, assistantMsg.Role)
	assert.False(t, f.store.IsBusy())

	conv, _ := f.store.Conversation(id)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Plan my trip", conv.Messages[0].Content)
	assert.Equal(t, "Hello Peru", conv.Messages[1].Content)

	// Title derived from the trimmed user message.
	assert.Equal(t, "Plan my trip", conv.Title)
}

func TestSendUserMessageFailureReplacesPartialContent(t *testing.T) {
	mock := &llm.Mock{
		Fragments: []string{"part", "ial", "never delivered"},
		FailAfter: 2,
		Err:       errors.New("provider unavailable"),
	}
	f := newFixture(t, mock)
	f.signIn("user-1")
	ctx := context.Background()

	id, _ := f.store.CreateConversation(ctx)
	require.NoError(t, f.store.SetActive(id))

	fragments := 0
	_, err := f.store.SendUserMessage(ctx, "hello", "", func(fragment string, index int) error {
		fragments++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 2, fragments)
	assert.False(t, f.store.IsBusy())

	// The partial accumulation is replaced by the fixed error reply.
	conv, _ := f.store.Conversation(id)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, store.ErrorReply, conv.Messages[1].Content)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
}

func TestSendUserMessagePreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("empty content", func(t *testing.T) {
		f := newFixture(t, llm.NewMock("x"))
		f.signIn("user-1")
		id, _ := f.store.CreateConversation(ctx)
		f.store.SetActive(id)

		_, err := f.store.SendUserMessage(ctx, "   \n\t ", "", nil)
		assert.ErrorIs(t, err, store.ErrEmptyMessage)
	})

	t.Run("no identity", func(t *testing.T) {
		f := newFixture(t, llm.NewMock("x"))

		_, err := f.store.SendUserMessage(ctx, "hello", "", nil)
		assert.ErrorIs(t, err, store.ErrNotAuthenticated)
	})

	t.Run("no active conversation", func(t *testing.T) {
		f := newFixture(t, llm.NewMock("x"))
		f.signIn("user-1")

		_, err := f.store.SendUserMessage(ctx, "hello", "", nil)
		assert.ErrorIs(t, err, store.ErrNoActiveConversation)
	})

	t.Run("overlapping send is rejected", func(t *testing.T) {
		f := newFixture(t, llm.NewMock("x", "y"))
		f.signIn("user-1")
		id, _ := f.store.CreateConversation(ctx)
		f.store.SetActive(id)

		var overlapErr error
		_, err := f.store.SendUserMessage(ctx, "hello", "", func(fragment string, index int) error {
			if index == 0 {
				_, overlapErr = f.store.SendUserMessage(ctx, "again", "", nil)
			}
			return nil
		})
		require.NoError(t, err)
		assert.ErrorIs(t, overlapErr, store.ErrBusy)
	})
}

func TestIdentitySwitchReplacesStateWholesale(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	ctx := context.Background()

	f.signIn("alice")
	aliceConv, err := f.store.CreateConversation(ctx)
	require.NoError(t, err)
	f.store.AppendMessage(ctx, aliceConv, model.RoleUser, "alice's note")

	f.signIn("bob")
	assert.Empty(t, f.store.Snapshot())
	assert.Equal(t, "", f.store.ActiveID())

	bobConv, err := f.store.CreateConversation(ctx)
	require.NoError(t, err)
	require.Len(t, f.store.Snapshot(), 1)

	// Switching back reloads alice's durable state untouched by bob's.
	f.signIn("alice")
	snapshot := f.store.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, aliceConv, snapshot[0].ID)
	require.Len(t, snapshot[0].Messages, 1)
	assert.Equal(t, "alice's note", snapshot[0].Messages[0].Content)
	assert.NotEqual(t, bobConv, snapshot[0].ID)
}

func TestSignOutClearsState(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	ctx := context.Background()

	f.signIn("user-1")
	id, _ := f.store.CreateConversation(ctx)
	f.store.SetActive(id)

	f.notifier.Set(nil)

	assert.Empty(t, f.store.Snapshot())
	assert.Equal(t, "", f.store.ActiveID())
	assert.Nil(t, f.store.Identity())
}

func TestMalformedPersistedValueFallsBackToEmpty(t *testing.T) {
	mem := kv.NewMemoryStore()
	require.NoError(t, mem.Set(context.Background(), "chats.user-1", "{definitely not json"))

	s := store.New(mem, llm.NewMock(), logger.NewNop())
	notifier := auth.NewNotifier()
	s.Bind(notifier)
	defer s.Close()

	notifier.Set(&auth.Identity{UserID: "user-1"})

	assert.Empty(t, s.Snapshot())

	// The store still works; the next write replaces the corrupt value.
	_, err := s.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Snapshot(), 1)
}

func TestPersistenceRoundTrip(t *testing.T) {
	mem := kv.NewMemoryStore()
	clock := newFakeClock()
	ctx := context.Background()

	s1 := store.New(mem, llm.NewMock(), logger.NewNop(), store.WithClock(clock.Now))
	n1 := auth.NewNotifier()
	s1.Bind(n1)
	n1.Set(&auth.Identity{UserID: "user-1"})

	id, _ := s1.CreateConversation(ctx)
	s1.AppendMessage(ctx, id, model.RoleUser, "where should we go?")
	s1.AppendMessage(ctx, id, model.RoleAssistant, "Cusco, then the Sacred Valley.")
	// Rename after the first append; the first user message derives the title,
	// and the explicit rename must be what survives the round trip.
	s1.RenameConversation(ctx, id, "Peru planning")
	s1.Close()

	s2 := store.New(mem, llm.NewMock(), logger.NewNop())
	n2 := auth.NewNotifier()
	s2.Bind(n2)
	defer s2.Close()
	n2.Set(&auth.Identity{UserID: "user-1"})

	snapshot := s2.Snapshot()
	require.Len(t, snapshot, 1)
	got := snapshot[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Peru planning", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "where should we go?", got.Messages[0].Content)
	assert.Equal(t, "Cusco, then the Sacred Valley.", got.Messages[1].Content)
	assert.True(t, got.Messages[1].CreatedAt.After(got.Messages[0].CreatedAt))
}

func TestSnapshotIsACopy(t *testing.T) {
	f := newFixture(t, llm.NewMock())
	f.signIn("user-1")
	ctx := context.Background()

	id, _ := f.store.CreateConversation(ctx)
	f.store.AppendMessage(ctx, id, model.RoleUser, "original")

	snapshot := f.store.Snapshot()
	snapshot[0].Title = "mutated"
	snapshot[0].Messages[0].Content = "mutated"

	conv, _ := f.store.Conversation(id)
	assert.Equal(t, "original", conv.Messages[0].Content)
	assert.NotEqual(t, "mutated", conv.Title)
}
