package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kon-agent/kon/internal/llm"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "sessions.db"),
	})
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSession() *Session {
	return &Session{
		ID:        NewID(),
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-5",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestSQLiteStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession()
	sess.Summary = "fix the build"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected session to exist")
	}
	if loaded.Provider != "anthropic" || loaded.Model != "claude-sonnet-4-5" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Summary != "fix the build" {
		t.Errorf("summary = %q", loaded.Summary)
	}
	if loaded.Status != StatusActive {
		t.Errorf("status = %q, want active default", loaded.Status)
	}
}

func TestSQLiteStoreGetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	loaded, err := store.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing session, got %+v", loaded)
	}
}

func TestSQLiteStoreUpdateMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if err := store.UpdateMetrics(ctx, sess.ID, 2, 3, 1000, 250, 700); err != nil {
		t.Fatalf("failed to update session metrics: %v", err)
	}
	if err := store.UpdateMetrics(ctx, sess.ID, 1, 0, 500, 100, 0); err != nil {
		t.Fatalf("failed to update session metrics: %v", err)
	}

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if loaded.LLMTurns != 3 {
		t.Errorf("expected llm_turns=3, got %d", loaded.LLMTurns)
	}
	if loaded.ToolCalls != 3 {
		t.Errorf("expected tool_calls=3, got %d", loaded.ToolCalls)
	}
	if loaded.InputTokens != 1500 {
		t.Errorf("expected input_tokens=1500, got %d", loaded.InputTokens)
	}
	if loaded.OutputTokens != 350 {
		t.Errorf("expected output_tokens=350, got %d", loaded.OutputTokens)
	}
	if loaded.CachedInputTokens != 700 {
		t.Errorf("expected cached_input_tokens=700, got %d", loaded.CachedInputTokens)
	}
}

func TestSQLiteStoreMessagesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	assistant := llm.Message{
		Role: llm.RoleAssistant,
		Content: []llm.Content{
			{Type: llm.ContentText, Text: "Reading the file now."},
			{Type: llm.ContentToolCall, ToolCall: &llm.ToolCall{
				ID: "call_1", Name: "read_file", Arguments: []byte(`{"file_path":"main.go"}`),
			}},
		},
	}
	for i, m := range []llm.Message{llm.UserText("what does main do?"), assistant} {
		if err := store.AddMessage(ctx, sess.ID, NewMessage(sess.ID, m, i)); err != nil {
			t.Fatalf("failed to add message %d: %v", i, err)
		}
	}

	messages, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("failed to get messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != llm.RoleUser || messages[1].Role != llm.RoleAssistant {
		t.Errorf("roles = %q, %q", messages[0].Role, messages[1].Role)
	}

	restored := messages[1].ToLLMMessage()
	calls := restored.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Fatalf("tool call not preserved: %+v", calls)
	}
	if string(calls[0].Arguments) != `{"file_path":"main.go"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestSQLiteStoreAutoAllocatesSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := NewMessage(sess.ID, llm.UserText("hello"), -1)
		if err := store.AddMessage(ctx, sess.ID, msg); err != nil {
			t.Fatalf("failed to add message: %v", err)
		}
		if msg.Sequence != i {
			t.Errorf("message %d allocated sequence %d", i, msg.Sequence)
		}
	}
}

func TestSQLiteStoreSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession()
	sess.Name = "refactor"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	msg := NewMessage(sess.ID, llm.UserText("please refactor the websocket handler"), 0)
	if err := store.AddMessage(ctx, sess.ID, msg); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}

	results, err := store.Search(ctx, "websocket", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 search result, got %d", len(results))
	}
	if results[0].SessionID != sess.ID {
		t.Errorf("result session = %s, want %s", results[0].SessionID, sess.ID)
	}
}

func TestSQLiteStoreCurrentSessionTracking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if err := store.SetCurrent(ctx, sess.ID); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	current, err := store.GetCurrent(ctx)
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if current == nil || current.ID != sess.ID {
		t.Fatalf("current = %+v, want %s", current, sess.ID)
	}

	if err := store.ClearCurrent(ctx); err != nil {
		t.Fatalf("ClearCurrent: %v", err)
	}
	current, err = store.GetCurrent(ctx)
	if err != nil {
		t.Fatalf("GetCurrent after clear: %v", err)
	}
	if current != nil {
		t.Errorf("expected no current session, got %+v", current)
	}
}

func TestSQLiteStoreDeleteCascadesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession()
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := store.AddMessage(ctx, sess.ID, NewMessage(sess.ID, llm.UserText("hi"), 0)); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	messages, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected 0 messages after delete, got %d", len(messages))
	}
}

func TestSQLiteStoreListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestSession()
	a.Provider = "anthropic"
	b := newTestSession()
	b.Provider = "openai"
	b.Model = "gpt-5.2"
	for _, sess := range []*Session{a, b} {
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
	}

	summaries, err := store.List(ctx, ListOptions{Provider: "openai"})
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != b.ID {
		t.Fatalf("summaries = %+v, want only the openai session", summaries)
	}
}
