package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kon-agent/kon/internal/llm"
)

// Recorder persists a live conversation incrementally. All methods are best
// effort: persistence failures are logged, never surfaced to the caller, so
// a broken database cannot take down a running conversation.
type Recorder struct {
	store  Store
	sess   *Session
	logger zerolog.Logger

	mu        sync.Mutex
	persisted int             // messages already written
	warned    map[string]bool // rate-limit warnings by operation
}

// NewRecorder creates a Recorder for the given session. The session is not
// created in the store until Begin is called.
func NewRecorder(store Store, sess *Session, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		sess:   sess,
		logger: logger,
		warned: make(map[string]bool),
	}
}

// SessionID returns the recorded session's identifier.
func (r *Recorder) SessionID() string {
	return r.sess.ID
}

// warnOnce logs a persistence failure once per operation type.
func (r *Recorder) warnOnce(op string, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	seen := r.warned[op]
	r.warned[op] = true
	r.mu.Unlock()
	if seen {
		return
	}
	r.logger.Warn().Err(err).Str("op", op).Msg("session persistence failed")
}

// Begin creates the session record and marks it current.
func (r *Recorder) Begin(ctx context.Context) {
	if err := r.store.Create(ctx, r.sess); err != nil {
		r.warnOnce("Create", err)
		return
	}
	r.warnOnce("SetCurrent", r.store.SetCurrent(ctx, r.sess.ID))
}

// RecordPrompt notes a user submission. The first prompt becomes the
// session summary.
func (r *Recorder) RecordPrompt(ctx context.Context, text string) {
	r.warnOnce("IncrementUserTurns", r.store.IncrementUserTurns(ctx, r.sess.ID))
	// Keep the in-memory counter in step so a later Update of the whole
	// row does not write a stale value over the increment.
	r.sess.UserTurns++
	if r.sess.Summary == "" {
		r.sess.Summary = TruncateSummary(text)
		r.warnOnce("Update", r.store.Update(ctx, r.sess))
	}
}

// Sync writes any messages appended to the conversation since the last call
// and folds the cycle's usage into the session metrics.
func (r *Recorder) Sync(ctx context.Context, messages []llm.Message, llmTurns, toolCalls int, usage llm.Usage) {
	r.mu.Lock()
	start := r.persisted
	if start > len(messages) {
		// A cancelled cycle rewound the conversation past what we saved.
		start = len(messages)
	}
	r.persisted = len(messages)
	r.mu.Unlock()

	for i := start; i < len(messages); i++ {
		msg := NewMessage(r.sess.ID, messages[i], -1) // negative sequence auto-allocates
		r.warnOnce("AddMessage", r.store.AddMessage(ctx, r.sess.ID, msg))
	}

	r.warnOnce("UpdateMetrics", r.store.UpdateMetrics(ctx, r.sess.ID,
		llmTurns, toolCalls, usage.InputTokens, usage.OutputTokens, usage.CachedInputTokens))
}

// End records the final session status and releases the current marker for
// completed sessions.
func (r *Recorder) End(ctx context.Context, status Status) {
	r.warnOnce("UpdateStatus", r.store.UpdateStatus(ctx, r.sess.ID, status))
	if status == StatusComplete {
		r.warnOnce("ClearCurrent", r.store.ClearCurrent(ctx))
	}
}
