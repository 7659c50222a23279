package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kon-agent/kon/internal/llm"
)

func seededConversation(turns int) *Conversation {
	conv := NewConversation()
	for i := 0; i < turns; i++ {
		conv.Append(llm.UserText("question"))
		conv.Append(llm.AssistantText("answer"))
	}
	return conv
}

func TestCompactionNoOpUnderBudget(t *testing.T) {
	conv := seededConversation(3)
	before := conv.Messages()

	c := NewCompactor(HeuristicEstimator{}, &fakeSummarizer{summary: "s"}, OverflowContinue, 100000, 1000, 2, nil)
	if err := c.EnsureFits(context.Background(), conv, "system"); err != nil {
		t.Fatalf("EnsureFits: %v", err)
	}

	after := conv.Messages()
	if len(after) != len(before) {
		t.Fatalf("conversation changed under budget: %d -> %d messages", len(before), len(after))
	}
	for i := range before {
		if before[i].TextContent() != after[i].TextContent() {
			t.Errorf("message %d mutated", i)
		}
	}
}

func TestCompactionReplacesPrefixWithSummary(t *testing.T) {
	conv := seededConversation(5)
	// Over budget once, under after one replacement.
	estimator := &fixedEstimator{values: []int{5000, 500}}
	summarizer := &fakeSummarizer{summary: "they discussed five questions"}
	rec := &recorder{}

	c := NewCompactor(estimator, summarizer, OverflowContinue, 4000, 500, 2, rec.emit)
	if err := c.EnsureFits(context.Background(), conv, ""); err != nil {
		t.Fatalf("EnsureFits: %v", err)
	}

	messages := conv.Messages()
	if messages[0].Role != llm.RoleUser || !strings.Contains(messages[0].TextContent(), "they discussed five questions") {
		t.Errorf("first message is not the summary: %+v", messages[0])
	}
	// Two user-message boundaries kept verbatim: summary + 2 turns.
	if len(messages) != 5 {
		t.Fatalf("messages = %d, want 5 (summary + 2 kept turns)", len(messages))
	}
	if len(summarizer.calls) != 1 {
		t.Fatalf("summarizer called %d times, want 1", len(summarizer.calls))
	}
	if len(summarizer.calls[0]) != 6 {
		t.Errorf("summarized %d messages, want 6 (3 folded turns)", len(summarizer.calls[0]))
	}

	types := rec.types()
	if len(types) != 2 || types[0] != EventCompactionStart || types[1] != EventCompactionEnd {
		t.Errorf("events = %v, want [compaction_start compaction_end]", types)
	}
	last := rec.all()[1]
	if last.CompactionAborted {
		t.Error("compaction reported aborted on success")
	}
	if last.TokensBefore != 5000 || last.TokensAfter != 500 {
		t.Errorf("tokens before/after = %d/%d, want 5000/500", last.TokensBefore, last.TokensAfter)
	}
}

func TestCompactionStopPolicySurfacesOverflow(t *testing.T) {
	conv := seededConversation(3)
	estimator := &fixedEstimator{values: []int{9000}}

	c := NewCompactor(estimator, &fakeSummarizer{summary: "s"}, OverflowStop, 8000, 500, 2, nil)
	err := c.EnsureFits(context.Background(), conv, "")
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	if conv.Len() != 6 {
		t.Errorf("stop policy must leave history untouched, got %d messages", conv.Len())
	}
}

func TestCompactionSummarizerFailureLeavesHistoryUnchanged(t *testing.T) {
	conv := seededConversation(4)
	before := conv.Messages()
	estimator := &fixedEstimator{values: []int{9000}}
	summarizer := &fakeSummarizer{err: errors.New("summarizer unavailable")}

	c := NewCompactor(estimator, summarizer, OverflowContinue, 8000, 500, 2, nil)
	err := c.EnsureFits(context.Background(), conv, "")
	if err == nil {
		t.Fatal("expected error from failed summarizer")
	}

	after := conv.Messages()
	if len(after) != len(before) {
		t.Fatalf("failed compaction mutated history: %d -> %d", len(before), len(after))
	}
}

func TestCompactionUnrecoverableOverflow(t *testing.T) {
	conv := NewConversation()
	conv.Append(llm.UserText("one enormous message"))

	// Always over budget, nothing to fold.
	estimator := &fixedEstimator{values: []int{9000}}
	c := NewCompactor(estimator, &fakeSummarizer{summary: "s"}, OverflowContinue, 8000, 500, 2, nil)

	err := c.EnsureFits(context.Background(), conv, "")
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	if conv.Len() != 1 {
		t.Errorf("history mutated on unrecoverable overflow: %d messages", conv.Len())
	}
}

func TestCompactionNonReducingSummaryAborts(t *testing.T) {
	conv := seededConversation(5)
	// Estimate never drops after replacement.
	estimator := &fixedEstimator{values: []int{9000, 9000}}
	c := NewCompactor(estimator, &fakeSummarizer{summary: "s"}, OverflowContinue, 8000, 500, 2, nil)

	err := c.EnsureFits(context.Background(), conv, "")
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
}

func TestCompactionCutNeverSplitsToolRound(t *testing.T) {
	messages := []llm.Message{
		llm.UserText("q1"),
		llm.AssistantText("a1"),
		llm.UserText("q2"),
		{Role: llm.RoleAssistant, Content: []llm.Content{{Type: llm.ContentToolCall, ToolCall: &llm.ToolCall{ID: "1", Name: "read"}}}},
		llm.ToolResultMessage(llm.ToolResult{ID: "1", Name: "read", Content: "data"}),
		llm.AssistantText("a2"),
	}
	cut := compactionCut(messages, 1)
	if cut != 2 {
		t.Fatalf("cut = %d, want 2 (boundary at q2)", cut)
	}
	if messages[cut].Role != llm.RoleUser {
		t.Errorf("cut does not land on a user message")
	}
}
