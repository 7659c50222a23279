package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestProviderSummarizerCollectsText(t *testing.T) {
	inner := &scriptedProvider{
		streams: []*sliceStream{{parts: []Part{
			{Kind: PartTextDelta, Delta: "User wanted the parser "},
			{Kind: PartTextDelta, Delta: "rewritten; tests now pass."},
			{Kind: PartStreamDone},
		}}},
	}
	s := NewProviderSummarizer(inner, "test-model")

	history := []Message{
		UserText("rewrite the parser"),
		AssistantText("Done, tests pass."),
	}
	summary, err := s.Summarize(context.Background(), history)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "User wanted the parser rewritten; tests now pass." {
		t.Errorf("summary = %q", summary)
	}
}

func TestProviderSummarizerPropagatesStreamError(t *testing.T) {
	inner := &scriptedProvider{
		streams: []*sliceStream{{parts: []Part{
			{Kind: PartTextDelta, Delta: "partial"},
			{Kind: PartStreamError, Err: errors.New("connection reset")},
		}}},
	}
	s := NewProviderSummarizer(inner, "test-model")

	_, err := s.Summarize(context.Background(), []Message{UserText("hi")})
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v, want stream error", err)
	}
}

func TestProviderSummarizerRejectsEmptySummary(t *testing.T) {
	inner := &scriptedProvider{
		streams: []*sliceStream{{parts: []Part{{Kind: PartStreamDone}}}},
	}
	s := NewProviderSummarizer(inner, "test-model")

	_, err := s.Summarize(context.Background(), []Message{UserText("hi")})
	if err == nil {
		t.Fatal("expected error for empty summary")
	}
}

func TestRenderTranscriptElidesToolOutput(t *testing.T) {
	long := strings.Repeat("x", 1000)
	messages := []Message{
		UserText("read the file"),
		{Role: RoleAssistant, Content: []Content{
			{Type: ContentToolCall, ToolCall: &ToolCall{ID: "c1", Name: "read_file", Arguments: []byte(`{"file_path":"a.txt"}`)}},
		}},
		ToolResultMessage(ToolResult{ID: "c1", Name: "read_file", Content: long}),
	}

	transcript := renderTranscript(messages)
	if !strings.Contains(transcript, "called tool read_file") {
		t.Errorf("transcript missing tool call:\n%s", transcript)
	}
	if strings.Contains(transcript, long) {
		t.Error("transcript contains full tool output, want truncation")
	}
	if !strings.Contains(transcript, "...") {
		t.Error("transcript missing truncation marker")
	}
}
