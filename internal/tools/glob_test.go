package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fixtureTree builds a small source tree for glob and grep tests.
func fixtureTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.go":             "package main\n\nfunc main() {}\n",
		"util/strings.go":     "package util\n\nfunc Reverse(s string) string { return s }\n",
		"util/strings_test.go": "package util\n",
		"README.md":           "# fixture\n",
		".git/config":         "[core]\n",
		"node_modules/dep.js": "module.exports = 1\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestGlobRecursivePattern(t *testing.T) {
	dir := fixtureTree(t)
	tool := NewGlobTool(DefaultOutputLimits())

	out, err := tool.Execute(context.Background(), mustArgs(t, GlobArgs{
		Pattern: "**/*.go",
		Path:    dir,
	}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"main.go", "strings.go", "strings_test.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "README.md") {
		t.Errorf("output includes non-matching file:\n%s", out)
	}
}

func TestGlobSkipsNoiseDirectories(t *testing.T) {
	dir := fixtureTree(t)
	tool := NewGlobTool(DefaultOutputLimits())

	out, err := tool.Execute(context.Background(), mustArgs(t, GlobArgs{
		Pattern: "**/*",
		Path:    dir,
	}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(out, "node_modules") || strings.Contains(out, ".git") {
		t.Errorf("output includes skipped directories:\n%s", out)
	}
}

func TestGlobNoMatches(t *testing.T) {
	dir := fixtureTree(t)
	tool := NewGlobTool(DefaultOutputLimits())

	out, err := tool.Execute(context.Background(), mustArgs(t, GlobArgs{
		Pattern: "**/*.rs",
		Path:    dir,
	}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "No files matched") {
		t.Errorf("output = %q, want no-match notice", out)
	}
}

func TestGlobInvalidPattern(t *testing.T) {
	tool := NewGlobTool(DefaultOutputLimits())
	_, err := tool.Execute(context.Background(), mustArgs(t, GlobArgs{Pattern: "[unclosed"}))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Type != ErrInvalidParams {
		t.Fatalf("err = %v, want INVALID_PARAMS", err)
	}
}

func TestGlobTruncatesResults(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		name := filepath.Join(dir, string(rune('a'+i))+".txt")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	limits := DefaultOutputLimits()
	limits.MaxResults = 3
	tool := NewGlobTool(limits)

	out, err := tool.Execute(context.Background(), mustArgs(t, GlobArgs{
		Pattern: "*.txt",
		Path:    dir,
	}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "[Results truncated to 3 entries]") {
		t.Errorf("output = %q, want truncation notice", out)
	}
}
