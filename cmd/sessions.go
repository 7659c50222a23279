package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kon-agent/kon/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
	Long: `List, search, show, and delete stored sessions.

Examples:
  kon sessions                            # List recent sessions
  kon sessions list --provider anthropic
  kon sessions search "websocket"
  kon sessions show <id>
  kon sessions delete <id>`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search session contents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var (
	sessionsProvider string
	sessionsLimit    int
	sessionsStatus   string
	sessionsTag      string
	sessionsJSON     bool
)

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsProvider, "provider", "", "Filter by provider")
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list")
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "Filter by status (active, complete, error, interrupted)")
	sessionsListCmd.Flags().StringVar(&sessionsTag, "tag", "", "Filter by tag")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func getSessionStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Session.Enabled {
		return nil, fmt.Errorf("session storage is disabled in config")
	}
	return session.NewStore(cfg.Session)
}

// shortID truncates a session UUID to the listing width.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveSessionID finds the full session ID for a possibly short prefix.
func resolveSessionID(ctx context.Context, store session.Store, prefix string) (string, error) {
	if sess, err := store.Get(ctx, prefix); err == nil && sess != nil {
		return sess.ID, nil
	}
	summaries, err := store.List(ctx, session.ListOptions{Limit: 500, Archived: true})
	if err != nil {
		return "", err
	}
	var matches []string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, prefix) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no session matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%d sessions match %q, be more specific", len(matches), prefix)
	}
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if sessionsStatus != "" {
		valid := []string{"active", "complete", "error", "interrupted"}
		if !slices.Contains(valid, sessionsStatus) {
			return fmt.Errorf("invalid status %q: must be one of %v", sessionsStatus, valid)
		}
	}

	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	summaries, err := store.List(ctx, session.ListOptions{
		Provider: sessionsProvider,
		Status:   session.Status(sessionsStatus),
		Tag:      sessionsTag,
		Limit:    sessionsLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-10s %-40s %5s %6s %-12s %-8s %s\n",
		"ID", "SUMMARY", "MSGS", "TOOLS", "TOKENS", "STATUS", "AGE")
	fmt.Println(strings.Repeat("-", 100))
	for _, s := range summaries {
		summary := s.Summary
		if s.Name != "" {
			summary = s.Name
		}
		if len(summary) > 40 {
			summary = summary[:37] + "..."
		}
		tokens := fmt.Sprintf("%d/%d", s.InputTokens, s.OutputTokens)
		fmt.Printf("%-10s %-40s %5d %6d %-12s %-8s %s\n",
			shortID(s.ID), summary, s.MessageCount, s.ToolCalls, tokens, s.Status, formatAge(s.UpdatedAt))
	}
	return nil
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(context.Background(), query, 20)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No matches found.")
		return nil
	}
	for _, r := range results {
		name := r.SessionName
		if name == "" {
			name = r.Summary
		}
		fmt.Printf("%s  %s\n    %s\n", shortID(r.SessionID), name, r.Snippet)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveSessionID(ctx, store, args[0])
	if err != nil {
		return err
	}
	sess, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	messages, err := store.GetMessages(ctx, id, 0, 0)
	if err != nil {
		return err
	}

	if sessionsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Session  *session.Session  `json:"session"`
			Messages []session.Message `json:"messages"`
		}{sess, messages})
	}

	fmt.Printf("Session %s (%s, %s)\n", shortID(sess.ID), sess.Provider, sess.Model)
	fmt.Printf("Status: %s | Turns: %d | Tools: %d | Tokens: %d in / %d out\n\n",
		sess.Status, sess.UserTurns, sess.ToolCalls, sess.InputTokens, sess.OutputTokens)
	for _, m := range messages {
		text := m.TextContent
		if text == "" {
			continue
		}
		fmt.Printf("[%s]\n%s\n\n", m.Role, text)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveSessionID(ctx, store, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s.\n", shortID(id))
	return nil
}

// formatAge renders a timestamp as a compact relative age.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
