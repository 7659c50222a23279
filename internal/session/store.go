package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the interface for session persistence.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error

	// Listing and search
	List(ctx context.Context, opts ListOptions) ([]SessionSummary, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Message operations, storing the full llm.Message content
	AddMessage(ctx context.Context, sessionID string, msg *Message) error
	GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error)

	// Metrics operations (for incremental session saving)
	UpdateMetrics(ctx context.Context, id string, llmTurns, toolCalls, inputTokens, outputTokens, cachedInputTokens int) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	IncrementUserTurns(ctx context.Context, id string) error

	// Current session tracking (for auto-resume)
	SetCurrent(ctx context.Context, sessionID string) error
	GetCurrent(ctx context.Context) (*Session, error)
	ClearCurrent(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`      // Master switch
	Path       string `mapstructure:"path"`         // Database path override
	MaxAgeDays int    `mapstructure:"max_age_days"` // Auto-delete after N days (0=never)
	MaxCount   int    `mapstructure:"max_count"`    // Keep at most N sessions (0=unlimited)
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		MaxAgeDays: 0,
		MaxCount:   0,
	}
}

// DataDir returns the XDG data directory for kon.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func DataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "kon"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "kon"), nil
}

// DBPath returns the path to the sessions database.
func DBPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions.db"), nil
}

// NewStore creates a Store based on the configuration. If sessions are
// disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
