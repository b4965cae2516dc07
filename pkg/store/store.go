// Package store defines the session persistence contract: an append-only
// line-oriented log of conversation messages plus usage records, with a
// manager that indexes sessions on disk.
package store

import (
	"time"

	"github.com/vheckthor/goose-sub001/pkg/message"
)

// EntryType discriminates log lines.
type EntryType string

const (
	// TypeSession is the header line, always first in the file.
	TypeSession EntryType = "session"
	// TypeMessage is a conversation message.
	TypeMessage EntryType = "message"
	// TypeUsage is a per-completion token accounting record.
	TypeUsage EntryType = "usage"
)

// Session status values tracked in the index.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Header is the first line of every session file.
type Header struct {
	Type       EntryType `json:"type"`
	ID         string    `json:"id"`
	Version    int       `json:"version"`
	WorkingDir string    `json:"working_dir,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Entry is one line of the session log after the header.
type Entry struct {
	Type      EntryType `json:"type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Message *message.Message `json:"message,omitempty"`
	Usage   *UsageEntry      `json:"usage,omitempty"`
}

// UsageEntry records the token cost of one completion.
type UsageEntry struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
}

// Info summarizes a session for listings.
type Info struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Status   string    `json:"status"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Session is one persisted conversation.
type Session interface {
	ID() string
	Path() string
	WorkingDir() string

	// AppendMessage persists one conversation message.
	AppendMessage(msg message.Message) error

	// AppendUsage persists a token accounting record.
	AppendUsage(model string, input, output, total int) error

	// Messages returns the full message history in append order.
	Messages() ([]message.Message, error)

	// TotalUsage sums all usage records.
	TotalUsage() (UsageEntry, error)

	Close() error
}

// Manager creates, loads and lists sessions.
type Manager interface {
	New(workingDir string) (Session, error)
	Load(id string) (Session, error)
	ContinueRecent() (Session, error)
	List() ([]Info, error)
	SetStatus(id, status string) error

	// Subscribe returns a channel of session IDs that changed. Slow
	// subscribers miss events rather than block writers.
	Subscribe() <-chan string
}
