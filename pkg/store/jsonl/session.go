// Package jsonl implements store.Session and store.Manager on JSONL files:
// one file per session, a header line followed by one JSON entry per line,
// and an index.json for listings.
package jsonl

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vheckthor/goose-sub001/pkg/message"
	"github.com/vheckthor/goose-sub001/pkg/store"
)

// Session implements store.Session using a JSONL file.
type Session struct {
	mu         sync.RWMutex
	id         string
	filePath   string
	workingDir string
	entries    []store.Entry
	fileHandle *os.File
	notify     func(string)
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Path() string       { return s.filePath }
func (s *Session) WorkingDir() string { return s.workingDir }

// append persists a generic entry.
func (s *Session) append(e store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if err := s.writeLine(e); err != nil {
		return err
	}
	s.entries = append(s.entries, e)

	if s.notify != nil {
		s.notify(s.id)
	}
	return nil
}

func (s *Session) AppendMessage(msg message.Message) error {
	return s.append(store.Entry{
		Type:    store.TypeMessage,
		Message: &msg,
	})
}

func (s *Session) AppendUsage(model string, input, output, total int) error {
	return s.append(store.Entry{
		Type: store.TypeUsage,
		Usage: &store.UsageEntry{
			Model:        model,
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  total,
		},
	})
}

func (s *Session) Messages() ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []message.Message
	for _, e := range s.entries {
		if e.Type == store.TypeMessage && e.Message != nil {
			out = append(out, *e.Message)
		}
	}
	return out, nil
}

func (s *Session) TotalUsage() (store.UsageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total store.UsageEntry
	for _, e := range s.entries {
		if e.Type == store.TypeUsage && e.Usage != nil {
			total.Model = e.Usage.Model
			total.InputTokens += e.Usage.InputTokens
			total.OutputTokens += e.Usage.OutputTokens
			total.TotalTokens += e.Usage.TotalTokens
		}
	}
	return total, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fileHandle != nil {
		return s.fileHandle.Close()
	}
	return nil
}

func (s *Session) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := s.fileHandle.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}
