package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vheckthor/goose-sub001/pkg/store"
)

// Manager implements store.Manager using JSONL files under one directory.
type Manager struct {
	dir       string
	eventChan chan string
	mu        sync.RWMutex
	subs      []chan string
}

var _ store.Manager = (*Manager)(nil)

func NewManager(dir string) *Manager {
	m := &Manager{
		dir:       dir,
		eventChan: make(chan string, 100),
	}
	go m.broadcastLoop()
	return m
}

// Index represents the index.json structure.
type Index struct {
	Sessions []store.Info `json:"sessions"`
}

func (m *Manager) New(workingDir string) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}

	id := uuid.New().String()
	path := filepath.Join(m.dir, id+".jsonl")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating session file: %w", err)
	}

	s := &Session{
		id:         id,
		filePath:   path,
		workingDir: workingDir,
		fileHandle: f,
		notify:     m.publish,
	}

	now := time.Now()
	header := store.Header{
		Type:       store.TypeSession,
		ID:         id,
		Version:    1,
		WorkingDir: workingDir,
		CreatedAt:  now,
	}
	if err := s.writeLine(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing session header: %w", err)
	}

	meta := store.Info{
		ID:       id,
		Path:     path,
		Status:   store.StatusActive,
		Created:  now,
		Modified: now,
	}
	if err := m.updateIndex(meta); err != nil {
		slog.Error("Failed to update session index", "error", err)
	}

	return s, nil
}

func (m *Manager) Load(id string) (store.Session, error) {
	path := filepath.Join(m.dir, id+".jsonl")
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}

	s := &Session{
		filePath:   path,
		fileHandle: f,
		notify:     m.publish,
	}
	if err := loadEntries(s); err != nil {
		f.Close()
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	return s, nil
}

func (m *Manager) ContinueRecent() (store.Session, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("no sessions found in %s", m.dir)
	}
	return m.Load(infos[0].ID)
}

func (m *Manager) List() ([]store.Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Modified.After(infos[j].Modified)
	})
	return infos, nil
}

func (m *Manager) SetStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos, err := m.readIndex()
	if err != nil {
		return err
	}
	found := false
	for i := range infos {
		if infos[i].ID == id {
			infos[i].Status = status
			infos[i].Modified = time.Now()
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("session %s not found", id)
	}
	return m.writeIndex(infos)
}

func (m *Manager) Subscribe() <-chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan string, 10)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *Manager) publish(id string) {
	select {
	case m.eventChan <- id:
	default:
	}
}

func (m *Manager) broadcastLoop() {
	for id := range m.eventChan {
		m.mu.RLock()
		for _, sub := range m.subs {
			// Non-blocking send
			select {
			case sub <- id:
			default:
			}
		}
		m.mu.RUnlock()
	}
}

func (m *Manager) updateIndex(meta store.Info) error {
	infos, err := m.readIndex()
	if err != nil {
		infos = nil
	}
	found := false
	for i, s := range infos {
		if s.ID == meta.ID {
			infos[i] = meta
			found = true
			break
		}
	}
	if !found {
		infos = append(infos, meta)
	}
	return m.writeIndex(infos)
}

func (m *Manager) readIndex() ([]store.Info, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, "index.json"))
	if os.IsNotExist(err) {
		return []store.Info{}, nil
	}
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	return idx.Sessions, nil
}

func (m *Manager) writeIndex(infos []store.Info) error {
	data, err := json.MarshalIndent(Index{Sessions: infos}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, "index.json"), data, 0644)
}

func loadEntries(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.fileHandle.Seek(0, io.SeekStart); err != nil {
		return err
	}

	scanner := bufio.NewScanner(s.fileHandle)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if scanner.Scan() {
		var h store.Header
		if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
			return fmt.Errorf("unmarshaling header: %w", err)
		}
		s.id = h.ID
		s.workingDir = h.WorkingDir
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}

	for scanner.Scan() {
		var e store.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			// A torn final line from a crashed writer is skipped, not fatal.
			slog.Warn("Skipping unreadable session entry", "session", s.id, "error", err)
			continue
		}
		s.entries = append(s.entries, e)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// Appends continue at the end of the file.
	if _, err := s.fileHandle.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}
