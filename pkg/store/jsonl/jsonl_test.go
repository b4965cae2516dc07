package jsonl

import (
	"testing"
	"time"

	"github.com/vheckthor/goose-sub001/pkg/message"
	"github.com/vheckthor/goose-sub001/pkg/store"
)

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	s, err := m.New("/tmp/work")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	msgs := []message.Message{
		message.NewUser("run the build"),
		message.New(message.RoleAssistant).WithContent(message.ToolRequestItem("t1", message.ToolCall{
			Name:      "developer__shell",
			Arguments: map[string]any{"command": "make"},
		})),
		message.New(message.RoleUser).WithContent(message.ToolResponseItem("t1", []message.Content{message.TextItem("ok")})),
		message.NewAssistant("done"),
	}
	for _, msg := range msgs {
		if err := s.AppendMessage(msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.AppendUsage("test-model", 100, 20, 120); err != nil {
		t.Fatalf("usage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	loaded, err := m.Load(s.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer loaded.Close()

	if loaded.WorkingDir() != "/tmp/work" {
		t.Fatalf("working dir lost: %q", loaded.WorkingDir())
	}
	got, err := loaded.Messages()
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i := range msgs {
		if got[i].Role != msgs[i].Role {
			t.Fatalf("message %d: role %s != %s", i, got[i].Role, msgs[i].Role)
		}
	}
	reqs := got[1].ToolRequests()
	if len(reqs) != 1 || reqs[0].Call == nil || reqs[0].Call.Name != "developer__shell" {
		t.Fatalf("tool request lost in round trip: %+v", got[1])
	}
	if reqs[0].Call.Arguments["command"] != "make" {
		t.Fatalf("tool arguments lost: %+v", reqs[0].Call.Arguments)
	}

	usage, err := loaded.TotalUsage()
	if err != nil {
		t.Fatalf("total usage: %v", err)
	}
	if usage.TotalTokens != 120 {
		t.Fatalf("expected 120 total tokens, got %d", usage.TotalTokens)
	}
}

func TestAppendAfterLoad(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	s, err := m.New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.AppendMessage(message.NewUser("first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.Close()

	loaded, err := m.Load(s.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := loaded.AppendMessage(message.NewAssistant("second")); err != nil {
		t.Fatalf("append after load: %v", err)
	}
	loaded.Close()

	again, err := m.Load(s.ID())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer again.Close()
	got, _ := again.Messages()
	if len(got) != 2 || got[1].Text() != "second" {
		t.Fatalf("append after load corrupted the log: %+v", got)
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	first, err := m.New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first.Close()
	time.Sleep(10 * time.Millisecond)
	second, err := m.New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	second.Close()

	infos, err := m.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].ID != second.ID() {
		t.Fatal("expected newest session first")
	}

	recent, err := m.ContinueRecent()
	if err != nil {
		t.Fatalf("continue recent: %v", err)
	}
	defer recent.Close()
	if recent.ID() != second.ID() {
		t.Fatalf("expected to continue the newest session, got %s", recent.ID())
	}
}

func TestSetStatus(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	s, err := m.New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Close()

	if err := m.SetStatus(s.ID(), store.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	infos, _ := m.List()
	if infos[0].Status != store.StatusCompleted {
		t.Fatalf("status not persisted: %+v", infos[0])
	}
	if err := m.SetStatus("missing", store.StatusCompleted); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestSubscribeNotifiesOnAppend(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	ch := m.Subscribe()
	s, err := m.New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	if err := s.AppendMessage(message.NewUser("hello")); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case id := <-ch:
		if id != s.ID() {
			t.Fatalf("expected notification for %s, got %s", s.ID(), id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after append")
	}
}
