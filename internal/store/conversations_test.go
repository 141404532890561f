package store

import (
	"testing"
	"time"
)

func TestStartConversation_PreemptsExisting(t *testing.T) {
	s := newTestStore(t)
	first, err := s.StartConversation(t.Context(), "user-1", "creating")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	second, err := s.StartConversation(t.Context(), "user-1", "creating")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if first.ConversationID == second.ConversationID {
		t.Fatal("expected a new conversation id")
	}
	open, err := s.OpenConversation(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if open == nil || open.ConversationID != second.ConversationID {
		t.Fatal("expected only the second conversation to remain open")
	}
}

func TestCloseStaleConversations(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.StartConversation(t.Context(), "user-2", "idle"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	n, err := s.CloseStaleConversations(t.Context(), -1*time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatalf("CloseStaleConversations: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed %d conversations, want 1", n)
	}
	open, err := s.OpenConversation(t.Context(), "user-2")
	if err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if open != nil {
		t.Fatal("expected no open conversation after stale close")
	}
}

func TestAppendMessage_ChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.StartConversation(t.Context(), "user-3", "idle")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if _, err := s.AppendMessage(t.Context(), conv.ConversationID, "user", "first"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage(t.Context(), conv.ConversationID, "assistant", "second"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	msgs, err := s.ListMessages(t.Context(), conv.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("got %+v", msgs)
	}
}
