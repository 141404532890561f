package dispatch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/basket/boss/internal/adapters/llm"
	"github.com/basket/boss/internal/bus"
	"github.com/basket/boss/internal/classifier"
	"github.com/basket/boss/internal/conversation"
	"github.com/basket/boss/internal/session"
	"github.com/basket/boss/internal/store"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "dispatch-test.db")
	st, err := store.Open(dsn, bus.New())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	machine := conversation.New(st)
	cl := classifier.New(llm.New(t.Context(), llm.Config{}))
	sessions := session.Open(t.Context(), "")
	t.Cleanup(func() { sessions.Close() })

	commands := map[string]CommandHandler{
		"status": func(ctx context.Context, userID, command, rest string) (string, error) { return "ok", nil },
	}
	return New(st, machine, cl, sessions, commands)
}

func TestDispatch_SlashCommandTakesPriority(t *testing.T) {
	d := newTestDispatcher(t)
	result, err := d.Dispatch(t.Context(), Inbound{UserID: "u1", Text: "/status"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Branch != BranchSlashCommand {
		t.Fatalf("branch = %v, want slash_command", result.Branch)
	}
	if result.Reply != "ok" {
		t.Fatalf("reply = %q, want ok", result.Reply)
	}
}

func TestDispatch_UnknownSlashCommand(t *testing.T) {
	d := newTestDispatcher(t)
	result, err := d.Dispatch(t.Context(), Inbound{UserID: "u1", Text: "/bogus"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Branch != BranchSlashCommand {
		t.Fatalf("branch = %v, want slash_command", result.Branch)
	}
}

func TestDispatch_NewConversationWhenNoneOpen(t *testing.T) {
	d := newTestDispatcher(t)
	result, err := d.Dispatch(t.Context(), Inbound{UserID: "u2", Text: "create a task to fix the bug"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Branch != BranchNewClassified {
		t.Fatalf("branch = %v, want new_classified", result.Branch)
	}
}

func TestDispatch_ActiveDialogRoutesToConversation(t *testing.T) {
	d := newTestDispatcher(t)
	if _, err := d.Dispatch(t.Context(), Inbound{UserID: "u3", Text: "create a task to fix the bug"}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	result, err := d.Dispatch(t.Context(), Inbound{UserID: "u3", Text: "yes"})
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if result.Branch != BranchActiveDialog {
		t.Fatalf("branch = %v, want active_dialog", result.Branch)
	}
}
