package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/BTreeMap/TaskPipe/internal/store"
)

// mockAuthenticator implements Authenticator for testing.
type mockAuthenticator struct {
	connected map[string]bool
	urlErr    error
}

func newMockAuthenticator() *mockAuthenticator {
	return &mockAuthenticator{connected: make(map[string]bool)}
}

func (m *mockAuthenticator) BuildAuthURL(senderID string) (string, error) {
	if m.urlErr != nil {
		return "", m.urlErr
	}
	return "https://auth.example/?state=" + senderID, nil
}

func (m *mockAuthenticator) ExchangeCodeForToken(ctx context.Context, code, senderID string) error {
	m.connected[senderID] = true
	return nil
}

func (m *mockAuthenticator) SenderForState(state string) (string, error) {
	return state, nil
}

func (m *mockAuthenticator) ClearCredentials(ctx context.Context, senderID string) (bool, error) {
	existed := m.connected[senderID]
	delete(m.connected, senderID)
	return existed, nil
}

func (m *mockAuthenticator) AuthStatusMessage(ctx context.Context, senderID string) string {
	if m.connected[senderID] {
		return "connected"
	}
	return "not connected"
}

func TestParseCommand(t *testing.T) {
	tests := map[string]string{
		"/connect":       CommandConnect,
		" /CONECTAR ":    CommandConnect,
		"/desconectar":   CommandDisconnect,
		"/tarefas":       CommandList,
		"/ajuda please":  CommandHelp,
		"/reset":         CommandReset,
		"/unknown":       "",
		"connect":        "",
		"":               "",
		"hello /connect": "",
	}
	for in, want := range tests {
		if got := ParseCommand(in); got != want {
			t.Errorf("ParseCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommandRunner(t *testing.T) {
	ctx := context.Background()
	auth := newMockAuthenticator()
	history := store.NewInMemoryStore()
	provider := newMockTaskProvider(true)
	provider.formatted = "1. Buy milk"
	d, _ := newTestDispatcher(provider)
	runner := NewCommandRunner(auth, history, d)

	if _, handled := runner.Run(ctx, "U1", "remind me to buy milk"); handled {
		t.Error("plain text must not be handled as a command")
	}
	if _, handled := runner.Run(ctx, "U1", "/whatever"); handled {
		t.Error("unknown slash text must fall through")
	}

	reply, _ := runner.Run(ctx, "U1", "/connect")
	if !strings.Contains(reply, "https://auth.example/?state=U1") {
		t.Errorf("expected auth URL in reply, got %q", reply)
	}
	if reply, _ := runner.Run(ctx, "U1", "/status"); reply != "not connected" {
		t.Errorf("unexpected status %q", reply)
	}
	if reply, _ := runner.Run(ctx, "U1", "/disconnect"); reply != NotConnectedMessage {
		t.Errorf("expected not connected, got %q", reply)
	}
	_ = auth.ExchangeCodeForToken(ctx, "code", "U1")
	if reply, _ := runner.Run(ctx, "U1", "/desconectar"); reply != DisconnectedMessage {
		t.Errorf("expected disconnected, got %q", reply)
	}
	if reply, _ := runner.Run(ctx, "U1", "/list"); reply != "1. Buy milk" {
		t.Errorf("expected task list, got %q", reply)
	}
	if reply, _ := runner.Run(ctx, "U1", "/help"); reply != HelpMessage {
		t.Errorf("expected help, got %q", reply)
	}

	_ = history.AppendHistory("U1", models.HistoryEntry{Role: models.HistoryRoleUser, Content: "hi"})
	if reply, _ := runner.Run(ctx, "U1", "/reset"); reply != HistoryResetMessage {
		t.Errorf("expected reset confirmation, got %q", reply)
	}
	if h, _ := history.GetHistory("U1", 0); len(h) != 0 {
		t.Errorf("expected history cleared, got %d entries", len(h))
	}
}

func TestCommandRunner_NoAuthenticator(t *testing.T) {
	d, _ := newTestDispatcher(nil)
	runner := NewCommandRunner(nil, nil, d)
	reply, handled := runner.Run(context.Background(), "U1", "/connect")
	if !handled || reply != ProviderMissingMessage {
		t.Errorf("expected provider missing, got %q handled=%v", reply, handled)
	}
}

func TestCommandRunner_AuthURLError(t *testing.T) {
	auth := newMockAuthenticator()
	auth.urlErr = errors.New("oauth not configured")
	d, _ := newTestDispatcher(nil)
	runner := NewCommandRunner(auth, nil, d)
	reply, _ := runner.Run(context.Background(), "U1", "/connect")
	if !strings.Contains(reply, "oauth not configured") {
		t.Errorf("expected error relayed, got %q", reply)
	}
}
