package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/BTreeMap/TaskPipe/internal/store"
)

// Authenticator manages the link between a sender and their task account.
type Authenticator interface {
	BuildAuthURL(senderID string) (string, error)
	ExchangeCodeForToken(ctx context.Context, code, senderID string) error
	// SenderForState consumes a one-time OAuth state token.
	SenderForState(state string) (string, error)
	ClearCredentials(ctx context.Context, senderID string) (bool, error)
	AuthStatusMessage(ctx context.Context, senderID string) string
}

// Command names, with their Portuguese aliases.
const (
	CommandConnect    = "/connect"
	CommandDisconnect = "/disconnect"
	CommandStatus     = "/status"
	CommandList       = "/list"
	CommandHelp       = "/help"
	CommandReset      = "/reset"
)

var commandAliases = map[string]string{
	"/connect":     CommandConnect,
	"/conectar":    CommandConnect,
	"/disconnect":  CommandDisconnect,
	"/desconectar": CommandDisconnect,
	"/status":      CommandStatus,
	"/list":        CommandList,
	"/listar":      CommandList,
	"/tarefas":     CommandList,
	"/tasks":       CommandList,
	"/help":        CommandHelp,
	"/ajuda":       CommandHelp,
	"/reset":       CommandReset,
}

// ParseCommand returns the canonical command name for text, or "" if text is not a known command.
func ParseCommand(text string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	return commandAliases[fields[0]]
}

// CommandRunner executes slash commands without involving the model.
type CommandRunner struct {
	auth       Authenticator
	history    store.HistoryRepo
	dispatcher *Dispatcher
}

// NewCommandRunner creates a CommandRunner. auth and history may be nil.
func NewCommandRunner(auth Authenticator, history store.HistoryRepo, dispatcher *Dispatcher) *CommandRunner {
	return &CommandRunner{auth: auth, history: history, dispatcher: dispatcher}
}

// Run executes text if it is a known command. handled is false for anything else.
func (c *CommandRunner) Run(ctx context.Context, senderID, text string) (reply string, handled bool) {
	cmd := ParseCommand(text)
	if cmd == "" {
		return "", false
	}
	slog.Info("CommandRunner.Run", "sender", senderID, "command", cmd)

	switch cmd {
	case CommandHelp:
		return HelpMessage, true
	case CommandList:
		return c.dispatcher.Dispatch(ctx, senderID, models.TaskListRequest{}), true
	case CommandReset:
		return c.reset(senderID), true
	}

	if c.auth == nil {
		return ProviderMissingMessage, true
	}
	switch cmd {
	case CommandConnect:
		url, err := c.auth.BuildAuthURL(senderID)
		if err != nil {
			slog.Error("CommandRunner.Run: failed to build auth URL", "sender", senderID, "error", err)
			return providerErrorMessage(err), true
		}
		return connectMessage(url), true
	case CommandDisconnect:
		existed, err := c.auth.ClearCredentials(ctx, senderID)
		if err != nil {
			slog.Error("CommandRunner.Run: failed to clear credentials", "sender", senderID, "error", err)
			return providerErrorMessage(err), true
		}
		if !existed {
			return NotConnectedMessage, true
		}
		return DisconnectedMessage, true
	default:
		return c.auth.AuthStatusMessage(ctx, senderID), true
	}
}

func (c *CommandRunner) reset(senderID string) string {
	if c.history != nil {
		if err := c.history.ClearHistory(senderID); err != nil {
			slog.Error("CommandRunner.reset: failed to clear history", "sender", senderID, "error", err)
			return GenericErrorMessage
		}
	}
	return HistoryResetMessage
}
