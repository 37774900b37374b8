package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/intent"
	"github.com/BTreeMap/TaskPipe/internal/models"
)

// DefaultPendingDeletionTTL is how long a deletion list waits for the sender's choice.
const DefaultPendingDeletionTTL = 30 * time.Minute

// TaskProvider is the task list a sender manages through the assistant.
// Errors are user-displayable; auth failures wrap models.ErrNotAuthenticated or models.ErrAuthExpired.
type TaskProvider interface {
	IsAuthenticated(ctx context.Context, senderID string) bool
	CreateTask(ctx context.Context, senderID string, task models.NewTask) (*models.Task, error)
	// ListTasksFormatted returns an empty string when the sender has no tasks.
	ListTasksFormatted(ctx context.Context, senderID string) (string, error)
	ListTaskTitles(ctx context.Context, senderID string) ([]string, error)
	DeleteTaskByTitle(ctx context.Context, senderID, title string) (models.DeleteOutcome, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLocation sets the time zone used for due dates.
func WithLocation(loc *time.Location) DispatcherOption {
	return func(d *Dispatcher) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithDueHour sets the local hour new tasks are due at.
func WithDueHour(hour int) DispatcherOption {
	return func(d *Dispatcher) { d.dueHour = hour }
}

// WithDeletionTTL sets how long a deletion list waits for the sender's choice.
func WithDeletionTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.deletionTTL = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher turns a classified action into provider calls and a reply text.
type Dispatcher struct {
	provider  TaskProvider
	deletions PendingDeletionRegistry
	loc       *time.Location
	dueHour   int
	now       func() time.Time

	deletionTTL time.Duration
}

// NewDispatcher creates a Dispatcher. provider may be nil when no task provider is configured.
func NewDispatcher(provider TaskProvider, deletions PendingDeletionRegistry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		provider:  provider,
		deletions: deletions,
		loc:       time.Local,
		dueHour:   DefaultDueHour,
		now:       time.Now,

		deletionTTL: DefaultPendingDeletionTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes action for senderID and returns the reply to send.
func (d *Dispatcher) Dispatch(ctx context.Context, senderID string, action models.Action) string {
	if action == nil {
		action = models.PlainChat{}
	}
	slog.Debug("Dispatcher.Dispatch", "sender", senderID, "kind", action.Kind())

	if chat, ok := action.(models.PlainChat); ok {
		return d.plainChat(chat)
	}

	if d.provider == nil {
		slog.Warn("Dispatcher.Dispatch: no task provider configured", "sender", senderID, "kind", action.Kind())
		return ProviderMissingMessage
	}
	if !d.provider.IsAuthenticated(ctx, senderID) {
		slog.Info("Dispatcher.Dispatch: sender not authenticated", "sender", senderID, "kind", action.Kind())
		return AuthRequiredMessage
	}

	switch a := action.(type) {
	case models.TaskCreate:
		return d.createTask(ctx, senderID, a)
	case models.TaskListRequest:
		return d.listTasks(ctx, senderID)
	case models.TaskDeleteRequest:
		if a.TaskTitle != nil && strings.TrimSpace(*a.TaskTitle) != "" {
			return d.DeleteByTitle(ctx, senderID, *a.TaskTitle)
		}
		return d.promptDeletion(ctx, senderID)
	default:
		slog.Error("Dispatcher.Dispatch: unknown action", "sender", senderID, "type", fmt.Sprintf("%T", action))
		return GenericErrorMessage
	}
}

func (d *Dispatcher) plainChat(chat models.PlainChat) string {
	if chat.UsedExternalTool {
		return BrandPrefixWeb + chat.Text
	}
	return BrandPrefix + chat.Text
}

func (d *Dispatcher) createTask(ctx context.Context, senderID string, a models.TaskCreate) string {
	title := strings.TrimSpace(a.Objective)
	if title == "" {
		return MissingTitleMessage
	}
	due := NextBusinessDay(d.now().In(d.loc), d.dueHour)
	task, err := d.provider.CreateTask(ctx, senderID, models.NewTask{
		Title:   title,
		Notes:   taskNotes(a),
		DueDate: due,
	})
	if err != nil {
		return d.providerFailure(senderID, "CreateTask", err)
	}
	if task != nil && task.Title != "" {
		title = task.Title
	}
	slog.Info("Dispatcher.createTask: task created", "sender", senderID, "due", due)
	return taskCreatedMessage(title, due.Format("Mon 02/01/2006 15:04"))
}

// taskNotes renders the extracted details as the task body.
func taskNotes(a models.TaskCreate) string {
	var lines []string
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("Description", a.Description)
	add("Expected result", a.ExpectedResult)
	add("Benefit", a.UserBenefit)
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) listTasks(ctx context.Context, senderID string) string {
	formatted, err := d.provider.ListTasksFormatted(ctx, senderID)
	if err != nil {
		return d.providerFailure(senderID, "ListTasksFormatted", err)
	}
	if strings.TrimSpace(formatted) == "" {
		return NoTasksMessage
	}
	return formatted
}

// DeleteByTitle deletes the single task called title.
func (d *Dispatcher) DeleteByTitle(ctx context.Context, senderID, title string) string {
	if d.provider == nil {
		return ProviderMissingMessage
	}
	outcome, err := d.provider.DeleteTaskByTitle(ctx, senderID, title)
	if err != nil {
		return d.providerFailure(senderID, "DeleteTaskByTitle", err)
	}
	slog.Info("Dispatcher.DeleteByTitle", "sender", senderID, "outcome", outcome)
	switch outcome {
	case models.DeleteOutcomeDeleted:
		return taskDeletedMessage(title)
	case models.DeleteOutcomeAmbiguous:
		return taskAmbiguousMessage(title)
	default:
		return taskNotFoundMessage(title)
	}
}

func (d *Dispatcher) promptDeletion(ctx context.Context, senderID string) string {
	titles, err := d.provider.ListTaskTitles(ctx, senderID)
	if err != nil {
		return d.providerFailure(senderID, "ListTaskTitles", err)
	}
	if len(titles) == 0 {
		return NothingToDeleteMessage
	}
	d.deletions.Set(senderID, models.PendingDeletion{Titles: titles, CreatedAt: d.now()})
	return deletionPromptMessage(titles)
}

// HasPendingDeletion reports whether senderID owes a reply to a deletion prompt.
func (d *Dispatcher) HasPendingDeletion(senderID string) bool {
	_, ok := d.pendingDeletion(senderID)
	return ok
}

// pendingDeletion returns the live entry of senderID. An entry older than the deletion TTL
// is dropped so a stale list cannot capture an unrelated message.
func (d *Dispatcher) pendingDeletion(senderID string) (models.PendingDeletion, bool) {
	pending, ok := d.deletions.Get(senderID)
	if !ok {
		return pending, false
	}
	if d.now().Sub(pending.CreatedAt) > d.deletionTTL {
		d.deletions.Clear(senderID)
		slog.Info("Dispatcher: pending deletion expired", "sender", senderID, "created", pending.CreatedAt)
		return models.PendingDeletion{}, false
	}
	return pending, true
}

// ResolvePendingDeletion answers reply against the list previously shown to senderID.
// An exact title wins over a cancel word. A reply that matches nothing keeps the entry so the
// sender can retry; a cancel word drops it.
func (d *Dispatcher) ResolvePendingDeletion(ctx context.Context, senderID, reply string) string {
	pending, ok := d.pendingDeletion(senderID)
	if !ok {
		return NothingToDeleteMessage
	}
	title, ok := intent.MatchDeletionReply(reply, pending.Titles)
	if !ok {
		if isCancelWord(reply) {
			d.deletions.Clear(senderID)
			return DeletionCancelledMessage
		}
		slog.Debug("Dispatcher.ResolvePendingDeletion: no match", "sender", senderID)
		return deletionRetryMessage(len(pending.Titles))
	}
	d.deletions.Clear(senderID)
	return d.DeleteByTitle(ctx, senderID, title)
}

func (d *Dispatcher) providerFailure(senderID, op string, err error) string {
	if models.IsAuthError(err) {
		slog.Info("Dispatcher: provider requires reconnection", "sender", senderID, "op", op, "error", err)
		return AuthRequiredMessage
	}
	slog.Error("Dispatcher: provider call failed", "sender", senderID, "op", op, "error", err)
	return providerErrorMessage(err)
}
