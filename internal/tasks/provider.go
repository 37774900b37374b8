// Package tasks connects senders to their Google Tasks list.
//
// It implements both the task provider used by the dispatcher and the OAuth lifecycle behind
// the /connect command. Tokens are stored per sender in the credential repository and are
// refreshed at most once per call; a failed refresh deletes the credential.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/BTreeMap/TaskPipe/internal/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gtasks "google.golang.org/api/tasks/v1"
)

// DefaultTaskList is the user's default list.
const DefaultTaskList = "@default"

// ErrOAuthNotConfigured is returned when no Google client credentials were provided.
var ErrOAuthNotConfigured = errors.New("Google account linking is not configured")

// Opts holds configuration options for the Google Tasks provider.
type Opts struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TaskList     string
	StateTTL     time.Duration
	Endpoint     oauth2.Endpoint
}

// Option defines a configuration option for the Google Tasks provider.
type Option func(*Opts)

// WithClientCredentials sets the OAuth client of the Google Cloud project.
func WithClientCredentials(id, secret string) Option {
	return func(o *Opts) {
		o.ClientID = id
		o.ClientSecret = secret
	}
}

// WithRedirectURL sets the OAuth callback URL, e.g. https://example.com/oauth2callback.
func WithRedirectURL(url string) Option {
	return func(o *Opts) { o.RedirectURL = url }
}

// WithTaskList selects the task list. Defaults to the user's default list.
func WithTaskList(id string) Option {
	return func(o *Opts) { o.TaskList = id }
}

// WithStateTTL sets how long an authorization link stays valid.
func WithStateTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.StateTTL = ttl }
}

// WithEndpoint overrides the OAuth endpoint.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(o *Opts) { o.Endpoint = ep }
}

// GoogleProvider manages tasks and account links on Google Tasks.
type GoogleProvider struct {
	oauth    *oauth2.Config
	creds    store.CredentialRepo
	states   *stateCache
	taskList string
	// newAPI builds the API client for an authorized HTTP client.
	newAPI func(ctx context.Context, client *http.Client) (taskAPI, error)
}

// NewGoogleProvider creates the provider. Credentials are read from and written to creds.
func NewGoogleProvider(creds store.CredentialRepo, opts ...Option) *GoogleProvider {
	cfg := Opts{
		TaskList: DefaultTaskList,
		StateTTL: DefaultStateTTL,
		Endpoint: google.Endpoint,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("tasks.NewGoogleProvider", "client_id_set", cfg.ClientID != "", "redirect", cfg.RedirectURL, "list", cfg.TaskList)
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gtasks.TasksScope},
			Endpoint:     cfg.Endpoint,
		},
		creds:    creds,
		states:   newStateCache(cfg.StateTTL),
		taskList: cfg.TaskList,
		newAPI: func(ctx context.Context, client *http.Client) (taskAPI, error) {
			srv, err := gtasks.NewService(ctx, option.WithHTTPClient(client))
			if err != nil {
				return nil, err
			}
			return googleTaskAPI{srv: srv}, nil
		},
	}
}

// Configured reports whether account linking can work at all.
func (p *GoogleProvider) Configured() bool {
	return p.oauth.ClientID != "" && p.oauth.ClientSecret != "" && p.oauth.RedirectURL != ""
}

// BuildAuthURL returns the consent page link for senderID.
func (p *GoogleProvider) BuildAuthURL(senderID string) (string, error) {
	if !p.Configured() {
		return "", ErrOAuthNotConfigured
	}
	state := p.states.issue(senderID)
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// SenderForState consumes a state token issued by BuildAuthURL.
func (p *GoogleProvider) SenderForState(state string) (string, error) {
	return p.states.consume(state)
}

// ExchangeCodeForToken trades the authorization code for a token and stores it for senderID.
func (p *GoogleProvider) ExchangeCodeForToken(ctx context.Context, code, senderID string) error {
	if !p.Configured() {
		return ErrOAuthNotConfigured
	}
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		slog.Error("GoogleProvider.ExchangeCodeForToken failed", "sender", senderID, "error", err)
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := p.saveToken(senderID, tok); err != nil {
		return err
	}
	slog.Info("GoogleProvider.ExchangeCodeForToken: account connected", "sender", senderID)
	return nil
}

// ClearCredentials forgets the sender's token and reports whether one existed.
func (p *GoogleProvider) ClearCredentials(ctx context.Context, senderID string) (bool, error) {
	existed, err := p.creds.DeleteCredential(senderID)
	if err != nil {
		return false, fmt.Errorf("failed to remove credentials: %w", err)
	}
	slog.Info("GoogleProvider.ClearCredentials", "sender", senderID, "existed", existed)
	return existed, nil
}

// AuthStatusMessage describes the sender's link state.
func (p *GoogleProvider) AuthStatusMessage(ctx context.Context, senderID string) string {
	if p.IsAuthenticated(ctx, senderID) {
		return "✅ Your Google Tasks account is connected. Type /disconnect to unlink it."
	}
	return "❌ No Google Tasks account is connected. Type /connect to link one."
}

// IsAuthenticated reports whether a credential is stored for senderID.
func (p *GoogleProvider) IsAuthenticated(ctx context.Context, senderID string) bool {
	raw, err := p.creds.GetCredential(senderID)
	if err != nil {
		slog.Error("GoogleProvider.IsAuthenticated: credential lookup failed", "sender", senderID, "error", err)
		return false
	}
	return raw != nil
}

// CreateTask inserts task into the sender's list.
func (p *GoogleProvider) CreateTask(ctx context.Context, senderID string, task models.NewTask) (*models.Task, error) {
	api, err := p.api(ctx, senderID)
	if err != nil {
		return nil, err
	}
	created, err := api.Insert(ctx, p.taskList, &gtasks.Task{
		Title: task.Title,
		Notes: task.Notes,
		Due:   task.DueDate.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, p.apiError(senderID, "create", err)
	}
	slog.Info("GoogleProvider.CreateTask", "sender", senderID, "task_id", created.Id)
	return toTask(created), nil
}

// ListTasksFormatted renders the sender's open tasks. It returns "" when there are none.
func (p *GoogleProvider) ListTasksFormatted(ctx context.Context, senderID string) (string, error) {
	items, err := p.listOpen(ctx, senderID)
	if err != nil {
		return "", err
	}
	return formatTasks(items), nil
}

// ListTaskTitles returns the titles of the sender's open tasks in list order.
func (p *GoogleProvider) ListTaskTitles(ctx context.Context, senderID string) ([]string, error) {
	items, err := p.listOpen(ctx, senderID)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(items))
	for _, t := range items {
		titles = append(titles, t.Title)
	}
	return titles, nil
}

// DeleteTaskByTitle deletes the only open task called title (case-insensitive).
func (p *GoogleProvider) DeleteTaskByTitle(ctx context.Context, senderID, title string) (models.DeleteOutcome, error) {
	api, err := p.api(ctx, senderID)
	if err != nil {
		return "", err
	}
	items, err := api.ListOpen(ctx, p.taskList)
	if err != nil {
		return "", p.apiError(senderID, "list", err)
	}
	var matches []*gtasks.Task
	want := strings.TrimSpace(title)
	for _, t := range openTasks(items) {
		if strings.EqualFold(strings.TrimSpace(t.Title), want) {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		return models.DeleteOutcomeNotFound, nil
	}
	if len(matches) > 1 {
		return models.DeleteOutcomeAmbiguous, nil
	}
	if err := api.Delete(ctx, p.taskList, matches[0].Id); err != nil {
		return "", p.apiError(senderID, "delete", err)
	}
	slog.Info("GoogleProvider.DeleteTaskByTitle", "sender", senderID, "task_id", matches[0].Id)
	return models.DeleteOutcomeDeleted, nil
}

func (p *GoogleProvider) listOpen(ctx context.Context, senderID string) ([]*gtasks.Task, error) {
	api, err := p.api(ctx, senderID)
	if err != nil {
		return nil, err
	}
	items, err := api.ListOpen(ctx, p.taskList)
	if err != nil {
		return nil, p.apiError(senderID, "list", err)
	}
	return openTasks(items), nil
}

// openTasks drops completed, deleted and untitled entries.
func openTasks(items []*gtasks.Task) []*gtasks.Task {
	open := make([]*gtasks.Task, 0, len(items))
	for _, t := range items {
		if t.Status != "completed" && !t.Deleted && strings.TrimSpace(t.Title) != "" {
			open = append(open, t)
		}
	}
	return open
}

// api loads the sender's token, refreshing it once if it has expired.
func (p *GoogleProvider) api(ctx context.Context, senderID string) (taskAPI, error) {
	raw, err := p.creds.GetCredential(senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if raw == nil {
		return nil, models.ErrNotAuthenticated
	}
	var stored oauth2.Token
	if err := json.Unmarshal(raw, &stored); err != nil {
		slog.Error("GoogleProvider.api: stored token is corrupt", "sender", senderID, "error", err)
		p.forget(senderID)
		return nil, fmt.Errorf("%w: stored token unreadable", models.ErrAuthExpired)
	}

	fresh, err := p.oauth.TokenSource(ctx, &stored).Token()
	if err != nil {
		slog.Warn("GoogleProvider.api: token refresh failed, credential removed", "sender", senderID, "error", err)
		p.forget(senderID)
		return nil, fmt.Errorf("%w: %v", models.ErrAuthExpired, err)
	}
	if fresh.AccessToken != stored.AccessToken {
		if err := p.saveToken(senderID, fresh); err != nil {
			slog.Warn("GoogleProvider.api: failed to persist refreshed token", "sender", senderID, "error", err)
		}
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(fresh))
	api, err := p.newAPI(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Tasks client: %w", err)
	}
	return api, nil
}

// apiError maps a Google API failure to an error the user can read.
func (p *GoogleProvider) apiError(senderID, op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		slog.Warn("GoogleProvider: access revoked, credential removed", "sender", senderID, "op", op)
		p.forget(senderID)
		return fmt.Errorf("%w: %v", models.ErrAuthExpired, err)
	}
	slog.Error("GoogleProvider: API call failed", "sender", senderID, "op", op, "error", err)
	return fmt.Errorf("Google Tasks is unavailable right now (%s failed), please try again later", op)
}

func (p *GoogleProvider) forget(senderID string) {
	if _, err := p.creds.DeleteCredential(senderID); err != nil {
		slog.Error("GoogleProvider.forget: failed to delete credential", "sender", senderID, "error", err)
	}
}

func (p *GoogleProvider) saveToken(senderID string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := p.creds.SaveCredential(senderID, data); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func toTask(t *gtasks.Task) *models.Task {
	if t == nil {
		return nil
	}
	return &models.Task{ID: t.Id, Title: t.Title, Notes: t.Notes, Due: t.Due, Status: t.Status}
}

// formatTasks renders tasks as a numbered WhatsApp message.
func formatTasks(items []*gtasks.Task) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("📋 *Your tasks*\n")
	for i, t := range items {
		fmt.Fprintf(&b, "\n%d. %s", i+1, t.Title)
		if due, err := time.Parse(time.RFC3339, t.Due); err == nil {
			fmt.Fprintf(&b, " (📅 %s)", due.UTC().Format("02/01"))
		}
	}
	return b.String()
}
