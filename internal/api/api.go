// Package api runs the TaskPipe HTTP server and wires the service modules together.
//
// It exposes the Twilio WhatsApp webhook, the Google OAuth callback and a health probe.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/flow"
	"github.com/BTreeMap/TaskPipe/internal/genai"
	"github.com/BTreeMap/TaskPipe/internal/media"
	"github.com/BTreeMap/TaskPipe/internal/messaging"
	"github.com/BTreeMap/TaskPipe/internal/scheduler"
	"github.com/BTreeMap/TaskPipe/internal/store"
	"github.com/BTreeMap/TaskPipe/internal/tasks"
	"github.com/BTreeMap/TaskPipe/internal/twiliowhatsapp"
)

const (
	// DefaultServerAddr is the listen address when none is configured.
	DefaultServerAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second
	// DefaultOAuthTimeout bounds the token exchange and the follow-up notification.
	DefaultOAuthTimeout = 30 * time.Second
	// DefaultSweepSchedule runs the pending-state sweeper.
	DefaultSweepSchedule = "@every 30m"

	// Routes.
	WebhookPath       = "/webhooks/twilio"
	OAuthCallbackPath = "/oauth2callback"
	HealthPath        = "/health"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr              string
	PublicBaseURL     string
	ValidateSignature bool
	SweepSchedule     string
	Location          *time.Location

	PendingMediaTTL    time.Duration
	PendingDeletionTTL time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPublicBaseURL sets the scheme and host Twilio uses to reach the webhook.
func WithPublicBaseURL(url string) Option {
	return func(o *Opts) { o.PublicBaseURL = url }
}

// WithSignatureValidation turns on X-Twilio-Signature checks.
func WithSignatureValidation(enabled bool) Option {
	return func(o *Opts) { o.ValidateSignature = enabled }
}

// WithSweepSchedule sets the cron expression of the pending-state sweeper.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// WithPendingTTLs sets how long attachments and deletion lists wait for the sender.
// Zero keeps the defaults.
func WithPendingTTLs(media, deletion time.Duration) Option {
	return func(o *Opts) {
		o.PendingMediaTTL = media
		o.PendingDeletionTTL = deletion
	}
}

// WithLocation sets the time zone used for task due dates.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// Notifier sends a proactive WhatsApp message.
type Notifier interface {
	Notify(ctx context.Context, senderID, body string) error
}

// Server serves the HTTP endpoints.
type Server struct {
	addr     string
	webhook  http.HandlerFunc
	auth     flow.Authenticator
	notifier Notifier
	srv      *http.Server
}

// NewServer creates a Server. auth may be nil when no task provider is configured.
func NewServer(addr string, webhook http.HandlerFunc, auth flow.Authenticator, notifier Notifier) *Server {
	if addr == "" {
		addr = DefaultServerAddr
	}
	return &Server{addr: addr, webhook: webhook, auth: auth, notifier: notifier}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebhookPath, s.webhookHandler)
	mux.HandleFunc(OAuthCallbackPath, s.oauthCallbackHandler)
	mux.HandleFunc(HealthPath, s.healthHandler)
	return mux
}

// ListenAndServe blocks serving requests until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.ListenAndServe: TaskPipe API listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Run builds every module from its options, serves until SIGINT/SIGTERM and shuts down in order.
func Run(twOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, taskOpts []tasks.Option, mediaOpts []media.Option, apiOpts []Option) error {
	cfg := Opts{SweepSchedule: DefaultSweepSchedule, Location: time.Local}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	var storeCfg store.Opts
	for _, opt := range storeOpts {
		opt(&storeCfg)
	}
	st, err := store.Open(storeCfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("Run: failed to close store", "error", cerr)
		}
	}()

	twClient, err := twiliowhatsapp.NewClient(twOpts...)
	if err != nil {
		return fmt.Errorf("failed to create Twilio client: %w", err)
	}
	var svcOpts []messaging.TwilioOption
	if cfg.ValidateSignature {
		if cfg.PublicBaseURL == "" {
			return errors.New("signature validation needs the public base URL")
		}
		svcOpts = append(svcOpts, messaging.WithSignatureValidation(twClient, cfg.PublicBaseURL))
	}
	msgService := messaging.NewTwilioService(twClient, svcOpts...)

	gaClient, err := genai.NewClient(append(genaiOpts, genai.WithHistory(st, genai.DefaultHistoryLimit))...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	var (
		provider flow.TaskProvider
		auth     flow.Authenticator
	)
	google := tasks.NewGoogleProvider(st, taskOpts...)
	if google.Configured() {
		provider, auth = google, google
	} else {
		slog.Warn("Run: Google OAuth client not configured, task management disabled")
	}

	pendingDeletions := flow.NewPendingDeletionRegistry()
	dispatcher := flow.NewDispatcher(provider, pendingDeletions,
		flow.WithLocation(cfg.Location),
		flow.WithDeletionTTL(cfg.PendingDeletionTTL),
	)
	commands := flow.NewCommandRunner(auth, st, dispatcher)

	user, pass := twClient.Credentials()
	mediaStore, err := media.NewStore(append(mediaOpts, media.WithBasicAuth(user, pass))...)
	if err != nil {
		return fmt.Errorf("failed to create media store: %w", err)
	}
	pendingMedia := flow.NewPendingMediaRegistry()

	respHandler := messaging.NewResponseHandler(msgService, gaClient, dispatcher,
		messaging.WithUserRegistry(st),
		messaging.WithDedup(st),
		messaging.WithMedia(mediaStore, pendingMedia),
		messaging.WithCommands(commands),
	)

	sched := scheduler.NewScheduler()
	sweeper := messaging.NewPendingSweeper(pendingMedia, pendingDeletions, mediaStore, cfg.PendingMediaTTL, cfg.PendingDeletionTTL)
	if _, err := sched.AddJob(cfg.SweepSchedule, "pending-sweeper", sweeper.Run); err != nil {
		sched.Stop()
		return fmt.Errorf("failed to schedule pending sweeper: %w", err)
	}
	sched.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	respHandler.Start(loopCtx)

	server := NewServer(cfg.Addr, msgService.TwilioWebhookHandler, auth, respHandler)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		slog.Info("Run: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		slog.Error("Run: HTTP shutdown failed", "error", serr)
	}
	// No webhook can enqueue now. Let accepted turns reply before the transport closes.
	stopLoop()
	respHandler.Wait()
	if serr := msgService.Stop(); serr != nil {
		slog.Error("Run: messaging service stop failed", "error", serr)
	}
	<-sched.Stop().Done()
	slog.Info("Run: TaskPipe stopped")
	return err
}
