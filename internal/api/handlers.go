package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/TaskPipe/internal/flow"
	"github.com/BTreeMap/TaskPipe/internal/models"
)

// webhookHandler accepts Twilio's inbound message callbacks (POST /webhooks/twilio).
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.webhookHandler: processing webhook", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.webhook == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Messaging service not configured"))
		return
	}
	s.webhook(w, r)
}

// oauthCallbackHandler completes the Google authorization started by /connect (GET /oauth2callback).
func (s *Server) oauthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.oauthCallbackHandler: processing callback", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.oauthCallbackHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil {
		slog.Warn("Server.oauthCallbackHandler: no authenticator configured")
		writeCallbackResponse(w, r, http.StatusServiceUnavailable, "Task management is not configured on this server.")
		return
	}

	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		slog.Info("Server.oauthCallbackHandler: authorization denied", "error", denied)
		writeCallbackResponse(w, r, http.StatusBadRequest, "Authorization was denied. Type /connect on WhatsApp to try again.")
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		slog.Warn("Server.oauthCallbackHandler: missing code or state")
		writeCallbackResponse(w, r, http.StatusBadRequest, "Missing authorization code or state.")
		return
	}

	senderID, err := s.auth.SenderForState(state)
	if err != nil {
		slog.Warn("Server.oauthCallbackHandler: invalid state", "error", err)
		writeCallbackResponse(w, r, http.StatusBadRequest, "This link has expired or was already used. Type /connect on WhatsApp to get a new one.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultOAuthTimeout)
	defer cancel()
	if err := s.auth.ExchangeCodeForToken(ctx, code, senderID); err != nil {
		slog.Error("Server.oauthCallbackHandler: token exchange failed", "error", err, "sender", senderID)
		writeCallbackResponse(w, r, http.StatusBadGateway, "Could not complete the connection with Google. Please try /connect again.")
		return
	}
	slog.Info("Server.oauthCallbackHandler: account connected", "sender", senderID)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, senderID, flow.ConnectedNotification); err != nil {
			slog.Warn("Server.oauthCallbackHandler: connected notification not delivered", "error", err, "sender", senderID)
		}
	}
	writeCallbackResponse(w, r, http.StatusOK, "Your Google Tasks account is connected. You can go back to WhatsApp.")
}

// healthHandler reports liveness (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status":         "ok",
		"tasks_enabled":  s.auth != nil,
		"webhook_active": s.webhook != nil,
	}))
}

// writeCallbackResponse answers browsers with a small HTML page and API clients with JSON.
func writeCallbackResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		if statusCode < http.StatusBadRequest {
			writeJSONResponse(w, statusCode, models.SuccessWithMessage(message, nil))
		} else {
			writeJSONResponse(w, statusCode, models.Error(message))
		}
		return
	}
	writeHTMLResponse(w, statusCode, "TaskPipe", message)
}
