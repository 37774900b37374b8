package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/BTreeMap/TaskPipe/internal/twiliowhatsapp"
)

// SignatureValidator checks X-Twilio-Signature headers.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook calls whose signature does not match.
// publicBaseURL is the scheme and host Twilio calls, e.g. https://taskpipe.example.com.
func WithSignatureValidation(v SignatureValidator, publicBaseURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.publicBaseURL = strings.TrimRight(publicBaseURL, "/")
	}
}

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client        twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	validator     SignatureValidator
	publicBaseURL string
	responses     chan models.InboundMessage
	done          chan struct{}
	mu            sync.RWMutex
	stopped       bool
}

// NewTwilioService creates a new TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	service := &TwilioService{
		client:    client,
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// CanonicalizeSender turns a Twilio address into a sender id: the E.164 number without
// the whatsapp: prefix.
func CanonicalizeSender(from string) (string, error) {
	id := strings.ReplaceAll(twiliowhatsapp.StripPrefix(from), " ", "")
	if id == "" {
		return "", models.ErrEmptySender
	}
	digits := 0
	for _, r := range id {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 6 {
		return "", fmt.Errorf("invalid sender %q: too few digits", from)
	}
	return id, nil
}

// Start is a no-op for Twilio (webhook driven)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends a message via Twilio
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := CanonicalizeSender(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// Responses returns the channel of inbound messages
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// ParseWebhook builds the inbound record from a parsed Twilio webhook form.
func ParseWebhook(form map[string][]string) (models.InboundMessage, error) {
	get := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	sender, err := CanonicalizeSender(get("From"))
	if err != nil {
		return models.InboundMessage{}, err
	}
	count := 0
	if raw := strings.TrimSpace(get("NumMedia")); raw != "" {
		if count, err = strconv.Atoi(raw); err != nil || count < 0 {
			return models.InboundMessage{}, fmt.Errorf("invalid NumMedia %q", raw)
		}
	}
	msg := models.InboundMessage{
		MessageID:        get("MessageSid"),
		SenderID:         sender,
		Text:             strings.TrimSpace(get("Body")),
		MediaURL:         get("MediaUrl0"),
		MediaContentType: get("MediaContentType0"),
		MediaCount:       count,
		Time:             time.Now().Unix(),
	}
	if err := msg.Validate(); err != nil {
		return models.InboundMessage{}, err
	}
	return msg, nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them into the Responses() channel; replies are sent
// asynchronously through the REST API.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil && !s.validSignature(r) {
		slog.Warn("Twilio webhook signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	msg, err := ParseWebhook(r.PostForm)
	if err != nil {
		slog.Warn("Twilio webhook rejected", "error", err, "from", r.PostFormValue("From"))
		http.Error(w, "Invalid message: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !msg.HasText() && !msg.HasMedia() {
		slog.Debug("Twilio webhook without text or media ignored", "from", msg.SenderID)
	} else {
		slog.Info("Inbound WhatsApp message from Twilio", "from", msg.SenderID, "sid", msg.MessageID,
			"text_length", len(msg.Text), "media", msg.MediaCount)
		s.safeEmitResponse(msg)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}

func (s *TwilioService) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	url := s.publicBaseURL + r.URL.RequestURI()
	return s.validator.ValidateSignature(url, params, r.Header.Get("X-Twilio-Signature"))
}

// safeEmitResponse safely pushes messages into the responses channel.
func (s *TwilioService) safeEmitResponse(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.SenderID)
		return
	}

	select {
	case s.responses <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.SenderID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", msg.SenderID)
	}
}
