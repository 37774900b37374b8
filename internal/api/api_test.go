package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/flow"
	"github.com/BTreeMap/TaskPipe/internal/messaging"
	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/BTreeMap/TaskPipe/internal/testutil"
	"github.com/BTreeMap/TaskPipe/internal/twiliowhatsapp"
)

// mockAuthenticator implements flow.Authenticator for testing.
type mockAuthenticator struct {
	states      map[string]string
	exchangeErr error
	exchanged   []string
}

func (m *mockAuthenticator) BuildAuthURL(senderID string) (string, error) {
	return "https://accounts.example.com/auth", nil
}

func (m *mockAuthenticator) ExchangeCodeForToken(ctx context.Context, code, senderID string) error {
	if m.exchangeErr != nil {
		return m.exchangeErr
	}
	m.exchanged = append(m.exchanged, senderID+":"+code)
	return nil
}

func (m *mockAuthenticator) SenderForState(state string) (string, error) {
	sender, ok := m.states[state]
	if !ok {
		return "", errors.New("unknown state")
	}
	delete(m.states, state)
	return sender, nil
}

func (m *mockAuthenticator) ClearCredentials(ctx context.Context, senderID string) (bool, error) {
	return false, nil
}

func (m *mockAuthenticator) AuthStatusMessage(ctx context.Context, senderID string) string {
	return ""
}

// mockNotifier records proactive messages.
type mockNotifier struct {
	err  error
	sent []string
}

func (m *mockNotifier) Notify(ctx context.Context, senderID, body string) error {
	m.sent = append(m.sent, senderID+"|"+body)
	return m.err
}

func newTestServer(auth flow.Authenticator, notifier Notifier) (*Server, *messaging.TwilioService) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	return NewServer("", svc.TwilioWebhookHandler, auth, notifier), svc
}

func callbackRequest(query string, wantJSON bool) *http.Request {
	req := httptest.NewRequest(http.MethodGet, OAuthCallbackPath+"?"+query, nil)
	if wantJSON {
		req.Header.Set("Accept", "application/json")
	}
	return req
}

func TestOAuthCallbackSuccessNotifies(t *testing.T) {
	auth := &mockAuthenticator{states: map[string]string{"st1": "+5511999990001"}}
	notifier := &mockNotifier{}
	server, _ := newTestServer(auth, notifier)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, callbackRequest("code=abc&state=st1", true))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "oauth callback")
	testutil.AssertJSONStatus(t, rr, models.APIStatusOK)
	if len(auth.exchanged) != 1 || auth.exchanged[0] != "+5511999990001:abc" {
		t.Errorf("unexpected exchanges %v", auth.exchanged)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], flow.ConnectedNotification) {
		t.Errorf("expected connected notification, got %v", notifier.sent)
	}
}

func TestOAuthCallbackNotificationFailureIsIgnored(t *testing.T) {
	auth := &mockAuthenticator{states: map[string]string{"st1": "+5511999990001"}}
	server, _ := newTestServer(auth, &mockNotifier{err: errors.New("twilio down")})

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, callbackRequest("code=abc&state=st1", false))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "oauth callback with failed notification")
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML for browsers, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "connected") {
		t.Errorf("unexpected page %q", rr.Body.String())
	}
}

func TestOAuthCallbackStateIsSingleUse(t *testing.T) {
	auth := &mockAuthenticator{states: map[string]string{"st1": "+5511999990001"}}
	server, _ := newTestServer(auth, nil)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, callbackRequest("code=abc&state=st1", true))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "first use")

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, callbackRequest("code=abc&state=st1", true))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "replayed state")
	testutil.AssertJSONStatus(t, rr, models.APIStatusError)
}

func TestOAuthCallbackErrors(t *testing.T) {
	tests := []struct {
		name   string
		auth   flow.Authenticator
		query  string
		method string
		want   int
	}{
		{"no authenticator", nil, "code=a&state=b", http.MethodGet, http.StatusServiceUnavailable},
		{"denied", &mockAuthenticator{}, "error=access_denied", http.MethodGet, http.StatusBadRequest},
		{"missing code", &mockAuthenticator{}, "state=b", http.MethodGet, http.StatusBadRequest},
		{"unknown state", &mockAuthenticator{states: map[string]string{}}, "code=a&state=b", http.MethodGet, http.StatusBadRequest},
		{"exchange fails", &mockAuthenticator{states: map[string]string{"b": "+5511999990001"}, exchangeErr: errors.New("invalid_grant")}, "code=a&state=b", http.MethodGet, http.StatusBadGateway},
		{"wrong method", &mockAuthenticator{}, "code=a&state=b", http.MethodPost, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &mockNotifier{}
			server, _ := newTestServer(tt.auth, notifier)
			req := httptest.NewRequest(tt.method, OAuthCallbackPath+"?"+tt.query, nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			if len(notifier.sent) != 0 {
				t.Error("no notification expected on failure")
			}
		})
	}
}

func TestWebhookRoute(t *testing.T) {
	server, svc := newTestServer(nil, nil)
	form := testutil.TwilioForm("+5511999990001", "hi", "", "")

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.NewFormRequest(http.MethodPost, WebhookPath, form))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	select {
	case msg := <-svc.Responses():
		if msg.SenderID != "+5511999990001" || msg.Text != "hi" {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook did not emit the message")
	}

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, WebhookPath, nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "webhook GET")
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer(&mockAuthenticator{}, nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, HealthPath, nil))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	resp := testutil.AssertJSONStatus(t, rr, models.APIStatusOK)
	result, ok := resp.Result.(map[string]interface{})
	if !ok || result["tasks_enabled"] != true {
		t.Errorf("unexpected health result %+v", resp.Result)
	}
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, models.Success(make(chan int)))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unmarshalable response")
	testutil.AssertJSONStatus(t, rr, models.APIStatusError)
}

func TestWriteHTMLResponseEscapes(t *testing.T) {
	rr := httptest.NewRecorder()
	writeHTMLResponse(rr, http.StatusOK, "TaskPipe", "<script>alert(1)</script>")
	if strings.Contains(rr.Body.String(), "<script>") {
		t.Error("message must be escaped")
	}
}
