// Package testutil provides common test helpers for TaskPipe's HTTP and webhook tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/models"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, label string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", label, expected, actual)
	}
}

// AssertJSONStatus decodes an APIResponse envelope and validates its status field.
func AssertJSONStatus(t testing.TB, rr *httptest.ResponseRecorder, expected models.APIStatus) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode JSON response: %v (%q)", err, rr.Body.String())
	}
	if resp.Status != expected {
		t.Errorf("expected status %q, got %q", expected, resp.Status)
	}
	return resp
}

// TwilioForm builds the form Twilio posts for an inbound WhatsApp message from a phone number.
// Media is attached when mediaURL is not empty.
func TwilioForm(from, body, mediaURL, mediaType string) url.Values {
	form := url.Values{
		"From":     {"whatsapp:" + from},
		"Body":     {body},
		"NumMedia": {"0"},
	}
	if mediaURL != "" {
		form.Set("NumMedia", "1")
		form.Set("MediaUrl0", mediaURL)
		form.Set("MediaContentType0", mediaType)
	}
	return form
}

// NewFormRequest creates a form-encoded request as Twilio sends it.
func NewFormRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// WriteAgedFile writes data to dir/name and backdates its modification time by age.
func WriteAgedFile(t testing.TB, dir, name string, data []byte, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	if age > 0 {
		old := time.Now().Add(-age)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("failed to backdate %s: %v", path, err)
		}
	}
	return path
}

// WaitFor polls cond until it holds or timeout passes, and reports whether it held.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}
