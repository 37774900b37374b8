package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/models"
)

func TestAssertHTTPStatus(t *testing.T) {
	AssertHTTPStatus(t, http.StatusOK, http.StatusOK, "match")
}

func TestAssertJSONStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","message":"done"}`)
	resp := AssertJSONStatus(t, rr, models.APIStatusOK)
	if resp.Message != "done" {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestTwilioForm(t *testing.T) {
	form := TwilioForm("+5511999990001", "hi", "", "")
	if form.Get("From") != "whatsapp:+5511999990001" || form.Get("NumMedia") != "0" {
		t.Errorf("unexpected text form %v", form)
	}
	form = TwilioForm("+5511999990001", "", "https://m/1", "image/png")
	if form.Get("NumMedia") != "1" || form.Get("MediaContentType0") != "image/png" {
		t.Errorf("unexpected media form %v", form)
	}
}

func TestNewFormRequest(t *testing.T) {
	req := NewFormRequest(http.MethodPost, "/webhooks/twilio", TwilioForm("+5511999990001", "hi", "", ""))
	if err := req.ParseForm(); err != nil {
		t.Fatalf("ParseForm failed: %v", err)
	}
	if req.PostForm.Get("Body") != "hi" {
		t.Errorf("form body not encoded: %v", req.PostForm)
	}
}

func TestWriteAgedFile(t *testing.T) {
	path := WriteAgedFile(t, t.TempDir(), "f.txt", []byte("x"), time.Hour)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(info.ModTime()) < 59*time.Minute {
		t.Errorf("file was not backdated: %v", info.ModTime())
	}
}

func TestWaitFor(t *testing.T) {
	n := 0
	if !WaitFor(time.Second, func() bool { n++; return n > 2 }) {
		t.Error("condition should eventually hold")
	}
	if WaitFor(20*time.Millisecond, func() bool { return false }) {
		t.Error("condition should time out")
	}
}
