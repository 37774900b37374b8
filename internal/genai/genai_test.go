package genai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/BTreeMap/TaskPipe/internal/store"
	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	return m.resp, m.err
}

// mockTranscriptionService implements transcriptionService for testing.
type mockTranscriptionService struct {
	text string
	err  error
}

func (m *mockTranscriptionService) Transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error) {
	return m.text, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestClient(chat *mockChatService) *Client {
	return &Client{
		chat:         chat,
		transcribe:   &mockTranscriptionService{text: "buy bread tomorrow"},
		model:        "test-model",
		searchModel:  "test-search-model",
		temperature:  0.7,
		maxTokens:    100,
		historyLimit: DefaultHistoryLimit,
	}
}

func systemText(p openai.ChatCompletionNewParams) string {
	if len(p.Messages) == 0 || p.Messages[0].OfSystem == nil {
		return ""
	}
	return p.Messages[0].OfSystem.Content.OfString.Value
}

func TestGenerateChatResponse_Success(t *testing.T) {
	chat := &mockChatService{resp: completion("  Hello World  ")}
	client := newTestClient(chat)

	reply, err := client.GenerateChatResponse(context.Background(), "U1", "hi", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Text != "Hello World" || reply.UsedExternalTool {
		t.Errorf("unexpected reply %+v", reply)
	}
	if strings.Contains(systemText(chat.params[0]), "isTaskListRequest") {
		t.Error("task instruction should be off")
	}
}

func TestGenerateChatResponse_TaskInstruction(t *testing.T) {
	chat := &mockChatService{resp: completion(`{"isTaskListRequest": true}`)}
	client := newTestClient(chat)
	client.webSearch = true

	if _, err := client.GenerateChatResponse(context.Background(), "U1", "show my tasks", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := chat.params[0]
	if !strings.Contains(systemText(p), "isTaskListRequest") {
		t.Error("expected the task instruction in the system prompt")
	}
	if p.Model != "test-model" {
		t.Errorf("task turns must not use the search model, got %s", p.Model)
	}
}

func TestGenerateChatResponse_WebSearch(t *testing.T) {
	resp := completion("It will rain.")
	resp.Choices[0].Message.Annotations = []openai.ChatCompletionMessageAnnotation{{}}
	chat := &mockChatService{resp: resp}
	client := newTestClient(chat)
	client.webSearch = true

	reply, err := client.GenerateChatResponse(context.Background(), "U1", "weather tomorrow?", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reply.UsedExternalTool {
		t.Error("expected the reply to be marked as web-grounded")
	}
	if chat.params[0].Model != "test-search-model" {
		t.Errorf("expected search model, got %s", chat.params[0].Model)
	}
}

func TestGenerateChatResponse_ServiceError(t *testing.T) {
	client := newTestClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.GenerateChatResponse(context.Background(), "U1", "hi", false)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateChatResponse_NoChoices(t *testing.T) {
	client := newTestClient(&mockChatService{resp: openai.ChatCompletion{}})
	_, err := client.GenerateChatResponse(context.Background(), "U1", "hi", false)
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerateChatResponse_History(t *testing.T) {
	chat := &mockChatService{resp: completion("second answer")}
	client := newTestClient(chat)
	history := store.NewInMemoryStore()
	client.history = history
	_ = history.AppendHistory("U1",
		models.HistoryEntry{Role: models.HistoryRoleUser, Content: "first question"},
		models.HistoryEntry{Role: models.HistoryRoleAssistant, Content: "first answer"},
	)

	if _, err := client.GenerateChatResponse(context.Background(), "U1", "second question", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// system + two history entries + user
	if n := len(chat.params[0].Messages); n != 4 {
		t.Errorf("expected 4 messages, got %d", n)
	}
	if chat.params[0].Messages[2].OfAssistant == nil {
		t.Error("expected the earlier answer as an assistant message")
	}
	h, _ := history.GetHistory("U1", 0)
	if len(h) != 4 || h[3].Content != "second answer" || h[2].Content != "second question" {
		t.Errorf("unexpected stored history %+v", h)
	}
}

func TestProcessAudio_UsesTranscript(t *testing.T) {
	chat := &mockChatService{resp: completion(`{"isTask": true, "details": {"objective": "Buy bread"}}`)}
	client := newTestClient(chat)
	path := filepath.Join(t.TempDir(), "note.ogg")
	os.WriteFile(path, []byte("ogg"), 0o600)

	reply, err := client.ProcessAudio(context.Background(), "U1", path, "audio/ogg", "", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply.Text, "Buy bread") {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	user := chat.params[0].Messages[len(chat.params[0].Messages)-1].OfUser
	if user == nil || user.Content.OfString.Value != "buy bread tomorrow" {
		t.Errorf("a bare voice note should be sent as the transcript itself")
	}
}

func TestProcessAudio_EmptyTranscript(t *testing.T) {
	client := newTestClient(&mockChatService{resp: completion("x")})
	client.transcribe = &mockTranscriptionService{text: "  "}
	path := filepath.Join(t.TempDir(), "silence.ogg")
	os.WriteFile(path, []byte("ogg"), 0o600)

	if _, err := client.ProcessVideo(context.Background(), "U1", path, "video/mp4", "what is said?", false); err != ErrEmptyTranscript {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestProcessImage_SendsDataURL(t *testing.T) {
	chat := &mockChatService{resp: completion("A cat.")}
	client := newTestClient(chat)
	path := filepath.Join(t.TempDir(), "cat.png")
	os.WriteFile(path, []byte("png"), 0o600)

	if _, err := client.ProcessImage(context.Background(), "U1", path, "image/png", "what is this?", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user := chat.params[0].Messages[len(chat.params[0].Messages)-1].OfUser
	if user == nil || len(user.Content.OfArrayOfContentParts) != 2 {
		t.Fatal("expected a text part and an image part")
	}
	img := user.Content.OfArrayOfContentParts[1].OfImageURL
	if img == nil || !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Error("expected the image to be inlined as a data URL")
	}
}

func TestProcessDocument_TextInline(t *testing.T) {
	chat := &mockChatService{resp: completion("Summary.")}
	client := newTestClient(chat)
	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("meeting at noon"), 0o600)

	if _, err := client.ProcessDocument(context.Background(), "U1", path, "text/plain", "summarize", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user := chat.params[0].Messages[len(chat.params[0].Messages)-1].OfUser
	if user == nil || !strings.Contains(user.Content.OfString.Value, "meeting at noon") {
		t.Error("expected the document text inline")
	}
}

func TestProcessDocument_MissingFile(t *testing.T) {
	client := newTestClient(&mockChatService{resp: completion("x")})
	if _, err := client.ProcessDocument(context.Background(), "U1", "/nonexistent/file.pdf", "application/pdf", "", false); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithHistory(store.NewInMemoryStore(), 0))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" || cli.historyLimit != DefaultHistoryLimit {
		t.Errorf("unexpected client config: model=%s limit=%d", cli.model, cli.historyLimit)
	}
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"reunião", 6, "reuni"},
		{"reunião", 7, "reuniã"},
		{"ok 👍", 5, "ok "},
		{"ok 👍", 7, "ok 👍"},
		{"short", 10, "short"},
	}
	for _, tt := range tests {
		got := truncateUTF8(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncateUTF8(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
