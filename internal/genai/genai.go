// Package genai provides the model-backed replies of the assistant using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/BTreeMap/TaskPipe/internal/store"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model settings.
const (
	DefaultModel              = openai.ChatModelGPT4oMini
	DefaultSearchModel        = openai.ChatModelGPT4oMiniSearchPreview
	DefaultTranscriptionModel = openai.AudioModelWhisper1
	DefaultTemperature        = 0.7
	DefaultMaxTokens          = 1024
	DefaultHistoryLimit       = 20
)

var (
	// ErrNoChoicesReturned is returned when the API answers without any choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyTranscript is returned when an audio track contains no recognizable speech.
	ErrEmptyTranscript = errors.New("no speech found in the recording")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// transcriptionService defines minimal interface for speech to text.
type transcriptionService interface {
	Transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error)
}

type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type transcriptionsAdapter struct {
	svc *openai.AudioTranscriptionService
}

func (a transcriptionsAdapter) Transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	Model        string
	SearchModel  string
	WebSearch    bool
	Temperature  float64
	MaxTokens    int
	History      store.HistoryRepo
	HistoryLimit int
	DebugMode    bool
	StateDir     string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithWebSearch lets plain conversation turns use the web search model.
func WithWebSearch(enabled bool) Option {
	return func(o *Opts) { o.WebSearch = enabled }
}

// WithSearchModel sets the model used for web-grounded turns.
func WithSearchModel(model string) Option {
	return func(o *Opts) { o.SearchModel = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(tokens int) Option {
	return func(o *Opts) { o.MaxTokens = tokens }
}

// WithHistory keeps per-sender chat history in repo and sends it as context.
func WithHistory(repo store.HistoryRepo, limit int) Option {
	return func(o *Opts) {
		o.History = repo
		o.HistoryLimit = limit
	}
}

// WithDebugMode writes every request and response under StateDir/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory debug logs are written to.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Client wraps the OpenAI chat and transcription services.
type Client struct {
	chat         chatService
	transcribe   transcriptionService
	model        string
	searchModel  string
	webSearch    bool
	temperature  float64
	maxTokens    int
	history      store.HistoryRepo
	historyLimit int
	debugMode    bool
	stateDir     string
}

// NewClient initializes a new GenAI client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:        string(DefaultModel),
		SearchModel:  string(DefaultSearchModel),
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		HistoryLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient", "model", cfg.Model, "web_search", cfg.WebSearch, "history", cfg.History != nil, "debug", cfg.DebugMode)
	return &Client{
		chat:         completionsAdapter{svc: &cli.Chat.Completions},
		transcribe:   transcriptionsAdapter{svc: &cli.Audio.Transcriptions},
		model:        cfg.Model,
		searchModel:  cfg.SearchModel,
		webSearch:    cfg.WebSearch,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		history:      cfg.History,
		historyLimit: cfg.HistoryLimit,
		debugMode:    cfg.DebugMode,
		stateDir:     cfg.StateDir,
	}, nil
}

// GenerateChatResponse answers a text turn. With useTaskInstruction the model is told to
// answer task requests with one of the JSON action objects.
func (c *Client) GenerateChatResponse(ctx context.Context, senderID, text string, useTaskInstruction bool) (models.AIReply, error) {
	return c.complete(ctx, "GenerateChatResponse", senderID, openai.UserMessage(text), text, useTaskInstruction)
}

// complete runs one turn with the sender's history and records it afterwards.
// historyText is what the user turn is remembered as.
func (c *Client) complete(ctx context.Context, method, senderID string, user openai.ChatCompletionMessageParamUnion, historyText string, useTaskInstruction bool) (models.AIReply, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt(useTaskInstruction, time.Now()))}
	messages = append(messages, c.loadHistory(senderID)...)
	messages = append(messages, user)

	// Web search models do not follow the JSON action format reliably.
	useSearch := c.webSearch && !useTaskInstruction
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               c.model,
		MaxCompletionTokens: openai.Int(int64(c.maxTokens)),
	}
	if useSearch {
		params.Model = c.searchModel
		params.WebSearchOptions = openai.ChatCompletionNewParamsWebSearchOptions{SearchContextSize: "low"}
	} else {
		params.Temperature = openai.Float(c.temperature)
	}

	resp, err := c.chat.Create(ctx, params)
	c.writeDebugLog(method, params, resp, err)
	if err != nil {
		slog.Error("GenAI."+method+" failed", "sender", senderID, "error", err)
		return models.AIReply{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.AIReply{}, ErrNoChoicesReturned
	}
	msg := resp.Choices[0].Message
	reply := models.AIReply{
		Text:             strings.TrimSpace(msg.Content),
		UsedExternalTool: useSearch && len(msg.Annotations) > 0,
	}
	slog.Debug("GenAI."+method+" succeeded", "sender", senderID, "task_instruction", useTaskInstruction,
		"web", reply.UsedExternalTool, "length", len(reply.Text))

	c.saveHistory(senderID, historyText, reply.Text)
	return reply, nil
}

func (c *Client) loadHistory(senderID string) []openai.ChatCompletionMessageParamUnion {
	if c.history == nil || senderID == "" {
		return nil
	}
	entries, err := c.history.GetHistory(senderID, c.historyLimit)
	if err != nil {
		slog.Warn("GenAI.loadHistory failed, continuing without context", "sender", senderID, "error", err)
		return nil
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case models.HistoryRoleUser:
			msgs = append(msgs, openai.UserMessage(e.Content))
		case models.HistoryRoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(e.Content))
		}
	}
	return msgs
}

func (c *Client) saveHistory(senderID, userText, assistantText string) {
	if c.history == nil || senderID == "" {
		return
	}
	now := time.Now()
	err := c.history.AppendHistory(senderID,
		models.HistoryEntry{Role: models.HistoryRoleUser, Content: userText, CreatedAt: now},
		models.HistoryEntry{Role: models.HistoryRoleAssistant, Content: assistantText, CreatedAt: now},
	)
	if err != nil {
		slog.Warn("GenAI.saveHistory failed", "sender", senderID, "error", err)
	}
}

// writeDebugLog stores the raw exchange as JSON when debug mode is on.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("GenAI debug log: failed to create directory", "dir", dir, "error", err)
		return
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"method":    method,
		"model":     params.Model,
		"params":    params,
		"response":  resp,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI debug log: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", time.Now().Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("GenAI debug log: write failed", "error", err)
	}
}
