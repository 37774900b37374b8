package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/openai/openai-go"
)

// maxInlineText caps how much of a text document is pasted into the prompt.
const maxInlineText = 60_000

const defaultMediaPrompt = "Describe this and tell me anything important about it."

func mediaPrompt(prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return defaultMediaPrompt
	}
	return prompt
}

// ProcessImage answers prompt about the image stored at path.
func (c *Client) ProcessImage(ctx context.Context, senderID, path, mimeType, prompt string, useTaskInstruction bool) (models.AIReply, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.AIReply{}, fmt.Errorf("failed to read image: %w", err)
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	prompt = mediaPrompt(prompt)
	user := openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	})
	return c.complete(ctx, "ProcessImage", senderID, user, "[image] "+prompt, useTaskInstruction)
}

// ProcessAudio transcribes the recording at path and answers prompt about it.
// A voice note sent with no instructions is treated as the user's message itself.
func (c *Client) ProcessAudio(ctx context.Context, senderID, path, mimeType, prompt string, useTaskInstruction bool) (models.AIReply, error) {
	transcript, err := c.Transcribe(ctx, path)
	if err != nil {
		return models.AIReply{}, err
	}
	var text string
	if strings.TrimSpace(prompt) == "" {
		text = transcript
	} else {
		text = fmt.Sprintf("%s\n\nTranscript of the audio I sent:\n%q", prompt, transcript)
	}
	return c.complete(ctx, "ProcessAudio", senderID, openai.UserMessage(text), "[audio] "+text, useTaskInstruction)
}

// ProcessVideo answers prompt about the video at path using the transcript of its audio track.
func (c *Client) ProcessVideo(ctx context.Context, senderID, path, mimeType, prompt string, useTaskInstruction bool) (models.AIReply, error) {
	transcript, err := c.Transcribe(ctx, path)
	if err != nil {
		return models.AIReply{}, err
	}
	text := fmt.Sprintf("%s\n\nI sent a video. Transcript of its audio:\n%q", mediaPrompt(prompt), transcript)
	return c.complete(ctx, "ProcessVideo", senderID, openai.UserMessage(text), "[video] "+text, useTaskInstruction)
}

// ProcessDocument answers prompt about the document at path. PDFs are sent as files,
// text documents inline.
func (c *Client) ProcessDocument(ctx context.Context, senderID, path, mimeType, prompt string, useTaskInstruction bool) (models.AIReply, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.AIReply{}, fmt.Errorf("failed to read document: %w", err)
	}
	prompt = mediaPrompt(prompt)

	var user openai.ChatCompletionMessageParamUnion
	if strings.HasPrefix(mimeType, "application/pdf") {
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				FileData: openai.String("data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data)),
				Filename: openai.String(filepath.Base(path)),
			}),
		})
	} else {
		content := string(data)
		if len(content) > maxInlineText {
			slog.Debug("GenAI.ProcessDocument: truncating document", "sender", senderID, "length", len(content))
			content = truncateUTF8(content, maxInlineText)
		}
		user = openai.UserMessage(fmt.Sprintf("%s\n\nDocument contents:\n\"\"\"\n%s\n\"\"\"", prompt, content))
	}
	return c.complete(ctx, "ProcessDocument", senderID, user, "[document] "+prompt, useTaskInstruction)
}

// Transcribe converts the speech in the audio or video file at path to text.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	text, err := c.transcribe.Transcribe(ctx, openai.AudioTranscriptionNewParams{
		File:  f,
		Model: DefaultTranscriptionModel,
	})
	if err != nil {
		slog.Error("GenAI.Transcribe failed", "path", path, "error", err)
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	slog.Debug("GenAI.Transcribe succeeded", "path", path, "length", len(text))
	return text, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
