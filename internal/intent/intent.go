// Package intent classifies user text and model output into structured task actions.
//
// Everything here is pure and cheap: keyword matching for the task-relevance gate and a
// tolerant extraction of the JSON object a model may embed in its reply.
package intent

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/tidwall/gjson"
)

// taskKeywords is the bilingual (English/Portuguese) vocabulary that turns on the
// task-structuring instruction for a model call.
var taskKeywords = []string{
	// creation
	"task", "reminder", "remind me", "todo", "to-do",
	"tarefa", "lembrete", "lembre-me", "lembrar", "me lembra", "agendar", "anotar",
	// listing
	"list", "show", "what do i have", "my tasks",
	"listar", "mostrar", "mostre", "minhas tarefas",
	// deletion
	"delete", "remove", "cancel", "erase",
	"deletar", "excluir", "apagar", "remover", "cancelar",
}

// IsTaskManagementRequest reports whether text mentions task vocabulary.
// It is a pre-filter for the model call, not the final classifier.
func IsTaskManagementRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range taskKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractAction classifies a raw model response.
//
// The candidate object spans from the first '{' to the last '}' so JSON wrapped in prose or
// code fences is still found. Anything that is not valid JSON, or valid JSON with no known
// discriminator set to true, is plain chat carrying the raw text.
func ExtractAction(raw string) models.Action {
	plain := models.PlainChat{Text: raw}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return plain
	}
	candidate := raw[start : end+1]
	if !gjson.Valid(candidate) {
		slog.Debug("intent.ExtractAction: embedded object is not valid JSON, treating as chat", "length", len(candidate))
		return plain
	}

	obj := gjson.Parse(candidate)
	if !obj.IsObject() {
		return plain
	}

	switch {
	case obj.Get("isTask").Type == gjson.True:
		details := obj.Get("details")
		return models.TaskCreate{
			Objective:      details.Get("objective").String(),
			Description:    details.Get("description").String(),
			ExpectedResult: details.Get("expectedResult").String(),
			UserBenefit:    details.Get("userBenefit").String(),
		}
	case obj.Get("isTaskListRequest").Type == gjson.True:
		return models.TaskListRequest{}
	case obj.Get("isTaskDeletionRequest").Type == gjson.True:
		req := models.TaskDeleteRequest{}
		if title := obj.Get("taskTitle"); title.Type == gjson.String && strings.TrimSpace(title.Str) != "" {
			t := strings.TrimSpace(title.Str)
			req.TaskTitle = &t
		}
		return req
	}

	slog.Debug("intent.ExtractAction: JSON without a known discriminator, treating as chat")
	return plain
}

// MatchDeletionReply resolves a reply against the titles previously shown to the sender.
//
// An exact case-insensitive title wins; otherwise the first run of digits is read as a
// 1-based position in titles. The boolean is false when neither applies.
func MatchDeletionReply(reply string, titles []string) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	for _, t := range titles {
		if strings.EqualFold(strings.TrimSpace(t), trimmed) {
			return t, true
		}
	}

	digits := firstDigitRun(trimmed)
	if digits == "" {
		return "", false
	}
	idx, err := strconv.Atoi(digits)
	if err != nil || idx < 1 || idx > len(titles) {
		return "", false
	}
	return titles[idx-1], true
}

func firstDigitRun(s string) string {
	start := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			return s[start:i]
		}
	}
	if start == -1 {
		return ""
	}
	return s[start:]
}
