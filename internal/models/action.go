package models

// ActionKind tags the case of an identified action.
type ActionKind string

const (
	ActionTaskCreate ActionKind = "task_create"
	ActionTaskList   ActionKind = "task_list"
	ActionTaskDelete ActionKind = "task_delete"
	ActionPlainChat  ActionKind = "plain_chat"
)

// Action is the structured result of classifying one model response.
// Exactly one of the concrete types below implements it per response.
type Action interface {
	Kind() ActionKind
}

// TaskCreate asks for a new task built from the model's extracted details.
type TaskCreate struct {
	Objective      string `json:"objective"`
	Description    string `json:"description"`
	ExpectedResult string `json:"expectedResult"`
	UserBenefit    string `json:"userBenefit"`
}

// TaskListRequest asks for the sender's tasks.
type TaskListRequest struct{}

// TaskDeleteRequest asks to delete a task. A nil TaskTitle means the user has to pick one.
type TaskDeleteRequest struct {
	TaskTitle *string `json:"taskTitle,omitempty"`
}

// PlainChat is an ordinary conversational reply.
type PlainChat struct {
	Text             string `json:"text"`
	UsedExternalTool bool   `json:"usedExternalTool"`
}

func (TaskCreate) Kind() ActionKind        { return ActionTaskCreate }
func (TaskListRequest) Kind() ActionKind   { return ActionTaskList }
func (TaskDeleteRequest) Kind() ActionKind { return ActionTaskDelete }
func (PlainChat) Kind() ActionKind         { return ActionPlainChat }

// AIReply is what the model collaborator returns for one turn.
type AIReply struct {
	Text             string
	UsedExternalTool bool
}
