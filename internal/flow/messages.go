package flow

import (
	"fmt"
	"strings"
)

// User-facing reply texts.
const (
	// BrandPrefix marks ordinary assistant replies.
	BrandPrefix = "🤖 *TaskPipe*\n\n"
	// BrandPrefixWeb marks replies grounded on a web lookup.
	BrandPrefixWeb = "🤖🌐 *TaskPipe* (web search)\n\n"

	WelcomeMessage = "👋 Hi! I'm *TaskPipe*, your assistant on WhatsApp.\n\n" +
		"You can chat with me about anything, send me an audio, image, video or document, " +
		"and I can manage your Google Tasks:\n" +
		"• \"remind me to buy milk\" creates a task\n" +
		"• \"show my tasks\" lists them\n" +
		"• \"delete a task\" removes one\n\n" +
		"Type /connect to link your Google account, or /help to see every command."

	HelpMessage = "📖 *Commands*\n" +
		"/connect – link your Google Tasks account\n" +
		"/disconnect – unlink your account\n" +
		"/status – show whether your account is linked\n" +
		"/list – list your tasks\n" +
		"/reset – forget our conversation so far\n" +
		"/help – show this message"

	AuthRequiredMessage      = "🔐 To manage tasks I need access to your Google Tasks. Type /connect to link your account."
	ProviderMissingMessage   = "⚠️ Task management is not available right now."
	NoTasksMessage           = "📭 You have no pending tasks."
	NothingToDeleteMessage   = "📭 You have no tasks to delete."
	DeletionCancelledMessage = "👍 Okay, nothing was deleted."
	MissingTitleMessage      = "🤔 I couldn't tell what the task is about. Could you describe it again?"

	OneMediaAtATimeMessage     = "📎 Please send one file at a time."
	UnsupportedMediaMessage    = "🚫 Sorry, I can't handle this type of file. I accept audio, images, videos and PDF/text documents."
	MediaReceivedMessage       = "📎 Got your file! What would you like me to do with it?"
	MediaDownloadFailedMessage = "⚠️ I couldn't download your file. Please try sending it again."
	GenericErrorMessage        = "😕 Sorry, something went wrong while processing your message. Please try again in a moment."
	HistoryResetMessage        = "🧹 Done, I've forgotten our previous conversation."
	DisconnectedMessage        = "🔌 Your Google account was disconnected."
	NotConnectedMessage        = "ℹ️ No Google account was connected."
	ConnectedNotification      = "✅ Your Google Tasks account is now connected! Try \"show my tasks\"."
)

// cancelWords abort a pending deletion.
var cancelWords = map[string]bool{"cancel": true, "cancelar": true, "stop": true, "parar": true}

func isCancelWord(text string) bool {
	return cancelWords[strings.ToLower(strings.TrimSpace(text))]
}

func connectMessage(url string) string {
	return "🔗 Open this link to connect your Google Tasks account:\n" + url
}

func taskCreatedMessage(title, due string) string {
	return fmt.Sprintf("✅ Task created: *%s*\n📅 Due: %s", title, due)
}

func taskDeletedMessage(title string) string {
	return fmt.Sprintf("🗑️ Task *%s* deleted.", title)
}

func taskNotFoundMessage(title string) string {
	return fmt.Sprintf("🔍 I couldn't find a task called *%s*.", title)
}

func taskAmbiguousMessage(title string) string {
	return fmt.Sprintf("⚠️ More than one task is called *%s*. Please rename one of them in Google Tasks and try again.", title)
}

func providerErrorMessage(err error) string {
	return "❌ " + err.Error()
}

func deletionPromptMessage(titles []string) string {
	var b strings.Builder
	b.WriteString("🗑️ Which task do you want to delete?\n")
	for i, t := range titles {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	b.WriteString("\nReply with the number or the exact title, or \"cancel\".")
	return b.String()
}

func deletionRetryMessage(n int) string {
	return fmt.Sprintf("🤔 I didn't find that option. Reply with a number from 1 to %d, the exact title, or \"cancel\".", n)
}
