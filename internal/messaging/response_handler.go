// Package messaging receives WhatsApp messages, routes them through the conversation state
// and sends the replies.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/BTreeMap/TaskPipe/internal/flow"
	"github.com/BTreeMap/TaskPipe/internal/intent"
	"github.com/BTreeMap/TaskPipe/internal/media"
	"github.com/BTreeMap/TaskPipe/internal/models"
	"github.com/BTreeMap/TaskPipe/internal/store"
)

// AIResponder produces the model's answer for a text or media turn.
type AIResponder interface {
	GenerateChatResponse(ctx context.Context, senderID, text string, useTaskInstruction bool) (models.AIReply, error)
	ProcessAudio(ctx context.Context, senderID, path, mimeType, prompt string, useTaskInstruction bool) (models.AIReply, error)
	ProcessImage(ctx context.Context, senderID, path, mimeType, prompt string, useTaskInstruction bool) (models.AIReply, error)
	ProcessVideo(ctx context.Context, senderID, path, mimeType, prompt string, useTaskInstruction bool) (models.AIReply, error)
	ProcessDocument(ctx context.Context, senderID, path, mimeType, prompt string, useTaskInstruction bool) (models.AIReply, error)
}

// MediaStager downloads attachments to local files and removes them.
type MediaStager interface {
	Download(ctx context.Context, url, mimeType string) (string, error)
	Remove(path string)
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithUserRegistry enables the first-contact welcome message.
func WithUserRegistry(users store.UserRegistry) HandlerOption {
	return func(rh *ResponseHandler) { rh.users = users }
}

// WithDedup drops webhook retries of a message that was already accepted.
func WithDedup(dedup store.DedupRepo) HandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = dedup }
}

// WithMedia enables attachment handling.
func WithMedia(stager MediaStager, pending flow.PendingMediaRegistry) HandlerOption {
	return func(rh *ResponseHandler) {
		rh.media = stager
		rh.pendingMedia = pending
	}
}

// WithCommands enables slash commands.
func WithCommands(commands *flow.CommandRunner) HandlerOption {
	return func(rh *ResponseHandler) { rh.commands = commands }
}

// ResponseHandler is the per-message orchestrator. It decides what the next message of a
// sender means from the pending state, the user registry and the message itself, and
// always produces a reply.
type ResponseHandler struct {
	msgService   Service
	ai           AIResponder
	dispatcher   *flow.Dispatcher
	users        store.UserRegistry
	dedup        store.DedupRepo
	media        MediaStager
	pendingMedia flow.PendingMediaRegistry
	commands     *flow.CommandRunner

	locks *senderLocks
	wg    sync.WaitGroup
	done  chan struct{}
}

// NewResponseHandler creates a ResponseHandler replying through msgService.
func NewResponseHandler(msgService Service, ai AIResponder, dispatcher *flow.Dispatcher, opts ...HandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		msgService: msgService,
		ai:         ai,
		dispatcher: dispatcher,
		locks:      newSenderLocks(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ProcessResponse handles one inbound message end to end and sends the reply.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, msg models.InboundMessage) error {
	if rh.dedup != nil && msg.MessageID != "" {
		first, err := rh.dedup.RecordInbound(msg.MessageID, msg.SenderID)
		if err != nil {
			slog.Warn("ResponseHandler dedup check failed, processing anyway", "error", err, "sid", msg.MessageID)
		} else if !first {
			slog.Info("ResponseHandler dropping duplicate delivery", "sid", msg.MessageID, "from", msg.SenderID)
			return nil
		}
	}

	unlock := rh.locks.Lock(msg.SenderID)
	defer unlock()

	reply := rh.HandleMessage(ctx, msg)
	if reply == "" {
		return nil
	}
	parts := SplitMessage(reply, MaxReplyLength)
	for i, part := range parts {
		if err := rh.msgService.SendMessage(ctx, msg.SenderID, part); err != nil {
			slog.Error("ResponseHandler failed to send reply", "error", err, "from", msg.SenderID, "part", i+1, "parts", len(parts))
			return fmt.Errorf("failed to send reply: %w", err)
		}
	}

	if rh.dedup != nil && msg.MessageID != "" {
		if err := rh.dedup.MarkProcessed(msg.MessageID); err != nil {
			slog.Warn("ResponseHandler failed to mark message processed", "error", err, "sid", msg.MessageID)
		}
	}
	slog.Debug("ResponseHandler reply sent", "from", msg.SenderID, "parts", len(parts))
	return nil
}

// HandleMessage computes the reply for msg. It never panics and only returns "" when
// there is nobody to reply to.
func (rh *ResponseHandler) HandleMessage(ctx context.Context, msg models.InboundMessage) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ResponseHandler recovered from panic", "panic", r, "from", msg.SenderID, "stack", string(debug.Stack()))
			reply = flow.GenericErrorMessage
		}
	}()

	if err := msg.Validate(); err != nil {
		slog.Warn("ResponseHandler invalid message", "error", err, "from", msg.SenderID)
		if msg.SenderID == "" {
			return ""
		}
		return flow.MediaDownloadFailedMessage
	}

	if msg.HasMedia() {
		return rh.handleMedia(ctx, msg)
	}
	return rh.handleText(ctx, msg)
}

// handleText applies the fixed precedence: pending media, pending deletion, first contact,
// slash command, model.
func (rh *ResponseHandler) handleText(ctx context.Context, msg models.InboundMessage) string {
	sender := msg.SenderID

	if rh.pendingMedia != nil {
		if pending, ok := rh.pendingMedia.Take(sender); ok {
			slog.Debug("ResponseHandler using text as deferred media prompt", "from", sender, "mime", pending.MimeType)
			defer rh.media.Remove(pending.FilePath)
			return rh.processMedia(ctx, sender, pending.FilePath, pending.MimeType, msg.Text)
		}
	}

	if rh.dispatcher.HasPendingDeletion(sender) {
		return rh.dispatcher.ResolvePendingDeletion(ctx, sender, msg.Text)
	}

	if rh.users != nil {
		known, err := rh.users.HasUser(sender)
		if err != nil {
			slog.Error("ResponseHandler user lookup failed, treating as returning", "error", err, "from", sender)
		} else if !known {
			if err := rh.users.AddUser(sender); err != nil {
				slog.Error("ResponseHandler failed to register user", "error", err, "from", sender)
			}
			slog.Info("ResponseHandler welcomed new user", "from", sender)
			return flow.WelcomeMessage
		}
	}

	if rh.commands != nil {
		if reply, handled := rh.commands.Run(ctx, sender, msg.Text); handled {
			return reply
		}
	}

	useTask := intent.IsTaskManagementRequest(msg.Text)
	ai, err := rh.ai.GenerateChatResponse(ctx, sender, msg.Text, useTask)
	if err != nil {
		slog.Error("ResponseHandler chat response failed", "error", err, "from", sender)
		return flow.GenericErrorMessage
	}
	return rh.dispatchAI(ctx, sender, ai)
}

// handleMedia stages a single attachment and either answers it now or waits for a prompt.
func (rh *ResponseHandler) handleMedia(ctx context.Context, msg models.InboundMessage) string {
	sender := msg.SenderID
	if msg.MediaCount > models.MaxMediaPerMessage {
		slog.Info("ResponseHandler rejected multi-attachment message", "from", sender, "count", msg.MediaCount)
		return flow.OneMediaAtATimeMessage
	}
	if rh.media == nil {
		return flow.UnsupportedMediaMessage
	}
	if media.Classify(msg.MediaContentType) == media.KindUnsupported {
		slog.Info("ResponseHandler rejected unsupported media", "from", sender, "mime", msg.MediaContentType)
		return flow.UnsupportedMediaMessage
	}

	path, err := rh.media.Download(ctx, msg.MediaURL, msg.MediaContentType)
	if err != nil {
		slog.Error("ResponseHandler media download failed", "error", err, "from", sender)
		return flow.MediaDownloadFailedMessage
	}

	if !msg.HasText() {
		if old, ok := rh.pendingMedia.Take(sender); ok {
			rh.media.Remove(old.FilePath)
		}
		rh.pendingMedia.Set(sender, models.PendingMedia{FilePath: path, MimeType: msg.MediaContentType, CreatedAt: nowFunc()})
		slog.Info("ResponseHandler stored media awaiting prompt", "from", sender, "mime", msg.MediaContentType)
		return flow.MediaReceivedMessage
	}

	defer rh.media.Remove(path)
	return rh.processMedia(ctx, sender, path, msg.MediaContentType, msg.Text)
}

// processMedia sends a staged file and its prompt to the matching model entry point.
// The caller owns the file.
func (rh *ResponseHandler) processMedia(ctx context.Context, sender, path, mimeType, prompt string) string {
	useTask := intent.IsTaskManagementRequest(prompt)

	var (
		ai  models.AIReply
		err error
	)
	switch kind := media.Classify(mimeType); kind {
	case media.KindAudio:
		ai, err = rh.ai.ProcessAudio(ctx, sender, path, mimeType, prompt, useTask)
	case media.KindImage:
		ai, err = rh.ai.ProcessImage(ctx, sender, path, mimeType, prompt, useTask)
	case media.KindVideo:
		ai, err = rh.ai.ProcessVideo(ctx, sender, path, mimeType, prompt, useTask)
	case media.KindDocument:
		ai, err = rh.ai.ProcessDocument(ctx, sender, path, mimeType, prompt, useTask)
	default:
		slog.Info("ResponseHandler rejected unsupported media", "from", sender, "mime", mimeType)
		return flow.UnsupportedMediaMessage
	}
	if err != nil {
		slog.Error("ResponseHandler media processing failed", "error", err, "from", sender, "mime", mimeType)
		return flow.GenericErrorMessage
	}
	return rh.dispatchAI(ctx, sender, ai)
}

func (rh *ResponseHandler) dispatchAI(ctx context.Context, sender string, ai models.AIReply) string {
	action := intent.ExtractAction(ai.Text)
	if chat, ok := action.(models.PlainChat); ok {
		chat.UsedExternalTool = ai.UsedExternalTool
		action = chat
	}
	return rh.dispatcher.Dispatch(ctx, sender, action)
}

// Start begins processing messages from the messaging service. Each message runs in its own
// goroutine; messages of one sender are handled in arrival order of the lock. Cancelling ctx
// stops the loop after the already buffered messages are accepted. Accepted turns keep ctx's
// values but not its cancellation, so they can still reply during shutdown. Start must be
// called at most once.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")
	turnCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(rh.done)
		defer slog.Info("ResponseHandler stopped response processing")

		for {
			select {
			case msg, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				rh.accept(turnCtx, msg)

			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				rh.drain(turnCtx)
				return
			}
		}
	}()
}

// drain accepts the messages already buffered in the responses channel.
func (rh *ResponseHandler) drain(ctx context.Context) {
	for {
		select {
		case msg, ok := <-rh.msgService.Responses():
			if !ok {
				return
			}
			rh.accept(ctx, msg)
		default:
			return
		}
	}
}

func (rh *ResponseHandler) accept(ctx context.Context, msg models.InboundMessage) {
	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		if err := rh.ProcessResponse(ctx, msg); err != nil {
			slog.Error("ResponseHandler failed to process response", "error", err, "from", msg.SenderID)
		}
	}()
}

// Done is closed once the Start loop has returned and accepts no more messages.
func (rh *ResponseHandler) Done() <-chan struct{} {
	return rh.done
}

// Wait blocks until the Start loop has returned and every message it accepted has been
// handled. It must only be called after Start.
func (rh *ResponseHandler) Wait() {
	<-rh.done
	rh.wg.Wait()
}

// Notify sends a proactive message. Failures are logged and returned for the caller to ignore.
func (rh *ResponseHandler) Notify(ctx context.Context, senderID, body string) error {
	if err := rh.msgService.SendMessage(ctx, senderID, body); err != nil {
		slog.Warn("ResponseHandler notification failed", "error", err, "to", senderID)
		return err
	}
	return nil
}
