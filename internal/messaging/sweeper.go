package messaging

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/TaskPipe/internal/flow"
	"github.com/BTreeMap/TaskPipe/internal/media"
	"github.com/BTreeMap/TaskPipe/internal/models"
)

// DefaultPendingMediaTTL is how long an attachment waits for its prompt.
const DefaultPendingMediaTTL = 24 * time.Hour

var nowFunc = time.Now

// PendingSweeper drops pending state nobody answered: attachments whose prompt never arrived
// (with their files), deletion lists never resolved, and orphaned media files.
type PendingSweeper struct {
	media     *flow.MemoryRegistry[models.PendingMedia]
	deletions *flow.MemoryRegistry[models.PendingDeletion]
	store     *media.Store

	mediaTTL    time.Duration
	deletionTTL time.Duration
}

// NewPendingSweeper creates a sweeper. deletions may be nil. A ttl <= 0 selects
// DefaultPendingMediaTTL or flow.DefaultPendingDeletionTTL.
func NewPendingSweeper(pendingMedia *flow.MemoryRegistry[models.PendingMedia], deletions *flow.MemoryRegistry[models.PendingDeletion],
	store *media.Store, mediaTTL, deletionTTL time.Duration) *PendingSweeper {
	if mediaTTL <= 0 {
		mediaTTL = DefaultPendingMediaTTL
	}
	if deletionTTL <= 0 {
		deletionTTL = flow.DefaultPendingDeletionTTL
	}
	return &PendingSweeper{
		media:       pendingMedia,
		deletions:   deletions,
		store:       store,
		mediaTTL:    mediaTTL,
		deletionTTL: deletionTTL,
	}
}

// Run performs one sweep. It is safe to call from a cron job.
func (s *PendingSweeper) Run() {
	expired := s.media.Expire(s.mediaTTL)
	for sender, entry := range expired {
		slog.Info("PendingSweeper dropping unanswered media", "from", sender, "mime", entry.MimeType)
		s.store.Remove(entry.FilePath)
	}

	if s.deletions != nil {
		for sender := range s.deletions.Expire(s.deletionTTL) {
			slog.Info("PendingSweeper dropping unanswered deletion list", "from", sender)
		}
	}

	keep := make(map[string]bool)
	for _, entry := range s.media.Snapshot() {
		keep[entry.FilePath] = true
	}
	s.store.Sweep(s.mediaTTL, keep)
}
