// Package media stages inbound WhatsApp attachments on disk until the model has seen them.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the coarse category that selects the model entry point for an attachment.
type Kind string

const (
	KindAudio       Kind = "audio"
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
	KindDocument    Kind = "document"
	KindUnsupported Kind = "unsupported"
)

const (
	// DefaultMaxBytes caps a single download. WhatsApp itself limits documents to 100MB.
	DefaultMaxBytes = 25 << 20
	// DefaultDownloadTimeout bounds a single download.
	DefaultDownloadTimeout = 60 * time.Second
)

// ErrTooLarge is returned when an attachment exceeds the configured size cap.
var ErrTooLarge = errors.New("attachment exceeds the size limit")

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

var videoTypes = map[string]bool{
	"video/mp4":  true,
	"video/webm": true,
	"video/mpeg": true,
}

var documentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/csv":        true,
	"text/markdown":   true,
}

// Classify maps a MIME type to the category the assistant can process.
func Classify(mimeType string) Kind {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch {
	case strings.HasPrefix(base, "audio/"):
		return KindAudio
	case imageTypes[base]:
		return KindImage
	case videoTypes[base]:
		return KindVideo
	case documentTypes[base]:
		return KindDocument
	default:
		return KindUnsupported
	}
}

// Opts holds configuration options for the media store.
type Opts struct {
	Dir        string
	Username   string // basic auth user for media URLs (Twilio account SID)
	Password   string // basic auth password (Twilio auth token)
	MaxBytes   int64
	HTTPClient *http.Client
}

// Option defines a configuration option for the media store.
type Option func(*Opts)

// WithDir sets the staging directory.
func WithDir(dir string) Option {
	return func(o *Opts) { o.Dir = dir }
}

// WithBasicAuth sets the credentials sent with every download.
func WithBasicAuth(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithMaxBytes caps the size of a single download.
func WithMaxBytes(n int64) Option {
	return func(o *Opts) { o.MaxBytes = n }
}

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Store downloads attachments into a staging directory and removes them afterwards.
type Store struct {
	dir      string
	username string
	password string
	maxBytes int64
	client   *http.Client
}

// NewStore creates the staging directory if needed.
func NewStore(opts ...Option) (*Store, error) {
	cfg := Opts{MaxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "taskpipe-media")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultDownloadTimeout}
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create media directory %s: %w", cfg.Dir, err)
	}
	slog.Debug("media.NewStore", "dir", cfg.Dir, "auth_set", cfg.Username != "", "max_bytes", cfg.MaxBytes)
	return &Store{
		dir:      cfg.Dir,
		username: cfg.Username,
		password: cfg.Password,
		maxBytes: cfg.MaxBytes,
		client:   cfg.HTTPClient,
	}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string {
	return s.dir
}

// Download fetches url into a new file in the staging directory and returns its path.
// No file is left behind when the download fails.
func (s *Store) Download(ctx context.Context, url, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid media URL: %w", err)
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media download failed: unexpected status %d", resp.StatusCode)
	}

	path := filepath.Join(s.dir, uuid.NewString()+extensionFor(mimeType))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create staged file: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("failed to write staged file: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("failed to close staged file: %w", closeErr)
	case n > s.maxBytes:
		err = ErrTooLarge
	}
	if err != nil {
		s.Remove(path)
		return "", err
	}
	slog.Debug("media.Store.Download: staged attachment", "path", path, "bytes", n, "mime", mimeType)
	return path, nil
}

// Remove deletes a staged file. Failures are logged and never returned.
func (s *Store) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("media.Store.Remove: failed to delete staged file", "path", path, "error", err)
		return
	}
	slog.Debug("media.Store.Remove: deleted staged file", "path", path)
}

// Sweep deletes staged files older than maxAge except those in keep.
// It returns the number of files removed.
func (s *Store) Sweep(maxAge time.Duration, keep map[string]bool) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Error("media.Store.Sweep: failed to read media directory", "dir", s.dir, "error", err)
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if keep[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("media.Store.Sweep: failed to delete file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("media.Store.Sweep: removed orphaned files", "count", removed)
	}
	return removed
}

func extensionFor(mimeType string) string {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	switch base {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/amr":
		return ".amr"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/mpeg":
		return ".mpeg"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "text/csv":
		return ".csv"
	case "text/markdown":
		return ".md"
	}
	return ""
}
