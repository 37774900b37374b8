// Package models defines per-sender transient state structures for TaskPipe.
package models

import "time"

// PendingMedia is a staged attachment waiting for the sender to say what to do with it.
type PendingMedia struct {
	FilePath  string    `json:"file_path"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingDeletion is the numbered list of task titles last shown to a sender for deletion.
type PendingDeletion struct {
	Titles    []string  `json:"titles"`
	CreatedAt time.Time `json:"created_at"`
}
