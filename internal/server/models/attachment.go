package models

import "time"

// Attachment is per-message metadata for an uploaded file. The payload lives
// in object storage under StorageKey; keys are content-addressed, so the same
// bytes fanned out to several recipients share one blob while every message
// keeps its own attachment row.
type Attachment struct {
	ID          string
	MessageID   string
	Filename    string
	ContentType string
	Size        int64
	StorageKey  string
	CreatedAt   time.Time
}

// FileUpload is a decoded multipart file as the compose handlers pass it
// down to the attachment service.
type FileUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}
