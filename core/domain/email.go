package domain

import (
	"time"

	"github.com/google/uuid"
)

// ParseStatus tracks the lifecycle of a raw email through the pipeline.
type ParseStatus string

const (
	ParseStatusPending    ParseStatus = "pending"
	ParseStatusSuccess    ParseStatus = "success"
	ParseStatusFailed     ParseStatus = "failed"
	ParseStatusQuarantine ParseStatus = "quarantine"
	ParseStatusRejected   ParseStatus = "rejected"
)

// Attachment describes a MIME part that is neither body text nor calendar.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// RawEmail is one fetched message, unique per (folder, uid). The raw MIME
// blob is kept so quarantined mail can be reprocessed after review.
type RawEmail struct {
	ID          uuid.UUID
	Folder      string
	UID         int64
	MessageID   string
	Subject     string
	FromAddress string
	ToAddresses []string
	CcAddresses []string
	DateHeader  *time.Time
	Headers     map[string]string
	BodyText    string
	BodyHTML    string
	ICSContent  string
	Attachments []Attachment
	RawMIME     []byte
	ParseStatus ParseStatus
	ParseError  string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Body returns the preferred body representation for parsing.
func (e *RawEmail) Body() string {
	if e.BodyText != "" {
		return e.BodyText
	}
	return e.BodyHTML
}

// OccurredAt returns the best-effort event time for this email.
func (e *RawEmail) OccurredAt() time.Time {
	if e.DateHeader != nil {
		return *e.DateHeader
	}
	return e.CreatedAt
}

// FolderCursor tracks poll progress per mailbox folder.
type FolderCursor struct {
	Folder          string
	LastUID         int64
	LastPollAt      *time.Time
	LastSuccessAt   *time.Time
	LastError       string
	ErrorCount      int
	EmailsProcessed int64
}
