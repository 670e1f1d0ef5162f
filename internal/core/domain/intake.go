package domain

import (
	"net/mail"
	"path/filepath"
	"strings"
	"time"
)

// SourceRef identifies one inbound item at the transport (a file name or object key).
type SourceRef string

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Ext returns the lower-cased extension without the dot.
func (a Attachment) Ext() string {
	return FileExt(a.Filename)
}

func FileExt(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// Email is one parsed inbound message.
type Email struct {
	MessageID   string       `json:"message_id"`
	Subject     string       `json:"subject"`
	FromName    string       `json:"from_name"`
	FromEmail   string       `json:"from_email"`
	To          string       `json:"to"`
	Date        string       `json:"date"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
}

// ReceivedAt parses the Date header.
func (e Email) ReceivedAt() (time.Time, bool) {
	if strings.TrimSpace(e.Date) == "" {
		return time.Time{}, false
	}
	ts, err := mail.ParseDate(e.Date)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// RawDocument is the unit handed to the extraction pipeline.
type RawDocument struct {
	Data     []byte
	Filename string
	Subject  string
	Body     string
	Text     string
}

type PageImage struct {
	Index  int
	JPEG   []byte
	Width  int
	Height int
}

type IntakeOutcome string

const (
	OutcomeCreated            IntakeOutcome = "created"
	OutcomeRejectedSpam       IntakeOutcome = "rejected_spam"
	OutcomeRejectedIncomplete IntakeOutcome = "rejected_incomplete"
	OutcomeError              IntakeOutcome = "error"
	OutcomeDuplicate          IntakeOutcome = "duplicate"
)

// Accepted reports whether the item produced an application.
func (o IntakeOutcome) Accepted() bool {
	return o == OutcomeCreated
}
