package domain

import (
	"strings"
	"time"
)

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationReview   ApplicationStatus = "review"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationDenied   ApplicationStatus = "denied"
)

var ApplicationStatuses = []ApplicationStatus{
	ApplicationPending,
	ApplicationReview,
	ApplicationApproved,
	ApplicationDenied,
}

func (s ApplicationStatus) Valid() bool {
	for _, known := range ApplicationStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsDecision reports whether s may be set by a reviewer decision.
func (s ApplicationStatus) IsDecision() bool {
	return s == ApplicationApproved || s == ApplicationDenied || s == ApplicationReview
}

const IntakeSourceLabel = "Email (AI Intake)"

// SourceMetadata describes where an accepted document came from.
type SourceMetadata struct {
	Source      string    `json:"source"`
	SourceEmail string    `json:"source_email"`
	SourceName  string    `json:"source_name,omitempty"`
	Subject     string    `json:"subject"`
	RawText     string    `json:"raw_text"`
	SourceRef   string    `json:"source_ref"`
	MessageID   string    `json:"message_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

type Application struct {
	ID              string            `json:"id"`
	Status          ApplicationStatus `json:"status"`
	Priority        string            `json:"priority"`
	Source          string            `json:"source"`
	SourceEmail     string            `json:"source_email"`
	PatientName     string            `json:"patient_name"`
	DOB             string            `json:"dob"`
	Phone           string            `json:"phone"`
	Address         string            `json:"address"`
	Insurance       string            `json:"insurance"`
	PolicyNumber    string            `json:"policy_number"`
	Diagnosis       []string          `json:"diagnosis"`
	Medications     []string          `json:"medications"`
	Allergies       []string          `json:"allergies"`
	Physician       string            `json:"physician"`
	Facility        string            `json:"facility"`
	Services        []string          `json:"services"`
	AISummary       string            `json:"ai_summary"`
	ConfidenceScore float64           `json:"confidence_score"`
	RawText         string            `json:"raw_text"`
	RawEmailSubject string            `json:"raw_email_subject"`
	SourceRef       string            `json:"source_ref"`
	Extraction      FlattenedRecord   `json:"extraction,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewApplication projects a flattened extraction and its source onto a
// pending application record.
func NewApplication(id string, record FlattenedRecord, source SourceMetadata, now time.Time) *Application {
	createdAt := now
	if !source.ReceivedAt.IsZero() {
		createdAt = source.ReceivedAt
	}
	label := source.Source
	if label == "" {
		label = IntakeSourceLabel
	}
	priority := record.TrimmedString("priority")
	if priority == "" {
		priority = DefaultPriority
	}
	return &Application{
		ID:              id,
		Status:          ApplicationPending,
		Priority:        priority,
		Source:          label,
		SourceEmail:     source.SourceEmail,
		PatientName:     record.TrimmedString("patient_name"),
		DOB:             record.TrimmedString("dob"),
		Phone:           record.String("phone"),
		Address:         record.String("address"),
		Insurance:       record.String("insurance"),
		PolicyNumber:    record.String("policy_number"),
		Diagnosis:       nonNil(record.List("diagnosis")),
		Medications:     nonNil(record.List("medications")),
		Allergies:       nonNil(record.List("allergies")),
		Physician:       record.String("physician"),
		Facility:        record.String("facility"),
		Services:        nonNil(record.List("services")),
		AISummary:       record.String("ai_summary"),
		ConfidenceScore: float64(record.Int("confidence_score")),
		RawText:         source.RawText,
		RawEmailSubject: source.Subject,
		SourceRef:       source.SourceRef,
		Extraction:      record,
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       now.UTC(),
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// ApplicationPatch carries reviewer corrections; nil members are left unchanged.
type ApplicationPatch struct {
	Priority     *string   `json:"priority,omitempty"`
	PatientName  *string   `json:"patient_name,omitempty"`
	DOB          *string   `json:"dob,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	Address      *string   `json:"address,omitempty"`
	Insurance    *string   `json:"insurance,omitempty"`
	PolicyNumber *string   `json:"policy_number,omitempty"`
	Physician    *string   `json:"physician,omitempty"`
	Facility     *string   `json:"facility,omitempty"`
	AISummary    *string   `json:"ai_summary,omitempty"`
	Diagnosis    *[]string `json:"diagnosis,omitempty"`
	Medications  *[]string `json:"medications,omitempty"`
	Allergies    *[]string `json:"allergies,omitempty"`
	Services     *[]string `json:"services,omitempty"`
}

func (p ApplicationPatch) Empty() bool {
	return p.Priority == nil && p.PatientName == nil && p.DOB == nil && p.Phone == nil &&
		p.Address == nil && p.Insurance == nil && p.PolicyNumber == nil && p.Physician == nil &&
		p.Facility == nil && p.AISummary == nil && p.Diagnosis == nil && p.Medications == nil &&
		p.Allergies == nil && p.Services == nil
}

func (a *Application) ApplyPatch(p ApplicationPatch, now time.Time) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setList := func(dst *[]string, src *[]string) {
		if src != nil {
			*dst = nonNil(*src)
		}
	}
	setString(&a.Priority, p.Priority)
	setString(&a.PatientName, p.PatientName)
	setString(&a.DOB, p.DOB)
	setString(&a.Phone, p.Phone)
	setString(&a.Address, p.Address)
	setString(&a.Insurance, p.Insurance)
	setString(&a.PolicyNumber, p.PolicyNumber)
	setString(&a.Physician, p.Physician)
	setString(&a.Facility, p.Facility)
	setString(&a.AISummary, p.AISummary)
	setList(&a.Diagnosis, p.Diagnosis)
	setList(&a.Medications, p.Medications)
	setList(&a.Allergies, p.Allergies)
	setList(&a.Services, p.Services)
	a.UpdatedAt = now.UTC()
}

type ApplicationFilter struct {
	Status   ApplicationStatus
	Priority string
	Limit    int
}

type ApplicationStats struct {
	Pending  int `json:"pending"`
	Review   int `json:"review"`
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Total    int `json:"total"`
	ThisWeek int `json:"this_week"`
}

// Add counts n applications in status toward the per-status totals.
func (s *ApplicationStats) Add(status ApplicationStatus, n int) {
	switch status {
	case ApplicationPending:
		s.Pending += n
	case ApplicationReview:
		s.Review += n
	case ApplicationApproved:
		s.Approved += n
	case ApplicationDenied:
		s.Denied += n
	}
	s.Total += n
}
