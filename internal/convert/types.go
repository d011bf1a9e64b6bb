// Package convert maps raw snapshot records into normalized domain records
// carrying content checksums.
//
// Converters are stateless: each call consumes one snapshot document and
// produces an ordered record sequence plus the per-record failures that
// were skipped. A malformed record never fails its siblings.
package convert

import (
	"encoding/json"
	"time"
)

// Attachment is a normalized file attachment. The source-issued id is kept
// for diagnostics but excluded from checksums and keys (it is not stable
// across portal sessions).
type Attachment struct {
	SourceID int64  `json:"sourceId"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// Content is one normalized entry of a course's content list.
type Content struct {
	SourceID    int64        `json:"sourceId"`
	Description string       `json:"description"`
	Begin       string       `json:"begin"`
	End         string       `json:"end"`
	Locked      bool         `json:"locked"`
	Attachments []Attachment `json:"attachments"`
}

// Course is one normalized course occurrence.
type Course struct {
	SourceID    int64
	Subject     string
	Teachers    []string
	Start       time.Time
	End         time.Time
	HomeworkDue *time.Time
	Color       string
	Locked      bool
	Contents    []Content

	// Checksum is the content hash over the canonical field subset, used
	// for change detection between observations.
	Checksum string
}

// Homework is one normalized homework assignment.
type Homework struct {
	SourceID           int64
	Subject            string
	CourseSourceID     *int64
	Due                time.Time
	Assigned           time.Time
	Completed          bool
	Formatted          bool
	RequiresSubmission bool
	SubmissionType     string
	Difficulty         int
	DurationMinutes    *int
	Description        string
	PublicName         string
	Color              string
	Themes             []string
	Attachments        []Attachment

	// Raw is the original source payload, persisted on the fact row for
	// later diagnosis.
	Raw json.RawMessage

	Checksum string
}

// RecordError describes one record that failed to convert. The raw payload
// is kept so the failure can be diagnosed from the run report alone.
type RecordError struct {
	Index int             `json:"index"`
	Err   string          `json:"error"`
	Raw   json.RawMessage `json:"raw"`
}
