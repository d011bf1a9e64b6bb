package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Checksums cover a canonical subset of each record's fields: everything
// meaningful to change detection, minus the identifiers the source system
// reissues between sessions. The canonical structs below are the auditable
// contract; adding a field here changes every checksum.

type attachmentCanonical struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type contentCanonical struct {
	Description string                `json:"description"`
	Begin       string                `json:"begin"`
	End         string                `json:"end"`
	Locked      bool                  `json:"locked"`
	Attachments []attachmentCanonical `json:"attachments"`
}

type courseCanonical struct {
	Locked      bool               `json:"locked"`
	Subject     string             `json:"subject"`
	HomeworkDue string             `json:"homeworkDue"`
	Contents    []contentCanonical `json:"contents"`
}

type homeworkCanonical struct {
	Subject            string                `json:"subject"`
	Due                string                `json:"due"`
	Assigned           string                `json:"assigned"`
	Completed          bool                  `json:"completed"`
	RequiresSubmission bool                  `json:"requiresSubmission"`
	SubmissionType     string                `json:"submissionType"`
	Difficulty         int                   `json:"difficulty"`
	DurationMinutes    int                   `json:"durationMinutes"`
	Description        string                `json:"description"`
	PublicName         string                `json:"publicName"`
	Color              string                `json:"color"`
	Themes             []string              `json:"themes"`
	Attachments        []attachmentCanonical `json:"attachments"`
}

// KeyTimeLayout formats timestamps inside checksums and natural keys.
const KeyTimeLayout = "2006-01-02 15:04:05"

func canonicalAttachments(in []Attachment) []attachmentCanonical {
	out := make([]attachmentCanonical, 0, len(in))
	for _, a := range in {
		out = append(out, attachmentCanonical{Name: a.Name, Type: a.Type})
	}
	return out
}

func hashCanonical(v interface{}) string {
	// Marshal cannot fail for these closed struct types.
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CourseChecksum computes the change-detection hash of a course: locked
// flag, subject, homework-due date and the content list with source ids
// stripped. Schedule and teachers are part of the natural key instead.
func CourseChecksum(c *Course) string {
	canon := courseCanonical{
		Locked:   c.Locked,
		Subject:  c.Subject,
		Contents: make([]contentCanonical, 0, len(c.Contents)),
	}
	if c.HomeworkDue != nil {
		canon.HomeworkDue = c.HomeworkDue.Format(KeyTimeLayout)
	}
	for _, item := range c.Contents {
		canon.Contents = append(canon.Contents, contentCanonical{
			Description: item.Description,
			Begin:       item.Begin,
			End:         item.End,
			Locked:      item.Locked,
			Attachments: canonicalAttachments(item.Attachments),
		})
	}
	return hashCanonical(canon)
}

// HomeworkChecksum computes the change-detection hash of a homework
// assignment over every content field except the source-issued numeric ids.
func HomeworkChecksum(h *Homework) string {
	canon := homeworkCanonical{
		Subject:            h.Subject,
		Due:                h.Due.Format(KeyTimeLayout),
		Assigned:           h.Assigned.Format(KeyTimeLayout),
		Completed:          h.Completed,
		RequiresSubmission: h.RequiresSubmission,
		SubmissionType:     h.SubmissionType,
		Difficulty:         h.Difficulty,
		Description:        h.Description,
		PublicName:         h.PublicName,
		Color:              h.Color,
		Themes:             h.Themes,
		Attachments:        canonicalAttachments(h.Attachments),
	}
	if h.DurationMinutes != nil {
		canon.DurationMinutes = *h.DurationMinutes
	}
	if canon.Themes == nil {
		canon.Themes = []string{}
	}
	return hashCanonical(canon)
}
