package convert

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/avigny/cartable/internal/snapshot"
)

// Homeworks converts a raw homework snapshot document into normalized
// homework records.
//
// Like Courses, per-record failures are collected and skipped; siblings
// continue.
func Homeworks(doc *snapshot.HomeworkDocument, logger *log.Logger) ([]*Homework, []RecordError) {
	if logger == nil {
		logger = log.Default()
	}

	var homeworks []*Homework
	var failures []RecordError

	for i, raw := range doc.Homework {
		hw, err := convertHomework(raw)
		if err != nil {
			logger.Printf("skipping homework record %d: %v", i, err)
			failures = append(failures, RecordError{Index: i, Err: err.Error(), Raw: raw})
			continue
		}
		homeworks = append(homeworks, hw)
	}

	return homeworks, failures
}

func convertHomework(raw json.RawMessage) (*Homework, error) {
	var rh snapshot.RawHomework
	if err := json.Unmarshal(raw, &rh); err != nil {
		return nil, fmt.Errorf("malformed homework record: %w", err)
	}

	if rh.Subject == "" {
		return nil, fmt.Errorf("homework %d has no subject", rh.ID)
	}

	due, err := snapshot.ParseTimestamp(rh.Due)
	if err != nil {
		return nil, fmt.Errorf("homework %d due: %w", rh.ID, err)
	}
	assigned, err := snapshot.ParseTimestamp(rh.Assigned)
	if err != nil {
		return nil, fmt.Errorf("homework %d assigned: %w", rh.ID, err)
	}

	hw := &Homework{
		SourceID:           rh.ID,
		Subject:            rh.Subject,
		CourseSourceID:     rh.CourseID,
		Due:                due,
		Assigned:           assigned,
		Completed:          rh.Completed,
		Formatted:          rh.Formatted,
		RequiresSubmission: rh.RequiresSubmission,
		SubmissionType:     rh.SubmissionType,
		Difficulty:         rh.Difficulty,
		DurationMinutes:    rh.Duration,
		Description:        rh.Description,
		PublicName:         rh.PublicName,
		Color:              rh.Color,
		Themes:             rh.Themes,
		Raw:                raw,
	}
	for _, a := range rh.Attachments {
		hw.Attachments = append(hw.Attachments, Attachment{
			SourceID: a.ID,
			Name:     a.Name,
			Type:     a.Type,
		})
	}

	hw.Checksum = HomeworkChecksum(hw)
	return hw, nil
}
