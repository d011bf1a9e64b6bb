package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avigny/cartable/internal/convert"
	"github.com/avigny/cartable/internal/identity"
	"github.com/avigny/cartable/internal/snapshot"
	"github.com/avigny/cartable/internal/warehouse"
)

// upsertCourse inserts or updates one course fact.
//
// The checksum decides: absent -> insert, changed -> update with audit
// trail bump, identical -> no-op. Courses are never deleted.
func (e *Engine) upsertCourse(ctx context.Context, tx *warehouse.Tx, rc *runContext, c *convert.Course, sum *RunSummary) error {
	key := identity.CourseKey(c)
	rc.courseKeys[c.SourceID] = key

	subjectID, err := tx.SubjectID(ctx, c.Subject, c.Color)
	if err != nil {
		return err
	}

	var teacherID *int64
	if len(c.Teachers) > 0 {
		id, err := tx.TeacherID(ctx, c.Teachers[0], subjectID)
		if err != nil {
			return err
		}
		teacherID = &id
	}

	startID, err := tx.DateID(ctx, c.Start)
	if err != nil {
		return err
	}
	endID, err := tx.DateID(ctx, c.End)
	if err != nil {
		return err
	}
	var dueID *int64
	if c.HomeworkDue != nil {
		id, err := tx.DateID(ctx, *c.HomeworkDue)
		if err != nil {
			return err
		}
		dueID = &id
	}

	contents := c.Contents
	if contents == nil {
		contents = []convert.Content{}
	}
	contentJSON, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("failed to serialize content list: %w", err)
	}

	sourceFile := rc.run.File(snapshot.CoursesFile)

	existing, err := tx.CourseByKey(ctx, key)
	if err != nil {
		return err
	}

	switch {
	case existing == nil:
		fact := &warehouse.CourseFact{
			NaturalKey:        key,
			StudentID:         rc.studentID,
			SchoolID:          rc.schoolID,
			GradeID:           rc.gradeID,
			SubjectID:         subjectID,
			TeacherID:         teacherID,
			StartDateID:       startID,
			EndDateID:         endID,
			HomeworkDueDateID: dueID,
			Content:           string(contentJSON),
			Locked:            c.Locked,
			Checksum:          c.Checksum,
			UpdateCount:       1,
			FirstSeenDateID:   rc.crawlDateID,
			LastSeenDateID:    rc.crawlDateID,
			UpdateFiles:       []string{sourceFile},
		}
		id, err := tx.InsertCourse(ctx, fact)
		if err != nil {
			return err
		}
		rc.courseRows[key] = id
		sum.CoursesInserted++

	case existing.Checksum != c.Checksum:
		existing.SubjectID = subjectID
		existing.TeacherID = teacherID
		existing.StartDateID = startID
		existing.EndDateID = endID
		existing.HomeworkDueDateID = dueID
		existing.Content = string(contentJSON)
		existing.Locked = c.Locked
		existing.Checksum = c.Checksum
		existing.UpdateCount++
		existing.LastSeenDateID = rc.crawlDateID
		existing.UpdateFiles = append(existing.UpdateFiles, sourceFile)
		if err := tx.UpdateCourse(ctx, existing); err != nil {
			return err
		}
		rc.courseRows[key] = existing.ID
		sum.CoursesUpdated++

	default:
		rc.courseRows[key] = existing.ID
		sum.CoursesUnchanged++
	}

	record := CourseRecord{
		NaturalKey: key,
		Subject:    c.Subject,
		Teachers:   c.Teachers,
		Start:      c.Start.Format(convert.KeyTimeLayout),
		End:        c.End.Format(convert.KeyTimeLayout),
		Locked:     c.Locked,
		Color:      c.Color,
		Contents:   contents,
		Checksum:   c.Checksum,
	}
	if c.HomeworkDue != nil {
		record.HomeworkDue = c.HomeworkDue.Format(convert.KeyTimeLayout)
	}
	rc.courseList = append(rc.courseList, record)

	return nil
}

// upsertHomework inserts or updates one homework fact, including natural
// key dedup, course-reference resolution and the completion state machine.
//
// An identical checksum still clears the temporary flag: that is how a
// re-observed, unchanged homework is confirmed and exempted from reaping.
func (e *Engine) upsertHomework(ctx context.Context, tx *warehouse.Tx, rc *runContext, h *convert.Homework, sum *RunSummary) error {
	courseKey := ""
	var courseID *int64
	if h.CourseSourceID != nil {
		if k, ok := rc.courseKeys[*h.CourseSourceID]; ok {
			courseKey = k
			if rowID, ok := rc.courseRows[k]; ok {
				id := rowID
				courseID = &id
			}
		} else {
			e.log.Printf("homework %d references unknown course %d", h.SourceID, *h.CourseSourceID)
			rc.report.UnresolvedCourseRefs = append(rc.report.UnresolvedCourseRefs, UnresolvedCourseRef{
				HomeworkID: h.SourceID,
				CourseID:   *h.CourseSourceID,
			})
		}
	}

	base := identity.HomeworkKey(h, courseKey)
	key, collided := rc.dedup.Claim(base)
	if collided {
		e.log.Printf("duplicate homework key %s (source ids %d and %d)", base, rc.keyOwner[base], h.SourceID)
		rc.report.DuplicatedIDs = append(rc.report.DuplicatedIDs, DuplicatedKey{
			Key:             key,
			FirstHomeworkID: rc.keyOwner[base],
			HomeworkID:      h.SourceID,
		})
		sum.Duplicates++
	} else {
		rc.keyOwner[base] = h.SourceID
	}

	subjectID, err := tx.SubjectID(ctx, h.Subject, h.Color)
	if err != nil {
		return err
	}
	dueID, err := tx.DateID(ctx, h.Due)
	if err != nil {
		return err
	}
	assignedID, err := tx.DateID(ctx, h.Assigned)
	if err != nil {
		return err
	}

	// Max completion duration is derivable whenever both dates are, which
	// post-conversion is always; independent of completion state.
	maxDuration := int64(h.Due.Sub(h.Assigned).Seconds())

	attachments := h.Attachments
	if attachments == nil {
		attachments = []convert.Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("failed to serialize attachments: %w", err)
	}
	themes := h.Themes
	if themes == nil {
		themes = []string{}
	}

	sourceFile := rc.run.File(snapshot.HomeworkFile)

	existing, err := tx.HomeworkByKey(ctx, key)
	if err != nil {
		return err
	}

	switch {
	case existing == nil:
		res := EvaluateCompletion(CompletionInput{
			Current:          StateInProgress,
			Completed:        h.Completed,
			FirstObservation: true,
			Now:              rc.crawl,
			Due:              h.Due,
			Assigned:         h.Assigned,
		}, e.cfg.DueTolerance, e.cfg.OverdueGrace)

		if res.State == StateUnknown {
			e.log.Printf("homework %d completed on first sighting, completion origin unknown", h.SourceID)
			rc.report.UnknownCompletionIDs = append(rc.report.UnknownCompletionIDs, UnknownCompletion{
				HomeworkID: h.SourceID,
				Key:        key,
			})
		}

		fact := &warehouse.HomeworkFact{
			NaturalKey:            key,
			CourseID:              courseID,
			StudentID:             rc.studentID,
			SchoolID:              rc.schoolID,
			GradeID:               rc.gradeID,
			SubjectID:             subjectID,
			DueDateID:             dueID,
			AssignedDateID:        assignedID,
			Description:           h.Description,
			RequiresSubmission:    h.RequiresSubmission,
			SubmissionType:        h.SubmissionType,
			Difficulty:            h.Difficulty,
			Completed:             h.Completed,
			CompletionState:       string(res.State),
			MaxCompletionDuration: &maxDuration,
			BackgroundColor:       h.Color,
			PublicName:            h.PublicName,
			Themes:                themes,
			Attachments:           string(attachmentsJSON),
			Checksum:              h.Checksum,
			UpdateCount:           1,
			FirstSeenDateID:       rc.crawlDateID,
			LastSeenDateID:        rc.crawlDateID,
			UpdateFiles:           []string{sourceFile},
			Temporary:             true,
			RawJSON:               string(h.Raw),
		}
		if res.CompletedAt != nil {
			id, err := tx.DateID(ctx, *res.CompletedAt)
			if err != nil {
				return err
			}
			fact.CompletedDateID = &id
		}
		if res.Duration != nil {
			secs := int64(res.Duration.Seconds())
			fact.CompletionDuration = &secs
		}

		if _, err := tx.InsertHomework(ctx, fact); err != nil {
			return err
		}
		sum.HomeworkInserted++

	case existing.Checksum != h.Checksum:
		res := EvaluateCompletion(CompletionInput{
			Current:          CompletionState(existing.CompletionState),
			Completed:        h.Completed,
			FirstObservation: false,
			Now:              rc.crawl,
			Due:              h.Due,
			Assigned:         h.Assigned,
		}, e.cfg.DueTolerance, e.cfg.OverdueGrace)

		if string(res.State) != existing.CompletionState {
			existing.CompletionState = string(res.State)
			if res.CompletedAt != nil {
				id, err := tx.DateID(ctx, *res.CompletedAt)
				if err != nil {
					return err
				}
				existing.CompletedDateID = &id
			}
			if res.Duration != nil {
				secs := int64(res.Duration.Seconds())
				existing.CompletionDuration = &secs
			}
		}

		// A previously resolved course link survives a run where the
		// reference didn't resolve (e.g. the course file was skipped).
		if courseID != nil {
			existing.CourseID = courseID
		}
		existing.SubjectID = subjectID
		existing.DueDateID = dueID
		existing.AssignedDateID = assignedID
		existing.Description = h.Description
		existing.RequiresSubmission = h.RequiresSubmission
		existing.SubmissionType = h.SubmissionType
		existing.Difficulty = h.Difficulty
		existing.Completed = h.Completed
		existing.MaxCompletionDuration = &maxDuration
		existing.BackgroundColor = h.Color
		existing.PublicName = h.PublicName
		existing.Themes = themes
		existing.Attachments = string(attachmentsJSON)
		existing.Checksum = h.Checksum
		existing.UpdateCount++
		existing.LastSeenDateID = rc.crawlDateID
		existing.UpdateFiles = append(existing.UpdateFiles, sourceFile)
		existing.Temporary = false
		existing.RawJSON = string(h.Raw)

		if err := tx.UpdateHomework(ctx, existing); err != nil {
			return err
		}
		sum.HomeworkUpdated++

	default:
		// Unchanged content confirms the record without bumping the audit
		// trail.
		if existing.Temporary {
			if err := tx.ConfirmHomework(ctx, existing.ID); err != nil {
				return err
			}
			sum.HomeworkConfirmed++
		} else {
			sum.HomeworkUnchanged++
		}
	}

	rc.runKeys = append(rc.runKeys, key)
	rc.homeworkIDs = append(rc.homeworkIDs, HomeworkIDRecord{
		HomeworkID:      h.SourceID,
		HomeworkKey:     key,
		Subject:         h.Subject,
		DueDate:         h.Due.Format(convert.KeyTimeLayout),
		AssignedDate:    h.Assigned.Format(convert.KeyTimeLayout),
		SubmissionType:  h.SubmissionType,
		Description:     h.Description,
		PlannedCourseID: h.CourseSourceID,
		CourseKey:       courseKey,
	})

	return nil
}
