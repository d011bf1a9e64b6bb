package convert

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/avigny/cartable/internal/snapshot"
)

// Courses converts a raw course snapshot document into normalized course
// records.
//
// Records that cannot be converted are returned as RecordErrors together
// with their raw payload; siblings are unaffected. Malformed nested content
// items are logged and skipped without failing their course.
func Courses(doc *snapshot.CourseDocument, logger *log.Logger) ([]*Course, []RecordError) {
	if logger == nil {
		logger = log.Default()
	}

	var courses []*Course
	var failures []RecordError

	for i, raw := range doc.Courses {
		course, err := convertCourse(raw, doc.Subjects, logger)
		if err != nil {
			logger.Printf("skipping course record %d: %v", i, err)
			failures = append(failures, RecordError{Index: i, Err: err.Error(), Raw: raw})
			continue
		}
		courses = append(courses, course)
	}

	return courses, failures
}

func convertCourse(raw json.RawMessage, subjects map[string]string, logger *log.Logger) (*Course, error) {
	var rc snapshot.RawCourse
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("malformed course record: %w", err)
	}

	subject := rc.Subject
	if subject == "" {
		subject = subjects[rc.SubjectID]
	}
	if subject == "" {
		return nil, fmt.Errorf("course %d has no resolvable subject", rc.ID)
	}

	start, err := snapshot.ParseTimestamp(rc.Start)
	if err != nil {
		return nil, fmt.Errorf("course %d start: %w", rc.ID, err)
	}
	end, err := snapshot.ParseTimestamp(rc.End)
	if err != nil {
		return nil, fmt.Errorf("course %d end: %w", rc.ID, err)
	}

	course := &Course{
		SourceID: rc.ID,
		Subject:  subject,
		Teachers: sortedTeachers(rc.Teachers),
		Start:    start,
		End:      end,
		Color:    rc.Color,
		Locked:   rc.Locked,
	}

	if rc.HomeworkDue != nil && *rc.HomeworkDue != "" {
		due, err := snapshot.ParseTimestamp(*rc.HomeworkDue)
		if err != nil {
			return nil, fmt.Errorf("course %d homeworkDue: %w", rc.ID, err)
		}
		course.HomeworkDue = &due
	}

	for j, rawContent := range rc.Contents {
		item := convertContent(rawContent)
		if item == nil {
			// Malformed nested content is not fatal to the course.
			logger.Printf("skipping malformed content item %d of course %d", j, rc.ID)
			continue
		}
		course.Contents = append(course.Contents, *item)
	}

	course.Checksum = CourseChecksum(course)
	return course, nil
}

// convertContent decodes one nested content item. Returns nil when the item
// is malformed (the caller logs and skips it).
func convertContent(raw json.RawMessage) *Content {
	var rc snapshot.RawContent
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil
	}
	if rc.Description == "" && len(rc.Attachments) == 0 {
		return nil
	}

	item := &Content{
		SourceID:    rc.ID,
		Description: rc.Description,
		Begin:       rc.Begin,
		End:         rc.End,
		Locked:      rc.Locked,
	}
	for _, a := range rc.Attachments {
		item.Attachments = append(item.Attachments, Attachment{
			SourceID: a.ID,
			Name:     a.Name,
			Type:     a.Type,
		})
	}
	return item
}

// sortedTeachers returns a sorted copy so teacher ordering quirks in the
// source never change natural keys.
func sortedTeachers(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
