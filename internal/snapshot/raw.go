package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Timestamp layouts emitted by the portal, tried in order. The source is
// inconsistent: some fields carry seconds, some only minutes, bare dates
// carry neither.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a source-local timestamp string.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// StudentInfo is the per-run student identity capture.
type StudentInfo struct {
	Name          string `json:"name"`
	Grade         string `json:"grade"`
	School        string `json:"school"`
	SessionNumber int    `json:"sessionNumber"`
	CrawlDate     string `json:"crawlDate"`
}

// Validate checks the fields the sync engine cannot proceed without.
func (s *StudentInfo) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.School == "" {
		return fmt.Errorf("school is required")
	}
	if s.Grade == "" {
		return fmt.Errorf("grade is required")
	}
	if _, err := ParseTimestamp(s.CrawlDate); err != nil {
		return fmt.Errorf("invalid crawlDate: %w", err)
	}
	return nil
}

// ReadStudentInfo reads and validates a studentInfo.json file.
func ReadStudentInfo(path string) (*StudentInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read student info %s: %w", path, err)
	}

	var info StudentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse student info %s: %w", path, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid student info %s: %w", path, err)
	}
	return &info, nil
}

// CourseDocument is the top-level structure of cahierDeTexte-courses.json.
//
// Course items stay raw so that a single malformed entry can be skipped
// without failing the file.
type CourseDocument struct {
	CrawlDate string            `json:"crawlDate"`
	Subjects  map[string]string `json:"subjects"` // source subject id -> name
	Courses   []json.RawMessage `json:"courses"`
}

// ReadCourseDocument reads and parses a course snapshot file.
func ReadCourseDocument(path string) (*CourseDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read course snapshot %s: %w", path, err)
	}

	var doc CourseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse course snapshot %s: %w", path, err)
	}
	if _, err := ParseTimestamp(doc.CrawlDate); err != nil {
		return nil, fmt.Errorf("invalid course snapshot %s: %w", path, err)
	}
	return &doc, nil
}

// HomeworkDocument is the top-level structure of
// cahierDeTexte-travailAFaire.json.
type HomeworkDocument struct {
	CrawlDate string            `json:"crawlDate"`
	Homework  []json.RawMessage `json:"homework"`
}

// ReadHomeworkDocument reads and parses a homework snapshot file.
func ReadHomeworkDocument(path string) (*HomeworkDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read homework snapshot %s: %w", path, err)
	}

	var doc HomeworkDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse homework snapshot %s: %w", path, err)
	}
	if _, err := ParseTimestamp(doc.CrawlDate); err != nil {
		return nil, fmt.Errorf("invalid homework snapshot %s: %w", path, err)
	}
	return &doc, nil
}

// RawCourse is one loosely-typed course entry. Optional fields are
// pointers so "absent" is distinguishable from the zero value; nested
// content items stay raw for per-item error recovery.
type RawCourse struct {
	ID          int64             `json:"id"`
	SubjectID   string            `json:"subjectId"`
	Subject     string            `json:"subject"`
	Teachers    []string          `json:"teachers"`
	Start       string            `json:"start"`
	End         string            `json:"end"`
	HomeworkDue *string           `json:"homeworkDue"`
	Color       string            `json:"color"`
	Locked      bool              `json:"locked"`
	Contents    []json.RawMessage `json:"contents"`
}

// RawContent is one nested content item of a course entry.
type RawContent struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	Begin       string          `json:"begin"`
	End         string          `json:"end"`
	Locked      bool            `json:"locked"`
	Attachments []RawAttachment `json:"attachments"`
}

// RawAttachment is a file attached to a content item or homework entry.
type RawAttachment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// RawHomework is one loosely-typed homework entry.
type RawHomework struct {
	ID                 int64           `json:"id"`
	Subject            string          `json:"subject"`
	CourseID           *int64          `json:"courseId"`
	Due                string          `json:"due"`
	Assigned           string          `json:"assigned"`
	Completed          bool            `json:"completed"`
	Formatted          bool            `json:"formatted"`
	RequiresSubmission bool            `json:"requiresSubmission"`
	SubmissionType     string          `json:"submissionType"`
	Difficulty         int             `json:"difficulty"`
	Duration           *int            `json:"duration"` // minutes
	Description        string          `json:"description"`
	PublicName         string          `json:"publicName"`
	Color              string          `json:"color"`
	Themes             []string        `json:"themes"`
	Attachments        []RawAttachment `json:"attachments"`
}
