package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/avigny/cartable/internal/convert"
	"github.com/avigny/cartable/internal/snapshot"
	"github.com/avigny/cartable/internal/warehouse"
)

// Artifact file names written next to each processed run directory.
const (
	CoursesArtifact     = "courses.json"
	HomeworkIDsArtifact = "homeworkIds.json"
	ErrorsArtifact      = "errorsReport.json"
)

// MalformedFile records a snapshot file that failed to parse as a whole.
type MalformedFile struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// FileRecordErrors groups per-record conversion failures by source file.
type FileRecordErrors struct {
	File   string                `json:"file"`
	Errors []convert.RecordError `json:"errors"`
}

// DuplicatedKey records an in-run natural-key collision between two
// homework entries, with both source ids for diagnosis.
type DuplicatedKey struct {
	Key             string `json:"homeworkKey"`
	FirstHomeworkID int64  `json:"firstHomeworkId"`
	HomeworkID      int64  `json:"homeworkId"`
}

// UnknownCompletion records a homework observed already completed on its
// very first sighting.
type UnknownCompletion struct {
	HomeworkID int64  `json:"homeworkId"`
	Key        string `json:"homeworkKey"`
}

// UnresolvedCourseRef records a homework whose source course reference was
// not found in the run's course mapping.
type UnresolvedCourseRef struct {
	HomeworkID int64 `json:"homeworkId"`
	CourseID   int64 `json:"courseId"`
}

// RunReport is the per-run-directory diagnostics artifact
// (errorsReport.json). It is a side channel: nothing in the engine consumes
// it.
type RunReport struct {
	RunDir    string `json:"runDir"`
	Student   string `json:"student"`
	CrawlDate string `json:"crawlDate"`

	MalformedFiles   []MalformedFile    `json:"malformedFiles"`
	ConversionErrors []FileRecordErrors `json:"conversionErrors"`

	DuplicatedIDs        []DuplicatedKey       `json:"duplicatedIds"`
	UnknownCompletionIDs []UnknownCompletion   `json:"unknownCompletionIds"`
	UnresolvedCourseRefs []UnresolvedCourseRef `json:"unresolvedCourseRefs"`

	NewHomeworkKeys         []string `json:"newHomeworkKeys"`
	DisappearedHomeworkKeys []string `json:"disappearedHomeworkKeys"`

	Reaped []warehouse.ReapedHomework `json:"reaped"`
}

func newRunReport(run snapshot.RunDir, crawlDate string) *RunReport {
	return &RunReport{
		RunDir:                  run.Path,
		Student:                 run.Student,
		CrawlDate:               crawlDate,
		MalformedFiles:          []MalformedFile{},
		ConversionErrors:        []FileRecordErrors{},
		DuplicatedIDs:           []DuplicatedKey{},
		UnknownCompletionIDs:    []UnknownCompletion{},
		UnresolvedCourseRefs:    []UnresolvedCourseRef{},
		NewHomeworkKeys:         []string{},
		DisappearedHomeworkKeys: []string{},
		Reaped:                  []warehouse.ReapedHomework{},
	}
}

// CourseRecord is one entry of the courses.json debug artifact: the
// normalized course with its derived identity.
type CourseRecord struct {
	NaturalKey  string            `json:"courseKey"`
	Subject     string            `json:"subject"`
	Teachers    []string          `json:"teachers"`
	Start       string            `json:"start"`
	End         string            `json:"end"`
	HomeworkDue string            `json:"homeworkDue,omitempty"`
	Locked      bool              `json:"locked"`
	Color       string            `json:"color"`
	Contents    []convert.Content `json:"contents"`
	Checksum    string            `json:"checksum"`
}

// HomeworkIDRecord is one entry of the homeworkIds.json artifact, listing
// every homework seen in the run with its derived identity.
type HomeworkIDRecord struct {
	HomeworkID      int64  `json:"homeworkId"`
	HomeworkKey     string `json:"homeworkKey"`
	Subject         string `json:"subject"`
	DueDate         string `json:"dueDate"`
	AssignedDate    string `json:"assignedDate"`
	SubmissionType  string `json:"submissionType"`
	Description     string `json:"description"`
	PlannedCourseID *int64 `json:"plannedCourseId"`
	CourseKey       string `json:"courseKey"`
}

// artifactDir resolves where a run directory's artifacts go: the run
// directory itself, or its mirror under the configured artifacts root.
func (e *Engine) artifactDir(run snapshot.RunDir) string {
	if e.cfg.ArtifactsRoot == "" {
		return run.Path
	}
	return filepath.Join(e.cfg.ArtifactsRoot, run.Student, run.Name)
}

// writeArtifact writes a JSON artifact atomically via temp file + rename.
func writeArtifact(dir, name string, v interface{}) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
