package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/avigny/cartable/internal/convert"
	"github.com/avigny/cartable/internal/identity"
	"github.com/avigny/cartable/internal/snapshot"
	"github.com/avigny/cartable/internal/warehouse"
)

// runContext is the per-run-directory mutable state: the in-batch dedup
// maps, the course mapping populated during course ingestion, and the
// accumulating diagnostics report. It is created fresh for every run
// directory so nothing leaks across runs.
type runContext struct {
	run   snapshot.RunDir
	info  *snapshot.StudentInfo
	crawl time.Time

	// Dimension ids, resolved lazily inside each file's transaction.
	studentID   int64
	schoolID    int64
	gradeID     int64
	crawlDateID int64
	resolved    bool

	// courseKeys maps the run's source-local course ids to natural keys;
	// courseRows maps natural keys to fact row ids.
	courseKeys map[int64]string
	courseRows map[string]int64

	dedup    *identity.Deduper
	keyOwner map[string]int64 // base key -> first claimant's source id

	runKeys     []string // homework keys observed in this run
	courseList  []CourseRecord
	homeworkIDs []HomeworkIDRecord

	report  *RunReport
	didWork bool

	// homeworkSynced is set once the run's homework file is PROCESSED in
	// the ledger, in this pass or a prior one. Only such runs move the
	// reaper cutoff forward.
	homeworkSynced bool
}

func newRunContext(run snapshot.RunDir, info *snapshot.StudentInfo, crawl time.Time) *runContext {
	return &runContext{
		run:         run,
		info:        info,
		crawl:       crawl,
		courseKeys:  make(map[int64]string),
		courseRows:  make(map[string]int64),
		dedup:       identity.NewDeduper(),
		keyOwner:    make(map[string]int64),
		courseList:  []CourseRecord{},
		homeworkIDs: []HomeworkIDRecord{},
		report:      newRunReport(run, info.CrawlDate),
	}
}

// resolveDims gets-or-inserts the student, school, grade and crawl-date
// dimension rows. Cached after the first call; the first caller runs inside
// a transaction that commits before any later use.
func (rc *runContext) resolveDims(ctx context.Context, tx *warehouse.Tx) error {
	if rc.resolved {
		return nil
	}

	var err error
	if rc.studentID, err = tx.StudentID(ctx, rc.info.Name); err != nil {
		return err
	}
	if rc.schoolID, err = tx.SchoolID(ctx, rc.info.School); err != nil {
		return err
	}
	if rc.gradeID, err = tx.GradeID(ctx, rc.info.Grade); err != nil {
		return err
	}
	if rc.crawlDateID, err = tx.DateID(ctx, rc.crawl); err != nil {
		return err
	}

	rc.resolved = true
	return nil
}

func (rc *runContext) recordConversionErrors(file string, errs []convert.RecordError) {
	if len(errs) == 0 {
		return
	}
	rc.report.ConversionErrors = append(rc.report.ConversionErrors, FileRecordErrors{
		File:   file,
		Errors: errs,
	})
}

// processRun synchronizes one run directory.
//
// All three files are registered WAITING in the ledger before any side
// effect. Files already PROCESSED are skipped; a whole-file parse failure
// marks that file ERROR and the siblings are still attempted. Only a
// storage failure aborts the directory.
func (e *Engine) processRun(ctx context.Context, run snapshot.RunDir, sum *RunSummary) (*runContext, error) {
	infoPath := run.File(snapshot.StudentInfoFile)
	coursePath := run.File(snapshot.CoursesFile)
	homeworkPath := run.File(snapshot.HomeworkFile)

	for _, p := range []string{infoPath, coursePath, homeworkPath} {
		if err := e.db.RegisterFile(ctx, p); err != nil {
			return nil, err
		}
	}

	info, err := snapshot.ReadStudentInfo(infoPath)
	if err != nil {
		// Without the student identity the siblings cannot be attributed;
		// the whole directory is retried next run.
		_ = e.db.SetFileStatus(ctx, infoPath, warehouse.StatusError)
		return nil, err
	}
	crawl, err := snapshot.ParseTimestamp(info.CrawlDate)
	if err != nil {
		_ = e.db.SetFileStatus(ctx, infoPath, warehouse.StatusError)
		return nil, err
	}

	rc := newRunContext(run, info, crawl)

	if err := e.processCourseFile(ctx, rc, coursePath, sum); err != nil {
		return rc, err
	}
	if err := e.processHomeworkFile(ctx, rc, homeworkPath, sum); err != nil {
		return rc, err
	}

	// The student-info file has no transaction of its own; it is settled
	// once both siblings are.
	if done, err := e.siblingsProcessed(ctx, coursePath, homeworkPath); err == nil && done {
		if err := e.db.SetFileStatus(ctx, infoPath, warehouse.StatusProcessed); err != nil {
			return rc, err
		}
	}

	return rc, nil
}

func (e *Engine) siblingsProcessed(ctx context.Context, paths ...string) (bool, error) {
	for _, p := range paths {
		status, err := e.db.FileStatus(ctx, p)
		if err != nil {
			return false, err
		}
		if status != warehouse.StatusProcessed {
			return false, nil
		}
	}
	return true, nil
}

// processCourseFile converts and upserts the course snapshot inside a
// single transaction, then writes the courses.json artifact.
func (e *Engine) processCourseFile(ctx context.Context, rc *runContext, path string, sum *RunSummary) error {
	status, err := e.db.FileStatus(ctx, path)
	if err != nil {
		return err
	}
	if status == warehouse.StatusProcessed {
		e.log.Printf("skipping already processed %s", path)
		sum.FilesSkipped++
		return nil
	}

	doc, err := snapshot.ReadCourseDocument(path)
	if err != nil {
		// MalformedSnapshot: mark ERROR, keep going with the sibling.
		e.log.Printf("malformed course snapshot %s: %v", path, err)
		rc.report.MalformedFiles = append(rc.report.MalformedFiles, MalformedFile{
			File:  snapshot.CoursesFile,
			Error: err.Error(),
		})
		sum.MalformedFiles++
		rc.didWork = true
		return e.db.SetFileStatus(ctx, path, warehouse.StatusError)
	}

	courses, failures := convert.Courses(doc, e.log)
	rc.recordConversionErrors(snapshot.CoursesFile, failures)
	sum.ConversionErrors += len(failures)

	err = e.db.InTransaction(ctx, func(tx *warehouse.Tx) error {
		if err := rc.resolveDims(ctx, tx); err != nil {
			return err
		}
		for _, c := range courses {
			if err := e.upsertCourse(ctx, tx, rc, c, sum); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = e.db.SetFileStatus(ctx, path, warehouse.StatusError)
		return fmt.Errorf("course transaction failed: %w", err)
	}

	if err := e.db.SetFileStatus(ctx, path, warehouse.StatusProcessed); err != nil {
		return err
	}
	rc.didWork = true

	if err := writeArtifact(e.artifactDir(rc.run), CoursesArtifact, rc.courseList); err != nil {
		e.log.Printf("failed to write courses artifact for %s: %v", rc.run.Path, err)
	}
	return nil
}

// processHomeworkFile converts and upserts the homework snapshot inside a
// single transaction, computes the run/global key differences, then writes
// the homeworkIds.json artifact.
func (e *Engine) processHomeworkFile(ctx context.Context, rc *runContext, path string, sum *RunSummary) error {
	status, err := e.db.FileStatus(ctx, path)
	if err != nil {
		return err
	}
	if status == warehouse.StatusProcessed {
		e.log.Printf("skipping already processed %s", path)
		sum.FilesSkipped++
		rc.homeworkSynced = true
		return nil
	}

	doc, err := snapshot.ReadHomeworkDocument(path)
	if err != nil {
		e.log.Printf("malformed homework snapshot %s: %v", path, err)
		rc.report.MalformedFiles = append(rc.report.MalformedFiles, MalformedFile{
			File:  snapshot.HomeworkFile,
			Error: err.Error(),
		})
		sum.MalformedFiles++
		rc.didWork = true
		return e.db.SetFileStatus(ctx, path, warehouse.StatusError)
	}

	homeworks, failures := convert.Homeworks(doc, e.log)
	rc.recordConversionErrors(snapshot.HomeworkFile, failures)
	sum.ConversionErrors += len(failures)

	err = e.db.InTransaction(ctx, func(tx *warehouse.Tx) error {
		if err := rc.resolveDims(ctx, tx); err != nil {
			return err
		}

		keysBefore, err := tx.HomeworkKeys(ctx, rc.studentID)
		if err != nil {
			return err
		}

		for _, h := range homeworks {
			if err := e.upsertHomework(ctx, tx, rc, h, sum); err != nil {
				return err
			}
		}

		rc.report.NewHomeworkKeys = diffKeys(rc.runKeys, keysBefore)
		rc.report.DisappearedHomeworkKeys = diffKeys(keysBefore, rc.runKeys)
		return nil
	})
	if err != nil {
		_ = e.db.SetFileStatus(ctx, path, warehouse.StatusError)
		return fmt.Errorf("homework transaction failed: %w", err)
	}

	if err := e.db.SetFileStatus(ctx, path, warehouse.StatusProcessed); err != nil {
		return err
	}
	rc.didWork = true
	rc.homeworkSynced = true

	if err := writeArtifact(e.artifactDir(rc.run), HomeworkIDsArtifact, rc.homeworkIDs); err != nil {
		e.log.Printf("failed to write homework ids artifact for %s: %v", rc.run.Path, err)
	}
	return nil
}

// diffKeys returns the members of a that are absent from b, sorted.
func diffKeys(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, k := range b {
		in[k] = true
	}
	out := []string{}
	for _, k := range a {
		if !in[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
