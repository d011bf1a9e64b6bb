package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/avigny/cartable/internal/snapshot"
	"github.com/avigny/cartable/internal/warehouse"
)

func testEngine(t *testing.T) (*Engine, *warehouse.DB) {
	t.Helper()

	db, err := warehouse.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return New(db, cfg), db
}

func studentInfoJSON(crawl string) string {
	return fmt.Sprintf(`{"name":"Zoé","grade":"3emeB","school":"Collège Jean Moulin","sessionNumber":1,"crawlDate":"%s"}`, crawl)
}

func coursesJSON(crawl string, courses ...string) string {
	body := "[]"
	if len(courses) > 0 {
		body = "[" + courses[0]
		for _, c := range courses[1:] {
			body += "," + c
		}
		body += "]"
	}
	return fmt.Sprintf(`{"crawlDate":"%s","subjects":{},"courses":%s}`, crawl, body)
}

func homeworkJSON(crawl string, items ...string) string {
	body := "[]"
	if len(items) > 0 {
		body = "[" + items[0]
		for _, h := range items[1:] {
			body += "," + h
		}
		body += "]"
	}
	return fmt.Sprintf(`{"crawlDate":"%s","homework":%s}`, crawl, body)
}

func writeRun(t *testing.T, root, student, run, info, courses, homework string) string {
	t.Helper()
	dir := filepath.Join(root, student, run)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		snapshot.StudentInfoFile: info,
		snapshot.CoursesFile:     courses,
		snapshot.HomeworkFile:    homework,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func countRows(t *testing.T, db *warehouse.DB, table string) int {
	t.Helper()
	var n int
	if err := db.RawDB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}

func readReport(t *testing.T, runDir string) *RunReport {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(runDir, ErrorsArtifact))
	if err != nil {
		t.Fatalf("failed to read errors report: %v", err)
	}
	var report RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("failed to parse errors report: %v", err)
	}
	return &report
}

const (
	crawl1 = "2026-03-01 18:00:00"
	crawl2 = "2026-03-02 18:00:00"
)

const mathsCourse = `{
	"id": 101, "subject": "Maths", "teachers": ["DUPONT A."],
	"start": "2026-03-02 08:00", "end": "2026-03-02 09:00",
	"color": "#A3F", "locked": false,
	"contents": [{"id": 7, "description": "Équations"}]
}`

func mathsHomework(id int, completed bool, description string) string {
	return fmt.Sprintf(`{
		"id": %d, "subject": "Maths", "courseId": 101,
		"due": "2026-03-05 18:00:00", "assigned": "2026-03-01 10:00:00",
		"completed": %v, "submissionType": "paper",
		"description": %q
	}`, id, completed, description)
}

func TestProcess_InsertThenIdempotent(t *testing.T) {
	eng, db := testEngine(t)
	root := t.TempDir()

	runDir := writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1, mathsCourse),
		homeworkJSON(crawl1,
			mathsHomework(500, false, "Réviser le chapitre 4"),
			mathsHomework(501, false, "Exercices 12 à 15"),
		),
	)
	// An incomplete run directory is reported and skipped.
	if err := os.MkdirAll(filepath.Join(root, "zoe", "2026-02-28--18-00"), 0755); err != nil {
		t.Fatal(err)
	}

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if sum.Students != 1 || sum.DirsProcessed != 1 || sum.DirsSkipped != 1 {
		t.Errorf("dirs: %+v", sum)
	}
	if sum.CoursesInserted != 1 || sum.HomeworkInserted != 2 {
		t.Errorf("inserts: courses=%d homework=%d", sum.CoursesInserted, sum.HomeworkInserted)
	}
	if sum.Errors != 0 || sum.Duplicates != 0 || sum.Reaped != 0 {
		t.Errorf("unexpected failures: %+v", sum)
	}

	if n := countRows(t, db, "courses"); n != 1 {
		t.Errorf("courses rows = %d", n)
	}
	if n := countRows(t, db, "homework"); n != 2 {
		t.Errorf("homework rows = %d", n)
	}

	// Course references resolve to the fact row.
	var linked int
	if err := db.RawDB().QueryRow(
		"SELECT COUNT(*) FROM homework WHERE course_id IS NOT NULL").Scan(&linked); err != nil {
		t.Fatal(err)
	}
	if linked != 2 {
		t.Errorf("linked homework = %d, want 2", linked)
	}

	// All three artifacts land in the run directory.
	for _, name := range []string{CoursesArtifact, HomeworkIDsArtifact, ErrorsArtifact} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}

	// A second pass is a ledger no-op.
	sum2, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("second Process() error: %v", err)
	}
	if sum2.FilesSkipped != 2 || sum2.DirsProcessed != 0 {
		t.Errorf("second pass: skipped=%d processed=%d", sum2.FilesSkipped, sum2.DirsProcessed)
	}
	if sum2.CoursesInserted != 0 || sum2.HomeworkInserted != 0 || sum2.Reaped != 0 {
		t.Errorf("second pass must not change anything: %+v", sum2)
	}
	if n := countRows(t, db, "homework"); n != 2 {
		t.Errorf("homework rows after second pass = %d", n)
	}
}

func TestProcess_ChangeDetection(t *testing.T) {
	eng, db := testEngine(t)
	root := t.TempDir()

	lockedCourse := `{
		"id": 101, "subject": "Maths", "teachers": ["DUPONT A."],
		"start": "2026-03-02 08:00", "end": "2026-03-02 09:00",
		"color": "#A3F", "locked": true,
		"contents": [{"id": 7, "description": "Équations"}]
	}`

	writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1, mathsCourse),
		homeworkJSON(crawl1,
			mathsHomework(500, false, "Réviser le chapitre 4"),
			mathsHomework(501, false, "Exercices 12 à 15"),
		),
	)
	writeRun(t, root, "zoe", "2026-03-02--18-00",
		studentInfoJSON(crawl2),
		coursesJSON(crawl2, lockedCourse),
		homeworkJSON(crawl2,
			mathsHomework(500, true, "Réviser le chapitre 4"), // now completed
			mathsHomework(501, false, "Exercices 12 à 15"),    // unchanged
		),
	)

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if sum.CoursesInserted != 1 || sum.CoursesUpdated != 1 {
		t.Errorf("courses: inserted=%d updated=%d", sum.CoursesInserted, sum.CoursesUpdated)
	}
	if sum.HomeworkInserted != 2 || sum.HomeworkUpdated != 1 || sum.HomeworkConfirmed != 1 {
		t.Errorf("homework: inserted=%d updated=%d confirmed=%d",
			sum.HomeworkInserted, sum.HomeworkUpdated, sum.HomeworkConfirmed)
	}
	if sum.Reaped != 0 {
		t.Errorf("nothing should be reaped, got %d", sum.Reaped)
	}

	// The changed course carries its audit trail; the key stayed put so
	// there is still exactly one row.
	var updateCount int
	var updateFiles string
	var firstSeen, lastSeen int64
	err = db.RawDB().QueryRow(`
		SELECT update_count, update_files, update_first_date_id, update_last_date_id
		FROM courses`).Scan(&updateCount, &updateFiles, &firstSeen, &lastSeen)
	if err != nil {
		t.Fatal(err)
	}
	if updateCount != 2 {
		t.Errorf("course update_count = %d, want 2", updateCount)
	}
	if firstSeen == lastSeen {
		t.Error("first/last seen must differ after an update")
	}
	var files []string
	if err := json.Unmarshal([]byte(updateFiles), &files); err != nil || len(files) != 2 {
		t.Errorf("update_files = %s, want both contributing files", updateFiles)
	}

	// The completed homework transitioned, in time.
	var state string
	var temporary, completed bool
	var duration int64
	err = db.RawDB().QueryRow(`
		SELECT completion_state, temporary, completed, completion_duration
		FROM homework WHERE update_count = 2`).Scan(&state, &temporary, &completed, &duration)
	if err != nil {
		t.Fatal(err)
	}
	if state != string(StateCompleted) || !completed {
		t.Errorf("state = %s completed=%v, want COMPLETED", state, completed)
	}
	if temporary {
		t.Error("updated homework must not stay temporary")
	}
	// crawl2 18:00 minus assigned 2026-03-01 10:00 = 32 hours.
	if want := int64(32 * 3600); duration != want {
		t.Errorf("completion_duration = %d, want %d", duration, want)
	}

	// The unchanged homework was confirmed without an audit bump.
	var confirmedTemporary bool
	var confirmedCount int
	err = db.RawDB().QueryRow(`
		SELECT temporary, update_count FROM homework
		WHERE completion_state = 'IN_PROGRESS'`).Scan(&confirmedTemporary, &confirmedCount)
	if err != nil {
		t.Fatal(err)
	}
	if confirmedTemporary || confirmedCount != 1 {
		t.Errorf("confirmed homework: temporary=%v update_count=%d", confirmedTemporary, confirmedCount)
	}
}

func TestProcess_Reaper(t *testing.T) {
	eng, db := testEngine(t)
	root := t.TempDir()

	writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1),
		homeworkJSON(crawl1,
			mathsHomework(500, false, "Réviser le chapitre 4"),
			mathsHomework(501, false, "Devoir fantôme"),
		),
	)
	// The second crawl no longer lists the second homework: it was a
	// transient capture and gets reaped.
	run2 := writeRun(t, root, "zoe", "2026-03-02--18-00",
		studentInfoJSON(crawl2),
		coursesJSON(crawl2),
		homeworkJSON(crawl2,
			mathsHomework(500, false, "Réviser le chapitre 4"),
		),
	)

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if sum.Reaped != 1 {
		t.Fatalf("Reaped = %d, want 1", sum.Reaped)
	}
	if n := countRows(t, db, "homework"); n != 1 {
		t.Errorf("homework rows = %d, want 1 after reaping", n)
	}

	var description string
	if err := db.RawDB().QueryRow("SELECT description FROM homework").Scan(&description); err != nil {
		t.Fatal(err)
	}
	if description != "Réviser le chapitre 4" {
		t.Errorf("survivor = %q", description)
	}

	// The reaped record is attached to the latest run's report.
	report := readReport(t, run2)
	if len(report.Reaped) != 1 {
		t.Fatalf("report.Reaped = %+v, want 1 entry", report.Reaped)
	}
	if report.Reaped[0].Description != "Devoir fantôme" {
		t.Errorf("reaped description = %q", report.Reaped[0].Description)
	}
	if len(report.DisappearedHomeworkKeys) != 1 {
		t.Errorf("disappeared keys = %v", report.DisappearedHomeworkKeys)
	}
}

func TestProcess_ReaperSparesFailedIngestion(t *testing.T) {
	eng, db := testEngine(t)
	root := t.TempDir()

	writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1),
		homeworkJSON(crawl1, mathsHomework(500, false, "Réviser le chapitre 4")),
	)
	// The second crawl still lists the homework, but its file is corrupt:
	// the record is present in the latest snapshot, just not ingested.
	run2 := writeRun(t, root, "zoe", "2026-03-02--18-00",
		studentInfoJSON(crawl2),
		coursesJSON(crawl2),
		"{not json",
	)

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	// The cutoff must not advance past a run whose homework file errored,
	// so the still-temporary record survives.
	if sum.Reaped != 0 {
		t.Errorf("Reaped = %d, want 0", sum.Reaped)
	}
	if sum.MalformedFiles != 1 {
		t.Errorf("MalformedFiles = %d, want 1", sum.MalformedFiles)
	}
	if n := countRows(t, db, "homework"); n != 1 {
		t.Fatalf("homework rows = %d, want 1", n)
	}

	// The crawler re-delivers the file; the ERROR ledger entry makes it
	// eligible again and the record is confirmed, not re-inserted.
	hwPath := filepath.Join(run2, snapshot.HomeworkFile)
	valid := homeworkJSON(crawl2, mathsHomework(500, false, "Réviser le chapitre 4"))
	if err := os.WriteFile(hwPath, []byte(valid), 0644); err != nil {
		t.Fatal(err)
	}

	sum2, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("second Process() error: %v", err)
	}
	if sum2.HomeworkInserted != 0 || sum2.HomeworkConfirmed != 1 {
		t.Errorf("retry: inserted=%d confirmed=%d, want 0/1",
			sum2.HomeworkInserted, sum2.HomeworkConfirmed)
	}
	if sum2.Reaped != 0 {
		t.Errorf("retry Reaped = %d, want 0", sum2.Reaped)
	}

	var temporary bool
	var updateCount int
	if err := db.RawDB().QueryRow(
		"SELECT temporary, update_count FROM homework").Scan(&temporary, &updateCount); err != nil {
		t.Fatal(err)
	}
	if temporary {
		t.Error("confirmed homework must not stay temporary")
	}
	if updateCount != 1 {
		t.Errorf("update_count = %d, want the original audit trail intact", updateCount)
	}
}

func TestProcess_UnreadableStudentIsolated(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}

	eng, db := testEngine(t)
	root := t.TempDir()

	writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1, mathsCourse),
		homeworkJSON(crawl1, mathsHomework(500, false, "Réviser")),
	)
	adamDir := filepath.Join(root, "adam")
	if err := os.MkdirAll(adamDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(adamDir, 0000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(adamDir, 0755) })

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if sum.Students != 2 || sum.Errors != 1 {
		t.Errorf("students=%d errors=%d, want 2/1", sum.Students, sum.Errors)
	}
	if sum.HomeworkInserted != 1 {
		t.Errorf("HomeworkInserted = %d, the readable student must still sync", sum.HomeworkInserted)
	}
	if n := countRows(t, db, "homework"); n != 1 {
		t.Errorf("homework rows = %d, want 1", n)
	}
}

func TestProcess_DuplicateKeys(t *testing.T) {
	eng, db := testEngine(t)
	root := t.TempDir()

	// Two records identical in every key field, distinct source ids.
	runDir := writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1),
		homeworkJSON(crawl1,
			mathsHomework(500, false, "Réviser le chapitre 4"),
			mathsHomework(501, false, "Réviser le chapitre 4"),
		),
	)

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if sum.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", sum.Duplicates)
	}
	if sum.HomeworkInserted != 2 {
		t.Errorf("both records must be kept, inserted = %d", sum.HomeworkInserted)
	}

	rows, err := db.RawDB().Query("SELECT natural_key FROM homework ORDER BY id")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, k)
	}
	if len(keys) != 2 || keys[1] != keys[0]+"-1" {
		t.Errorf("keys = %v, want base and base-1", keys)
	}

	report := readReport(t, runDir)
	if len(report.DuplicatedIDs) != 1 {
		t.Fatalf("duplicatedIds = %+v", report.DuplicatedIDs)
	}
	dup := report.DuplicatedIDs[0]
	if dup.FirstHomeworkID != 500 || dup.HomeworkID != 501 {
		t.Errorf("duplicate attribution: %+v", dup)
	}
}

func TestProcess_CompletionOnInsert(t *testing.T) {
	eng, db := testEngine(t)
	root := t.TempDir()

	// Due long past at first sighting: written off immediately.
	overdue := `{
		"id": 600, "subject": "Maths",
		"due": "2026-02-20 18:00:00", "assigned": "2026-02-15 10:00:00",
		"completed": false, "description": "Jamais rendu"
	}`
	// Completed before ever being observed: origin unknown.
	unknown := `{
		"id": 601, "subject": "Maths",
		"due": "2026-03-10 18:00:00", "assigned": "2026-02-28 10:00:00",
		"completed": true, "description": "Déjà fait"
	}`

	runDir := writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1),
		homeworkJSON(crawl1, overdue, unknown),
	)

	if _, err := eng.Process(context.Background(), root); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	var state string
	if err := db.RawDB().QueryRow(
		"SELECT completion_state FROM homework WHERE description = 'Jamais rendu'").Scan(&state); err != nil {
		t.Fatal(err)
	}
	if state != string(StateOverDue) {
		t.Errorf("overdue insert state = %s", state)
	}

	if err := db.RawDB().QueryRow(
		"SELECT completion_state FROM homework WHERE description = 'Déjà fait'").Scan(&state); err != nil {
		t.Fatal(err)
	}
	if state != string(StateUnknown) {
		t.Errorf("unknown insert state = %s", state)
	}

	report := readReport(t, runDir)
	if len(report.UnknownCompletionIDs) != 1 || report.UnknownCompletionIDs[0].HomeworkID != 601 {
		t.Errorf("unknownCompletionIds = %+v", report.UnknownCompletionIDs)
	}
}

func TestProcess_MalformedCourseFile(t *testing.T) {
	eng, db := testEngine(t)
	root := t.TempDir()

	runDir := writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		"this is not json",
		homeworkJSON(crawl1, mathsHomework(500, false, "Réviser")),
	)

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	// The homework sibling is unaffected, minus its course link.
	if sum.HomeworkInserted != 1 {
		t.Errorf("HomeworkInserted = %d, want 1", sum.HomeworkInserted)
	}
	if sum.MalformedFiles != 1 {
		t.Errorf("MalformedFiles = %d, want 1", sum.MalformedFiles)
	}
	var linked int
	if err := db.RawDB().QueryRow(
		"SELECT COUNT(*) FROM homework WHERE course_id IS NOT NULL").Scan(&linked); err != nil {
		t.Fatal(err)
	}
	if linked != 0 {
		t.Error("course link cannot resolve without the course file")
	}

	ctx := context.Background()
	status, err := db.FileStatus(ctx, filepath.Join(runDir, snapshot.CoursesFile))
	if err != nil {
		t.Fatal(err)
	}
	if status != warehouse.StatusError {
		t.Errorf("courses file status = %s, want ERROR", status)
	}
	status, err = db.FileStatus(ctx, filepath.Join(runDir, snapshot.HomeworkFile))
	if err != nil {
		t.Fatal(err)
	}
	if status != warehouse.StatusProcessed {
		t.Errorf("homework file status = %s, want PROCESSED", status)
	}
	// The run is not settled while a sibling is in error.
	status, err = db.FileStatus(ctx, filepath.Join(runDir, snapshot.StudentInfoFile))
	if err != nil {
		t.Fatal(err)
	}
	if status != warehouse.StatusWaiting {
		t.Errorf("student info status = %s, want WAITING", status)
	}

	report := readReport(t, runDir)
	if len(report.MalformedFiles) != 1 || report.MalformedFiles[0].File != snapshot.CoursesFile {
		t.Errorf("malformedFiles = %+v", report.MalformedFiles)
	}
	if len(report.UnresolvedCourseRefs) != 1 {
		t.Errorf("unresolvedCourseRefs = %+v", report.UnresolvedCourseRefs)
	}
}

func TestProcess_ConversionErrorsIsolated(t *testing.T) {
	eng, db := testEngine(t)
	root := t.TempDir()

	badCourse := `{"id": 999, "subject": "Maths", "start": "someday", "end": "2026-03-02 09:00"}`
	runDir := writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1, badCourse, mathsCourse),
		homeworkJSON(crawl1),
	)

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if sum.CoursesInserted != 1 || sum.ConversionErrors != 1 {
		t.Errorf("inserted=%d conversionErrors=%d", sum.CoursesInserted, sum.ConversionErrors)
	}
	if n := countRows(t, db, "courses"); n != 1 {
		t.Errorf("courses rows = %d", n)
	}

	report := readReport(t, runDir)
	if len(report.ConversionErrors) != 1 {
		t.Fatalf("conversionErrors = %+v", report.ConversionErrors)
	}
	if report.ConversionErrors[0].File != snapshot.CoursesFile {
		t.Errorf("conversion error attributed to %s", report.ConversionErrors[0].File)
	}
	if len(report.ConversionErrors[0].Errors) != 1 || report.ConversionErrors[0].Errors[0].Index != 0 {
		t.Errorf("record errors = %+v", report.ConversionErrors[0].Errors)
	}
}

func TestProcess_DryRun(t *testing.T) {
	eng, db := testEngine(t)
	eng.cfg.DryRun = true
	root := t.TempDir()

	runDir := writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1, mathsCourse),
		homeworkJSON(crawl1,
			mathsHomework(500, false, "Réviser"),
			mathsHomework(501, false, "Réviser"),
		),
	)

	sum, err := eng.Process(context.Background(), root)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if sum.DirsProcessed != 1 {
		t.Errorf("DirsProcessed = %d", sum.DirsProcessed)
	}
	if sum.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want the key collision surfaced", sum.Duplicates)
	}
	if n := countRows(t, db, "homework"); n != 0 {
		t.Errorf("dry run wrote %d homework rows", n)
	}
	if n := countRows(t, db, "processed_files"); n != 0 {
		t.Errorf("dry run touched the ledger: %d rows", n)
	}
	if _, err := os.Stat(filepath.Join(runDir, ErrorsArtifact)); !os.IsNotExist(err) {
		t.Error("dry run must not write artifacts")
	}
}

func TestProcess_ArtifactsRootMirror(t *testing.T) {
	eng, _ := testEngine(t)
	mirror := t.TempDir()
	eng.cfg.ArtifactsRoot = mirror
	root := t.TempDir()

	runDir := writeRun(t, root, "zoe", "2026-03-01--18-00",
		studentInfoJSON(crawl1),
		coursesJSON(crawl1, mathsCourse),
		homeworkJSON(crawl1),
	)

	if _, err := eng.Process(context.Background(), root); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	mirrored := filepath.Join(mirror, "zoe", "2026-03-01--18-00")
	for _, name := range []string{CoursesArtifact, HomeworkIDsArtifact, ErrorsArtifact} {
		if _, err := os.Stat(filepath.Join(mirrored, name)); err != nil {
			t.Errorf("artifact %s not mirrored: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(runDir, name)); !os.IsNotExist(err) {
			t.Errorf("artifact %s leaked into the run directory", name)
		}
	}
}
