// Package engine implements the incremental snapshot-to-warehouse sync.
//
// The engine walks a results directory tree of crawl snapshots, converts
// raw records to domain records, derives stable natural keys, resolves
// dimension foreign keys, and upserts course/homework facts using content
// checksums to decide between insert, update and no-op. After all of a
// student's run directories are consumed it reaps homework facts that were
// only ever seen as temporary, then writes per-run diagnostic artifacts.
//
// The engine is resilient: individual record or file failures are logged
// and skipped; only storage-transaction failures abort the current run
// directory, and no failure in one student's tree affects another student.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/avigny/cartable/internal/snapshot"
	"github.com/avigny/cartable/internal/warehouse"
)

// Config holds engine configuration.
type Config struct {
	// ArtifactsRoot redirects diagnostic artifacts to a mirror tree.
	// Empty means artifacts are written into each run directory.
	ArtifactsRoot string

	// DueTolerance is how long after the due date a completed homework
	// still counts as COMPLETED rather than OVER_DUE.
	DueTolerance time.Duration

	// OverdueGrace is how long after the due date an unfinished homework
	// is kept IN_PROGRESS before being written off as OVER_DUE.
	OverdueGrace time.Duration

	// DryRun walks and converts snapshots without touching the warehouse
	// or writing artifacts.
	DryRun bool

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DueTolerance: DefaultDueTolerance,
		OverdueGrace: DefaultOverdueGrace,
		Logger:       log.New(os.Stderr, "[etl] ", log.LstdFlags),
	}
}

// Engine synchronizes crawl snapshots into the warehouse.
type Engine struct {
	db  *warehouse.DB
	cfg *Config
	log *log.Logger
}

// New creates an Engine. The warehouse connection must be open with its
// schema initialized; the caller keeps ownership and must Close it on all
// exit paths.
func New(db *warehouse.DB, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DueTolerance == 0 {
		cfg.DueTolerance = DefaultDueTolerance
	}
	if cfg.OverdueGrace == 0 {
		cfg.OverdueGrace = DefaultOverdueGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[etl] ", log.LstdFlags)
	}
	return &Engine{db: db, cfg: cfg, log: cfg.Logger}
}

// RunSummary aggregates the outcome of one Process call.
type RunSummary struct {
	Students      int
	DirsProcessed int
	DirsSkipped   int
	FilesSkipped  int

	CoursesInserted  int
	CoursesUpdated   int
	CoursesUnchanged int

	HomeworkInserted  int
	HomeworkUpdated   int
	HomeworkConfirmed int
	HomeworkUnchanged int

	Duplicates       int
	ConversionErrors int
	MalformedFiles   int
	Reaped           int
	Errors           int

	Elapsed time.Duration
}

// Process walks the results root and synchronizes every student's run
// directories into the warehouse, sequentially, in deterministic order.
//
// Per-student failures are counted and logged but do not propagate across
// students; Process itself fails only when the results root is unreadable.
func (e *Engine) Process(ctx context.Context, resultsRoot string) (*RunSummary, error) {
	start := time.Now()

	students, err := snapshot.Walk(resultsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to walk results root: %w", err)
	}

	sum := &RunSummary{}
	for i := range students {
		st := &students[i]
		sum.Students++

		if st.Err != nil {
			e.log.Printf("student %s: %v", st.Student, st.Err)
			sum.Errors++
			continue
		}

		for _, sk := range st.Skipped {
			e.log.Printf("skipping incomplete run directory %s (missing: %v)", sk.Path, sk.Missing)
			sum.DirsSkipped++
		}

		if e.cfg.DryRun {
			e.processStudentDry(st, sum)
			continue
		}

		if err := e.processStudent(ctx, st, sum); err != nil {
			e.log.Printf("student %s: %v", st.Student, err)
			sum.Errors++
		}
	}

	sum.Elapsed = time.Since(start)
	return sum, nil
}

// processStudent consumes all of one student's run directories, then runs
// the temporary-record reaper. The cutoff only advances over runs whose
// homework file actually reached the warehouse: a run whose homework
// snapshot failed to ingest may still list records that are only flagged
// temporary, and reaping past its crawl date would delete them. The latest
// run's errors report is written last so it carries the reaped list.
func (e *Engine) processStudent(ctx context.Context, st *snapshot.StudentRuns, sum *RunSummary) error {
	var studentID int64
	var reapCutoff time.Time
	var latestCrawl time.Time
	var latestRC *runContext

	for _, run := range st.Runs {
		rc, err := e.processRun(ctx, run, sum)
		if err != nil {
			e.log.Printf("run directory %s: %v", run.Path, err)
			sum.Errors++
		}
		if rc == nil {
			continue
		}

		if rc.studentID != 0 {
			studentID = rc.studentID
		}
		if rc.didWork {
			sum.DirsProcessed++
		}
		if rc.homeworkSynced && rc.crawl.After(reapCutoff) {
			reapCutoff = rc.crawl
		}

		// Hold back the report of the latest crawl for the reaper.
		if latestRC == nil || rc.crawl.After(latestCrawl) {
			if latestRC != nil {
				e.flushReport(latestRC)
			}
			latestCrawl = rc.crawl
			latestRC = rc
		} else {
			e.flushReport(rc)
		}
	}

	if studentID != 0 && !reapCutoff.IsZero() {
		reaped, err := e.reap(ctx, studentID, reapCutoff)
		if err != nil {
			if latestRC != nil {
				e.flushReport(latestRC)
			}
			return fmt.Errorf("reaper: %w", err)
		}
		sum.Reaped += len(reaped)
		if latestRC != nil {
			latestRC.report.Reaped = reaped
		}
	}

	if latestRC != nil {
		e.flushReport(latestRC)
	}
	return nil
}

// flushReport writes a run's diagnostic artifacts, unless the run was a
// complete ledger skip (re-processing an already synced directory is a
// no-op, artifacts included).
func (e *Engine) flushReport(rc *runContext) {
	if !rc.didWork {
		return
	}
	dir := e.artifactDir(rc.run)
	if err := writeArtifact(dir, ErrorsArtifact, rc.report); err != nil {
		e.log.Printf("failed to write errors report for %s: %v", rc.run.Path, err)
	}
}
