// Package snapshot reads the raw JSON capture directories produced by the
// portal crawler.
//
// The crawler writes one directory per crawl run per student:
//
//	results/<student>/<runstamp>/studentInfo.json
//	results/<student>/<runstamp>/cahierDeTexte-courses.json
//	results/<student>/<runstamp>/cahierDeTexte-travailAFaire.json
//
// The walker enumerates run directories and validates that all three files
// are present; incomplete directories are reported and skipped without
// aborting the walk. Parsing is deliberately loose: top-level lists are
// decoded to raw messages so one malformed record never fails a whole file.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Names of the three snapshot files expected in every run directory.
const (
	StudentInfoFile = "studentInfo.json"
	CoursesFile     = "cahierDeTexte-courses.json"
	HomeworkFile    = "cahierDeTexte-travailAFaire.json"
)

// RunDir is one crawl run directory for one student.
type RunDir struct {
	// Student is the student directory name under the results root.
	Student string
	// Name is the run directory name (the crawler uses a run timestamp).
	Name string
	// Path is the absolute path to the run directory.
	Path string
}

// File returns the path of a named snapshot file inside the run directory.
func (r RunDir) File(name string) string {
	return filepath.Join(r.Path, name)
}

// SkippedRun records a run directory that was rejected by validation.
type SkippedRun struct {
	Path    string
	Missing []string
}

// StudentRuns groups the run directories found for one student, in
// lexicographic (and therefore chronological, for timestamp-named
// directories) order.
type StudentRuns struct {
	Student string
	Dir     string
	Runs    []RunDir
	Skipped []SkippedRun

	// Err is set when the student directory itself could not be read.
	// The walk keeps going; the failure stays scoped to this student.
	Err error
}

// Walk enumerates the per-student, per-run directory tree under the results
// root.
//
// A run directory missing any of the three snapshot files lands in Skipped
// with the missing names; an unreadable student directory sets that
// student's Err; in both cases the walk continues. Walk itself fails only
// when the results root is unreadable. Non-directory entries are ignored at
// both levels. The sequence is deterministic: students and runs
// are sorted by name, so repeated walks over the same tree are restartable
// and reproducible.
func Walk(resultsRoot string) ([]StudentRuns, error) {
	entries, err := os.ReadDir(resultsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read results root %s: %w", resultsRoot, err)
	}

	var students []StudentRuns
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		studentDir := filepath.Join(resultsRoot, entry.Name())
		st := StudentRuns{Student: entry.Name(), Dir: studentDir}

		runs, err := os.ReadDir(studentDir)
		if err != nil {
			st.Err = fmt.Errorf("failed to read student directory %s: %w", studentDir, err)
			students = append(students, st)
			continue
		}
		for _, run := range runs {
			if !run.IsDir() {
				continue
			}

			rd := RunDir{
				Student: entry.Name(),
				Name:    run.Name(),
				Path:    filepath.Join(studentDir, run.Name()),
			}

			if missing := missingFiles(rd.Path); len(missing) > 0 {
				st.Skipped = append(st.Skipped, SkippedRun{Path: rd.Path, Missing: missing})
				continue
			}
			st.Runs = append(st.Runs, rd)
		}

		sort.Slice(st.Runs, func(i, j int) bool { return st.Runs[i].Name < st.Runs[j].Name })
		students = append(students, st)
	}

	sort.Slice(students, func(i, j int) bool { return students[i].Student < students[j].Student })
	return students, nil
}

// missingFiles returns the snapshot files absent from a run directory.
func missingFiles(runPath string) []string {
	var missing []string
	for _, name := range []string{StudentInfoFile, CoursesFile, HomeworkFile} {
		if _, err := os.Stat(filepath.Join(runPath, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}
