package engine

import (
	"github.com/avigny/cartable/internal/convert"
	"github.com/avigny/cartable/internal/identity"
	"github.com/avigny/cartable/internal/snapshot"
)

// processStudentDry walks one student's runs in dry-run mode: every file is
// read, converted and key-derived exactly as a real sync would, but nothing
// touches the warehouse and no artifacts are written. Counters that depend
// on warehouse state (insert vs update) stay zero; parse failures,
// conversion failures and in-run key collisions are surfaced the same way.
func (e *Engine) processStudentDry(st *snapshot.StudentRuns, sum *RunSummary) {
	for _, run := range st.Runs {
		info, err := snapshot.ReadStudentInfo(run.File(snapshot.StudentInfoFile))
		if err != nil {
			e.log.Printf("dry-run: %s: %v", run.Path, err)
			sum.Errors++
			continue
		}

		courses := 0
		if doc, err := snapshot.ReadCourseDocument(run.File(snapshot.CoursesFile)); err != nil {
			e.log.Printf("dry-run: malformed course snapshot in %s: %v", run.Path, err)
			sum.MalformedFiles++
		} else {
			converted, failures := convert.Courses(doc, e.log)
			courses = len(converted)
			sum.ConversionErrors += len(failures)
		}

		homework := 0
		duplicates := 0
		if doc, err := snapshot.ReadHomeworkDocument(run.File(snapshot.HomeworkFile)); err != nil {
			e.log.Printf("dry-run: malformed homework snapshot in %s: %v", run.Path, err)
			sum.MalformedFiles++
		} else {
			items, failures := convert.Homeworks(doc, e.log)
			homework = len(items)
			sum.ConversionErrors += len(failures)

			dedup := identity.NewDeduper()
			for _, h := range items {
				// Without the course file's id mapping the key is derived
				// against an empty course key, exactly like an unresolved
				// reference in a real run.
				if _, collided := dedup.Claim(identity.HomeworkKey(h, "")); collided {
					duplicates++
				}
			}
			sum.Duplicates += duplicates
		}

		e.log.Printf("dry-run: %s (%s): %d courses, %d homework, %d duplicate keys",
			run.Path, info.Name, courses, homework, duplicates)
		sum.DirsProcessed++
	}
}
