// Package identity computes the stable natural keys that identify course
// and homework facts across repeated snapshots, and resolves in-batch key
// collisions deterministically.
//
// Natural keys are content-derived: the source system's numeric ids are
// reissued between portal sessions and never participate.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/avigny/cartable/internal/convert"
)

// Separator joins the components of a course natural key. Fixed forever:
// changing it would re-identify every course in the warehouse.
const Separator = "|"

// CourseKey derives the natural key of a course occurrence:
// subject, start, end and the sorted teacher list.
//
// A course is identified by when it happens and who teaches it. If the
// subject changes for what the source considers the same lesson, it is
// deliberately a different course.
func CourseKey(c *convert.Course) string {
	parts := []string{
		c.Subject,
		c.Start.Format(convert.KeyTimeLayout),
		c.End.Format(convert.KeyTimeLayout),
		strings.Join(c.Teachers, ","),
	}
	return strings.Join(parts, Separator)
}

// HomeworkKey derives the natural key of a homework assignment: a hash over
// subject, due and assigned timestamps, submission type, description and
// the resolved course key (empty when the course reference is unresolved).
func HomeworkKey(h *convert.Homework, courseKey string) string {
	material := strings.Join([]string{
		h.Subject,
		h.Due.Format(convert.KeyTimeLayout),
		h.Assigned.Format(convert.KeyTimeLayout),
		h.SubmissionType,
		h.Description,
		courseKey,
	}, Separator)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// Deduper resolves natural-key collisions within one run directory.
//
// The first claimant of a base key gets it verbatim; later claimants get a
// numeric suffix (-1, -2, ...) in first-collision order, so suffix
// assignment is reproducible for a given input ordering. A collision is a
// defensive fallback, not an expected case: it means two records in one
// snapshot are indistinguishable by the chosen key fields.
type Deduper struct {
	used map[string]int
}

// NewDeduper creates an empty per-run dedup context.
func NewDeduper() *Deduper {
	return &Deduper{used: make(map[string]int)}
}

// Claim reserves the base key and returns the key to use. collided reports
// whether a suffix had to be applied.
func (d *Deduper) Claim(base string) (key string, collided bool) {
	n, seen := d.used[base]
	d.used[base] = n + 1
	if !seen {
		return base, false
	}
	return fmt.Sprintf("%s-%d", base, n), true
}
