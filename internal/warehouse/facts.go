package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CourseFact is one row of the courses fact table: a single scheduled
// lesson occurrence, identified by its content-derived natural key.
type CourseFact struct {
	ID         int64
	NaturalKey string

	StudentID int64
	SchoolID  int64
	GradeID   int64
	SubjectID int64
	TeacherID *int64 // primary teacher; nil when the source lists none

	StartDateID       int64
	EndDateID         int64
	HomeworkDueDateID *int64

	Content string // serialized content list (JSON)
	Locked  bool

	Checksum        string
	UpdateCount     int
	FirstSeenDateID int64
	LastSeenDateID  int64
	UpdateFiles     []string
}

// HomeworkFact is one row of the homework fact table: a single assigned
// homework item with its completion lifecycle and audit trail.
type HomeworkFact struct {
	ID         int64
	NaturalKey string
	CourseID   *int64 // nil when the course reference never resolved

	StudentID int64
	SchoolID  int64
	GradeID   int64
	SubjectID int64

	DueDateID      int64
	AssignedDateID int64

	Description        string
	RequiresSubmission bool
	SubmissionType     string
	Difficulty         int

	Completed             bool
	CompletedDateID       *int64
	CompletionDuration    *int64 // seconds
	MaxCompletionDuration *int64 // seconds
	CompletionState       string

	BackgroundColor string
	PublicName      string
	Themes          []string
	Attachments     string // serialized attachment list (JSON)

	Checksum        string
	UpdateCount     int
	FirstSeenDateID int64
	LastSeenDateID  int64
	UpdateFiles     []string

	Temporary bool
	RawJSON   string
}

// ReapedHomework describes a homework fact removed by the temporary-record
// reaper, kept for the audit report.
type ReapedHomework struct {
	ID          int64  `json:"-"`
	NaturalKey  string `json:"homeworkKey"`
	Description string `json:"description"`
	FirstSeen   string `json:"firstSeen"`
}

func marshalList(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list column: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	if data == "" || data == "null" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal list column: %w", err)
	}
	return out, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func idPointer(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// CourseByKey fetches a course fact by natural key.
// Returns (nil, nil) when no row exists.
func (t *Tx) CourseByKey(ctx context.Context, key string) (*CourseFact, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, natural_key, student_id, school_id, grade_id, subject_id,
		       teacher_id, start_date_id, end_date_id, homework_due_date_id,
		       content, locked, checksum, update_count,
		       update_first_date_id, update_last_date_id, update_files
		FROM courses WHERE natural_key = ?`, key)

	var c CourseFact
	var teacherID, dueID sql.NullInt64
	var files string
	err := row.Scan(
		&c.ID, &c.NaturalKey, &c.StudentID, &c.SchoolID, &c.GradeID, &c.SubjectID,
		&teacherID, &c.StartDateID, &c.EndDateID, &dueID,
		&c.Content, &c.Locked, &c.Checksum, &c.UpdateCount,
		&c.FirstSeenDateID, &c.LastSeenDateID, &files,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch course %q: %w", key, err)
	}

	c.TeacherID = idPointer(teacherID)
	c.HomeworkDueDateID = idPointer(dueID)
	if c.UpdateFiles, err = unmarshalStrings(files); err != nil {
		return nil, fmt.Errorf("course %q: %w", key, err)
	}
	return &c, nil
}

// InsertCourse inserts a new course fact and returns its surrogate id.
func (t *Tx) InsertCourse(ctx context.Context, c *CourseFact) (int64, error) {
	files, err := marshalList(c.UpdateFiles)
	if err != nil {
		return 0, err
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO courses (
			natural_key, student_id, school_id, grade_id, subject_id,
			teacher_id, start_date_id, end_date_id, homework_due_date_id,
			content, locked, checksum, update_count,
			update_first_date_id, update_last_date_id, update_files
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.NaturalKey, c.StudentID, c.SchoolID, c.GradeID, c.SubjectID,
		nullableID(c.TeacherID), c.StartDateID, c.EndDateID, nullableID(c.HomeworkDueDateID),
		c.Content, c.Locked, c.Checksum, c.UpdateCount,
		c.FirstSeenDateID, c.LastSeenDateID, files,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert course %q: %w", c.NaturalKey, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read course insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpdateCourse rewrites the mutable fields of an existing course fact.
// The natural key, student linkage and first-seen date are left untouched.
func (t *Tx) UpdateCourse(ctx context.Context, c *CourseFact) error {
	files, err := marshalList(c.UpdateFiles)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE courses SET
			subject_id = ?, teacher_id = ?,
			start_date_id = ?, end_date_id = ?, homework_due_date_id = ?,
			content = ?, locked = ?, checksum = ?,
			update_count = ?, update_last_date_id = ?, update_files = ?
		WHERE id = ?`,
		c.SubjectID, nullableID(c.TeacherID),
		c.StartDateID, c.EndDateID, nullableID(c.HomeworkDueDateID),
		c.Content, c.Locked, c.Checksum,
		c.UpdateCount, c.LastSeenDateID, files,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update course %q: %w", c.NaturalKey, err)
	}
	return nil
}

// HomeworkByKey fetches a homework fact by natural key.
// Returns (nil, nil) when no row exists.
func (t *Tx) HomeworkByKey(ctx context.Context, key string) (*HomeworkFact, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, natural_key, course_id, student_id, school_id, grade_id,
		       subject_id, due_date_id, assigned_date_id, description,
		       requires_submission, submission_type, difficulty,
		       completed, completed_date_id, completion_duration,
		       max_completion_duration, completion_state,
		       background_color, public_name, themes, attachments,
		       checksum, update_count, update_first_date_id,
		       update_last_date_id, update_files, temporary, raw_json
		FROM homework WHERE natural_key = ?`, key)

	var h HomeworkFact
	var courseID, completedID, duration, maxDuration sql.NullInt64
	var themes, files string
	err := row.Scan(
		&h.ID, &h.NaturalKey, &courseID, &h.StudentID, &h.SchoolID, &h.GradeID,
		&h.SubjectID, &h.DueDateID, &h.AssignedDateID, &h.Description,
		&h.RequiresSubmission, &h.SubmissionType, &h.Difficulty,
		&h.Completed, &completedID, &duration,
		&maxDuration, &h.CompletionState,
		&h.BackgroundColor, &h.PublicName, &themes, &h.Attachments,
		&h.Checksum, &h.UpdateCount, &h.FirstSeenDateID,
		&h.LastSeenDateID, &files, &h.Temporary, &h.RawJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch homework %q: %w", key, err)
	}

	h.CourseID = idPointer(courseID)
	h.CompletedDateID = idPointer(completedID)
	h.CompletionDuration = idPointer(duration)
	h.MaxCompletionDuration = idPointer(maxDuration)
	if h.Themes, err = unmarshalStrings(themes); err != nil {
		return nil, fmt.Errorf("homework %q: %w", key, err)
	}
	if h.UpdateFiles, err = unmarshalStrings(files); err != nil {
		return nil, fmt.Errorf("homework %q: %w", key, err)
	}
	return &h, nil
}

// InsertHomework inserts a new homework fact and returns its surrogate id.
func (t *Tx) InsertHomework(ctx context.Context, h *HomeworkFact) (int64, error) {
	themes, err := marshalList(h.Themes)
	if err != nil {
		return 0, err
	}
	files, err := marshalList(h.UpdateFiles)
	if err != nil {
		return 0, err
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO homework (
			natural_key, course_id, student_id, school_id, grade_id,
			subject_id, due_date_id, assigned_date_id, description,
			requires_submission, submission_type, difficulty,
			completed, completed_date_id, completion_duration,
			max_completion_duration, completion_state,
			background_color, public_name, themes, attachments,
			checksum, update_count, update_first_date_id,
			update_last_date_id, update_files, temporary, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.NaturalKey, nullableID(h.CourseID), h.StudentID, h.SchoolID, h.GradeID,
		h.SubjectID, h.DueDateID, h.AssignedDateID, h.Description,
		h.RequiresSubmission, h.SubmissionType, h.Difficulty,
		h.Completed, nullableID(h.CompletedDateID), nullableID(h.CompletionDuration),
		nullableID(h.MaxCompletionDuration), h.CompletionState,
		h.BackgroundColor, h.PublicName, themes, h.Attachments,
		h.Checksum, h.UpdateCount, h.FirstSeenDateID,
		h.LastSeenDateID, files, h.Temporary, h.RawJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert homework %q: %w", h.NaturalKey, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read homework insert id: %w", err)
	}
	h.ID = id
	return id, nil
}

// UpdateHomework rewrites the mutable fields of an existing homework fact.
// The natural key, student linkage and first-seen date are left untouched.
func (t *Tx) UpdateHomework(ctx context.Context, h *HomeworkFact) error {
	themes, err := marshalList(h.Themes)
	if err != nil {
		return err
	}
	files, err := marshalList(h.UpdateFiles)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE homework SET
			course_id = ?, subject_id = ?,
			due_date_id = ?, assigned_date_id = ?, description = ?,
			requires_submission = ?, submission_type = ?, difficulty = ?,
			completed = ?, completed_date_id = ?, completion_duration = ?,
			max_completion_duration = ?, completion_state = ?,
			background_color = ?, public_name = ?, themes = ?, attachments = ?,
			checksum = ?, update_count = ?, update_last_date_id = ?,
			update_files = ?, temporary = ?, raw_json = ?
		WHERE id = ?`,
		nullableID(h.CourseID), h.SubjectID,
		h.DueDateID, h.AssignedDateID, h.Description,
		h.RequiresSubmission, h.SubmissionType, h.Difficulty,
		h.Completed, nullableID(h.CompletedDateID), nullableID(h.CompletionDuration),
		nullableID(h.MaxCompletionDuration), h.CompletionState,
		h.BackgroundColor, h.PublicName, themes, h.Attachments,
		h.Checksum, h.UpdateCount, h.LastSeenDateID,
		files, h.Temporary, h.RawJSON,
		h.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update homework %q: %w", h.NaturalKey, err)
	}
	return nil
}

// ConfirmHomework clears the temporary flag without touching the update
// audit trail. This is how a still-unchanged homework gets confirmed and
// exempted from reaping.
func (t *Tx) ConfirmHomework(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE homework SET temporary = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to confirm homework %d: %w", id, err)
	}
	return nil
}

// HomeworkKeys returns all homework natural keys known for a student.
func (t *Tx) HomeworkKeys(ctx context.Context, studentID int64) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT natural_key FROM homework WHERE student_id = ? ORDER BY natural_key",
		studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query homework keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan homework key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating homework keys: %w", err)
	}
	return keys, nil
}

// TemporaryHomeworkBefore lists homework facts still marked temporary whose
// first-seen date precedes the cutoff.
func (t *Tx) TemporaryHomeworkBefore(ctx context.Context, studentID int64, cutoffUnix int64) ([]ReapedHomework, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT h.id, h.natural_key, h.description, d.iso
		FROM homework h
		JOIN dates d ON d.id = h.update_first_date_id
		WHERE h.temporary = 1 AND h.student_id = ? AND d.unix_ts < ?
		ORDER BY d.unix_ts ASC, h.natural_key ASC`,
		studentID, cutoffUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to query temporary homework: %w", err)
	}
	defer rows.Close()

	var out []ReapedHomework
	for rows.Next() {
		var r ReapedHomework
		if err := rows.Scan(&r.ID, &r.NaturalKey, &r.Description, &r.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan temporary homework: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating temporary homework: %w", err)
	}
	return out, nil
}

// DeleteHomework removes a homework fact by id. Idempotent.
func (t *Tx) DeleteHomework(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM homework WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete homework %d: %w", id, err)
	}
	return nil
}
