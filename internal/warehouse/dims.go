package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ISOLayout is the canonical timestamp format used to deduplicate rows in
// the date dimension. Two observations of the same instant always map to
// the same dimension row.
const ISOLayout = "2006-01-02 15:04:05.000"

// Dimension get-or-insert. Rows are immutable once created; callers must
// serialize around insert (the engine's single-writer discipline).

func getOrInsertByName(ctx context.Context, q querier, table, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE name = ?", table), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up %s %q: %w", table, name, err)
	}

	res, err := q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (name) VALUES (?)", table), name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s %q: %w", table, name, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s insert id: %w", table, err)
	}
	return id, nil
}

// StudentID returns the surrogate id for the named student, inserting the
// dimension row if it doesn't exist yet.
func (t *Tx) StudentID(ctx context.Context, name string) (int64, error) {
	return getOrInsertByName(ctx, t.tx, "students", name)
}

// SchoolID returns the surrogate id for the named school, inserting if absent.
func (t *Tx) SchoolID(ctx context.Context, name string) (int64, error) {
	return getOrInsertByName(ctx, t.tx, "schools", name)
}

// GradeID returns the surrogate id for the named grade, inserting if absent.
func (t *Tx) GradeID(ctx context.Context, name string) (int64, error) {
	return getOrInsertByName(ctx, t.tx, "grades", name)
}

// SubjectID returns the surrogate id for the named subject, inserting if
// absent. The display color is recorded on first observation only; the
// dimension row is immutable afterwards.
func (t *Tx) SubjectID(ctx context.Context, name, displayColor string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		"SELECT id FROM subjects WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up subject %q: %w", name, err)
	}

	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO subjects (name, display_color) VALUES (?, ?)", name, displayColor)
	if err != nil {
		return 0, fmt.Errorf("failed to insert subject %q: %w", name, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read subject insert id: %w", err)
	}
	return id, nil
}

// TeacherID returns the surrogate id for the teacher, keyed by name and
// subject, inserting if absent.
func (t *Tx) TeacherID(ctx context.Context, name string, subjectID int64) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		"SELECT id FROM teachers WHERE name = ? AND subject_id = ?",
		name, subjectID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up teacher %q: %w", name, err)
	}

	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO teachers (name, subject_id) VALUES (?, ?)", name, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert teacher %q: %w", name, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read teacher insert id: %w", err)
	}
	return id, nil
}

// DateID returns the surrogate id for the exact timestamp, inserting the
// date dimension row if it doesn't exist yet.
//
// Lookups are by the normalized ISOLayout string, so millisecond-identical
// timestamps share one row.
func (t *Tx) DateID(ctx context.Context, ts time.Time) (int64, error) {
	iso := ts.Format(ISOLayout)

	var id int64
	err := t.tx.QueryRowContext(ctx,
		"SELECT id FROM dates WHERE iso = ?", iso).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up date %q: %w", iso, err)
	}

	_, week := ts.ISOWeek()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO dates (
			iso, year, month, week_of_year, weekday, day_of_month,
			hour, minute, second, millisecond, unix_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iso,
		ts.Year(),
		int(ts.Month()),
		week,
		int(ts.Weekday()),
		ts.Day(),
		ts.Hour(),
		ts.Minute(),
		ts.Second(),
		ts.Nanosecond()/1e6,
		ts.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert date %q: %w", iso, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read date insert id: %w", err)
	}
	return id, nil
}

// DateISO returns the normalized timestamp string of a date dimension row.
func (t *Tx) DateISO(ctx context.Context, id int64) (string, error) {
	var iso string
	err := t.tx.QueryRowContext(ctx, "SELECT iso FROM dates WHERE id = ?", id).Scan(&iso)
	if err != nil {
		return "", fmt.Errorf("failed to look up date id %d: %w", id, err)
	}
	return iso, nil
}
