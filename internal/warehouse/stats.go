package warehouse

import (
	"context"
	"database/sql"
	"fmt"
)

// Stats is a read-only snapshot of warehouse contents, used by the CLI
// status command.
type Stats struct {
	Students int
	Schools  int
	Grades   int
	Subjects int
	Teachers int
	Dates    int
	Courses  int
	Homework int

	TemporaryHomework int

	LedgerWaiting   int
	LedgerProcessed int
	LedgerError     int

	// LastCrawl is the normalized timestamp of the most recent observation
	// recorded on any fact, or empty when the warehouse is empty.
	LastCrawl string
}

// Stats reads row counts and ledger state.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM students", &s.Students},
		{"SELECT COUNT(*) FROM schools", &s.Schools},
		{"SELECT COUNT(*) FROM grades", &s.Grades},
		{"SELECT COUNT(*) FROM subjects", &s.Subjects},
		{"SELECT COUNT(*) FROM teachers", &s.Teachers},
		{"SELECT COUNT(*) FROM dates", &s.Dates},
		{"SELECT COUNT(*) FROM courses", &s.Courses},
		{"SELECT COUNT(*) FROM homework", &s.Homework},
		{"SELECT COUNT(*) FROM homework WHERE temporary = 1", &s.TemporaryHomework},
		{"SELECT COUNT(*) FROM processed_files WHERE status = 'WAITING'", &s.LedgerWaiting},
		{"SELECT COUNT(*) FROM processed_files WHERE status = 'PROCESSED'", &s.LedgerProcessed},
		{"SELECT COUNT(*) FROM processed_files WHERE status = 'ERROR'", &s.LedgerError},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	var last sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT d.iso FROM dates d
		WHERE d.id IN (
			SELECT update_last_date_id FROM courses
			UNION
			SELECT update_last_date_id FROM homework
		)
		ORDER BY d.unix_ts DESC LIMIT 1`).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read last crawl date: %w", err)
	}
	if last.Valid {
		s.LastCrawl = last.String
	}

	return s, nil
}
